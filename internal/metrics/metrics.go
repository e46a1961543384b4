// Package metrics holds the prometheus collectors shared by the client
// engine, the cache and the reference server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a set of collectors bound to one registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CacheOps      *prometheus.CounterVec
	CacheErrors   *prometheus.CounterVec
	FeedChanges   *prometheus.CounterVec
	Sends         *prometheus.CounterVec
	Nodes         prometheus.Gauge
	Held          prometheus.Gauge
	StaleDropped  prometheus.Counter
	HTTPRequests  *prometheus.CounterVec
	RateLimited   prometheus.Counter
	Subscriptions prometheus.Gauge
}

// New registers a fresh collector set on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "cache", Name: "ops_total",
			Help: "Cache operations by kind.",
		}, []string{"op"}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "cache", Name: "errors_total",
			Help: "Swallowed cache errors by operation.",
		}, []string{"op"}),
		FeedChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "feed", Name: "changes_total",
			Help: "Change feed events applied, by type.",
		}, []string{"type"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "pipeline", Name: "sends_total",
			Help: "Optimistic sends by outcome.",
		}, []string{"outcome"}),
		Nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle", Subsystem: "view", Name: "nodes",
			Help: "Message nodes currently mounted.",
		}),
		Held: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle", Subsystem: "view", Name: "held_replies",
			Help: "Replies waiting for their parent.",
		}),
		StaleDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "feed", Name: "stale_callbacks_total",
			Help: "Callbacks dropped because their subscription epoch was stale.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "server", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "server", Name: "rate_limited_total",
			Help: "Writes rejected by the per-client limiter.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle", Subsystem: "server", Name: "subscriptions",
			Help: "Open websocket feed subscriptions.",
		}),
	}
	m.registry.MustRegister(
		m.CacheOps, m.CacheErrors, m.FeedChanges, m.Sends, m.Nodes, m.Held,
		m.StaleDropped, m.HTTPRequests, m.RateLimited, m.Subscriptions,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CacheOp(op string) {
	if m != nil {
		m.CacheOps.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) CacheError(op string) {
	if m != nil {
		m.CacheErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) FeedChange(kind string) {
	if m != nil {
		m.FeedChanges.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Send(outcome string) {
	if m != nil {
		m.Sends.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetTree(nodes, held int) {
	if m != nil {
		m.Nodes.Set(float64(nodes))
		m.Held.Set(float64(held))
	}
}

func (m *Metrics) StaleCallback() {
	if m != nil {
		m.StaleDropped.Inc()
	}
}

func (m *Metrics) Request(route, code string) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(route, code).Inc()
	}
}

func (m *Metrics) Limited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}

func (m *Metrics) SubscriptionOpened() {
	if m != nil {
		m.Subscriptions.Inc()
	}
}

func (m *Metrics) SubscriptionClosed() {
	if m != nil {
		m.Subscriptions.Dec()
	}
}
