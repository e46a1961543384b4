package engine

import (
	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/types"
)

// subscribe replaces the live subscription. Every callback carries the
// epoch it was created under and is dropped once a newer one exists.
func (e *Engine) subscribe() {
	e.epoch++
	epoch := e.epoch
	e.primed = false
	if e.sub != nil {
		e.sub.Unsubscribe()
		e.sub = nil
	}

	query := types.Query{Collection: e.collection, Limit: e.caps.Limit()}
	handler := backend.Handler{
		OnChanges: func(changes []types.Change) {
			e.post(func() {
				if epoch != e.epoch {
					e.metrics.StaleCallback()
					return
				}
				e.rec.Apply(changes)
				e.cache.TrimDefault()
				if !e.primed {
					e.primed = true
					e.setFeed(FeedLive, nil)
				}
				e.emit(Event{Kind: EventRender})
			})
		},
		OnError: func(err error) {
			e.post(func() {
				if epoch != e.epoch {
					e.metrics.StaleCallback()
					return
				}
				e.logger.Error().Err(err).Str("collection", query.Collection).Msg("feed subscription failed")
				e.setFeed(FeedError, err)
			})
		},
	}

	e.setFeed(FeedConnecting, nil)
	go func() {
		sub, err := e.backend.Subscribe(e.ctx, query, handler)
		accepted := e.post(func() {
			if epoch != e.epoch {
				if sub != nil {
					sub.Unsubscribe()
				}
				e.metrics.StaleCallback()
				return
			}
			if err != nil {
				e.logger.Error().Err(err).Str("collection", query.Collection).Int("limit", query.Limit).Msg("subscribe failed")
				e.setFeed(FeedError, err)
				return
			}
			e.sub = sub
		})
		if !accepted && sub != nil {
			sub.Unsubscribe()
		}
	}()
}

func (e *Engine) setFeed(state FeedState, err error) {
	e.feed = state
	e.emit(Event{Kind: EventFeed, Feed: state, Err: err})
}

// SetTier switches the capability profile: every node is re-rendered and
// the feed is re-subscribed with the tier's window.
func (e *Engine) SetTier(name string) error {
	tier, err := core.ParseTier(name)
	if err != nil {
		return err
	}
	return e.run(func() error {
		e.session.Tier = tier
		e.caps = tier.Capabilities()
		e.rec.SetRenderer(e.renderer())
		e.emit(Event{Kind: EventRender})
		e.subscribe()
		return nil
	})
}

// Resubscribe restarts the feed under a new epoch.
func (e *Engine) Resubscribe() error {
	return e.run(func() error {
		e.subscribe()
		return nil
	})
}

// Epoch returns the current subscription generation.
func (e *Engine) Epoch() uint64 {
	var epoch uint64
	_ = e.do(func() { epoch = e.epoch })
	return epoch
}
