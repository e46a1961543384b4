// Package server exposes a backend.Backend over HTTP and websockets. It is
// the reference peer of backend/remote.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/backend/remote"
	"github.com/adamavenir/huddle/internal/metrics"
	"github.com/adamavenir/huddle/internal/types"
)

// ClientHeader names the request header used as the rate limit key. The
// remote address is used when it is absent.
const ClientHeader = "X-Huddle-Client"

const (
	defaultFeedLimit = 100
	maxFeedLimit     = 1000
	maxUploadBytes   = 32 << 20
	// Requests carry one document plus envelope.
	maxBodyBytes = backend.MaxDocumentBytes + 64<<10
)

// Options configures a Server.
type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// RPS and Burst bound writes per client. Zero values use 5 and 10.
	RPS   float64
	Burst int
	// PingInterval defaults to 20s.
	PingInterval time.Duration
}

// Server serves one Backend.
type Server struct {
	backend  backend.Backend
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	limiter  *limiterPool
	upgrader websocket.Upgrader
	ping     time.Duration
	router   chi.Router

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New builds the router for b.
func New(b backend.Backend, opts Options) *Server {
	s := &Server{
		backend: b,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		limiter: newLimiterPool(opts.RPS, opts.Burst),
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
		ping:  opts.PingInterval,
		conns: make(map[*websocket.Conn]struct{}),
	}
	if s.ping <= 0 {
		s.ping = 20 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/collections/{collection}/feed", s.handleFeed)
		r.Get("/collections/{collection}/docs/{id}/counter", s.handleReadCounter)
		r.Group(func(r chi.Router) {
			r.Use(s.limit)
			r.Post("/collections/{collection}/docs", s.handleCreate)
			r.Patch("/collections/{collection}/docs/{id}", s.handleUpdate)
			r.Post("/collections/{collection}/docs/{id}/increment", s.handleIncrement)
			r.Post("/collections/{collection}/wipe", s.handleWipe)
			r.Post("/uploads", s.handleUpload)
		})
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close disconnects every feed and waits for their goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	s.wg.Wait()
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Request(route, strconv.Itoa(status))
		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func clientKey(r *http.Request) string {
	if key := r.Header.Get(ClientHeader); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientKey(r)) {
			s.metrics.Limited()
			writeError(w, http.StatusTooManyRequests, remote.CodeRateLimited, "too many writes")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	var msg types.Message
	if !decodeBody(w, r, &msg) {
		return
	}
	id, err := s.backend.Create(r.Context(), collection, msg)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, remote.CreateResponse{ID: id})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	var patch types.Patch
	if !decodeBody(w, r, &patch) {
		return
	}
	if err := s.backend.Update(r.Context(), collection, id, patch); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	counter, ok := s.backend.(backend.Counter)
	if !ok {
		s.fail(w, backend.ErrUnsupported)
		return
	}
	var req remote.IncrementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Field == "" {
		writeError(w, http.StatusBadRequest, remote.CodeBadRequest, "field is required")
		return
	}
	value, err := counter.Increment(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), req.Field, req.Delta)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remote.IncrementResponse{Value: value})
}

func (s *Server) handleReadCounter(w http.ResponseWriter, r *http.Request) {
	counter, ok := s.backend.(backend.Counter)
	if !ok {
		s.fail(w, backend.ErrUnsupported)
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		writeError(w, http.StatusBadRequest, remote.CodeBadRequest, "field is required")
		return
	}
	value, err := counter.ReadCounter(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), field)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remote.IncrementResponse{Value: value})
}

func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	wiper, ok := s.backend.(backend.Wiper)
	if !ok {
		s.fail(w, backend.ErrUnsupported)
		return
	}
	n, err := wiper.Wipe(r.Context(), chi.URLParam(r, "collection"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info().Str("collection", chi.URLParam(r, "collection")).Int("deleted", n).Msg("collection wiped")
	writeJSON(w, http.StatusOK, remote.WipeResponse{Deleted: n})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	uploader, ok := s.backend.(backend.Uploader)
	if !ok {
		s.fail(w, backend.ErrUnsupported)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, remote.CodeBadRequest, "path is required")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, backend.ErrTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, remote.CodeBadRequest, err.Error())
		return
	}
	url, err := uploader.Upload(r.Context(), path, data)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, remote.UploadResponse{URL: url})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		writeError(w, http.StatusNotFound, remote.CodeNotFound, err.Error())
	case errors.Is(err, backend.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, remote.CodeTooLarge, err.Error())
	case errors.Is(err, backend.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, remote.CodeUnsupported, err.Error())
	case errors.Is(err, backend.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "", err.Error())
	default:
		s.logger.Error().Err(err).Msg("backend error")
		writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, remote.CodeTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, remote.CodeBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, remote.ErrorPayload{Error: code, Message: message})
}
