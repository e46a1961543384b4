package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/backend/remote"
	"github.com/adamavenir/huddle/internal/types"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// sendBuffer frames may queue per connection before it is dropped as
	// a slow consumer.
	sendBuffer = 64
)

// handleFeed subscribes to the backend and streams each notification as
// one frame. The subscription is opened before the upgrade so a failure
// is reported as a plain HTTP error.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := types.Query{Collection: chi.URLParam(r, "collection"), Limit: defaultFeedLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, remote.CodeBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxFeedLimit {
			n = maxFeedLimit
		}
		q.Limit = n
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "", "server shutting down")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := make(chan []byte, sendBuffer)
	push := func(frame remote.Frame) {
		data, err := json.Marshal(frame)
		if err != nil {
			s.logger.Error().Err(err).Msg("encode feed frame")
			return
		}
		select {
		case send <- data:
		case <-ctx.Done():
		default:
			s.logger.Warn().Str("collection", q.Collection).Msg("dropping slow feed consumer")
			cancel()
		}
	}
	sub, err := s.backend.Subscribe(ctx, q, backend.Handler{
		OnChanges: func(changes []types.Change) {
			push(remote.Frame{Type: remote.FrameChanges, Changes: changes})
		},
		OnError: func(err error) {
			push(remote.Frame{Type: remote.FrameError, Error: err.Error()})
		},
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	defer sub.Unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("feed upgrade failed")
		return
	}
	if !s.track(conn, true) {
		_ = conn.Close()
		return
	}
	s.metrics.SubscriptionOpened()
	defer func() {
		s.track(conn, false)
		s.metrics.SubscriptionClosed()
		_ = conn.Close()
	}()

	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// track registers or forgets conn. Registration fails once Close has run.
func (s *Server) track(conn *websocket.Conn, open bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !open {
		delete(s.conns, conn)
		return true
	}
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}
