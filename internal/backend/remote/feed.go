package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/types"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// maxFrameBytes admits a full snapshot of maximum-size documents.
	maxFrameBytes = 128 << 20
)

type feed struct {
	conn   *websocket.Conn
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

func (c *Client) feedURL(q types.Query) (string, error) {
	query := url.Values{}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	endpoint, err := c.buildURL("/v1/collections/"+url.PathEscape(q.Collection)+"/feed", query)
	if err != nil {
		return "", err
	}
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint, nil
}

// Subscribe opens the change feed. Notifications are delivered in order
// on one goroutine until Unsubscribe, ctx cancellation or a terminal
// error, which is reported once through h.OnError.
func (c *Client) Subscribe(ctx context.Context, q types.Query, h backend.Handler) (backend.Subscription, error) {
	endpoint, err := c.feedURL(q)
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode}
			var payload ErrorPayload
			if resp.Body != nil {
				if decodeErr := json.NewDecoder(resp.Body).Decode(&payload); decodeErr == nil {
					apiErr.Code, apiErr.Message = payload.Error, payload.Message
				}
				resp.Body.Close()
			}
			return nil, apiErr
		}
		return nil, fmt.Errorf("subscribe %s: %w: %v", q.Collection, backend.ErrUnavailable, err)
	}

	f := &feed{conn: conn, done: make(chan struct{})}
	go c.readLoop(f, q, h)
	go func() {
		select {
		case <-ctx.Done():
			f.Unsubscribe()
		case <-f.done:
		}
	}()
	return f, nil
}

func (c *Client) readLoop(f *feed, q types.Query, h backend.Handler) {
	defer f.Unsubscribe()
	conn := f.conn
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	fail := func(err error) {
		if f.closed.Load() || h.OnError == nil {
			return
		}
		h.OnError(err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !f.closed.Load() {
				c.logger.Debug().Err(err).Str("collection", q.Collection).Msg("feed closed")
			}
			fail(fmt.Errorf("feed %s: %w: %v", q.Collection, backend.ErrUnavailable, err))
			return
		}
		frame, skipped, err := decodeFrame(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("dropping malformed feed frame")
			continue
		}
		if skipped > 0 {
			c.logger.Debug().Int("skipped", skipped).Str("collection", q.Collection).Msg("dropped malformed changes")
		}
		switch frame.Type {
		case FrameChanges:
			if f.closed.Load() {
				return
			}
			if h.OnChanges != nil {
				h.OnChanges(frame.Changes)
			}
		case FrameError:
			fail(errors.New(frame.Error))
			return
		default:
			c.logger.Debug().Str("type", frame.Type).Msg("ignoring unknown feed frame")
		}
	}
}

// Unsubscribe closes the feed. No callback runs after it returns, except
// one already in progress.
func (f *feed) Unsubscribe() {
	f.closed.Store(true)
	f.once.Do(func() {
		_ = f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = f.conn.Close()
		close(f.done)
	})
}
