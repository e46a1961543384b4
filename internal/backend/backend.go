// Package backend defines the document store the client syncs against and
// an in-process implementation of it.
package backend

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/adamavenir/huddle/internal/types"
)

// MaxDocumentBytes is the hard per-document size limit.
const MaxDocumentBytes = 1 << 20

var (
	ErrNotFound    = errors.New("document not found")
	ErrTooLarge    = errors.New("document exceeds size limit")
	ErrUnavailable = errors.New("backend unavailable")
	ErrUnsupported = errors.New("operation not supported by backend")
)

// Handler receives feed notifications. OnChanges gets one notification's
// changes in delivery order; OnError reports a terminal subscription error.
type Handler struct {
	OnChanges func([]types.Change)
	OnError   func(error)
}

// Subscription is a live change feed.
type Subscription interface {
	Unsubscribe()
}

// Backend is the remote document store.
type Backend interface {
	// Subscribe streams the newest q.Limit documents of q.Collection. The
	// first notification is the initial snapshot, every document as added.
	Subscribe(ctx context.Context, q types.Query, h Handler) (Subscription, error)
	// Create stores msg and returns its server id. msg.ClientID is kept on
	// the document and makes Create idempotent.
	Create(ctx context.Context, collection string, msg types.Message) (string, error)
	// Update applies a partial update.
	Update(ctx context.Context, collection, id string, patch types.Patch) error
}

// Uploader stores a blob and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte) (string, error)
}

// Wiper deletes every document of a collection.
type Wiper interface {
	Wipe(ctx context.Context, collection string) (int, error)
}

// Counter increments a numeric field on a document, creating it if needed,
// and reads it back. A counter that was never set reads as 0.
type Counter interface {
	Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error)
	ReadCounter(ctx context.Context, collection, id, field string) (int64, error)
}

// CheckSize returns ErrTooLarge when msg would not fit in one document.
func CheckSize(msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(data) > MaxDocumentBytes {
		return ErrTooLarge
	}
	return nil
}
