package engine

import "github.com/adamavenir/huddle/internal/types"

// EventKind classifies engine events.
type EventKind int

const (
	// EventRender means the view tree changed.
	EventRender EventKind = iota
	// EventFeed reports a change of feed state.
	EventFeed
	// EventNotify carries an incoming message addressed to the session author.
	EventNotify
	// EventSendFailed reports a send that ended failed.
	EventSendFailed
	// EventError reports a failed update (edit, delete, reaction, pin).
	EventError
)

// FeedState is the health of the live subscription.
type FeedState int

const (
	FeedIdle FeedState = iota
	FeedConnecting
	FeedLive
	FeedError
)

func (s FeedState) String() string {
	switch s {
	case FeedConnecting:
		return "connecting"
	case FeedLive:
		return "live"
	case FeedError:
		return "error"
	default:
		return "idle"
	}
}

// Event is delivered on Engine.Events. Delivery is best effort: a slow
// reader loses events rather than stalling the engine.
type Event struct {
	Kind    EventKind
	Feed    FeedState
	Op      string
	ID      string
	Message types.Message
	Err     error
}
