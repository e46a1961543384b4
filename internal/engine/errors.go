package engine

import "errors"

var (
	ErrCapabilityDisabled = errors.New("feature disabled in this mode")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrNotFound           = errors.New("message not found")
	ErrNotRetryable       = errors.New("message has not failed")
	ErrNotOwner           = errors.New("only the author can change this message")
	ErrProvisional        = errors.New("message is not confirmed yet")
	ErrDeleted            = errors.New("message was deleted")
	ErrInvalidReaction    = errors.New("invalid reaction")
	ErrClosed             = errors.New("engine closed")
)

// ErrSendTimeout marks a send that saw no confirmation in time.
var ErrSendTimeout = errors.New("send timed out")
