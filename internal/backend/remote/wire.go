package remote

import (
	"encoding/json"

	"github.com/adamavenir/huddle/internal/types"
)

// Feed frame types.
const (
	FrameChanges = "changes"
	FrameError   = "error"
)

// Frame is one websocket message of a change feed.
type Frame struct {
	Type    string         `json:"type"`
	Changes []types.Change `json:"changes,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// inboundFrame defers decoding of each change so one bad record does not
// cost the rest of the frame.
type inboundFrame struct {
	Type    string            `json:"type"`
	Changes []json.RawMessage `json:"changes"`
	Error   string            `json:"error"`
}

// decodeFrame parses a feed frame. Changes that fail to decode, or that
// carry an unknown type or no id, are skipped and counted.
func decodeFrame(data []byte) (Frame, int, error) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{}, 0, err
	}
	frame := Frame{Type: in.Type, Error: in.Error}
	skipped := 0
	for _, raw := range in.Changes {
		var change types.Change
		if err := json.Unmarshal(raw, &change); err != nil {
			skipped++
			continue
		}
		if change.ID == "" {
			change.ID = change.Data.ID
		}
		switch change.Type {
		case types.ChangeAdded, types.ChangeModified, types.ChangeRemoved:
		default:
			skipped++
			continue
		}
		if change.ID == "" {
			skipped++
			continue
		}
		frame.Changes = append(frame.Changes, change)
	}
	return frame, skipped, nil
}

// CreateResponse is returned by POST /v1/collections/{c}/docs.
type CreateResponse struct {
	ID string `json:"id"`
}

// WipeResponse is returned by POST /v1/collections/{c}/wipe.
type WipeResponse struct {
	Deleted int `json:"deleted"`
}

// IncrementRequest is sent to POST /v1/collections/{c}/docs/{id}/increment.
type IncrementRequest struct {
	Field string `json:"field"`
	Delta int64  `json:"delta"`
}

// IncrementResponse carries the counter value after the increment.
type IncrementResponse struct {
	Value int64 `json:"value"`
}

// UploadResponse is returned by POST /v1/uploads.
type UploadResponse struct {
	URL string `json:"url"`
}

// ErrorPayload is the body of every non-2xx response.
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Error codes.
const (
	CodeNotFound    = "not_found"
	CodeTooLarge    = "too_large"
	CodeBadRequest  = "bad_request"
	CodeRateLimited = "rate_limited"
	CodeUnsupported = "unsupported"
	CodeInternal    = "internal"
)
