package cache

import (
	"encoding/json"

	"github.com/adamavenir/huddle/internal/types"
)

// Store is a durable message mirror keyed by id with a createdAt order.
// Implementations return errors; Cache swallows them.
type Store interface {
	Put(msgs ...types.Message) error
	// All returns every cached message ordered by createdAt ascending,
	// ties broken by id.
	All() ([]types.Message, error)
	Remove(id string) error
	Clear() error
	// Trim evicts the oldest entries beyond max and reports how many went.
	Trim(max int) (int, error)
	Close() error
}

func encodeMessage(msg types.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decodeMessage(data []byte) (types.Message, bool) {
	var msg types.Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
		return types.Message{}, false
	}
	return msg, true
}

// sortKey is the createdAt component of the order. Zero or pre-epoch
// timestamps sort first.
func sortKey(msg types.Message) int64 {
	if msg.CreatedAt.IsZero() {
		return 0
	}
	ms := msg.CreatedAt.UnixMilli()
	if ms < 0 {
		return 0
	}
	return ms
}
