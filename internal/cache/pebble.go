package cache

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/adamavenir/huddle/internal/types"
)

const (
	pebbleMsgPrefix  = "m/"
	pebbleTimePrefix = "t/"
)

// PebbleStore keeps messages under m/<id> with a t/<createdAt>/<id> index.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (and creates) a pebble cache directory.
func OpenPebble(dir string) (*PebbleStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func msgKey(id string) []byte {
	return []byte(pebbleMsgPrefix + id)
}

func timeKey(createdAt int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", pebbleTimePrefix, createdAt, id))
}

// idFromTimeKey strips "t/<20 digits>/".
func idFromTimeKey(key []byte) string {
	rest := strings.TrimPrefix(string(key), pebbleTimePrefix)
	if len(rest) < 21 {
		return ""
	}
	return rest[21:]
}

func (s *PebbleStore) get(id string) (types.Message, bool, error) {
	value, closer, err := s.db.Get(msgKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return types.Message{}, false, nil
	}
	if err != nil {
		return types.Message{}, false, err
	}
	defer closer.Close()
	msg, ok := decodeMessage(value)
	return msg, ok, nil
}

func (s *PebbleStore) Put(msgs ...types.Message) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	staged := make(map[string]int64, len(msgs))
	for _, msg := range msgs {
		prevKey, found := staged[msg.ID]
		if !found {
			previous, ok, err := s.get(msg.ID)
			if err != nil {
				return err
			}
			prevKey, found = sortKey(previous), ok
		}
		if found && prevKey != sortKey(msg) {
			if err := batch.Delete(timeKey(prevKey, msg.ID), nil); err != nil {
				return err
			}
		}
		staged[msg.ID] = sortKey(msg)
		data, err := encodeMessage(msg)
		if err != nil {
			return err
		}
		if err := batch.Set(msgKey(msg.ID), data, nil); err != nil {
			return err
		}
		if err := batch.Set(timeKey(sortKey(msg), msg.ID), nil, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// timeIndex returns the index keys in ascending order.
func (s *PebbleStore) timeIndex() ([][]byte, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleTimePrefix),
		UpperBound: []byte("t0"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	return keys, iter.Error()
}

func (s *PebbleStore) All() ([]types.Message, error) {
	keys, err := s.timeIndex()
	if err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(keys))
	for _, key := range keys {
		msg, found, err := s.get(idFromTimeKey(key))
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *PebbleStore) Remove(id string) error {
	previous, found, err := s.get(id)
	if err != nil || !found {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(msgKey(id), nil); err != nil {
		return err
	}
	if err := batch.Delete(timeKey(sortKey(previous), id), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) Clear() error {
	if err := s.db.DeleteRange([]byte(pebbleMsgPrefix), []byte("m0"), pebble.Sync); err != nil {
		return err
	}
	return s.db.DeleteRange([]byte(pebbleTimePrefix), []byte("t0"), pebble.Sync)
}

func (s *PebbleStore) Trim(max int) (int, error) {
	if max < 0 {
		max = 0
	}
	keys, err := s.timeIndex()
	if err != nil {
		return 0, err
	}
	excess := len(keys) - max
	if excess <= 0 {
		return 0, nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, key := range keys[:excess] {
		if err := batch.Delete(key, nil); err != nil {
			return 0, err
		}
		if err := batch.Delete(msgKey(idFromTimeKey(key)), nil); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return excess, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
