package engine

import (
	"context"
	"fmt"

	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/types"
)

const (
	wipeStatsDoc   = "wipes"
	wipeStatsField = "count"
)

// WipeResult reports a completed wipe. Wipes is the room's wipe count
// after this one, or 0 when the backend keeps no counter.
type WipeResult struct {
	Deleted int
	Wipes   int64
}

// Wipe deletes every message of the collection for everyone, clears the
// cache and the view, and bumps the wipe counter. A failed wipe changes
// nothing locally.
func (e *Engine) Wipe(ctx context.Context) (WipeResult, error) {
	wiper, ok := e.backend.(backend.Wiper)
	if !ok {
		return WipeResult{}, backend.ErrUnsupported
	}
	n, err := wiper.Wipe(ctx, e.collection)
	if err != nil {
		e.logger.Error().Err(err).Str("collection", e.collection).Msg("wipe failed")
		return WipeResult{}, fmt.Errorf("wipe %s: %w", e.collection, err)
	}
	res := WipeResult{Deleted: n}
	if counter, ok := e.backend.(backend.Counter); ok {
		wipes, err := counter.Increment(ctx, types.CollectionStats, wipeStatsDoc, wipeStatsField, 1)
		if err != nil {
			e.logger.Warn().Err(err).Msg("wipe counter not updated")
		} else {
			res.Wipes = wipes
		}
	}
	e.cache.Clear()
	err = e.run(func() error {
		e.rec.Clear()
		e.emit(Event{Kind: EventRender})
		return nil
	})
	e.logger.Info().Int("deleted", n).Int64("wipes", res.Wipes).Str("collection", e.collection).Msg("wiped messages")
	return res, err
}

// WipeCount reads how many times the room has been wiped.
func (e *Engine) WipeCount(ctx context.Context) (int64, error) {
	counter, ok := e.backend.(backend.Counter)
	if !ok {
		return 0, backend.ErrUnsupported
	}
	ctx, cancel := context.WithTimeout(ctx, e.writeLimit)
	defer cancel()
	return counter.ReadCounter(ctx, types.CollectionStats, wipeStatsDoc, wipeStatsField)
}
