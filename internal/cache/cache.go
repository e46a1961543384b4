// Package cache is the on-device mirror of recent confirmed messages. It is
// an optimization only: every failure is logged and swallowed, and a
// missing store behaves as an empty cold cache.
package cache

import (
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/metrics"
	"github.com/adamavenir/huddle/internal/types"
)

const queueSize = 256

// Options configures a Cache.
type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// MaxEntries is the cap applied by TrimDefault.
	MaxEntries int
}

type op struct {
	name string
	run  func(Store) error
	done chan struct{}
}

// Cache serializes store access on one writer goroutine so callers never
// block on storage I/O.
type Cache struct {
	store   Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
	max     int

	mu     sync.RWMutex
	closed bool
	ops    chan op
	wg     sync.WaitGroup
}

// New wraps store. A nil store yields a cache that holds nothing.
func New(store Store, opts Options) *Cache {
	max := opts.MaxEntries
	if max <= 0 {
		max = core.DefaultCacheMax
	}
	c := &Cache{
		store:   store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		max:     max,
		ops:     make(chan op, queueSize),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// Open builds the configured store. Open never fails: an unusable store
// is logged and replaced by a disabled cache.
func Open(cfg core.CacheConfig, opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = cfg.MaxEntries
	}
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "none":
	case "pebble":
		dir := cfg.Path
		if filepath.Ext(dir) != "" {
			dir = dir[:len(dir)-len(filepath.Ext(dir))] + ".pebble"
		}
		var ps *PebbleStore
		ps, err = OpenPebble(dir)
		if err == nil {
			store = ps
		}
	default:
		var ss *SQLiteStore
		ss, err = OpenSQLite(cfg.Path)
		if err == nil {
			store = ss
		}
	}
	if err != nil {
		opts.Logger.Warn().Err(err).Str("driver", cfg.Driver).Msg("cache unavailable, starting cold")
		opts.Metrics.CacheError("open")
	}
	return New(store, opts)
}

// Enabled reports whether a store backs the cache.
func (c *Cache) Enabled() bool {
	return c != nil && c.store != nil
}

func (c *Cache) loop() {
	defer c.wg.Done()
	for o := range c.ops {
		c.exec(o)
	}
}

func (c *Cache) exec(o op) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug().Interface("panic", r).Str("op", o.name).Msg("cache op panicked")
			c.metrics.CacheError(o.name)
		}
		if o.done != nil {
			close(o.done)
		}
	}()
	if c.store == nil {
		return
	}
	c.metrics.CacheOp(o.name)
	if err := o.run(c.store); err != nil {
		c.logger.Debug().Err(err).Str("op", o.name).Msg("cache op failed")
		c.metrics.CacheError(o.name)
	}
}

// enqueue hands o to the writer. Without wait it never blocks: a full
// queue drops the op.
func (c *Cache) enqueue(o op, wait bool) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	if wait {
		c.ops <- o
		return true
	}
	select {
	case c.ops <- o:
		return true
	default:
		c.logger.Debug().Str("op", o.name).Msg("cache queue full, dropping op")
		c.metrics.CacheError("dropped")
		return false
	}
}

func (c *Cache) call(name string, run func(Store) error) {
	done := make(chan struct{})
	if c.enqueue(op{name: name, run: run, done: done}, true) {
		<-done
	}
}

// Put upserts confirmed messages. Pending, failed and temporary entries
// are never cached.
func (c *Cache) Put(msgs ...types.Message) {
	keep := make([]types.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" || msg.Status != types.StatusConfirmed || core.IsTempID(msg.ID) {
			continue
		}
		keep = append(keep, msg.Clone())
	}
	if len(keep) == 0 {
		return
	}
	c.enqueue(op{name: "put", run: func(s Store) error { return s.Put(keep...) }}, false)
}

// Remove deletes one entry.
func (c *Cache) Remove(id string) {
	c.enqueue(op{name: "remove", run: func(s Store) error { return s.Remove(id) }}, false)
}

// Clear wipes every entry.
func (c *Cache) Clear() {
	c.enqueue(op{name: "clear", run: func(s Store) error { return s.Clear() }}, false)
}

// Trim evicts the oldest entries beyond max.
func (c *Cache) Trim(max int) {
	c.enqueue(op{name: "trim", run: func(s Store) error {
		n, err := s.Trim(max)
		if n > 0 {
			c.logger.Debug().Int("evicted", n).Msg("cache trimmed")
		}
		return err
	}}, false)
}

// TrimDefault trims to the configured cap.
func (c *Cache) TrimDefault() {
	if c == nil {
		return
	}
	c.Trim(c.max)
}

// GetAll returns the cached messages ordered by createdAt ascending. It
// observes every write queued before it. Errors yield an empty slice.
func (c *Cache) GetAll() []types.Message {
	var out []types.Message
	c.call("get_all", func(s Store) error {
		msgs, err := s.All()
		out = msgs
		return err
	})
	return out
}

// Flush waits until every queued op has run.
func (c *Cache) Flush() {
	c.call("flush", func(Store) error { return nil })
}

// Close drains the queue and closes the store.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.ops)
	c.mu.Unlock()

	c.wg.Wait()
	if c.store == nil {
		return nil
	}
	if err := c.store.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("cache close failed")
	}
	return nil
}
