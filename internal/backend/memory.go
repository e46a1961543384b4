package backend

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/types"
)

// Memory is an in-process Backend with a windowed change feed. It backs
// offline use, the reference server and tests, and carries fault
// injection hooks for the latter.
type Memory struct {
	mu       sync.Mutex
	docs     map[string]map[string]types.Message
	counters map[string]map[string]int64
	blobs    map[string][]byte
	subs     map[*memorySub]struct{}
	now      func() time.Time
	lastTS   time.Time

	writeErr     error
	subscribeErr error
	createDelay  time.Duration
	paused       bool
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string]map[string]types.Message),
		counters: make(map[string]map[string]int64),
		blobs:    make(map[string][]byte),
		subs:     make(map[*memorySub]struct{}),
		now:      time.Now,
	}
}

// SetClock replaces the timestamp source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// FailWrites makes every write fail with err until called with nil.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// FailSubscribe makes Subscribe fail with err until called with nil.
func (m *Memory) FailSubscribe(err error) {
	m.mu.Lock()
	m.subscribeErr = err
	m.mu.Unlock()
}

// SetCreateDelay delays Create's return after the document is committed,
// so the feed can report it before the writer hears back.
func (m *Memory) SetCreateDelay(d time.Duration) {
	m.mu.Lock()
	m.createDelay = d
	m.mu.Unlock()
}

// PauseFeed buffers notifications until ResumeFeed.
func (m *Memory) PauseFeed() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// ResumeFeed delivers buffered notifications.
func (m *Memory) ResumeFeed() {
	m.mu.Lock()
	m.paused = false
	subs := m.subList()
	m.mu.Unlock()
	for _, s := range subs {
		s.signal()
	}
}

// EmitError reports err to every live subscription.
func (m *Memory) EmitError(err error) {
	m.mu.Lock()
	subs := m.subList()
	m.mu.Unlock()
	for _, s := range subs {
		s.push(event{err: err})
	}
}

func (m *Memory) subList() []*memorySub {
	out := make([]*memorySub, 0, len(m.subs))
	for s := range m.subs {
		out = append(out, s)
	}
	return out
}

func (m *Memory) feedPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// timestamp returns a strictly increasing server time.
func (m *Memory) timestamp() time.Time {
	ts := m.now()
	if !ts.After(m.lastTS) {
		ts = m.lastTS.Add(time.Millisecond)
	}
	m.lastTS = ts
	return ts
}

func (m *Memory) collection(name string) map[string]types.Message {
	docs, ok := m.docs[name]
	if !ok {
		docs = make(map[string]types.Message)
		m.docs[name] = docs
	}
	return docs
}

func (m *Memory) Create(ctx context.Context, collection string, msg types.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return "", err
	}
	docs := m.collection(collection)
	if msg.ClientID != "" {
		for id, existing := range docs {
			if existing.ClientID == msg.ClientID {
				m.mu.Unlock()
				return id, nil
			}
		}
	}

	doc := msg.Clone()
	doc.Status = types.StatusConfirmed
	doc.CreatedAt = m.timestamp()
	id, err := core.GenerateGUID(core.MessagePrefix)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	doc.ID = id
	if err := CheckSize(doc); err != nil {
		m.mu.Unlock()
		return "", err
	}
	docs[id] = doc
	m.notifyLocked(collection)
	delay := m.createDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return id, nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, patch types.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	docs := m.collection(collection)
	doc, ok := docs[id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	next := doc.Clone()
	patch.ApplyTo(&next)
	if err := CheckSize(next); err != nil {
		return err
	}
	docs[id] = next
	m.notifyLocked(collection)
	return nil
}

// Put stores msg verbatim, keeping its id and createdAt. It seeds fixtures
// and mirrors documents written elsewhere.
func (m *Memory) Put(collection string, msg types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := msg.Clone()
	doc.Status = types.StatusConfirmed
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = m.timestamp()
	}
	m.collection(collection)[doc.ID] = doc
	m.notifyLocked(collection)
}

// Delete hard-deletes a document. Clients never do this; it stands in for
// an administrative removal.
func (m *Memory) Delete(collection, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collection(collection), id)
	m.notifyLocked(collection)
}

// Get returns a copy of a stored document.
func (m *Memory) Get(collection, id string) (types.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collection(collection)[id]
	return doc.Clone(), ok
}

// Len returns the number of documents in a collection.
func (m *Memory) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[collection])
}

func (m *Memory) Wipe(ctx context.Context, collection string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	n := len(m.docs[collection])
	m.docs[collection] = make(map[string]types.Message)
	m.notifyLocked(collection)
	return n, nil
}

func (m *Memory) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	key := id + "/" + field
	counters, ok := m.counters[collection]
	if !ok {
		counters = make(map[string]int64)
		m.counters[collection] = counters
	}
	counters[key] += delta
	return counters[key], nil
}

func (m *Memory) ReadCounter(ctx context.Context, collection, id, field string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return m.Counter(collection, id, field), nil
}

// Counter reads a counter set by Increment.
func (m *Memory) Counter(collection, id, field string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[collection][id+"/"+field]
}

func (m *Memory) Upload(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return "", m.writeErr
	}
	m.blobs[path] = append([]byte(nil), data...)
	return "mem://uploads/" + path, nil
}

// Blob returns an uploaded blob.
func (m *Memory) Blob(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[path]
	return data, ok
}

func (m *Memory) Subscribe(ctx context.Context, q types.Query, h Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
	m.mu.Lock()
	if m.subscribeErr != nil {
		err := m.subscribeErr
		m.mu.Unlock()
		return nil, err
	}
	s := &memorySub{
		mem:     m,
		query:   q,
		handler: h,
		window:  map[string]types.Message{},
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	m.subs[s] = struct{}{}
	s.diffLocked(m.collection(q.Collection))
	m.mu.Unlock()

	go s.loop()
	go func() {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
		case <-s.done:
		}
	}()
	return s, nil
}

func (m *Memory) notifyLocked(collection string) {
	for s := range m.subs {
		if s.query.Collection == collection {
			s.diffLocked(m.docs[collection])
		}
	}
}

// window returns the newest limit documents, createdAt descending.
func window(docs map[string]types.Message, limit int) []types.Message {
	out := make([]types.Message, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type event struct {
	changes []types.Change
	err     error
}

type memorySub struct {
	mem     *Memory
	query   types.Query
	handler Handler
	// window and primed are guarded by mem.mu.
	window map[string]types.Message
	primed bool

	mu      sync.Mutex
	pending []event
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// diffLocked compares the query window with what this subscription last
// saw and queues the difference as one notification.
func (s *memorySub) diffLocked(docs map[string]types.Message) {
	current := window(docs, s.query.Limit)
	next := make(map[string]types.Message, len(current))
	var changes []types.Change
	for _, doc := range current {
		next[doc.ID] = doc
		prev, seen := s.window[doc.ID]
		switch {
		case !seen:
			changes = append(changes, types.Change{Type: types.ChangeAdded, ID: doc.ID, Data: doc.Clone()})
		case !reflect.DeepEqual(prev, doc):
			changes = append(changes, types.Change{Type: types.ChangeModified, ID: doc.ID, Data: doc.Clone()})
		}
	}
	removed := make([]string, 0)
	for id := range s.window {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		changes = append(changes, types.Change{Type: types.ChangeRemoved, ID: id, Data: s.window[id].Clone()})
	}
	s.window = next
	if len(changes) > 0 || !s.primed {
		s.primed = true
		s.push(event{changes: changes})
	}
}

func (s *memorySub) push(ev event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *memorySub) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for !s.mem.feedPaused() {
			s.mu.Lock()
			if s.closed || len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			if ev.err != nil {
				if s.handler.OnError != nil {
					s.handler.OnError(ev.err)
				}
				continue
			}
			if s.handler.OnChanges != nil {
				s.handler.OnChanges(ev.changes)
			}
		}
	}
}

func (s *memorySub) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	close(s.done)
	s.mu.Unlock()

	s.mem.mu.Lock()
	delete(s.mem.subs, s)
	s.mem.mu.Unlock()
}
