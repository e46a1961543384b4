// Package engine merges the live change feed, the local cache and
// optimistic sends into one message index and projects it into a view.
// All state lives on a single loop goroutine; everything else posts
// closures to it.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/cache"
	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/metrics"
	"github.com/adamavenir/huddle/internal/render"
	"github.com/adamavenir/huddle/internal/types"
	"github.com/adamavenir/huddle/internal/view"
)

const (
	postQueueSize = 1024
	eventBuffer   = 256

	// DefaultWriteTimeout bounds a single backend write. A send that outlives
	// the pending timeout can still confirm until then.
	DefaultWriteTimeout = 30 * time.Second
)

// Options wires an Engine.
type Options struct {
	Backend        backend.Backend
	Cache          *cache.Cache
	Sink           view.Sink
	Session        Session
	Collection     string
	PendingTimeout time.Duration
	WriteTimeout   time.Duration
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	Clock          func() time.Time
}

// Engine is the client sync engine.
type Engine struct {
	backend    backend.Backend
	cache      *cache.Cache
	collection string
	timeout    time.Duration
	writeLimit time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	posts  chan func()
	done   chan struct{}
	events chan Event
	writes sync.WaitGroup
	start  sync.Once

	// Loop-owned.
	session Session
	caps    core.Capabilities
	rec     *Reconciler
	pipe    *Pipeline
	epoch   uint64
	sub     backend.Subscription
	primed  bool
	feed    FeedState
}

// New builds an engine. Call Start to begin syncing.
func New(opts Options) *Engine {
	if opts.Collection == "" {
		opts.Collection = types.CollectionMessages
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = core.DefaultPendingTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		backend:    opts.Backend,
		cache:      opts.Cache,
		collection: opts.Collection,
		timeout:    opts.PendingTimeout,
		writeLimit: opts.WriteTimeout,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Clock,
		ctx:        ctx,
		cancel:     cancel,
		posts:      make(chan func(), postQueueSize),
		done:       make(chan struct{}),
		events:     make(chan Event, eventBuffer),
		session:    opts.Session.normalized(),
	}
	e.caps = e.session.Tier.Capabilities()
	e.rec = NewReconciler(ReconcilerOptions{
		Sink:     opts.Sink,
		Render:   e.renderer(),
		Cache:    opts.Cache,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		OnInsert: e.onInsert,
		OnUpdate: e.onUpdate,
	})
	e.pipe = newPipeline(e)
	return e
}

func (e *Engine) renderer() func(types.Message) render.Fragment {
	caps := e.caps
	opts := render.Options{Viewer: e.session.Author}
	return func(msg types.Message) render.Fragment {
		return render.Render(msg, caps, opts)
	}
}

// Start paints the cache, then subscribes to the feed. The cache read
// finishes before any live batch is applied.
func (e *Engine) Start(ctx context.Context) error {
	var err error
	e.start.Do(func() {
		go e.loop()
		if ctx != nil {
			go func() {
				select {
				case <-ctx.Done():
					e.Close()
				case <-e.done:
				}
			}()
		}
		cached := e.cache.GetAll()
		if !e.post(func() {
			if len(cached) > 0 {
				e.rec.LoadCached(cached)
				e.logger.Debug().Int("messages", len(cached)).Msg("painted from cache")
				e.emit(Event{Kind: EventRender})
			}
			e.subscribe()
		}) {
			err = ErrClosed
		}
	})
	return err
}

// Close stops the loop, the subscription and any pending timers.
func (e *Engine) Close() {
	e.cancel()
	select {
	case <-e.done:
	default:
		// Start was never called.
		e.start.Do(func() { close(e.done) })
	}
	<-e.done
	e.writes.Wait()
	if e.sub != nil {
		e.sub.Unsubscribe()
		e.sub = nil
	}
	e.pipe.stopTimers()
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.posts:
			fn()
		case <-e.ctx.Done():
			return
		}
	}
}

// post queues fn on the loop. It reports false once the engine is closed.
func (e *Engine) post(fn func()) bool {
	select {
	case <-e.ctx.Done():
		return false
	default:
	}
	select {
	case e.posts <- fn:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// do runs fn on the loop and waits for it. Never call it from the loop.
func (e *Engine) do(fn func()) error {
	finished := make(chan struct{})
	if !e.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrClosed
	}
}

// async runs call off the loop and posts done with its result.
func (e *Engine) async(call func(ctx context.Context) error, done func(error)) {
	e.writes.Add(1)
	go func() {
		defer e.writes.Done()
		ctx, cancel := context.WithTimeout(e.ctx, e.writeLimit)
		err := call(ctx)
		cancel()
		e.post(func() { done(err) })
	}()
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}

// Events streams render, feed and error notifications.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) onInsert(msg types.Message, live bool) {
	if live && e.primed && core.ShouldNotify(msg, e.session.Author) {
		e.emit(Event{Kind: EventNotify, ID: msg.ID, Message: msg.Clone()})
	}
}

func (e *Engine) onUpdate(msg types.Message) {
	e.pipe.observe(msg)
}

// Send posts a new message with an optional attachment, replying to the
// current reply target if one is set. It returns the provisional id.
func (e *Engine) Send(body string, att *types.Attachment) (string, error) {
	var (
		id  string
		err error
	)
	if derr := e.do(func() { id, err = e.pipe.Send(body, att) }); derr != nil {
		return "", derr
	}
	return id, err
}

// Retry re-sends a failed message as a new provisional entry.
func (e *Engine) Retry(tempID string) (string, error) {
	var (
		id  string
		err error
	)
	if derr := e.do(func() { id, err = e.pipe.Retry(tempID) }); derr != nil {
		return "", derr
	}
	return id, err
}

// Cancel discards a failed message.
func (e *Engine) Cancel(tempID string) error {
	return e.run(func() error { return e.pipe.Cancel(tempID) })
}

// Edit replaces the body of one of the session author's messages.
func (e *Engine) Edit(id, body string) error {
	return e.run(func() error { return e.pipe.Edit(id, body) })
}

// Delete soft-deletes one of the session author's messages.
func (e *Engine) Delete(id string) error {
	return e.run(func() error { return e.pipe.Delete(id) })
}

// React toggles the session author's reaction.
func (e *Engine) React(id, emoji string) error {
	return e.run(func() error { return e.pipe.React(id, emoji) })
}

func (e *Engine) Pin(id string) error {
	return e.run(func() error { return e.pipe.SetPinned(id, true) })
}

func (e *Engine) Unpin(id string) error {
	return e.run(func() error { return e.pipe.SetPinned(id, false) })
}

// MarkSeen records a read receipt on someone else's message.
func (e *Engine) MarkSeen(id string) error {
	return e.run(func() error { return e.pipe.MarkSeen(id) })
}

// SetReplyTarget makes the next Send a reply to id.
func (e *Engine) SetReplyTarget(id string) error {
	return e.run(func() error { return e.pipe.SetReplyTarget(id) })
}

// ClearReplyTarget stops replying.
func (e *Engine) ClearReplyTarget() {
	_ = e.do(func() { e.session.ReplyTarget = nil })
}

// BeginEdit marks id as being edited and returns its body to pre-fill the
// input. Nothing is written until Edit.
func (e *Engine) BeginEdit(id string) (string, error) {
	var (
		body string
		err  error
	)
	if derr := e.do(func() { body, err = e.pipe.BeginEdit(id) }); derr != nil {
		return "", derr
	}
	return body, err
}

// CancelEdit leaves edit mode without writing.
func (e *Engine) CancelEdit() {
	_ = e.do(func() { e.session.EditTarget = "" })
}

func (e *Engine) run(fn func() error) error {
	var err error
	if derr := e.do(func() { err = fn() }); derr != nil {
		return derr
	}
	return err
}

// Session returns a copy of the session state.
func (e *Engine) Session() Session {
	var s Session
	_ = e.do(func() {
		s = e.session
		if s.ReplyTarget != nil {
			target := *s.ReplyTarget
			s.ReplyTarget = &target
		}
	})
	return s
}

// Capabilities returns the active capability profile.
func (e *Engine) Capabilities() core.Capabilities {
	var caps core.Capabilities
	_ = e.do(func() { caps = e.caps })
	return caps
}

// Feed returns the subscription state.
func (e *Engine) Feed() FeedState {
	var state FeedState
	_ = e.do(func() { state = e.feed })
	return state
}

// Message returns the indexed message for id.
func (e *Engine) Message(id string) (types.Message, bool) {
	var (
		msg types.Message
		ok  bool
	)
	_ = e.do(func() { msg, ok = e.rec.Message(id) })
	return msg, ok
}

// Snapshot returns the visible messages in display order.
func (e *Engine) Snapshot() []types.Message {
	var out []types.Message
	_ = e.do(func() { out = e.rec.Snapshot() })
	return out
}

// Held returns replies waiting for a parent, keyed by parent id.
func (e *Engine) Held() map[string][]string {
	var out map[string][]string
	_ = e.do(func() { out = e.rec.Held() })
	return out
}

// Sync waits until every closure posted so far has run.
func (e *Engine) Sync() error {
	return e.do(func() {})
}
