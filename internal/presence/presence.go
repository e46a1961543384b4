// Package presence tracks who has a session open on this device and who
// is typing. Each session owns a heartbeat file in a shared directory;
// peers watch the directory. Nothing crosses devices.
package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/adamavenir/huddle/internal/core"
)

const (
	StaleAfter     = 60 * time.Second
	HeartbeatEvery = 20 * time.Second
	TypingExpiry   = 4 * time.Second

	fileSuffix = ".session.json"
	maxTypers  = 3
)

// Tier labels the size of the room.
type Tier string

const (
	TierBasic  Tier = "BASIC"
	TierMedium Tier = "MEDIUM"
	TierMax    Tier = "MAX"
	TierUltra  Tier = "ULTRA"
)

// TierFor returns the label for count open sessions.
func TierFor(count int) Tier {
	switch {
	case count <= 5:
		return TierBasic
	case count <= 20:
		return TierMedium
	case count <= 100:
		return TierMax
	default:
		return TierUltra
	}
}

// Snapshot is the presence state seen by one session.
type Snapshot struct {
	Online int
	Tier   Tier
	Typing []string
}

// Label is the widget text, e.g. "3 online (BASIC)".
func (s Snapshot) Label() string {
	return fmt.Sprintf("%d online (%s)", s.Online, s.Tier)
}

// TypingLine is the indicator text, empty when nobody types.
func (s Snapshot) TypingLine() string {
	if len(s.Typing) == 0 {
		return ""
	}
	names := s.Typing
	if len(names) > maxTypers {
		names = names[:maxTypers]
	}
	verb := "are typing"
	if len(s.Typing) == 1 {
		verb = "is typing"
	}
	return strings.Join(names, ", ") + " " + verb + "…"
}

type record struct {
	Session string `json:"session"`
	User    string `json:"user"`
	Seen    int64  `json:"seen"`
	Typing  int64  `json:"typing,omitempty"`
}

// Options configures a Tracker.
type Options struct {
	Dir    string
	User   string
	Logger zerolog.Logger
	Clock  func() time.Time
	// Heartbeat overrides HeartbeatEvery.
	Heartbeat time.Duration
}

// Tracker publishes this session and watches its peers.
type Tracker struct {
	dir       string
	id        string
	user      string
	logger    zerolog.Logger
	now       func() time.Time
	heartbeat time.Duration

	fsWatcher *fsnotify.Watcher
	updates   chan Snapshot
	done      chan struct{}
	wg        sync.WaitGroup

	mu       sync.Mutex
	typingAt time.Time
	last     Snapshot
	closed   bool
}

// Open registers a session in opts.Dir and starts watching it.
func Open(opts Options) (*Tracker, error) {
	if opts.Dir == "" {
		return nil, errors.New("presence dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create presence dir: %w", err)
	}
	id, err := core.GenerateGUID("sess")
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = HeartbeatEvery
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		dir:       opts.Dir,
		id:        id,
		user:      opts.User,
		logger:    opts.Logger,
		now:       opts.Clock,
		heartbeat: opts.Heartbeat,
		fsWatcher: fsWatcher,
		updates:   make(chan Snapshot, 16),
		done:      make(chan struct{}),
	}
	if err := t.write(); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	if err := fsWatcher.Add(opts.Dir); err != nil {
		_ = fsWatcher.Close()
		_ = os.Remove(t.path())
		return nil, fmt.Errorf("watch presence dir: %w", err)
	}
	t.wg.Add(1)
	go t.run()
	return t, nil
}

// ID is this session's id.
func (t *Tracker) ID() string {
	return t.id
}

// Updates delivers a snapshot whenever the visible state changes.
func (t *Tracker) Updates() <-chan Snapshot {
	return t.updates
}

func (t *Tracker) path() string {
	return filepath.Join(t.dir, t.id+fileSuffix)
}

func (t *Tracker) write() error {
	t.mu.Lock()
	rec := record{Session: t.id, User: t.user, Seen: t.now().UnixMilli()}
	if !t.typingAt.IsZero() {
		rec.Typing = t.typingAt.UnixMilli()
	}
	t.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := t.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write presence: %w", err)
	}
	if err := os.Rename(tmp, t.path()); err != nil {
		return fmt.Errorf("write presence: %w", err)
	}
	return nil
}

// Typing marks the user as typing. Repeated calls within a second only
// extend the local deadline.
func (t *Tracker) Typing() {
	now := t.now()
	t.mu.Lock()
	fresh := t.typingAt.IsZero() || now.Sub(t.typingAt) >= time.Second
	t.typingAt = now
	t.mu.Unlock()
	if fresh {
		if err := t.write(); err != nil {
			t.logger.Debug().Err(err).Msg("typing update failed")
		}
	}
}

// StopTyping clears the typing marker, e.g. after sending.
func (t *Tracker) StopTyping() {
	t.mu.Lock()
	was := !t.typingAt.IsZero()
	t.typingAt = time.Time{}
	t.mu.Unlock()
	if was {
		if err := t.write(); err != nil {
			t.logger.Debug().Err(err).Msg("typing update failed")
		}
	}
}

// Snapshot reads the directory, pruning sessions that stopped beating.
func (t *Tracker) Snapshot() Snapshot {
	now := t.now()
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		t.logger.Debug().Err(err).Msg("read presence dir")
		return Snapshot{Tier: TierFor(0)}
	}
	online := 0
	typers := map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		path := filepath.Join(t.dir, entry.Name())
		rec, ok := readRecord(path)
		if !ok {
			continue
		}
		seen := time.UnixMilli(rec.Seen)
		if now.Sub(seen) >= StaleAfter && rec.Session != t.id {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				t.logger.Debug().Err(err).Str("session", rec.Session).Msg("prune stale session")
			}
			continue
		}
		online++
		if rec.Typing != 0 && rec.User != t.user && now.Sub(time.UnixMilli(rec.Typing)) < TypingExpiry {
			typers[rec.User] = true
		}
	}
	snap := Snapshot{Online: online, Tier: TierFor(online)}
	for user := range typers {
		snap.Typing = append(snap.Typing, user)
	}
	sort.Strings(snap.Typing)
	return snap
}

func readRecord(path string) (record, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record{}, false
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Session == "" {
		return record{}, false
	}
	return rec, true
}

func (t *Tracker) run() {
	defer t.wg.Done()
	beat := time.NewTicker(t.heartbeat)
	defer beat.Stop()
	// Typing markers expire without any file event.
	expiry := time.NewTicker(time.Second)
	defer expiry.Stop()

	t.publish()
	for {
		select {
		case <-t.done:
			return
		case event, ok := <-t.fsWatcher.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(event.Name, fileSuffix) {
				t.publish()
			}
		case err, ok := <-t.fsWatcher.Errors:
			if !ok {
				return
			}
			t.logger.Debug().Err(err).Msg("presence watcher error")
		case <-beat.C:
			if err := t.write(); err != nil {
				t.logger.Debug().Err(err).Msg("heartbeat failed")
			}
		case <-expiry.C:
			t.mu.Lock()
			if !t.typingAt.IsZero() && t.now().Sub(t.typingAt) >= TypingExpiry {
				t.typingAt = time.Time{}
				t.mu.Unlock()
				_ = t.write()
			} else {
				t.mu.Unlock()
			}
			t.publish()
		}
	}
}

// publish sends the snapshot if it differs from the last one sent.
func (t *Tracker) publish() {
	snap := t.Snapshot()
	t.mu.Lock()
	same := snap.Online == t.last.Online && strings.Join(snap.Typing, ",") == strings.Join(t.last.Typing, ",")
	t.last = snap
	t.mu.Unlock()
	if same {
		return
	}
	select {
	case t.updates <- snap:
	default:
	}
}

// Close stops watching and removes this session's file.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	close(t.done)
	err := t.fsWatcher.Close()
	t.wg.Wait()
	if rmErr := os.Remove(t.path()); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}
