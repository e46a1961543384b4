package presence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func open(t *testing.T, dir, user string) *Tracker {
	t.Helper()
	tr, err := Open(Options{Dir: dir, User: user})
	if err != nil {
		t.Fatalf("open %s: %v", user, err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTierFor(t *testing.T) {
	cases := []struct {
		count int
		want  Tier
	}{
		{0, TierBasic},
		{5, TierBasic},
		{6, TierMedium},
		{20, TierMedium},
		{21, TierMax},
		{100, TierMax},
		{101, TierUltra},
	}
	for _, tc := range cases {
		if got := TierFor(tc.count); got != tc.want {
			t.Fatalf("TierFor(%d) = %s, want %s", tc.count, got, tc.want)
		}
	}
}

func TestTypingLine(t *testing.T) {
	if got := (Snapshot{}).TypingLine(); got != "" {
		t.Fatalf("expected empty line, got %q", got)
	}
	if got := (Snapshot{Typing: []string{"bob"}}).TypingLine(); got != "bob is typing…" {
		t.Fatalf("unexpected line %q", got)
	}
	got := (Snapshot{Typing: []string{"a", "b", "c", "d"}}).TypingLine()
	if got != "a, b, c are typing…" {
		t.Fatalf("unexpected line %q", got)
	}
	if label := (Snapshot{Online: 3, Tier: TierBasic}).Label(); label != "3 online (BASIC)" {
		t.Fatalf("unexpected label %q", label)
	}
}

func TestTrackersSeeEachOther(t *testing.T) {
	dir := t.TempDir()
	alice := open(t, dir, "alice")
	bob := open(t, dir, "bob")

	if snap := alice.Snapshot(); snap.Online != 2 || snap.Tier != TierBasic {
		t.Fatalf("expected two sessions, got %+v", snap)
	}

	bob.Typing()
	eventually(t, "bob typing", func() bool {
		snap := alice.Snapshot()
		return len(snap.Typing) == 1 && snap.Typing[0] == "bob"
	})
	if snap := bob.Snapshot(); len(snap.Typing) != 0 {
		t.Fatalf("own typing must not show: %+v", snap)
	}

	bob.StopTyping()
	if snap := alice.Snapshot(); len(snap.Typing) != 0 {
		t.Fatalf("typing should clear, got %+v", snap)
	}

	if err := bob.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if snap := alice.Snapshot(); snap.Online != 1 {
		t.Fatalf("expected one session after close, got %+v", snap)
	}
}

func TestUpdatesArriveOnJoin(t *testing.T) {
	dir := t.TempDir()
	alice := open(t, dir, "alice")
	open(t, dir, "bob")
	eventually(t, "join update", func() bool {
		select {
		case snap := <-alice.Updates():
			return snap.Online == 2
		default:
			return false
		}
	})
}

func TestStaleSessionsArePruned(t *testing.T) {
	dir := t.TempDir()
	old, _ := json.Marshal(record{Session: "sess-old", User: "ghost", Seen: time.Now().Add(-2 * StaleAfter).UnixMilli()})
	stale := filepath.Join(dir, "sess-old"+fileSuffix)
	if err := os.WriteFile(stale, old, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "junk"+fileSuffix), []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	alice := open(t, dir, "alice")
	if snap := alice.Snapshot(); snap.Online != 1 {
		t.Fatalf("stale and malformed sessions must not count: %+v", snap)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale file should be removed, got %v", err)
	}
}

func TestTypingExpires(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	clock := func() time.Time { return now }
	bob, err := Open(Options{Dir: dir, User: "bob", Clock: clock})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer bob.Close()
	alice := open(t, dir, "alice")

	bob.Typing()
	if snap := alice.Snapshot(); len(snap.Typing) != 1 {
		t.Fatalf("expected bob typing, got %+v", snap)
	}

	// Rewrite bob's marker as if the last keystroke was long ago.
	rec := record{Session: bob.ID(), User: "bob", Seen: time.Now().UnixMilli(), Typing: now.Add(-2 * TypingExpiry).UnixMilli()}
	data, _ := json.Marshal(rec)
	if err := os.WriteFile(bob.path(), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if snap := alice.Snapshot(); len(snap.Typing) != 0 {
		t.Fatalf("expired typing should not show: %+v", snap)
	}
}
