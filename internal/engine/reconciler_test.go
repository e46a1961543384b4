package engine

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/render"
	"github.com/adamavenir/huddle/internal/types"
	"github.com/adamavenir/huddle/internal/view"
)

var base = time.UnixMilli(1700000000000)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func msgAt(id string, sec int, body string) types.Message {
	return types.Message{ID: id, Author: "alice", Body: body, CreatedAt: at(sec)}
}

func reply(id, parent string, sec int) types.Message {
	msg := msgAt(id, sec, "re "+parent)
	msg.ParentID = parent
	return msg
}

func added(msg types.Message) types.Change {
	return types.Change{Type: types.ChangeAdded, ID: msg.ID, Data: msg}
}

func modified(msg types.Message) types.Change {
	return types.Change{Type: types.ChangeModified, ID: msg.ID, Data: msg}
}

func removed(id string) types.Change {
	return types.Change{Type: types.ChangeRemoved, ID: id}
}

type harness struct {
	tree *view.Tree
	rec  *view.Recorder
	r    *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tree := view.NewTree()
	rec := &view.Recorder{Next: tree}
	r := NewReconciler(ReconcilerOptions{Sink: rec})
	return &harness{tree: tree, rec: rec, r: r}
}

func (h *harness) check(t *testing.T) {
	t.Helper()
	if errs := h.tree.Errors(); len(errs) > 0 {
		t.Fatalf("view rejected mutations: %v", errs)
	}
	if err := h.tree.Validate(); err != nil {
		t.Fatalf("invalid view: %v", err)
	}
	if h.tree.Len() != h.r.Len() {
		t.Fatalf("view has %d nodes, index has %d mounted", h.tree.Len(), h.r.Len())
	}
	for _, line := range h.tree.Walk() {
		if n := h.tree.Count(line.ID); n != 1 {
			t.Fatalf("node %s appears %d times", line.ID, n)
		}
	}
}

func equalIDs(t *testing.T, label string, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %v, want %v", label, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: got %v, want %v", label, got, want)
		}
	}
}

func TestCachePaintThenFeedHasNoDuplicates(t *testing.T) {
	h := newHarness(t)
	a, b, c, d := msgAt("A", 1, "a"), msgAt("B", 2, "b"), msgAt("C", 3, "c"), msgAt("D", 4, "d")
	h.r.LoadCached([]types.Message{a, b, c})
	h.r.Apply([]types.Change{added(c), added(d)})

	h.check(t)
	equalIDs(t, "roots", h.tree.RootIDs(), "A", "B", "C", "D")
	if h.rec.Count(view.OpInsert, "C") != 1 {
		t.Fatalf("C inserted %d times", h.rec.Count(view.OpInsert, "C"))
	}
}

func TestOrderFollowsCreatedAtNotDelivery(t *testing.T) {
	h := newHarness(t)
	msgs := []types.Message{msgAt("m5", 5, ""), msgAt("m1", 1, ""), msgAt("m3", 3, ""), msgAt("m2", 2, ""), msgAt("m4", 4, "")}
	for _, msg := range msgs {
		h.r.Apply([]types.Change{added(msg)})
	}
	h.check(t)
	equalIDs(t, "roots", h.tree.RootIDs(), "m1", "m2", "m3", "m4", "m5")

	// Equal timestamps fall back to id.
	h.r.Apply([]types.Change{added(msgAt("m0", 3, ""))})
	equalIDs(t, "roots", h.tree.RootIDs(), "m1", "m2", "m0", "m3", "m4", "m5")
}

func TestReplyBeforeParentInSameBatch(t *testing.T) {
	h := newHarness(t)
	x := msgAt("1", 1, "x")
	y := reply("2", "1", 2)
	h.r.Apply([]types.Change{added(y), added(x)})

	h.check(t)
	equalIDs(t, "roots", h.tree.RootIDs(), "1")
	equalIDs(t, "children", h.tree.ChildIDs("1"), "2")
	if h.rec.Count(view.OpInsert, "2") != 1 {
		t.Fatal("reply must be inserted exactly once")
	}
	if h.r.HeldCount() != 0 {
		t.Fatalf("nothing should remain held: %v", h.r.Held())
	}
}

func TestHeldRepliesMountWithTheirSubtree(t *testing.T) {
	h := newHarness(t)
	h.r.Apply([]types.Change{added(reply("c", "b", 3))})
	h.r.Apply([]types.Change{added(reply("b", "a", 2))})
	if h.tree.Len() != 0 {
		t.Fatalf("held replies must not render: %v", h.tree.RootIDs())
	}
	if held := h.r.Held(); len(held["a"]) != 1 || len(held["b"]) != 1 {
		t.Fatalf("unexpected held set %v", held)
	}

	h.r.Apply([]types.Change{added(msgAt("a", 1, "root"))})
	h.check(t)
	equalIDs(t, "a children", h.tree.ChildIDs("a"), "b")
	equalIDs(t, "b children", h.tree.ChildIDs("b"), "c")
	node, _ := h.tree.Node("c")
	if node.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", node.Depth())
	}
}

func TestReapplyingEventsIsIdempotent(t *testing.T) {
	h := newHarness(t)
	changes := []types.Change{added(msgAt("a", 1, "hi")), added(reply("b", "a", 2)), modified(msgAt("a", 1, "hi"))}
	h.r.Apply(changes)
	first := h.tree.Render(80)
	h.rec.Reset()
	h.r.Apply(changes)
	h.r.Apply(changes)

	h.check(t)
	if got := h.tree.Render(80); got != first {
		t.Fatalf("view changed on reapply:\n%s\nvs\n%s", first, got)
	}
	if log := h.rec.Log(); len(log) != 0 {
		t.Fatalf("reapply must not mutate the view: %v", log)
	}
}

func TestModifiedRebuildsOnlyThatNode(t *testing.T) {
	h := newHarness(t)
	z := msgAt("z", 1, "foo")
	h.r.Apply([]types.Change{added(z), added(reply("r1", "z", 2)), added(reply("r2", "z", 3))})
	node, _ := h.tree.Node("z")
	h.rec.Reset()

	z.Body = "foo bar"
	z.Edited = true
	h.r.Apply([]types.Change{modified(z)})

	h.check(t)
	log := h.rec.Log()
	if len(log) != 1 || log[0].Op != view.OpReplace || log[0].ID != "z" {
		t.Fatalf("expected a single replace of z, got %v", log)
	}
	after, _ := h.tree.Node("z")
	if after != node {
		t.Fatal("node identity must survive a rebuild")
	}
	if after.Fragment.Body != "foo bar" || !after.Fragment.Edited {
		t.Fatalf("unexpected fragment %+v", after.Fragment)
	}
	equalIDs(t, "children", h.tree.ChildIDs("z"), "r1", "r2")
}

func TestModifiedForUnknownIDActsAsAdded(t *testing.T) {
	h := newHarness(t)
	h.r.Apply([]types.Change{modified(msgAt("a", 1, "late"))})
	h.check(t)
	equalIDs(t, "roots", h.tree.RootIDs(), "a")
}

func TestSoftDeleteShowsPlaceholder(t *testing.T) {
	h := newHarness(t)
	msg := msgAt("a", 1, "secret")
	msg.Attachment = &types.Attachment{Kind: types.AttachmentImage, Name: "cat.png", URL: "https://x/cat.png"}
	h.r.Apply([]types.Change{added(msg), added(reply("b", "a", 2))})

	msg.Deleted = true
	msg.Body = ""
	msg.Attachment = nil
	h.r.Apply([]types.Change{modified(msg)})

	node, _ := h.tree.Node("a")
	if !node.Fragment.Placeholder || node.Fragment.Body != "" || node.Fragment.Attachment != "" {
		t.Fatalf("expected placeholder, got %+v", node.Fragment)
	}
	equalIDs(t, "children", h.tree.ChildIDs("a"), "b")
}

func TestRemovedParentBecomesTombstoneUntilLastReplyGoes(t *testing.T) {
	h := newHarness(t)
	h.r.Apply([]types.Change{added(msgAt("p", 1, "parent")), added(reply("c1", "p", 2)), added(reply("c2", "p", 3))})

	h.r.Apply([]types.Change{removed("p")})
	h.check(t)
	if !h.r.Tombstoned("p") {
		t.Fatal("parent with replies should be a tombstone")
	}
	node, _ := h.tree.Node("p")
	if !node.Fragment.Placeholder {
		t.Fatalf("tombstone should render as a placeholder: %+v", node.Fragment)
	}
	for _, msg := range h.r.Snapshot() {
		if msg.ID == "p" {
			t.Fatal("tombstones are not part of the snapshot")
		}
	}

	h.r.Apply([]types.Change{removed("c1")})
	if _, ok := h.tree.Node("p"); !ok {
		t.Fatal("tombstone must stay while a reply remains")
	}
	h.r.Apply([]types.Change{removed("c2")})
	h.check(t)
	if h.tree.Len() != 0 {
		t.Fatalf("expected empty view, got %v", h.tree.RootIDs())
	}
}

func TestTombstoneRevivesWhenParentReturns(t *testing.T) {
	h := newHarness(t)
	h.r.Apply([]types.Change{added(msgAt("p", 1, "parent")), added(reply("c", "p", 2))})
	h.r.Apply([]types.Change{removed("p")})
	h.r.Apply([]types.Change{added(msgAt("p", 1, "parent"))})

	node, _ := h.tree.Node("p")
	if h.r.Tombstoned("p") || node.Fragment.Placeholder {
		t.Fatal("re-added parent should render normally")
	}
}

func TestRemoveHeldReply(t *testing.T) {
	h := newHarness(t)
	h.r.Apply([]types.Change{added(reply("c", "missing", 2))})
	h.r.Apply([]types.Change{removed("c")})
	if h.r.HeldCount() != 0 {
		t.Fatalf("held reply should be gone: %v", h.r.Held())
	}
	h.r.Apply([]types.Change{added(msgAt("missing", 1, "late parent"))})
	h.check(t)
	if len(h.tree.ChildIDs("missing")) != 0 {
		t.Fatal("removed reply must not mount")
	}
}

func TestParentIsImmutable(t *testing.T) {
	h := newHarness(t)
	h.r.Apply([]types.Change{added(msgAt("a", 1, "")), added(msgAt("b", 2, "")), added(reply("c", "a", 3))})
	moved := reply("c", "b", 3)
	h.r.Apply([]types.Change{modified(moved)})
	h.check(t)
	equalIDs(t, "a children", h.tree.ChildIDs("a"), "c")
	if len(h.tree.ChildIDs("b")) != 0 {
		t.Fatal("reply must never move to another parent")
	}
}

func TestSelfParentIsTopLevel(t *testing.T) {
	h := newHarness(t)
	h.r.Apply([]types.Change{added(reply("a", "a", 1))})
	h.check(t)
	equalIDs(t, "roots", h.tree.RootIDs(), "a")
}

func TestProvisionalConfirmedByFeedInPlace(t *testing.T) {
	h := newHarness(t)
	tempID := core.NewTempID()
	h.r.AddProvisional(types.Message{ID: tempID, ClientID: tempID, Author: "alice", Body: "hi", CreatedAt: at(10)})
	node, _ := h.tree.Node(tempID)
	if node.Fragment.Status != types.StatusPending {
		t.Fatalf("expected pending fragment, got %v", node.Fragment.Status)
	}

	confirmed := types.Message{ID: "msg-1", ClientID: tempID, Author: "alice", Body: "hi", CreatedAt: at(1)}
	h.r.Apply([]types.Change{added(msgAt("old", 5, "")), added(confirmed)})

	h.check(t)
	after, ok := h.tree.Node("msg-1")
	if !ok || after != node {
		t.Fatal("confirmation must re-key the provisional node")
	}
	if after.Fragment.Status != types.StatusConfirmed {
		t.Fatalf("status should clear, got %v", after.Fragment.Status)
	}
	if _, ok := h.tree.Node(tempID); ok {
		t.Fatal("temporary id should be gone")
	}
	equalIDs(t, "roots", h.tree.RootIDs(), "msg-1", "old")
	if h.rec.Count(view.OpMove, "msg-1") != 1 {
		t.Fatalf("server timestamp should move the node once: %v", h.rec.Log())
	}

	// The write result arriving afterwards is a no-op.
	if h.r.Confirm(tempID, "msg-1") {
		t.Fatal("confirm after feed must report false")
	}
	h.check(t)
}

func TestConfirmBeforeFeed(t *testing.T) {
	h := newHarness(t)
	tempID := core.NewTempID()
	h.r.AddProvisional(types.Message{ID: tempID, ClientID: tempID, Author: "alice", Body: "hi", CreatedAt: at(1)})
	node, _ := h.tree.Node(tempID)
	if !h.r.Confirm(tempID, "msg-1") {
		t.Fatal("confirm should re-key")
	}
	h.r.Apply([]types.Change{added(types.Message{ID: "msg-1", ClientID: tempID, Author: "alice", Body: "hi", CreatedAt: at(1)})})

	h.check(t)
	after, _ := h.tree.Node("msg-1")
	if after != node || h.tree.Len() != 1 {
		t.Fatalf("expected one node, got %v", h.tree.RootIDs())
	}
	if h.rec.Count(view.OpRekey, tempID) != 1 {
		t.Fatal("expected exactly one rekey")
	}
}

func TestConfirmWhenServerIDAlreadyShown(t *testing.T) {
	h := newHarness(t)
	tempID := core.NewTempID()
	h.r.AddProvisional(types.Message{ID: tempID, Author: "alice", Body: "hi", CreatedAt: at(1)})
	// A feed that dropped the correlation token shows the message first.
	h.r.Apply([]types.Change{added(msgAt("msg-1", 1, "hi"))})
	h.r.Confirm(tempID, "msg-1")
	h.check(t)
	equalIDs(t, "roots", h.tree.RootIDs(), "msg-1")
}

func TestConfirmResortsOnTimestampTie(t *testing.T) {
	// tmp- ids sort after "m"; the server id "b" sorts before it.
	h := newHarness(t)
	tempID := core.NewTempID()
	h.r.Apply([]types.Change{added(msgAt("m", 5, ""))})
	h.r.AddProvisional(types.Message{ID: tempID, Author: "alice", Body: "hi", CreatedAt: at(5)})
	equalIDs(t, "before confirm", h.tree.RootIDs(), "m", tempID)

	if !h.r.Confirm(tempID, "b") {
		t.Fatal("confirm should re-key")
	}
	h.check(t)
	equalIDs(t, "after confirm", h.tree.RootIDs(), "b", "m")

	// Same tie, confirmed by the feed instead of the write result.
	h2 := newHarness(t)
	tempID = core.NewTempID()
	h2.r.Apply([]types.Change{added(msgAt("m", 5, ""))})
	h2.r.AddProvisional(types.Message{ID: tempID, ClientID: tempID, Author: "alice", Body: "hi", CreatedAt: at(5)})
	h2.r.Apply([]types.Change{added(types.Message{ID: "b", ClientID: tempID, Author: "alice", Body: "hi", CreatedAt: at(5)})})
	h2.check(t)
	equalIDs(t, "after feed confirm", h2.tree.RootIDs(), "b", "m")
}

func TestConfirmResortsHeldReply(t *testing.T) {
	h := newHarness(t)
	tempID := core.NewTempID()
	h.r.Apply([]types.Change{added(reply("m", "p", 5))})
	h.r.AddProvisional(types.Message{ID: tempID, ParentID: "p", Author: "alice", Body: "hi", CreatedAt: at(5)})
	h.r.Confirm(tempID, "b")
	equalIDs(t, "held", h.r.Held()["p"], "b", "m")

	h.r.Apply([]types.Change{added(msgAt("p", 1, ""))})
	h.check(t)
	equalIDs(t, "children", h.tree.ChildIDs("p"), "b", "m")
}

func TestProvisionalReplyToMissingParentIsHeld(t *testing.T) {
	h := newHarness(t)
	tempID := core.NewTempID()
	h.r.AddProvisional(types.Message{ID: tempID, ParentID: "gone", Author: "alice", Body: "hi", CreatedAt: at(1)})
	if h.r.HeldCount() != 1 || h.tree.Len() != 0 {
		t.Fatal("provisional reply to a missing parent should be held")
	}
	if !h.r.Drop(tempID) || h.r.HeldCount() != 0 {
		t.Fatal("drop should release held provisional")
	}
}

func TestSetRendererRerendersChangedNodes(t *testing.T) {
	h := newHarness(t)
	msg := msgAt("a", 1, "")
	msg.Reactions = map[string]string{"bob": "👍"}
	h.r.Apply([]types.Change{added(msg), added(msgAt("b", 2, "plain"))})
	h.rec.Reset()

	lite := core.TierLite.Capabilities()
	lite.Reactions = false
	h.r.SetRenderer(func(m types.Message) render.Fragment {
		return render.Render(m, lite, render.Options{})
	})
	node, _ := h.tree.Node("a")
	if len(node.Fragment.Reactions) != 0 {
		t.Fatalf("reactions should be hidden: %+v", node.Fragment.Reactions)
	}
	if h.rec.Count(view.OpReplace, "a") != 1 {
		t.Fatalf("expected a replace of a: %v", h.rec.Log())
	}
	if h.rec.Batches() != 1 {
		t.Fatalf("rerender should be one batch, got %d", h.rec.Batches())
	}
}

func TestClearKeepsProvisionalEntries(t *testing.T) {
	h := newHarness(t)
	tempID := core.NewTempID()
	h.r.Apply([]types.Change{added(msgAt("a", 1, "")), added(reply("b", "a", 2)), added(reply("x", "nope", 3))})
	h.r.AddProvisional(types.Message{ID: tempID, Author: "alice", Body: "draft", CreatedAt: at(4)})
	h.r.Clear()
	h.check(t)
	equalIDs(t, "roots", h.tree.RootIDs(), tempID)
	if h.r.HeldCount() != 0 {
		t.Fatalf("held confirmed replies should be cleared: %v", h.r.Held())
	}
}

func TestDeepThreadsKeepLogicalDepth(t *testing.T) {
	h := newHarness(t)
	changes := []types.Change{added(msgAt("d0", 0, ""))}
	for i := 1; i <= 7; i++ {
		changes = append(changes, added(reply("d"+string(rune('0'+i)), "d"+string(rune('0'+i-1)), i)))
	}
	h.r.Apply(changes)
	h.check(t)
	node, _ := h.tree.Node("d7")
	if node.Depth() != 7 || node.VisualDepth() != view.MaxVisualDepth {
		t.Fatalf("depth %d, visual %d", node.Depth(), node.VisualDepth())
	}
}

// randomThread builds n messages with clustered timestamps. Each reply
// points at an earlier message, so parent chains never loop.
func randomThread(rng *rand.Rand, n int) []types.Message {
	msgs := make([]types.Message, 0, n)
	for i := 0; i < n; i++ {
		msg := msgAt(fmt.Sprintf("m%02d", i), rng.Intn(6), "v1")
		if i > 0 && rng.Intn(2) == 0 {
			msg.ParentID = msgs[rng.Intn(i)].ID
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestRandomInterleavingsKeepTreeConsistent(t *testing.T) {
	for seed := int64(1); seed <= 40; seed++ {
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			msgs := randomThread(rng, 24)
			present := make(map[string]bool, len(msgs))

			h := newHarness(t)
			var cached []types.Message
			for _, msg := range msgs {
				if rng.Intn(3) == 0 {
					cached = append(cached, msg)
					present[msg.ID] = true
				}
			}
			h.r.LoadCached(cached)

			var events []types.Change
			for _, msg := range msgs {
				events = append(events, added(msg))
				if rng.Intn(3) == 0 {
					edited := msg
					edited.Body = "v2"
					events = append(events, modified(edited))
				}
				if rng.Intn(4) == 0 {
					events = append(events, removed(msg.ID))
				}
			}
			rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

			for len(events) > 0 {
				n := 1 + rng.Intn(4)
				if n > len(events) {
					n = len(events)
				}
				batch := events[:n]
				events = events[n:]
				for _, change := range batch {
					present[change.ID] = change.Type != types.ChangeRemoved
				}
				h.r.Apply(batch)
				h.check(t)
			}
			assertConsistent(t, h, msgs, present)
		})
	}
}

func assertConsistent(t *testing.T, h *harness, msgs []types.Message, present map[string]bool) {
	t.Helper()
	sorted := func(label string, ids []string) {
		for i := 1; i < len(ids); i++ {
			a, _ := h.r.Message(ids[i-1])
			b, _ := h.r.Message(ids[i])
			if !less(a, b) {
				t.Fatalf("%s out of order: %v", label, ids)
			}
		}
	}
	sorted("roots", h.tree.RootIDs())
	for _, line := range h.tree.Walk() {
		sorted("children of "+line.ID, h.tree.ChildIDs(line.ID))
	}
	for parentID, ids := range h.r.Held() {
		sorted("held under "+parentID, ids)
		if h.r.Mounted(parentID) {
			t.Fatalf("replies %v held under mounted parent %s", ids, parentID)
		}
	}

	held := make(map[string]bool)
	for _, ids := range h.r.Held() {
		for _, id := range ids {
			held[id] = true
		}
	}
	for _, msg := range msgs {
		id := msg.ID
		switch {
		case present[id] && h.r.Tombstoned(id):
			t.Fatalf("%s is live but shown as a tombstone", id)
		case present[id] && !h.r.Mounted(id) && !held[id]:
			t.Fatalf("%s is live but neither mounted nor held", id)
		case present[id] && held[id] && (msg.ParentID == "" || h.r.Mounted(msg.ParentID)):
			t.Fatalf("%s is held although its parent %q is shown", id, msg.ParentID)
		case !present[id] && held[id]:
			t.Fatalf("removed %s is still held", id)
		case !present[id] && h.r.Mounted(id) && !h.r.Tombstoned(id):
			t.Fatalf("removed %s is still shown", id)
		case h.r.Tombstoned(id) && len(h.tree.ChildIDs(id)) == 0:
			t.Fatalf("tombstone %s has no replies", id)
		}
		if got, ok := h.r.Message(id); ok && present[id] && got.ParentID != msg.ParentID {
			t.Fatalf("%s reparented to %q", id, got.ParentID)
		}
	}
}
