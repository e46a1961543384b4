package render

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/types"
)

var maxCaps = core.TierMax.Capabilities()

func plain(f Fragment) string {
	return ansi.Strip(f.View(0))
}

func TestRenderDeletedShowsPlaceholderOnly(t *testing.T) {
	msg := types.Message{
		ID:         "msg-1",
		Author:     "alice",
		Body:       "secret text",
		Attachment: &types.Attachment{Kind: types.AttachmentImage, Name: "cat.png", URL: "https://x/cat.png"},
		Reactions:  map[string]string{"bob": "👍"},
		Deleted:    true,
	}
	frag := Render(msg, maxCaps, Options{Viewer: "alice"})
	if !frag.Placeholder {
		t.Fatalf("expected placeholder fragment")
	}
	out := plain(frag)
	if strings.Contains(out, "secret") || strings.Contains(out, "cat.png") || strings.Contains(out, "👍") {
		t.Fatalf("deleted message leaked content: %q", out)
	}
	if !strings.Contains(out, deletedLabel) {
		t.Fatalf("expected placeholder text, got %q", out)
	}
	if len(frag.Actions) != 0 {
		t.Fatalf("deleted message should offer no actions, got %v", frag.Actions)
	}
}

func TestRenderDefaultsForLegacyRecords(t *testing.T) {
	frag := Render(types.Message{ID: "msg-1", Color: "not-a-color"}, maxCaps, Options{})
	if frag.Author != DefaultAuthor {
		t.Fatalf("expected default author, got %q", frag.Author)
	}
	if frag.Color != core.ColorFor(DefaultAuthor) {
		t.Fatalf("expected palette colour, got %q", frag.Color)
	}
	if out := plain(frag); !strings.Contains(out, "@Guest") {
		t.Fatalf("expected byline, got %q", out)
	}
}

func TestRenderEditedAndQuote(t *testing.T) {
	msg := types.Message{
		ID:           "msg-2",
		Author:       "bob",
		Body:         "foo bar",
		Edited:       true,
		ParentID:     "msg-1",
		ReplyPreview: &types.ReplyPreview{Author: "alice", Body: strings.Repeat("long ", 20)},
		CreatedAt:    time.Now().Add(-time.Minute),
	}
	frag := Render(msg, maxCaps, Options{Viewer: "carol"})
	out := plain(frag)
	if !strings.Contains(out, "(edited)") {
		t.Fatalf("missing edited marker: %q", out)
	}
	if !strings.HasPrefix(frag.Quote, "↪ alice: ") || !strings.HasSuffix(frag.Quote, "…") {
		t.Fatalf("unexpected quote %q", frag.Quote)
	}
	if !strings.Contains(out, "foo bar") {
		t.Fatalf("missing body: %q", out)
	}
}

func TestRenderReactionPills(t *testing.T) {
	msg := types.Message{ID: "msg-1", Author: "alice", Reactions: map[string]string{"alice": "👍", "bob": "👍", "carol": "🔥"}}
	frag := Render(msg, maxCaps, Options{Viewer: "bob"})
	if len(frag.Reactions) != 2 {
		t.Fatalf("expected two pills, got %+v", frag.Reactions)
	}
	var thumbs Pill
	for _, pill := range frag.Reactions {
		if pill.Emoji == "👍" {
			thumbs = pill
		}
	}
	if thumbs.Count != 2 || !thumbs.Mine {
		t.Fatalf("unexpected 👍 pill %+v", thumbs)
	}
	out := plain(frag)
	if !strings.Contains(out, "👍 x2") || !strings.Contains(out, "🔥 --@carol") {
		t.Fatalf("unexpected reaction summary %q", out)
	}

	// A pill whose count reached zero is not rendered at all.
	msg.Reactions = core.ToggleReaction(map[string]string{"alice": "👍"}, "alice", "👍")
	frag = Render(msg, maxCaps, Options{})
	if frag.Reactions != nil || strings.Contains(plain(frag), "👍") {
		t.Fatalf("expected no pills, got %+v", frag.Reactions)
	}
}

func TestRenderStatusMarkersAndActions(t *testing.T) {
	msg := types.Message{ID: core.NewTempID(), Author: "alice", Body: "hi", Status: types.StatusPending}
	frag := Render(msg, maxCaps, Options{Viewer: "alice"})
	if !strings.Contains(plain(frag), "sending…") || len(frag.Actions) != 0 {
		t.Fatalf("unexpected pending fragment %+v", frag)
	}

	msg.Status = types.StatusFailed
	frag = Render(msg, maxCaps, Options{Viewer: "alice"})
	if !strings.Contains(plain(frag), "failed – retry") || !frag.Has(ActionRetry) || !frag.Has(ActionCancel) {
		t.Fatalf("unexpected failed fragment %+v", frag)
	}

	msg.ID = "msg-1"
	msg.Status = types.StatusConfirmed
	frag = Render(msg, maxCaps, Options{Viewer: "alice"})
	for _, want := range []Action{ActionReply, ActionReact, ActionEdit, ActionDelete, ActionPin} {
		if !frag.Has(want) {
			t.Fatalf("expected action %s in %v", want, frag.Actions)
		}
	}
	if frag.Has(ActionRetry) {
		t.Fatalf("confirmed message should not offer retry")
	}
}

func TestRenderTierGating(t *testing.T) {
	lite := core.TierLite.Capabilities()
	msg := types.Message{
		ID:         "msg-1",
		Author:     "alice",
		Body:       "look",
		Attachment: &types.Attachment{Kind: types.AttachmentImage, Name: "cat.png", Size: 2048, Thumbnail: "data:image/jpeg;base64,AA=="},
		Pinned:     true,
	}
	frag := Render(msg, lite, Options{Viewer: "alice"})
	if frag.Has(ActionEdit) || frag.Has(ActionPin) || frag.Has(ActionUnpin) {
		t.Fatalf("lite tier offered gated actions: %v", frag.Actions)
	}
	if frag.Pinned {
		t.Fatalf("lite tier should not show pins")
	}
	if !strings.Contains(frag.Attachment, "hidden") {
		t.Fatalf("expected hidden attachment, got %q", frag.Attachment)
	}

	frag = Render(msg, maxCaps, Options{})
	if !strings.Contains(frag.Attachment, "cat.png") || !strings.Contains(frag.Attachment, "2.0 kB") || !strings.Contains(frag.Attachment, "[inline]") {
		t.Fatalf("unexpected attachment line %q", frag.Attachment)
	}
}

func TestRenderSeenBy(t *testing.T) {
	msg := types.Message{ID: "msg-1", Author: "alice", SeenBy: []string{"alice", "bob", "carol", "dave", "erin"}}
	if got := Render(msg, maxCaps, Options{Viewer: "alice"}).Seen; got != "Seen by bob, carol, dave +1" {
		t.Fatalf("unexpected seen line %q", got)
	}
	if got := Render(msg, maxCaps, Options{Viewer: "bob"}).Seen; got != "" {
		t.Fatalf("seen line is only for the author, got %q", got)
	}
}

func TestRenderIsPure(t *testing.T) {
	msg := types.Message{ID: "msg-1", Author: "alice", Body: "x", Reactions: map[string]string{"bob": "👍"}}
	first := Render(msg, maxCaps, Options{Viewer: "alice"})
	second := Render(msg, maxCaps, Options{Viewer: "alice"})
	if first.View(40) != second.View(40) {
		t.Fatalf("render is not deterministic")
	}
	if msg.Reactions["bob"] != "👍" {
		t.Fatalf("render mutated its input")
	}
}
