// Package render maps a message and a capability profile to a Fragment,
// the content of one message node. Render is pure.
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/types"
)

const (
	// DefaultAuthor is shown for records without an author.
	DefaultAuthor = "Guest"

	quoteLimit   = 50
	seenByLimit  = 3
	deletedLabel = "message deleted"
)

// Action is a user affordance offered on a message.
type Action string

const (
	ActionReply  Action = "reply"
	ActionReact  Action = "react"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionPin    Action = "pin"
	ActionUnpin  Action = "unpin"
	ActionRetry  Action = "retry"
	ActionCancel Action = "cancel"
)

// Pill is one reaction emoji with its authors.
type Pill struct {
	Emoji   string
	Count   int
	Authors []string
	Mine    bool
}

// Fragment is the rendered content of a single message, without its
// replies.
type Fragment struct {
	ID          string
	Author      string
	Color       string
	CreatedAt   time.Time
	Placeholder bool
	Edited      bool
	Pinned      bool
	PinnedBy    string
	Quote       string
	Body        string
	Attachment  string
	Reactions   []Pill
	Seen        string
	Status      types.Status
	Actions     []Action
}

// Options carries viewer-specific rendering input.
type Options struct {
	// Viewer is the session author; it decides ownership actions and
	// read receipts.
	Viewer string
}

// Render builds the fragment for msg. Malformed records degrade to
// defaults instead of failing.
func Render(msg types.Message, caps core.Capabilities, opts Options) Fragment {
	author := strings.TrimSpace(msg.Author)
	if author == "" {
		author = DefaultAuthor
	}
	color := msg.Color
	if !core.ValidColor(color) {
		color = core.ColorFor(author)
	}

	frag := Fragment{
		ID:        msg.ID,
		Author:    author,
		Color:     color,
		CreatedAt: msg.CreatedAt,
		Status:    msg.Status,
	}
	if msg.Deleted {
		frag.Placeholder = true
		return frag
	}

	frag.Edited = msg.Edited || msg.EditedAt != nil
	if caps.Pin {
		frag.Pinned = msg.Pinned
		frag.PinnedBy = msg.PinnedBy
	}
	if caps.Replies && msg.ReplyPreview != nil {
		frag.Quote = quote(*msg.ReplyPreview)
	}
	frag.Body = msg.VisibleBody()
	frag.Attachment = attachmentLine(msg.VisibleAttachment(), caps)
	if caps.Reactions {
		frag.Reactions = pills(msg.Reactions, opts.Viewer)
	}
	if opts.Viewer != "" && opts.Viewer == msg.Author {
		frag.Seen = seenLine(msg.SeenBy, msg.Author)
	}
	frag.Actions = actions(msg, caps, opts.Viewer)
	return frag
}

func quote(preview types.ReplyPreview) string {
	body := truncate(strings.Join(strings.Fields(preview.Body), " "), quoteLimit)
	if preview.Author == "" {
		return "↪ " + body
	}
	return fmt.Sprintf("↪ %s: %s", preview.Author, body)
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max]) + "…"
}

func attachmentLine(att *types.Attachment, caps core.Capabilities) string {
	if att == nil {
		return ""
	}
	kind := att.Kind
	if kind == "" {
		kind = types.AttachmentFile
	}
	if !caps.AllowsAttachment(kind) {
		return fmt.Sprintf("[%s hidden in this mode]", kind)
	}
	name := att.Name
	if name == "" {
		name = string(kind)
	}
	parts := []string{"📎 " + name}
	if att.Size > 0 {
		parts = append(parts, "("+humanize.Bytes(uint64(att.Size))+")")
	}
	if att.Width > 0 && att.Height > 0 {
		parts = append(parts, fmt.Sprintf("%dx%d", att.Width, att.Height))
	}
	switch {
	case att.Inline():
		parts = append(parts, "[inline]")
	case att.URL != "":
		parts = append(parts, att.URL)
	}
	return strings.Join(parts, " ")
}

func pills(reactions map[string]string, viewer string) []Pill {
	counts := core.ReactionCounts(reactions)
	if len(counts) == 0 {
		return nil
	}
	emojis := make([]string, 0, len(counts))
	for emoji := range counts {
		emojis = append(emojis, emoji)
	}
	sort.Strings(emojis)

	out := make([]Pill, 0, len(emojis))
	for _, emoji := range emojis {
		authors := counts[emoji]
		pill := Pill{Emoji: emoji, Count: len(authors), Authors: authors}
		for _, author := range authors {
			if author == viewer {
				pill.Mine = true
			}
		}
		out = append(out, pill)
	}
	return out
}

func seenLine(seenBy []string, author string) string {
	names := make([]string, 0, len(seenBy))
	for _, name := range seenBy {
		if name != "" && name != author {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	line := "Seen by " + strings.Join(names[:min(len(names), seenByLimit)], ", ")
	if len(names) > seenByLimit {
		line += fmt.Sprintf(" +%d", len(names)-seenByLimit)
	}
	return line
}

func actions(msg types.Message, caps core.Capabilities, viewer string) []Action {
	switch msg.Status {
	case types.StatusPending:
		return nil
	case types.StatusFailed:
		return []Action{ActionRetry, ActionCancel}
	}
	var out []Action
	if caps.Replies {
		out = append(out, ActionReply)
	}
	if caps.Reactions {
		out = append(out, ActionReact)
	}
	own := viewer != "" && viewer == msg.Author
	if own && caps.Edit {
		out = append(out, ActionEdit)
	}
	if own {
		out = append(out, ActionDelete)
	}
	if caps.Pin {
		if msg.Pinned {
			out = append(out, ActionUnpin)
		} else {
			out = append(out, ActionPin)
		}
	}
	return out
}

// Has reports whether the fragment offers action a.
func (f Fragment) Has(a Action) bool {
	for _, action := range f.Actions {
		if action == a {
			return true
		}
	}
	return false
}

// Text is the plain searchable text of the fragment.
func (f Fragment) Text() string {
	if f.Placeholder {
		return deletedLabel
	}
	parts := []string{f.Author}
	for _, part := range []string{f.Quote, f.Body, f.Attachment} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "\n")
}
