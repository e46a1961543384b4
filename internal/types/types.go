package types

import (
	"time"
)

// Collection names used against the backend.
const (
	CollectionMessages = "messages"
	CollectionStats    = "stats"
)

// Status tracks the client-only lifecycle of a message.
type Status int

const (
	StatusConfirmed Status = iota
	StatusPending
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "confirmed"
	}
}

// AttachmentKind classifies an attachment for capability gating.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is either a legacy remote reference (URL) or an inline
// thumbnail (Thumbnail, a data URL). Never both.
type Attachment struct {
	Kind      AttachmentKind `json:"kind"`
	Name      string         `json:"name,omitempty"`
	Mime      string         `json:"mime,omitempty"`
	Size      int64          `json:"size,omitempty"`
	Width     int            `json:"width,omitempty"`
	Height    int            `json:"height,omitempty"`
	URL       string         `json:"url,omitempty"`
	Thumbnail string         `json:"thumbnail,omitempty"`
}

// Inline reports whether the attachment carries its own thumbnail.
func (a *Attachment) Inline() bool {
	return a != nil && a.Thumbnail != ""
}

// ReplyPreview is a point-in-time quote of the parent message.
type ReplyPreview struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// Message is a chat message. Status is client-only and never serialized.
type Message struct {
	ID           string
	ClientID     string
	Author       string
	Color        string
	Body         string
	Attachment   *Attachment
	ParentID     string
	ReplyPreview *ReplyPreview
	CreatedAt    time.Time
	Deleted      bool
	Edited       bool
	EditedAt     *time.Time
	Reactions    map[string]string
	Pinned       bool
	PinnedBy     string
	SeenBy       []string
	Status       Status
}

// IsTopLevel reports whether the message has no parent.
func (m Message) IsTopLevel() bool {
	return m.ParentID == ""
}

// VisibleBody returns the body, cleared for soft-deleted messages.
func (m Message) VisibleBody() string {
	if m.Deleted {
		return ""
	}
	return m.Body
}

// VisibleAttachment returns the attachment, cleared for soft-deleted messages.
func (m Message) VisibleAttachment() *Attachment {
	if m.Deleted {
		return nil
	}
	return m.Attachment
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (m Message) Clone() Message {
	out := m
	if m.Attachment != nil {
		att := *m.Attachment
		out.Attachment = &att
	}
	if m.ReplyPreview != nil {
		rp := *m.ReplyPreview
		out.ReplyPreview = &rp
	}
	if m.EditedAt != nil {
		ts := *m.EditedAt
		out.EditedAt = &ts
	}
	if m.Reactions != nil {
		out.Reactions = make(map[string]string, len(m.Reactions))
		for author, emoji := range m.Reactions {
			out.Reactions[author] = emoji
		}
	}
	if m.SeenBy != nil {
		out.SeenBy = append([]string(nil), m.SeenBy...)
	}
	return out
}

// ChangeType is the kind of a change feed event.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is one event of a change feed notification.
type Change struct {
	Type ChangeType `json:"type"`
	ID   string     `json:"id"`
	Data Message    `json:"data"`
}

// Query selects the newest Limit documents of a collection, ordered by
// createdAt descending.
type Query struct {
	Collection string `json:"collection"`
	Limit      int    `json:"limit"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Body            *string           `json:"body,omitempty"`
	ClearAttachment bool              `json:"clearAttachment,omitempty"`
	Deleted         *bool             `json:"deleted,omitempty"`
	Edited          *bool             `json:"edited,omitempty"`
	EditedAt        *time.Time        `json:"editedAt,omitempty"`
	SetReactions    map[string]string `json:"setReactions,omitempty"`
	UnsetReactions  []string          `json:"unsetReactions,omitempty"`
	Pinned          *bool             `json:"pinned,omitempty"`
	PinnedBy        *string           `json:"pinnedBy,omitempty"`
	AddSeenBy       string            `json:"addSeenBy,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Body == nil && !p.ClearAttachment && p.Deleted == nil && p.Edited == nil &&
		p.EditedAt == nil && len(p.SetReactions) == 0 && len(p.UnsetReactions) == 0 &&
		p.Pinned == nil && p.PinnedBy == nil && p.AddSeenBy == ""
}

// ApplyTo applies the patch to msg in place. ParentID is never touched.
func (p Patch) ApplyTo(msg *Message) {
	if p.Body != nil {
		msg.Body = *p.Body
	}
	if p.ClearAttachment {
		msg.Attachment = nil
	}
	if p.Deleted != nil {
		msg.Deleted = *p.Deleted
	}
	if p.Edited != nil {
		msg.Edited = *p.Edited
	}
	if p.EditedAt != nil {
		ts := *p.EditedAt
		msg.EditedAt = &ts
	}
	if len(p.SetReactions) > 0 || len(p.UnsetReactions) > 0 {
		next := make(map[string]string, len(msg.Reactions)+len(p.SetReactions))
		for author, emoji := range msg.Reactions {
			next[author] = emoji
		}
		for _, author := range p.UnsetReactions {
			delete(next, author)
		}
		for author, emoji := range p.SetReactions {
			next[author] = emoji
		}
		msg.Reactions = next
	}
	if p.Pinned != nil {
		msg.Pinned = *p.Pinned
	}
	if p.PinnedBy != nil {
		msg.PinnedBy = *p.PinnedBy
	}
	if p.AddSeenBy != "" {
		for _, seen := range msg.SeenBy {
			if seen == p.AddSeenBy {
				return
			}
		}
		msg.SeenBy = append(msg.SeenBy, p.AddSeenBy)
	}
}
