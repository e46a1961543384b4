package types

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// wireMessage is the stored/transported shape of a Message.
type wireMessage struct {
	ID           string          `json:"id"`
	ClientID     string          `json:"clientId,omitempty"`
	Author       string          `json:"author,omitempty"`
	Color        string          `json:"color,omitempty"`
	Body         string          `json:"body,omitempty"`
	Attachment   *Attachment     `json:"attachment,omitempty"`
	ParentID     string          `json:"parentId,omitempty"`
	ReplyPreview *ReplyPreview   `json:"replyPreview,omitempty"`
	CreatedAt    json.RawMessage `json:"createdAt,omitempty"`
	Deleted      bool            `json:"deleted,omitempty"`
	Edited       bool            `json:"edited,omitempty"`
	EditedAt     *int64          `json:"editedAt,omitempty"`
	Reactions    json.RawMessage `json:"reactions,omitempty"`
	Pinned       bool            `json:"pinned,omitempty"`
	PinnedBy     string          `json:"pinnedBy,omitempty"`
	SeenBy       []string        `json:"seenBy,omitempty"`
}

type legacyTimestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

// MarshalJSON writes the canonical record. CreatedAt and EditedAt are unix
// milliseconds.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:           m.ID,
		ClientID:     m.ClientID,
		Author:       m.Author,
		Color:        m.Color,
		Body:         m.Body,
		Attachment:   m.Attachment,
		ParentID:     m.ParentID,
		ReplyPreview: m.ReplyPreview,
		Deleted:      m.Deleted,
		Edited:       m.Edited,
		Pinned:       m.Pinned,
		PinnedBy:     m.PinnedBy,
		SeenBy:       m.SeenBy,
	}
	if !m.CreatedAt.IsZero() {
		raw, err := json.Marshal(m.CreatedAt.UnixMilli())
		if err != nil {
			return nil, err
		}
		w.CreatedAt = raw
	}
	if m.EditedAt != nil {
		ms := m.EditedAt.UnixMilli()
		w.EditedAt = &ms
	}
	if len(m.Reactions) > 0 {
		raw, err := json.Marshal(m.Reactions)
		if err != nil {
			return nil, err
		}
		w.Reactions = raw
	}
	return json.Marshal(w)
}

// inboundMessage defers every optional field so that a field of the wrong
// JSON type degrades to its zero value instead of failing the record.
type inboundMessage struct {
	ID           string          `json:"id"`
	ClientID     json.RawMessage `json:"clientId"`
	Author       json.RawMessage `json:"author"`
	Color        json.RawMessage `json:"color"`
	Body         json.RawMessage `json:"body"`
	Attachment   json.RawMessage `json:"attachment"`
	ParentID     json.RawMessage `json:"parentId"`
	ReplyPreview json.RawMessage `json:"replyPreview"`
	CreatedAt    json.RawMessage `json:"createdAt"`
	Deleted      json.RawMessage `json:"deleted"`
	Edited       json.RawMessage `json:"edited"`
	EditedAt     json.RawMessage `json:"editedAt"`
	Reactions    json.RawMessage `json:"reactions"`
	Pinned       json.RawMessage `json:"pinned"`
	PinnedBy     json.RawMessage `json:"pinnedBy"`
	SeenBy       json.RawMessage `json:"seenBy"`

	User    json.RawMessage `json:"user"`
	Text    json.RawMessage `json:"text"`
	Txt     json.RawMessage `json:"txt"`
	File    json.RawMessage `json:"file"`
	IsImg   json.RawMessage `json:"isImg"`
	ReplyID json.RawMessage `json:"replyId"`
	Reply   json.RawMessage `json:"reply"`
}

// UnmarshalJSON decodes canonical and legacy records. Only a non-object
// record or a non-string id is an error; malformed optional fields degrade
// to defaults.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w inboundMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Message{
		ID:           w.ID,
		ClientID:     decodeString(w.ClientID),
		Author:       decodeString(w.Author),
		Color:        decodeString(w.Color),
		Body:         decodeString(w.Body),
		Attachment:   decodeAttachment(w.Attachment),
		ParentID:     decodeString(w.ParentID),
		ReplyPreview: decodeReplyPreview(w.ReplyPreview),
		Deleted:      decodeBool(w.Deleted),
		Edited:       decodeBool(w.Edited),
		Pinned:       decodeBool(w.Pinned),
		PinnedBy:     decodeString(w.PinnedBy),
		SeenBy:       decodeStrings(w.SeenBy),
	}
	if out.Author == "" {
		out.Author = decodeString(w.User)
	}
	if out.Body == "" {
		if text := decodeString(w.Text); text != "" {
			out.Body = text
		} else {
			out.Body = decodeString(w.Txt)
		}
	}
	if out.ParentID == "" {
		out.ParentID = decodeString(w.ReplyID)
	}
	if out.ReplyPreview == nil {
		if reply := decodeString(w.Reply); reply != "" {
			out.ReplyPreview = &ReplyPreview{Body: reply}
		}
	}
	if out.Attachment == nil {
		if file := decodeString(w.File); file != "" {
			kind := AttachmentFile
			if decodeBool(w.IsImg) {
				kind = AttachmentImage
			}
			out.Attachment = &Attachment{Kind: kind, URL: file}
		}
	}
	if out.Attachment != nil && out.Attachment.Thumbnail != "" {
		out.Attachment.URL = ""
	}
	out.CreatedAt = decodeTimestamp(w.CreatedAt)
	if ts := decodeTimestamp(w.EditedAt); !ts.IsZero() {
		out.EditedAt = &ts
	}
	out.Reactions = decodeReactions(w.Reactions)
	*m = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodeString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeBool(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}

// decodeStrings keeps the string elements of an array and drops the rest.
func decodeStrings(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var out []string
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func decodeAttachment(raw json.RawMessage) *Attachment {
	if isNull(raw) {
		return nil
	}
	var fields struct {
		Kind      json.RawMessage `json:"kind"`
		Name      json.RawMessage `json:"name"`
		Mime      json.RawMessage `json:"mime"`
		Size      json.RawMessage `json:"size"`
		Width     json.RawMessage `json:"width"`
		Height    json.RawMessage `json:"height"`
		URL       json.RawMessage `json:"url"`
		Thumbnail json.RawMessage `json:"thumbnail"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	att := &Attachment{
		Kind:      AttachmentKind(decodeString(fields.Kind)),
		Name:      decodeString(fields.Name),
		Mime:      decodeString(fields.Mime),
		Size:      decodeInt(fields.Size),
		Width:     int(decodeInt(fields.Width)),
		Height:    int(decodeInt(fields.Height)),
		URL:       decodeString(fields.URL),
		Thumbnail: decodeString(fields.Thumbnail),
	}
	if att.URL == "" && att.Thumbnail == "" && att.Name == "" {
		return nil
	}
	if att.Kind == "" {
		att.Kind = AttachmentFile
	}
	return att
}

func decodeInt(raw json.RawMessage) int64 {
	if isNull(raw) {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

func decodeReplyPreview(raw json.RawMessage) *ReplyPreview {
	if isNull(raw) {
		return nil
	}
	var fields struct {
		Author json.RawMessage `json:"author"`
		Body   json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		// A bare string is the legacy quote shape.
		if body := decodeString(raw); body != "" {
			return &ReplyPreview{Body: body}
		}
		return nil
	}
	return &ReplyPreview{Author: decodeString(fields.Author), Body: decodeString(fields.Body)}
}

func decodeTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms)
	}
	var legacy legacyTimestamp
	if err := json.Unmarshal(raw, &legacy); err == nil && (legacy.Seconds != 0 || legacy.Nanoseconds != 0) {
		return time.Unix(legacy.Seconds, legacy.Nanoseconds)
	}
	var ts time.Time
	if err := json.Unmarshal(raw, &ts); err == nil {
		return ts
	}
	return time.Time{}
}

// decodeReactions accepts author -> emoji (current) and emoji -> [authors]
// (legacy). An author listed under several emojis keeps the last one in
// sorted emoji order.
func decodeReactions(raw json.RawMessage) map[string]string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var current map[string]string
	if err := json.Unmarshal(raw, &current); err == nil {
		if len(current) == 0 {
			return nil
		}
		return current
	}
	var legacy map[string][]string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil
	}
	emojis := make([]string, 0, len(legacy))
	for emoji := range legacy {
		emojis = append(emojis, emoji)
	}
	sort.Strings(emojis)
	out := make(map[string]string)
	for _, emoji := range emojis {
		for _, author := range legacy[emoji] {
			out[author] = emoji
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
