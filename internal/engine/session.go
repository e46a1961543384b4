package engine

import (
	"strings"

	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/types"
)

const replyPreviewLimit = 100

// ReplyTarget is the message the next send replies to, with the quote
// captured when the reply started.
type ReplyTarget struct {
	ID      string
	Preview types.ReplyPreview
}

// Session is the per-user state every operation reads: who is writing,
// in which mode, and what they are replying to or editing.
type Session struct {
	Author      string
	Color       string
	Tier        core.Tier
	ReplyTarget *ReplyTarget
	EditTarget  string
}

func (s Session) normalized() Session {
	s.Author = strings.TrimSpace(s.Author)
	if s.Author == "" {
		s.Author = "Guest"
	}
	if s.Color == "" || !core.ValidColor(s.Color) {
		s.Color = core.ColorFor(s.Author)
	}
	if tier, err := core.ParseTier(string(s.Tier)); err == nil {
		s.Tier = tier
	} else {
		s.Tier = core.DefaultTier
	}
	return s
}

func previewOf(msg types.Message) types.ReplyPreview {
	body := strings.Join(strings.Fields(msg.VisibleBody()), " ")
	if runes := []rune(body); len(runes) > replyPreviewLimit {
		body = string(runes[:replyPreviewLimit])
	}
	if body == "" && msg.Attachment != nil {
		body = "[" + string(msg.Attachment.Kind) + "]"
	}
	return types.ReplyPreview{Author: msg.Author, Body: body}
}
