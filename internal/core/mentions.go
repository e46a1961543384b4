package core

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/adamavenir/huddle/internal/types"
)

var mentionRe = regexp.MustCompile(`@([\p{L}\p{N}][\p{L}\p{N}_\-\.]*)`)

// ExtractMentions returns lowercase mention targets without the @ prefix.
// Email-like text (name@host) is skipped.
func ExtractMentions(body string) []string {
	matches := mentionRe.FindAllStringSubmatchIndex(body, -1)
	mentions := make([]string, 0, len(matches))
	seen := map[string]struct{}{}

	for _, match := range matches {
		if len(match) < 4 {
			continue
		}
		start := match[0]
		if start > 0 {
			prev, _ := utf8.DecodeLastRuneInString(body[:start])
			if isAlphaNum(prev) {
				continue
			}
		}
		name := strings.ToLower(strings.TrimRight(body[match[2]:match[3]], ".-"))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		mentions = append(mentions, name)
	}
	return mentions
}

// IsAllMention reports whether the mention is @all.
func IsAllMention(mention string) bool {
	return mention == "all" || mention == "everyone"
}

// Mentions reports whether msg addresses username directly.
func Mentions(msg types.Message, username string) bool {
	if msg.Deleted || username == "" {
		return false
	}
	target := strings.ToLower(username)
	for _, mention := range ExtractMentions(msg.Body) {
		if mention == target || IsAllMention(mention) {
			return true
		}
	}
	return false
}

// ShouldNotify reports whether an incoming message deserves a desktop
// notification for username: a mention, or a reply to one of their messages.
func ShouldNotify(msg types.Message, username string) bool {
	if msg.Author == username || msg.Deleted {
		return false
	}
	if Mentions(msg, username) {
		return true
	}
	return msg.ReplyPreview != nil && msg.ReplyPreview.Author == username
}

func isAlphaNum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
