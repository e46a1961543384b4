package core

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/adamavenir/huddle/internal/types"
)

// ReactionEmojis is the picker palette.
var ReactionEmojis = []string{"👍", "❤️", "😂", "😮", "😢", "😡", "🔥", "👏", "🎉", "💯"}

const maxReactionRunes = 8

// NormalizeReaction trims a reaction and rejects empty, spaced or long input.
func NormalizeReaction(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.ContainsAny(trimmed, " \t\n") {
		return "", false
	}
	if utf8.RuneCountInString(trimmed) > maxReactionRunes {
		return "", false
	}
	return trimmed, true
}

// ReactionPatch returns the update toggling author's reaction to emoji:
// the same emoji again removes it, a different emoji replaces it.
func ReactionPatch(current map[string]string, author, emoji string) types.Patch {
	if current[author] == emoji {
		return types.Patch{UnsetReactions: []string{author}}
	}
	return types.Patch{SetReactions: map[string]string{author: emoji}}
}

// ToggleReaction applies ReactionPatch to a copy of current.
func ToggleReaction(current map[string]string, author, emoji string) map[string]string {
	msg := types.Message{Reactions: current}
	ReactionPatch(current, author, emoji).ApplyTo(&msg)
	if len(msg.Reactions) == 0 {
		return nil
	}
	return msg.Reactions
}

// ReactionCounts groups reactions by emoji, authors sorted by name.
func ReactionCounts(reactions map[string]string) map[string][]string {
	out := make(map[string][]string)
	for author, emoji := range reactions {
		out[emoji] = append(out[emoji], author)
	}
	for emoji := range out {
		sort.Strings(out[emoji])
	}
	return out
}
