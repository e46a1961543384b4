// Package search filters messages by author or body.
package search

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/adamavenir/huddle/internal/render"
	"github.com/adamavenir/huddle/internal/types"
)

// MaxResults caps how many matches are returned.
const MaxResults = 30

const attachmentOnly = "📎 File"

// Match is one hit. Spans are byte ranges of Text that matched; glob
// queries have none.
type Match struct {
	ID     string
	Author string
	Text   string
	Spans  [][2]int
}

// Results holds up to MaxResults matches and the full match count.
type Results struct {
	Query   string
	Matches []Match
	Total   int
}

// Hint is shown when results were cut off.
func (r Results) Hint() string {
	if r.Total <= len(r.Matches) {
		return ""
	}
	return fmt.Sprintf("Showing %d of %d results. Refine your search.", len(r.Matches), r.Total)
}

type matcher func(text string) bool

// Messages searches msgs in the order given. The query is case
// insensitive; one containing *, ? or [ is a glob over the whole text
// (implicitly wrapped in *).
func Messages(msgs []types.Message, query string) (Results, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	res := Results{Query: q}
	if q == "" {
		return res, nil
	}
	match, isGlob, err := compile(q)
	if err != nil {
		return res, err
	}
	for _, msg := range msgs {
		if msg.Deleted {
			continue
		}
		author := strings.TrimSpace(msg.Author)
		if author == "" {
			author = render.DefaultAuthor
		}
		text := msg.Body
		if text == "" && msg.Attachment != nil {
			text = attachmentOnly
		}
		if !match(strings.ToLower(text)) && !match(strings.ToLower(author)) {
			continue
		}
		res.Total++
		if len(res.Matches) >= MaxResults {
			continue
		}
		m := Match{ID: msg.ID, Author: author, Text: text}
		if !isGlob {
			m.Spans = spans(text, q)
		}
		res.Matches = append(res.Matches, m)
	}
	return res, nil
}

func compile(q string) (matcher, bool, error) {
	if !strings.ContainsAny(q, "*?[") {
		return func(text string) bool { return strings.Contains(text, q) }, false, nil
	}
	pattern := q
	if !strings.HasPrefix(pattern, "*") {
		pattern = "*" + pattern
	}
	if !strings.HasSuffix(pattern, "*") {
		pattern += "*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, true, fmt.Errorf("invalid search pattern %q: %w", q, err)
	}
	return g.Match, true, nil
}

// spans finds every case-insensitive occurrence of q in text.
func spans(text, q string) [][2]int {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		// Lowercasing changed byte lengths; offsets would not line up.
		return nil
	}
	var out [][2]int
	for start := 0; start < len(lower); {
		i := strings.Index(lower[start:], q)
		if i < 0 {
			break
		}
		from := start + i
		out = append(out, [2]int{from, from + len(q)})
		start = from + len(q)
	}
	return out
}

// Highlight wraps every span of m.Text with mark.
func (m Match) Highlight(mark func(string) string) string {
	if len(m.Spans) == 0 {
		return m.Text
	}
	var b strings.Builder
	last := 0
	for _, span := range m.Spans {
		b.WriteString(m.Text[last:span[0]])
		b.WriteString(mark(m.Text[span[0]:span[1]]))
		last = span[1]
	}
	b.WriteString(m.Text[last:])
	return b.String()
}
