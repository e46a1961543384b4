package render

import (
	"bytes"
	"os"
	"strings"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// codeTheme is the chroma style used for fenced snippets in messages.
const codeTheme = "monokai"

const gutterWidth = 2

// segment is a run of a message body: prose, or the inside of a fence.
type segment struct {
	text string
	lang string
	code bool
}

// splitBody cuts a body into prose and fenced code. An unterminated fence
// stays prose.
func splitBody(body string) []segment {
	var (
		segs  []segment
		prose []string
	)
	flush := func() {
		if len(prose) > 0 {
			segs = append(segs, segment{text: strings.Join(prose, "\n")})
			prose = nil
		}
	}

	lines := strings.Split(body, "\n")
	for i := 0; i < len(lines); i++ {
		marker, lang, ok := openFence(lines[i])
		if !ok {
			prose = append(prose, lines[i])
			continue
		}
		end := -1
		for j := i + 1; j < len(lines); j++ {
			if closesFence(lines[j], marker) {
				end = j
				break
			}
		}
		if end < 0 {
			prose = append(prose, lines[i])
			continue
		}
		flush()
		segs = append(segs, segment{text: strings.Join(lines[i+1:end], "\n"), lang: lang, code: true})
		i = end
	}
	flush()
	return segs
}

// openFence reports whether line opens a ``` or ~~~ block, returning the
// marker run and the lower-cased language tag.
func openFence(line string) (marker, lang string, ok bool) {
	s := strings.TrimLeft(line, " \t")
	n := 0
	for n < len(s) && (s[n] == '`' || s[n] == '~') && s[n] == s[0] {
		n++
	}
	if n < 3 {
		return "", "", false
	}
	if fields := strings.Fields(s[n:]); len(fields) > 0 {
		lang = strings.ToLower(fields[0])
	}
	return s[:n], lang, true
}

func closesFence(line, marker string) bool {
	s := strings.TrimSpace(line)
	return len(s) >= len(marker) && strings.Trim(s, marker[:1]) == ""
}

// viewBody wraps prose to width. Code keeps its line breaks and is cut at
// the right edge instead of wrapped.
func (f Fragment) viewBody(width int) string {
	segs := splitBody(f.Body)
	parts := make([]string, 0, len(segs))
	color := os.Getenv("NO_COLOR") == ""
	for _, seg := range segs {
		if seg.code {
			parts = append(parts, viewCode(seg, width, color))
		} else {
			parts = append(parts, wrap(seg.text, width))
		}
	}
	return strings.Join(parts, "\n")
}

func viewCode(seg segment, width int, color bool) string {
	bar := lipgloss.NewStyle().Foreground(barColor).Render("▏")
	code := seg.text
	if color {
		code = highlight(code, seg.lang)
	}

	lines := strings.Split(code, "\n")
	out := make([]string, 0, len(lines)+1)
	if seg.lang != "" {
		out = append(out, bar+" "+lipgloss.NewStyle().Foreground(metaColor).Faint(true).Render(seg.lang))
	}
	for _, line := range lines {
		if width > gutterWidth {
			line = ansi.Truncate(line, width-gutterWidth, "…")
		}
		out = append(out, bar+" "+line)
	}
	return strings.Join(out, "\n")
}

// highlight colours code for a 256-colour terminal, falling back to the
// input when no lexer or formatter can handle it.
func highlight(code, lang string) string {
	if strings.TrimSpace(code) == "" {
		return code
	}
	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		return code
	}
	tokens, err := chroma.Coalesce(lexer).Tokenise(nil, code)
	if err != nil {
		return code
	}
	style := styles.Get(codeTheme)
	if style == nil {
		style = styles.Fallback
	}
	var buf bytes.Buffer
	if err := formatters.TTY256.Format(&buf, style, tokens); err != nil {
		return code
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
