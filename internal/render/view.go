package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/adamavenir/huddle/internal/types"
)

var (
	metaColor         = lipgloss.Color("244")
	failedColor       = lipgloss.Color("203")
	pinnedColor       = lipgloss.Color("214")
	pillBg            = lipgloss.Color("236")
	mineColor         = lipgloss.Color("117")
	barColor          = lipgloss.Color("240")
	placeholderBorder = lipgloss.NormalBorder()
)

// View renders the fragment as terminal text wrapped to width. A width of
// zero disables wrapping.
func (f Fragment) View(width int) string {
	if f.Placeholder {
		return viewPlaceholder(width)
	}

	lines := make([]string, 0, 8)
	if f.Quote != "" {
		lines = append(lines, lipgloss.NewStyle().Foreground(metaColor).Italic(true).Render(wrap(f.Quote, width)))
	}
	lines = append(lines, f.byline())

	if f.Body != "" {
		lines = append(lines, f.viewBody(width))
	}
	if f.Attachment != "" {
		lines = append(lines, lipgloss.NewStyle().Foreground(metaColor).Render(wrap(f.Attachment, width)))
	}
	if reactions := reactionSummary(f.Reactions); reactions != "" {
		lines = append(lines, wrap(reactions, width))
	}
	if status := f.statusLine(); status != "" {
		lines = append(lines, status)
	}
	if f.Seen != "" {
		lines = append(lines, lipgloss.NewStyle().Foreground(metaColor).Faint(true).Render("👁 "+f.Seen))
	}
	return strings.Join(lines, "\n")
}

func wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	return ansi.Wrap(text, width, "")
}

func (f Fragment) byline() string {
	label := lipgloss.NewStyle().
		Background(lipgloss.Color(f.Color)).
		Foreground(contrastText(f.Color)).
		Bold(true).
		Render(" @" + f.Author + " ")

	meta := make([]string, 0, 3)
	if !f.CreatedAt.IsZero() {
		meta = append(meta, humanize.Time(f.CreatedAt))
	}
	if f.Edited {
		meta = append(meta, "(edited)")
	}
	out := label
	if len(meta) > 0 {
		out += " " + lipgloss.NewStyle().Foreground(metaColor).Faint(true).Render(strings.Join(meta, " "))
	}
	if f.Pinned {
		pin := "📌"
		if f.PinnedBy != "" {
			pin += " " + f.PinnedBy
		}
		out += " " + lipgloss.NewStyle().Foreground(pinnedColor).Render(pin)
	}
	return out
}

func (f Fragment) statusLine() string {
	switch f.Status {
	case types.StatusPending:
		return lipgloss.NewStyle().Foreground(metaColor).Italic(true).Render("sending…")
	case types.StatusFailed:
		return lipgloss.NewStyle().Foreground(failedColor).Bold(true).Render("failed – retry")
	default:
		return ""
	}
}

func viewPlaceholder(width int) string {
	style := lipgloss.NewStyle().
		BorderLeft(true).
		BorderStyle(placeholderBorder).
		BorderForeground(metaColor).
		PaddingLeft(1).
		Foreground(metaColor).
		Faint(true)
	text := "🗑 " + deletedLabel
	if width > 4 {
		text = ansi.Wrap(text, width-4, "")
	}
	return style.Render(text)
}

func reactionSummary(reactions []Pill) string {
	if len(reactions) == 0 {
		return ""
	}
	padStyle := lipgloss.NewStyle().Background(pillBg).Padding(0, 1)
	emojiStyle := lipgloss.NewStyle().Background(pillBg)
	signoffStyle := lipgloss.NewStyle().Foreground(metaColor).Background(pillBg)
	mineStyle := lipgloss.NewStyle().Foreground(mineColor).Background(pillBg).Bold(true)
	treeBar := lipgloss.NewStyle().Foreground(barColor).Render("└─")

	pills := make([]string, 0, len(reactions))
	for _, pill := range reactions {
		if pill.Count == 0 {
			continue
		}
		suffix := signoffStyle
		if pill.Mine {
			suffix = mineStyle
		}
		var content string
		if pill.Count == 1 {
			content = emojiStyle.Render(pill.Emoji) + suffix.Render(" --@"+pill.Authors[0])
		} else {
			content = emojiStyle.Render(pill.Emoji) + suffix.Render(fmt.Sprintf(" x%d", pill.Count))
		}
		pills = append(pills, padStyle.Render(content))
	}
	if len(pills) == 0 {
		return ""
	}
	return treeBar + " " + strings.Join(pills, " ")
}

// contrastText picks black or white text for a #rrggbb background.
func contrastText(hex string) lipgloss.Color {
	if len(hex) != 7 {
		return lipgloss.Color("231")
	}
	r, errR := strconv.ParseUint(hex[1:3], 16, 8)
	g, errG := strconv.ParseUint(hex[3:5], 16, 8)
	b, errB := strconv.ParseUint(hex[5:7], 16, 8)
	if errR != nil || errG != nil || errB != nil {
		return lipgloss.Color("231")
	}
	luminance := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	if luminance > 128 {
		return lipgloss.Color("16")
	}
	return lipgloss.Color("231")
}
