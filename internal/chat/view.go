package chat

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/engine"
	"github.com/adamavenir/huddle/internal/render"
)

const (
	shortIDLength = 8
	quickReaction = "👍"
)

var actionLabels = map[render.Action]string{
	render.ActionReply:  "reply",
	render.ActionReact:  quickReaction,
	render.ActionEdit:   "edit",
	render.ActionDelete: "delete",
	render.ActionPin:    "pin",
	render.ActionUnpin:  "unpin",
	render.ActionRetry:  "retry",
	render.ActionCancel: "cancel",
}

func zoneID(action render.Action, id string) string {
	return "msg-" + string(action) + "-" + id
}

func (m *Model) View() string {
	lines := []string{m.renderHeader(), m.viewport.View()}
	if banner := m.renderBanner(); banner != "" {
		lines = append(lines, banner)
	}
	lines = append(lines, m.input.View(), m.renderStatus())
	return m.zoneManager.Scan(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *Model) renderHeader() string {
	parts := []string{lipgloss.NewStyle().Bold(true).Render(m.title)}
	feed := m.feed.String()
	switch m.feed {
	case engine.FeedLive:
		feed = lipgloss.NewStyle().Foreground(caretColor).Render("● " + feed)
	case engine.FeedError:
		feed = lipgloss.NewStyle().Foreground(errorColor).Render("● " + feed)
	default:
		feed = lipgloss.NewStyle().Foreground(metaColor).Render("○ " + feed)
	}
	parts = append(parts, feed)
	if m.wipes > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(metaColor).Render(fmt.Sprintf("%d wipe(s)", m.wipes)))
	}
	if m.presence != nil {
		parts = append(parts, lipgloss.NewStyle().Foreground(metaColor).Render(m.who.Label()))
	}
	return strings.Join(parts, "  ")
}

// renderBanner shows reply, edit and typing context above the input.
func (m *Model) renderBanner() string {
	session := m.eng.Session()
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(bannerBg)
	var lines []string
	switch {
	case session.EditTarget != "":
		lines = append(lines, lipgloss.NewStyle().Foreground(editColor).Render(
			"editing #"+core.ShortID(session.EditTarget, shortIDLength)+" · esc to cancel"))
	case session.ReplyTarget != nil:
		preview := session.ReplyTarget.Preview
		text := fmt.Sprintf("↪ replying to @%s: %s", preview.Author, preview.Body)
		if m.width > 20 {
			text = ansi.Truncate(text, m.width-14, "…")
		}
		lines = append(lines, style.Render(text)+" "+m.zoneManager.Mark("reply-cancel", "[x]"))
	}
	if m.presence != nil {
		if typing := m.who.TypingLine(); typing != "" {
			lines = append(lines, lipgloss.NewStyle().Foreground(metaColor).Italic(true).Render(typing))
		}
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderStatus() string {
	color := statusColor
	if m.statusErr {
		color = errorColor
	}
	text := m.status
	if text == "" {
		text = "enter to send · alt+enter newline · esc cancel · /help"
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}

func (m *Model) refreshViewport(scrollToBottom bool) {
	var content string
	switch {
	case m.help:
		content = helpText
	case m.results != nil:
		content = m.renderResults()
	default:
		content = m.renderMessages()
	}
	m.viewport.SetContent(content)
	if scrollToBottom {
		m.viewport.GotoBottom()
		return
	}
	maxOffset := lipgloss.Height(content) - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if m.viewport.YOffset > maxOffset {
		m.viewport.SetYOffset(maxOffset)
	}
}

// renderMessages draws the view tree with a clickable action row under
// each message.
func (m *Model) renderMessages() string {
	width := m.viewport.Width
	walk := m.tree.Walk()
	if len(walk) == 0 {
		return lipgloss.NewStyle().Foreground(metaColor).Render("no messages yet")
	}
	blocks := make([]string, 0, len(walk))
	for _, line := range walk {
		indent := strings.Repeat("  ", line.Depth)
		if line.Depth > 0 {
			indent = strings.Repeat("  ", line.Depth-1) + lipgloss.NewStyle().Foreground(metaColor).Render("│ ")
		}
		inner := width - lipgloss.Width(indent)
		if width > 0 && inner < 10 {
			inner = 10
		}
		block := line.Fragment.View(inner)
		if row := m.actionRow(line.ID, line.Fragment); row != "" {
			block += "\n" + row
		}
		parts := strings.Split(block, "\n")
		for i, part := range parts {
			parts[i] = indent + part
		}
		blocks = append(blocks, strings.Join(parts, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func (m *Model) actionRow(id string, frag render.Fragment) string {
	meta := lipgloss.NewStyle().Foreground(metaColor).Faint(true)
	parts := []string{meta.Render("#" + core.ShortID(id, shortIDLength))}
	button := lipgloss.NewStyle().Foreground(buttonColor)
	for _, action := range frag.Actions {
		label, ok := actionLabels[action]
		if !ok {
			continue
		}
		parts = append(parts, m.zoneManager.Mark(zoneID(action, id), button.Render("["+label+"]")))
	}
	return strings.Join(parts, " ")
}

func (m *Model) renderResults() string {
	res := m.results
	header := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("search %q · %d result(s) · esc to close", res.Query, res.Total))
	lines := []string{header}
	if len(res.Matches) == 0 {
		lines = append(lines, lipgloss.NewStyle().Foreground(metaColor).Render("no messages found"))
	}
	markStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(markColor)
	mark := func(s string) string { return markStyle.Render(s) }
	for _, match := range res.Matches {
		line := fmt.Sprintf("%s @%s: %s",
			lipgloss.NewStyle().Foreground(metaColor).Render("#"+core.ShortID(match.ID, shortIDLength)),
			match.Author,
			match.Highlight(mark))
		lines = append(lines, line)
	}
	if hint := res.Hint(); hint != "" {
		lines = append(lines, lipgloss.NewStyle().Foreground(metaColor).Italic(true).Render(hint))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) handleMouseClick(msg tea.MouseMsg) (bool, tea.Cmd) {
	if m.zoneManager.Get("reply-cancel").InBounds(msg) {
		m.eng.ClearReplyTarget()
		m.resize()
		return true, nil
	}
	if m.results != nil || m.help {
		return false, nil
	}
	for _, line := range m.tree.Walk() {
		for _, action := range line.Fragment.Actions {
			if !m.zoneManager.Get(zoneID(action, line.ID)).InBounds(msg) {
				continue
			}
			m.performAction(action, line.ID)
			m.resize()
			return true, nil
		}
	}
	return false, nil
}

func (m *Model) performAction(action render.Action, id string) {
	var err error
	switch action {
	case render.ActionReply:
		err = m.eng.SetReplyTarget(id)
	case render.ActionReact:
		err = m.eng.React(id, quickReaction)
	case render.ActionEdit:
		var body string
		if body, err = m.eng.BeginEdit(id); err == nil {
			m.input.SetValue(body)
			m.input.CursorEnd()
		}
	case render.ActionDelete:
		err = m.eng.Delete(id)
	case render.ActionPin:
		err = m.eng.Pin(id)
	case render.ActionUnpin:
		err = m.eng.Unpin(id)
	case render.ActionRetry:
		_, err = m.eng.Retry(id)
	case render.ActionCancel:
		err = m.eng.Cancel(id)
	}
	if err != nil {
		m.setError(err)
		return
	}
	m.setStatus("")
}
