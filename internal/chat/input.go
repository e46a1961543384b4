package chat

import (
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/lipgloss"
)

const (
	inputMaxHeight = 6
	inputPadding   = 1
)

var (
	inputBg     = lipgloss.Color("236")
	caretColor  = lipgloss.Color("42")
	textColor   = lipgloss.Color("252")
	blurText    = lipgloss.Color("244")
	editColor   = lipgloss.Color("214")
	statusColor = lipgloss.Color("244")
	errorColor  = lipgloss.Color("203")
	bannerBg    = lipgloss.Color("24")
	metaColor   = lipgloss.Color("242")
	buttonColor = lipgloss.Color("111")
	markColor   = lipgloss.Color("220")
)

func newInputModel() textarea.Model {
	input := textarea.New()
	input.Placeholder = "message, or /help"
	input.Prompt = "› "
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.SetHeight(1)
	input.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	applyInputStyles(&input, textColor, blurText)
	input.Focus()
	return input
}

func applyInputStyles(input *textarea.Model, textColor, blurColor lipgloss.Color) {
	input.FocusedStyle.Base = lipgloss.NewStyle().Foreground(textColor).Background(inputBg)
	input.FocusedStyle.Text = lipgloss.NewStyle().Foreground(textColor).Background(inputBg)
	input.FocusedStyle.Prompt = lipgloss.NewStyle().Foreground(caretColor).Background(inputBg)
	input.FocusedStyle.CursorLine = lipgloss.NewStyle().Background(inputBg)
	input.BlurredStyle.Base = lipgloss.NewStyle().Foreground(blurColor).Background(inputBg)
	input.BlurredStyle.Text = lipgloss.NewStyle().Foreground(blurColor).Background(inputBg)
	input.BlurredStyle.Prompt = lipgloss.NewStyle().Foreground(caretColor).Background(inputBg)
	input.BlurredStyle.CursorLine = lipgloss.NewStyle().Background(inputBg)
}

func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	inputWidth := m.width - inputPadding
	if inputWidth < 1 {
		inputWidth = 1
	}
	m.input.SetWidth(inputWidth)
	lineCount := m.input.LineCount()
	if lineCount < 1 {
		lineCount = 1
	}
	if lineCount > inputMaxHeight {
		lineCount = inputMaxHeight
	}
	m.input.SetHeight(lineCount)

	headerHeight := 1
	bannerHeight := 0
	if banner := m.renderBanner(); banner != "" {
		bannerHeight = lipgloss.Height(banner)
	}
	statusHeight := 1
	m.viewport.Width = m.width
	m.viewport.Height = m.height - headerHeight - bannerHeight - m.input.Height() - statusHeight - 1
	if m.viewport.Height < 1 {
		m.viewport.Height = 1
	}
	m.refreshViewport(!m.ready)
	m.ready = true
}
