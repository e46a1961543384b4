package chat

import (
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/engine"
	"github.com/adamavenir/huddle/internal/types"
)

const typingThrottle = time.Second

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.MouseMsg:
		return m.handleMouseMsg(msg)
	case engineEventMsg:
		cmd := m.handleEvent(msg.ev)
		return m, tea.Batch(cmd, m.waitForEvent())
	case presenceMsg:
		m.who = msg.snap
		return m, m.waitForPresence()
	case wipeCountMsg:
		m.wipes = msg.wipes
		return m, nil
	case resultMsg:
		if msg.wipes > 0 {
			m.wipes = msg.wipes
		}
		if msg.err != nil {
			m.setError(msg.err)
		} else if msg.status != "" {
			m.setStatus("%s", msg.status)
		}
		m.refreshViewport(false)
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.clearModes()
		return m, nil
	case tea.KeyEnter:
		cmd := m.submit()
		m.resize()
		return m, cmd
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.touchTyping()
	m.resize()
	return m, cmd
}

func (m *Model) touchTyping() {
	if m.presence == nil || m.input.Value() == "" {
		return
	}
	if time.Since(m.lastTyping) < typingThrottle {
		return
	}
	m.lastTyping = time.Now()
	m.presence.Typing()
}

// clearModes leaves reply, edit and search modes.
func (m *Model) clearModes() {
	session := m.eng.Session()
	switch {
	case session.EditTarget != "":
		m.eng.CancelEdit()
		m.input.Reset()
		m.setStatus("edit cancelled")
	case session.ReplyTarget != nil:
		m.eng.ClearReplyTarget()
		m.setStatus("reply cancelled")
	case m.results != nil || m.help:
		m.results = nil
		m.help = false
		m.setStatus("")
		m.refreshViewport(true)
	}
	m.resize()
}

func (m *Model) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Shift {
		return m, nil
	}
	if msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
		if handled, cmd := m.handleMouseClick(msg); handled {
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(ev engine.Event) tea.Cmd {
	switch ev.Kind {
	case engine.EventRender:
		m.refreshViewport(m.viewport.AtBottom())
		m.markLatestSeen()
	case engine.EventFeed:
		m.feed = ev.Feed
		if ev.Feed == engine.FeedError {
			m.setError(errors.New("feed disconnected, /resync to reconnect"))
		}
	case engine.EventNotify:
		if m.notify {
			msg := ev.Message
			title := m.title
			return func() tea.Msg {
				if err := SendNotification(msg, title); err != nil {
					m.logger.Debug().Err(err).Msg("desktop notification failed")
				}
				return nil
			}
		}
	case engine.EventSendFailed:
		short := core.ShortID(ev.ID, shortIDLength)
		if errors.Is(ev.Err, engine.ErrSendTimeout) {
			m.setError(errors.New("send timed out, /retry " + short + " or /cancel " + short))
		} else {
			m.setError(errors.New("send failed, /retry " + short + " or /cancel " + short))
		}
		m.refreshViewport(false)
	case engine.EventError:
		m.setError(ev.Err)
	}
	return nil
}

// markLatestSeen records a read receipt on the newest message from someone
// else. The engine writes each receipt once.
func (m *Model) markLatestSeen() {
	author := m.eng.Session().Author
	var latest *types.Message
	for _, msg := range m.eng.Snapshot() {
		if msg.Author == author || msg.Deleted || core.IsTempID(msg.ID) {
			continue
		}
		if latest == nil || msg.CreatedAt.After(latest.CreatedAt) {
			picked := msg
			latest = &picked
		}
	}
	if latest == nil || latest.ID == m.lastSeenID {
		return
	}
	m.lastSeenID = latest.ID
	_ = m.eng.MarkSeen(latest.ID)
}
