// Package chat is the terminal client: a bubbletea program over an engine
// and its view tree.
package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	zone "github.com/lrstanley/bubblezone"
	"github.com/rs/zerolog"

	"github.com/adamavenir/huddle/internal/engine"
	"github.com/adamavenir/huddle/internal/presence"
	"github.com/adamavenir/huddle/internal/search"
	"github.com/adamavenir/huddle/internal/view"
)

// Options configure chat.
type Options struct {
	Engine *engine.Engine
	// Tree must be the Sink the engine commits to.
	Tree *view.Tree
	// Presence is optional.
	Presence *presence.Tracker
	Logger   zerolog.Logger
	Title    string
	Notify   bool
	// ReadFile loads files for /file. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// Run starts the chat UI and blocks until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	model := NewModel(opts)
	// Set window title (ANSI OSC sequence)
	fmt.Printf("\033]0;%s\007", model.title)

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Model implements the chat UI.
type Model struct {
	eng      *engine.Engine
	tree     *view.Tree
	presence *presence.Tracker
	logger   zerolog.Logger
	readFile func(string) ([]byte, error)
	notify   bool
	title    string

	viewport    viewport.Model
	input       textarea.Model
	zoneManager *zone.Manager // click tracking for message actions
	width       int
	height      int

	status     string
	statusErr  bool
	feed       engine.FeedState
	who        presence.Snapshot
	results    *search.Results
	help       bool
	lastTyping time.Time
	lastSeenID string
	wipes      int64
	ready      bool
}

// NewModel builds the UI state. Nothing runs until the program starts.
func NewModel(opts Options) *Model {
	title := opts.Title
	if title == "" {
		title = "huddle"
	}
	readFile := opts.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	m := &Model{
		eng:         opts.Engine,
		tree:        opts.Tree,
		presence:    opts.Presence,
		logger:      opts.Logger,
		readFile:    readFile,
		notify:      opts.Notify,
		title:       title,
		viewport:    viewport.New(0, 0),
		input:       newInputModel(),
		zoneManager: zone.New(),
		feed:        opts.Engine.Feed(),
	}
	if m.presence != nil {
		m.who = m.presence.Snapshot()
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForEvent(), m.waitForPresence(), m.loadWipeCount())
}

type engineEventMsg struct {
	ev engine.Event
}

type presenceMsg struct {
	snap presence.Snapshot
}

// resultMsg reports the outcome of an off-loop command. A non-zero wipes
// replaces the room's wipe count.
type resultMsg struct {
	status string
	err    error
	wipes  int64
}

type wipeCountMsg struct {
	wipes int64
}

func (m *Model) loadWipeCount() tea.Cmd {
	eng, logger := m.eng, m.logger
	return func() tea.Msg {
		wipes, err := eng.WipeCount(context.Background())
		if err != nil {
			logger.Debug().Err(err).Msg("wipe count unavailable")
			return nil
		}
		return wipeCountMsg{wipes: wipes}
	}
}

func (m *Model) waitForEvent() tea.Cmd {
	events := m.eng.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return engineEventMsg{ev: ev}
	}
}

func (m *Model) waitForPresence() tea.Cmd {
	if m.presence == nil {
		return nil
	}
	updates := m.presence.Updates()
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return presenceMsg{snap: snap}
	}
}

func (m *Model) setStatus(format string, args ...any) {
	m.status = fmt.Sprintf(format, args...)
	m.statusErr = false
}

func (m *Model) setError(err error) {
	if err == nil {
		return
	}
	m.status = err.Error()
	m.statusErr = true
	m.logger.Debug().Err(err).Msg("chat action failed")
}
