package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/engine"
	"github.com/adamavenir/huddle/internal/search"
)

const (
	minIDPrefix    = 4
	commandTimeout = 30 * time.Second
)

// command is a parsed slash command. Rest is the raw text after Args.
type command struct {
	Name string
	Args []string
	Rest string
}

// parseCommand splits "/name a b rest of text". It takes at most n
// positional args; everything after them is Rest.
func parseCommand(input string, n int) (command, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || strings.HasPrefix(input, "//") {
		return command{}, false
	}
	input = input[1:]
	name, remainder, _ := strings.Cut(input, " ")
	cmd := command{Name: strings.ToLower(name)}
	remainder = strings.TrimSpace(remainder)
	for i := 0; i < n && remainder != ""; i++ {
		arg, rest, _ := strings.Cut(remainder, " ")
		cmd.Args = append(cmd.Args, arg)
		remainder = strings.TrimSpace(rest)
	}
	cmd.Rest = remainder
	return cmd, true
}

// commandArity is how many positional args each command takes before the
// free-text remainder.
var commandArity = map[string]int{
	"reply": 1, "edit": 1, "delete": 1, "react": 2, "pin": 1, "unpin": 1,
	"retry": 1, "cancel": 1, "tier": 1, "file": 1,
}

const helpText = `/reply <id>          reply to a message
/edit <id> [text]    edit your message (no text: load it into the input)
/delete <id>         delete your message
/react <id> <emoji>  toggle a reaction
/pin <id>, /unpin <id>
/retry <id>, /cancel <id>  resolve a failed send
/tier <lite|smart|max>
/search [query]      substring or glob (*, ?); empty clears
/file <path> [caption]
/wipe                delete every message
/resync              reconnect the feed
/quit`

// submit handles the input on enter.
func (m *Model) submit() tea.Cmd {
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return nil
	}
	if m.presence != nil {
		m.presence.StopTyping()
	}
	name := strings.TrimPrefix(strings.Fields(value)[0], "/")
	if cmd, ok := parseCommand(value, commandArity[strings.ToLower(name)]); ok {
		m.input.Reset()
		return m.runCommand(cmd)
	}
	if strings.HasPrefix(value, "//") {
		value = value[1:]
	}

	session := m.eng.Session()
	var err error
	if session.EditTarget != "" {
		err = m.eng.Edit(session.EditTarget, value)
	} else {
		_, err = m.eng.Send(value, nil)
	}
	if err != nil {
		m.setError(err)
		return nil
	}
	m.input.Reset()
	m.setStatus("")
	m.refreshViewport(true)
	return nil
}

func (m *Model) runCommand(cmd command) tea.Cmd {
	need := func(n int) error {
		if len(cmd.Args) < n {
			return fmt.Errorf("/%s needs %d argument(s), see /help", cmd.Name, n)
		}
		return nil
	}
	var err error
	switch cmd.Name {
	case "help", "?":
		m.results = nil
		m.help = true
		m.setStatus("esc to close help")
		m.viewport.GotoTop()
		m.refreshViewport(false)
		return nil
	case "quit", "exit", "q":
		return tea.Quit
	case "reply", "delete", "pin", "unpin", "retry", "cancel":
		if err = need(1); err != nil {
			break
		}
		var id string
		if id, err = m.resolveID(cmd.Args[0]); err != nil {
			break
		}
		switch cmd.Name {
		case "reply":
			err = m.eng.SetReplyTarget(id)
		case "delete":
			err = m.eng.Delete(id)
		case "pin":
			err = m.eng.Pin(id)
		case "unpin":
			err = m.eng.Unpin(id)
		case "retry":
			_, err = m.eng.Retry(id)
		case "cancel":
			err = m.eng.Cancel(id)
		}
	case "edit":
		if err = need(1); err != nil {
			break
		}
		var id string
		if id, err = m.resolveID(cmd.Args[0]); err != nil {
			break
		}
		if cmd.Rest != "" {
			err = m.eng.Edit(id, cmd.Rest)
			break
		}
		var body string
		if body, err = m.eng.BeginEdit(id); err == nil {
			m.input.SetValue(body)
			m.input.CursorEnd()
		}
	case "react":
		if err = need(2); err != nil {
			break
		}
		var id string
		if id, err = m.resolveID(cmd.Args[0]); err != nil {
			break
		}
		err = m.eng.React(id, cmd.Args[1])
	case "tier":
		if err = need(1); err != nil {
			break
		}
		if err = m.eng.SetTier(cmd.Args[0]); err == nil {
			m.setStatus("tier set to %s", m.eng.Session().Tier)
			return nil
		}
	case "search":
		query := strings.TrimSpace(strings.Join(append(cmd.Args, cmd.Rest), " "))
		if query == "" {
			m.results = nil
			m.refreshViewport(true)
			return nil
		}
		var res search.Results
		if res, err = search.Messages(m.eng.Snapshot(), query); err == nil {
			m.results = &res
			m.help = false
			m.viewport.GotoTop()
			m.refreshViewport(false)
			return nil
		}
	case "resync":
		err = m.eng.Resubscribe()
	case "wipe":
		m.setStatus("wiping…")
		return m.wipeCmd()
	case "file":
		if err = need(1); err != nil {
			break
		}
		m.setStatus("attaching %s…", filepath.Base(cmd.Args[0]))
		return m.fileCmd(cmd.Args[0], cmd.Rest)
	default:
		err = fmt.Errorf("unknown command /%s, see /help", cmd.Name)
	}
	if err != nil {
		m.setError(err)
		return nil
	}
	m.setStatus("")
	return nil
}

func (m *Model) wipeCmd() tea.Cmd {
	eng := m.eng
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		res, err := eng.Wipe(ctx)
		if err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{status: fmt.Sprintf("wiped %d message(s)", res.Deleted), wipes: res.Wipes}
	}
}

func (m *Model) fileCmd(path, caption string) tea.Cmd {
	eng, readFile := m.eng, m.readFile
	return func() tea.Msg {
		data, err := readFile(path)
		if err != nil {
			return resultMsg{err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if _, err := eng.SendFile(ctx, filepath.Base(path), data, caption); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{status: "sent " + filepath.Base(path)}
	}
}

// resolveID accepts a full id or the short id shown under each message.
func (m *Model) resolveID(ref string) (string, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if ref == "" {
		return "", engine.ErrNotFound
	}
	if _, ok := m.eng.Message(ref); ok {
		return ref, nil
	}
	if len(ref) < minIDPrefix {
		return "", fmt.Errorf("id %q is too short", ref)
	}
	var found []string
	for _, msg := range m.eng.Snapshot() {
		if core.ShortID(msg.ID, len(ref)) == ref {
			found = append(found, msg.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: #%s", engine.ErrNotFound, ref)
	case 1:
		return found[0], nil
	default:
		return "", errors.New("ambiguous id #" + ref + ", use more characters")
	}
}
