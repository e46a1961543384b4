package engine

import (
	"context"
	"strings"
	"time"

	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/render"
	"github.com/adamavenir/huddle/internal/types"
)

// Send outcomes, as counted in metrics.
const (
	outcomeConfirmed = "confirmed"
	outcomeFailed    = "failed"
	outcomeTimeout   = "timeout"
	outcomeRetried   = "retried"
	outcomeCancelled = "cancelled"
)

type outbound struct {
	timer   *time.Timer
	expired bool
}

type update struct {
	id     string
	op     string
	patch  types.Patch
	failed func()
}

// Pipeline turns user actions into optimistic view state and backend
// writes. It runs on the engine loop.
type Pipeline struct {
	e *Engine
	// pending tracks sends awaiting Create, by temporary id.
	pending map[string]*outbound
	// reacting is the session author's intended reaction per message until
	// the feed reflects it. "" means no reaction.
	reacting map[string]string
	// inflight serializes updates per document.
	inflight map[string][]update
	seen     map[string]bool
}

func newPipeline(e *Engine) *Pipeline {
	return &Pipeline{
		e:        e,
		pending:  make(map[string]*outbound),
		reacting: make(map[string]string),
		inflight: make(map[string][]update),
		seen:     make(map[string]bool),
	}
}

// Send validates and submits a new message, returning its temporary id.
func (p *Pipeline) Send(body string, att *types.Attachment) (string, error) {
	e := p.e
	body = strings.TrimSpace(body)
	if body == "" && att == nil {
		return "", ErrEmptyMessage
	}
	if body != "" && !e.caps.Text {
		return "", ErrCapabilityDisabled
	}
	if att != nil && !e.caps.AllowsAttachment(att.Kind) {
		return "", ErrCapabilityDisabled
	}

	msg := types.Message{
		Author:     e.session.Author,
		Color:      e.session.Color,
		Body:       body,
		Attachment: att,
	}
	if target := e.session.ReplyTarget; target != nil {
		if !e.caps.Replies {
			return "", ErrCapabilityDisabled
		}
		preview := target.Preview
		msg.ParentID = target.ID
		msg.ReplyPreview = &preview
	}
	if err := backend.CheckSize(msg); err != nil {
		return "", err
	}
	e.session.ReplyTarget = nil
	return p.submit(msg), nil
}

func (p *Pipeline) submit(msg types.Message) string {
	e := p.e
	tempID := core.NewTempID()
	msg.ID = tempID
	msg.ClientID = tempID
	msg.CreatedAt = e.now()
	msg.Status = types.StatusPending
	msg.Reactions = nil
	msg.SeenBy = nil
	e.rec.AddProvisional(msg)
	e.emit(Event{Kind: EventRender})

	ob := &outbound{}
	ob.timer = time.AfterFunc(e.timeout, func() {
		e.post(func() { p.expire(tempID) })
	})
	p.pending[tempID] = ob

	write := msg.Clone()
	write.Status = types.StatusConfirmed
	var serverID string
	e.async(func(ctx context.Context) error {
		id, err := e.backend.Create(ctx, e.collection, write)
		serverID = id
		return err
	}, func(err error) {
		p.resolve(tempID, serverID, err)
	})
	return tempID
}

func (p *Pipeline) resolve(tempID, serverID string, err error) {
	e := p.e
	ob, ok := p.pending[tempID]
	if !ok {
		// Retried, cancelled or already confirmed by the feed.
		e.logger.Debug().Str("temp_id", tempID).Str("id", serverID).Err(err).Msg("ignoring late send result")
		return
	}
	ob.timer.Stop()
	delete(p.pending, tempID)
	if err != nil {
		e.logger.Warn().Err(err).Str("temp_id", tempID).Msg("send failed")
		e.metrics.Send(outcomeFailed)
		if e.rec.SetStatus(tempID, types.StatusFailed) {
			e.emit(Event{Kind: EventSendFailed, ID: tempID, Err: err})
			e.emit(Event{Kind: EventRender})
		}
		return
	}
	e.metrics.Send(outcomeConfirmed)
	e.rec.Confirm(tempID, serverID)
	e.emit(Event{Kind: EventRender})
}

// expire fails a send that is still unconfirmed. It stays pending so a
// late success confirms the same node.
func (p *Pipeline) expire(tempID string) {
	e := p.e
	ob, ok := p.pending[tempID]
	if !ok || ob.expired {
		return
	}
	ob.expired = true
	e.logger.Warn().Str("temp_id", tempID).Dur("timeout", e.timeout).Msg("send unconfirmed")
	e.metrics.Send(outcomeTimeout)
	if e.rec.SetStatus(tempID, types.StatusFailed) {
		e.emit(Event{Kind: EventSendFailed, ID: tempID, Err: ErrSendTimeout})
		e.emit(Event{Kind: EventRender})
	}
}

func (p *Pipeline) failedEntry(tempID string) (types.Message, error) {
	msg, ok := p.e.rec.Message(tempID)
	if !ok {
		return types.Message{}, ErrNotFound
	}
	if !core.IsTempID(tempID) || msg.Status != types.StatusFailed {
		return types.Message{}, ErrNotRetryable
	}
	return msg, nil
}

func (p *Pipeline) abandon(tempID string) {
	if ob, ok := p.pending[tempID]; ok {
		ob.timer.Stop()
		delete(p.pending, tempID)
	}
	p.e.rec.Drop(tempID)
}

// Retry discards a failed send and submits the same content again.
func (p *Pipeline) Retry(tempID string) (string, error) {
	msg, err := p.failedEntry(tempID)
	if err != nil {
		return "", err
	}
	p.abandon(tempID)
	p.e.metrics.Send(outcomeRetried)
	return p.submit(msg), nil
}

// Cancel discards a failed send.
func (p *Pipeline) Cancel(tempID string) error {
	if _, err := p.failedEntry(tempID); err != nil {
		return err
	}
	p.abandon(tempID)
	p.e.metrics.Send(outcomeCancelled)
	p.e.emit(Event{Kind: EventRender})
	return nil
}

// confirmed returns a confirmed, not deleted message.
func (p *Pipeline) confirmed(id string) (types.Message, error) {
	msg, ok := p.e.rec.Message(id)
	if !ok || p.e.rec.Tombstoned(id) {
		return types.Message{}, ErrNotFound
	}
	if core.IsTempID(id) {
		return types.Message{}, ErrProvisional
	}
	if msg.Deleted {
		return types.Message{}, ErrDeleted
	}
	return msg, nil
}

func (p *Pipeline) owned(id string) (types.Message, error) {
	msg, err := p.confirmed(id)
	if err != nil {
		return msg, err
	}
	if msg.Author != p.e.session.Author {
		return types.Message{}, ErrNotOwner
	}
	return msg, nil
}

// BeginEdit enters edit mode on id and returns the body to edit.
func (p *Pipeline) BeginEdit(id string) (string, error) {
	if !p.e.caps.Edit {
		return "", ErrCapabilityDisabled
	}
	msg, err := p.owned(id)
	if err != nil {
		return "", err
	}
	p.e.session.EditTarget = id
	return msg.Body, nil
}

// Edit writes a new body. The view changes when the feed confirms it.
func (p *Pipeline) Edit(id, body string) error {
	e := p.e
	if !e.caps.Edit {
		return ErrCapabilityDisabled
	}
	msg, err := p.owned(id)
	if err != nil {
		return err
	}
	body = strings.TrimSpace(body)
	if body == "" && msg.Attachment == nil {
		return ErrEmptyMessage
	}
	e.session.EditTarget = ""
	if body == msg.Body {
		return nil
	}
	edited := true
	now := e.now()
	p.enqueue(update{id: id, op: "edit", patch: types.Patch{Body: &body, Edited: &edited, EditedAt: &now}})
	return nil
}

// Delete soft-deletes one of the author's messages.
func (p *Pipeline) Delete(id string) error {
	e := p.e
	if _, err := p.owned(id); err != nil {
		return err
	}
	if target := e.session.ReplyTarget; target != nil && target.ID == id {
		e.session.ReplyTarget = nil
	}
	if e.session.EditTarget == id {
		e.session.EditTarget = ""
	}
	deleted := true
	empty := ""
	p.enqueue(update{id: id, op: "delete", patch: types.Patch{Deleted: &deleted, Body: &empty, ClearAttachment: true}})
	return nil
}

// React toggles the author's reaction. Toggles issued before the feed
// catches up build on each other rather than on the stale view.
func (p *Pipeline) React(id, emoji string) error {
	e := p.e
	if !e.caps.Reactions {
		return ErrCapabilityDisabled
	}
	emoji, ok := core.NormalizeReaction(emoji)
	if !ok {
		return ErrInvalidReaction
	}
	msg, err := p.confirmed(id)
	if err != nil {
		return err
	}
	author := e.session.Author
	current := msg.Reactions
	if want, ok := p.reacting[id]; ok {
		current = map[string]string{}
		if want != "" {
			current[author] = want
		}
	}
	patch := core.ReactionPatch(current, author, emoji)
	if len(patch.UnsetReactions) > 0 {
		p.reacting[id] = ""
	} else {
		p.reacting[id] = emoji
	}
	p.enqueue(update{id: id, op: "react", patch: patch, failed: func() {
		delete(p.reacting, id)
	}})
	return nil
}

// SetPinned pins or unpins a message for everyone.
func (p *Pipeline) SetPinned(id string, pinned bool) error {
	e := p.e
	if !e.caps.Pin {
		return ErrCapabilityDisabled
	}
	msg, err := p.confirmed(id)
	if err != nil {
		return err
	}
	if msg.Pinned == pinned {
		return nil
	}
	by := ""
	if pinned {
		by = e.session.Author
	}
	op := "unpin"
	if pinned {
		op = "pin"
	}
	p.enqueue(update{id: id, op: op, patch: types.Patch{Pinned: &pinned, PinnedBy: &by}})
	return nil
}

// MarkSeen adds the author to seenBy on someone else's message, once.
// Guests leave no receipt.
func (p *Pipeline) MarkSeen(id string) error {
	e := p.e
	msg, err := p.confirmed(id)
	if err != nil {
		return err
	}
	author := e.session.Author
	if author == "" || author == render.DefaultAuthor {
		return nil
	}
	if msg.Author == author || p.seen[id] {
		return nil
	}
	for _, seen := range msg.SeenBy {
		if seen == author {
			return nil
		}
	}
	p.seen[id] = true
	p.enqueue(update{id: id, op: "seen", patch: types.Patch{AddSeenBy: author}, failed: func() {
		delete(p.seen, id)
	}})
	return nil
}

// SetReplyTarget captures id and its quote for the next send.
func (p *Pipeline) SetReplyTarget(id string) error {
	if !p.e.caps.Replies {
		return ErrCapabilityDisabled
	}
	msg, err := p.confirmed(id)
	if err != nil {
		return err
	}
	p.e.session.ReplyTarget = &ReplyTarget{ID: id, Preview: previewOf(msg)}
	return nil
}

func (p *Pipeline) enqueue(u update) {
	queue := p.inflight[u.id]
	p.inflight[u.id] = append(queue, u)
	if len(queue) == 0 {
		p.write(u)
	}
}

func (p *Pipeline) write(u update) {
	e := p.e
	e.async(func(ctx context.Context) error {
		return e.backend.Update(ctx, e.collection, u.id, u.patch)
	}, func(err error) {
		if err != nil {
			level := e.logger.Warn()
			if u.op == "seen" {
				level = e.logger.Debug()
			}
			level.Err(err).Str("op", u.op).Str("id", u.id).Msg("update failed")
			if u.failed != nil {
				u.failed()
			}
			if u.op != "seen" {
				e.emit(Event{Kind: EventError, Op: u.op, ID: u.id, Err: err})
			}
		}
		queue := p.inflight[u.id]
		if len(queue) > 0 {
			queue = queue[1:]
		}
		if len(queue) == 0 {
			delete(p.inflight, u.id)
			if msg, ok := e.rec.Message(u.id); ok {
				p.observe(msg)
			}
			return
		}
		p.inflight[u.id] = queue
		p.write(queue[0])
	})
}

// observe is called for every feed update of an indexed message.
func (p *Pipeline) observe(msg types.Message) {
	e := p.e
	if ob, ok := p.pending[msg.ClientID]; ok && msg.ID != msg.ClientID {
		ob.timer.Stop()
		delete(p.pending, msg.ClientID)
		e.metrics.Send(outcomeConfirmed)
	}
	if want, ok := p.reacting[msg.ID]; ok && msg.Reactions[e.session.Author] == want {
		delete(p.reacting, msg.ID)
	}
}

func (p *Pipeline) stopTimers() {
	for _, ob := range p.pending {
		ob.timer.Stop()
	}
}
