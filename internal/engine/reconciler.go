package engine

import (
	"reflect"
	"sort"

	"github.com/rs/zerolog"

	"github.com/adamavenir/huddle/internal/cache"
	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/metrics"
	"github.com/adamavenir/huddle/internal/render"
	"github.com/adamavenir/huddle/internal/types"
	"github.com/adamavenir/huddle/internal/view"
)

// topLevel is the container key of top-level messages.
const topLevel = ""

type entry struct {
	msg       types.Message
	frag      render.Fragment
	mounted   bool
	held      bool
	tombstone bool
}

func (e *entry) container() string {
	return e.msg.ParentID
}

// ReconcilerOptions wires a Reconciler.
type ReconcilerOptions struct {
	Sink    view.Sink
	Render  func(types.Message) render.Fragment
	Cache   *cache.Cache
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// OnInsert is told about every message mounted or held for the first
	// time, with live set for feed events (not cache paint or local sends).
	OnInsert func(msg types.Message, live bool)
	// OnUpdate is told about every change to an already indexed message.
	OnUpdate func(msg types.Message)
}

// Reconciler owns the message index and the reply tree, and turns feed
// events and local sends into view mutations. It is not safe for
// concurrent use; the engine loop drives it.
type Reconciler struct {
	opts     ReconcilerOptions
	entries  map[string]*entry
	children map[string][]string
	held     map[string][]string
	batch    view.Batch
}

// NewReconciler returns an empty reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	if opts.Render == nil {
		caps := core.DefaultTier.Capabilities()
		opts.Render = func(msg types.Message) render.Fragment {
			return render.Render(msg, caps, render.Options{})
		}
	}
	return &Reconciler{
		opts:     opts,
		entries:  make(map[string]*entry),
		children: make(map[string][]string),
		held:     make(map[string][]string),
	}
}

// SetRenderer swaps the fragment builder (after a tier change) and
// re-renders every mounted node.
func (r *Reconciler) SetRenderer(fn func(types.Message) render.Fragment) {
	r.opts.Render = fn
	r.Rerender()
}

// LoadCached paints cached messages. It follows the added path without
// writing back to the cache.
func (r *Reconciler) LoadCached(msgs []types.Message) {
	for _, msg := range msgs {
		r.upsert(msg, false, false)
	}
	r.flush()
}

// Apply processes one feed notification in delivery order and commits the
// resulting mutations as one batch.
func (r *Reconciler) Apply(changes []types.Change) {
	for _, change := range changes {
		r.opts.Metrics.FeedChange(string(change.Type))
		switch change.Type {
		case types.ChangeAdded, types.ChangeModified:
			msg := change.Data
			if change.ID != "" {
				msg.ID = change.ID
			}
			r.upsert(msg, true, true)
		case types.ChangeRemoved:
			r.remove(change.ID)
		default:
			r.opts.Logger.Debug().Str("type", string(change.Type)).Str("id", change.ID).Msg("ignoring unknown change type")
		}
	}
	r.flush()
}

func (r *Reconciler) emit(m view.Mutation) {
	r.batch = append(r.batch, m)
}

func (r *Reconciler) flush() {
	if len(r.batch) > 0 && r.opts.Sink != nil {
		r.opts.Sink.Commit(r.batch)
	}
	r.batch = nil
	r.opts.Metrics.SetTree(r.Len(), r.HeldCount())
}

func (r *Reconciler) upsert(msg types.Message, persist, live bool) {
	if msg.ID == "" {
		return
	}
	msg.Status = types.StatusConfirmed
	if msg.ParentID == msg.ID {
		msg.ParentID = ""
	}

	e, ok := r.entries[msg.ID]
	if !ok && msg.ClientID != "" && msg.ClientID != msg.ID && core.IsTempID(msg.ClientID) {
		if temp, found := r.entries[msg.ClientID]; found {
			r.rekey(msg.ClientID, msg.ID)
			e, ok = temp, true
		}
	}
	if ok {
		r.update(e, msg)
		if r.opts.OnUpdate != nil {
			r.opts.OnUpdate(e.msg)
		}
	} else {
		e = r.insert(msg)
		if r.opts.OnInsert != nil {
			r.opts.OnInsert(e.msg, live)
		}
	}
	if persist {
		r.opts.Cache.Put(e.msg)
	}
}

func (r *Reconciler) insert(msg types.Message) *entry {
	e := &entry{msg: msg}
	r.entries[msg.ID] = e
	r.place(e)
	return e
}

func (r *Reconciler) place(e *entry) {
	parentID := e.container()
	if parentID == topLevel {
		r.mount(e)
		return
	}
	if parent, ok := r.entries[parentID]; ok && parent.mounted {
		r.mount(e)
		return
	}
	e.held = true
	r.held[parentID] = r.insertSorted(r.held[parentID], e.msg.ID)
	r.opts.Logger.Debug().Str("id", e.msg.ID).Str("parent", parentID).Msg("holding reply until parent arrives")
}

func (r *Reconciler) mount(e *entry) {
	id := e.msg.ID
	parentID := e.container()
	e.held = false
	e.frag = r.fragment(e)
	list := r.insertSorted(r.children[parentID], id)
	r.children[parentID] = list
	r.emit(view.Mutation{Op: view.OpInsert, ID: id, Parent: parentID, Index: indexOf(list, id), Fragment: e.frag})
	e.mounted = true

	waiting := r.held[id]
	delete(r.held, id)
	for _, childID := range waiting {
		if child, ok := r.entries[childID]; ok && child.held {
			r.mount(child)
		}
	}
}

func (r *Reconciler) update(e *entry, msg types.Message) {
	previous := e.msg
	if msg.ParentID != previous.ParentID {
		r.opts.Logger.Debug().Str("id", msg.ID).Str("parent", previous.ParentID).Str("incoming", msg.ParentID).Msg("parent is immutable, keeping original")
		msg.ParentID = previous.ParentID
	}
	if msg.ClientID == "" {
		msg.ClientID = previous.ClientID
	}
	e.tombstone = false
	e.msg = msg

	if less(msg, previous) || less(previous, msg) {
		switch {
		case e.mounted:
			r.reposition(e)
		case e.held:
			parentID := e.container()
			r.held[parentID] = r.insertSorted(without(r.held[parentID], msg.ID), msg.ID)
		}
	}
	r.refresh(e)
}

func (r *Reconciler) reposition(e *entry) {
	id := e.msg.ID
	parentID := e.container()
	list := r.children[parentID]
	before := indexOf(list, id)
	list = r.insertSorted(without(list, id), id)
	r.children[parentID] = list
	if after := indexOf(list, id); after != before {
		r.emit(view.Mutation{Op: view.OpMove, ID: id, Parent: parentID, Index: after})
	}
}

func (r *Reconciler) rekey(oldID, newID string) {
	e := r.entries[oldID]
	delete(r.entries, oldID)
	e.msg.ID = newID
	r.entries[newID] = e

	parentID := e.container()
	switch {
	case e.mounted:
		r.children[parentID] = replaceID(r.children[parentID], oldID, newID)
		r.emit(view.Mutation{Op: view.OpRekey, ID: oldID, NewID: newID})
		e.frag.ID = newID
		// A createdAt tie is broken by id, so the new key can move it.
		r.reposition(e)
	case e.held:
		r.held[parentID] = r.insertSorted(without(r.held[parentID], oldID), newID)
	}
}

func (r *Reconciler) remove(id string) {
	r.opts.Cache.Remove(id)
	e, ok := r.entries[id]
	if !ok {
		return
	}
	switch {
	case e.held:
		parentID := e.container()
		r.held[parentID] = without(r.held[parentID], id)
		if len(r.held[parentID]) == 0 {
			delete(r.held, parentID)
		}
		delete(r.entries, id)
	case e.mounted:
		if len(r.children[id]) > 0 {
			if !e.tombstone {
				e.tombstone = true
				r.refresh(e)
			}
			return
		}
		r.unmount(e)
	}
}

// unmount removes a mounted entry with its subtree, then drops a tombstone
// parent left without replies.
func (r *Reconciler) unmount(e *entry) {
	id := e.msg.ID
	parentID := e.container()
	r.children[parentID] = without(r.children[parentID], id)
	if len(r.children[parentID]) == 0 && parentID != topLevel {
		delete(r.children, parentID)
	}
	r.emit(view.Mutation{Op: view.OpRemove, ID: id})
	r.forget(id)

	if parentID == topLevel {
		return
	}
	if parent, ok := r.entries[parentID]; ok && parent.tombstone && len(r.children[parentID]) == 0 {
		r.unmount(parent)
	}
}

func (r *Reconciler) forget(id string) {
	for _, childID := range r.children[id] {
		r.forget(childID)
	}
	delete(r.children, id)
	delete(r.entries, id)
}

func (r *Reconciler) refresh(e *entry) {
	if !e.mounted {
		return
	}
	frag := r.fragment(e)
	if reflect.DeepEqual(frag, e.frag) {
		return
	}
	e.frag = frag
	r.emit(view.Mutation{Op: view.OpReplace, ID: e.msg.ID, Fragment: frag})
}

func (r *Reconciler) fragment(e *entry) render.Fragment {
	msg := e.msg
	if e.tombstone {
		msg.Deleted = true
	}
	return r.opts.Render(msg)
}

// Rerender rebuilds every mounted fragment, replacing only those that
// changed.
func (r *Reconciler) Rerender() {
	for _, id := range r.order() {
		r.refresh(r.entries[id])
	}
	r.flush()
}

// AddProvisional mounts an optimistic message. It is never cached.
func (r *Reconciler) AddProvisional(msg types.Message) {
	msg.Status = types.StatusPending
	e := r.insert(msg)
	if r.opts.OnInsert != nil {
		r.opts.OnInsert(e.msg, false)
	}
	r.flush()
}

// SetStatus changes the lifecycle marker of a provisional entry.
func (r *Reconciler) SetStatus(id string, status types.Status) bool {
	e, ok := r.entries[id]
	if !ok || !core.IsTempID(id) {
		return false
	}
	e.msg.Status = status
	r.refresh(e)
	r.flush()
	return true
}

// Confirm re-keys a provisional entry to its server id in place. It
// reports false when the entry is gone, typically because the feed
// already confirmed it.
func (r *Reconciler) Confirm(tempID, serverID string) bool {
	e, ok := r.entries[tempID]
	if !ok || !core.IsTempID(tempID) {
		return false
	}
	if _, exists := r.entries[serverID]; exists {
		r.drop(e)
		r.flush()
		return false
	}
	r.rekey(tempID, serverID)
	e.msg.ClientID = tempID
	e.msg.Status = types.StatusConfirmed
	r.refresh(e)
	r.flush()
	return true
}

// Drop discards a provisional entry.
func (r *Reconciler) Drop(id string) bool {
	e, ok := r.entries[id]
	if !ok || !core.IsTempID(id) {
		return false
	}
	r.drop(e)
	r.flush()
	return true
}

func (r *Reconciler) drop(e *entry) {
	switch {
	case e.mounted:
		r.unmount(e)
	case e.held:
		parentID := e.container()
		r.held[parentID] = without(r.held[parentID], e.msg.ID)
		delete(r.entries, e.msg.ID)
	}
}

// Clear unmounts every confirmed message. Provisional top-level entries
// survive.
func (r *Reconciler) Clear() {
	for _, id := range append([]string(nil), r.children[topLevel]...) {
		if core.IsTempID(id) {
			continue
		}
		if e, ok := r.entries[id]; ok {
			r.unmount(e)
		}
	}
	for parentID, waiting := range r.held {
		var keep []string
		for _, id := range waiting {
			if core.IsTempID(id) {
				keep = append(keep, id)
				continue
			}
			delete(r.entries, id)
		}
		if len(keep) == 0 {
			delete(r.held, parentID)
			continue
		}
		r.held[parentID] = keep
	}
	r.flush()
}

// Message returns the indexed message for id.
func (r *Reconciler) Message(id string) (types.Message, bool) {
	e, ok := r.entries[id]
	if !ok {
		return types.Message{}, false
	}
	return e.msg.Clone(), true
}

// Mounted reports whether id is on screen.
func (r *Reconciler) Mounted(id string) bool {
	e, ok := r.entries[id]
	return ok && e.mounted
}

// Tombstoned reports whether id is a removed parent kept for its replies.
func (r *Reconciler) Tombstoned(id string) bool {
	e, ok := r.entries[id]
	return ok && e.tombstone
}

// Len is the number of mounted messages.
func (r *Reconciler) Len() int {
	n := 0
	for _, e := range r.entries {
		if e.mounted {
			n++
		}
	}
	return n
}

// Held returns waiting reply ids by missing parent id.
func (r *Reconciler) Held() map[string][]string {
	out := make(map[string][]string, len(r.held))
	for parentID, ids := range r.held {
		if len(ids) > 0 {
			out[parentID] = append([]string(nil), ids...)
		}
	}
	return out
}

// HeldCount is the number of held replies.
func (r *Reconciler) HeldCount() int {
	n := 0
	for _, ids := range r.held {
		n += len(ids)
	}
	return n
}

// Children returns the mounted reply ids of parentID ("" for top level).
func (r *Reconciler) Children(parentID string) []string {
	return append([]string(nil), r.children[parentID]...)
}

// Snapshot returns mounted, non-tombstone messages in display order.
func (r *Reconciler) Snapshot() []types.Message {
	ids := r.order()
	out := make([]types.Message, 0, len(ids))
	for _, id := range ids {
		if e := r.entries[id]; !e.tombstone {
			out = append(out, e.msg.Clone())
		}
	}
	return out
}

// order lists mounted ids in display (pre-) order.
func (r *Reconciler) order() []string {
	var out []string
	var visit func(parentID string)
	visit = func(parentID string) {
		for _, id := range r.children[parentID] {
			out = append(out, id)
			visit(id)
		}
	}
	visit(topLevel)
	return out
}

// less orders by createdAt, then id.
func less(a, b types.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (r *Reconciler) insertSorted(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	msg := r.entries[id].msg
	idx := sort.Search(len(list), func(i int) bool {
		return less(msg, r.entries[list[i]].msg)
	})
	list = append(list, "")
	copy(list[idx+1:], list[idx:])
	list[idx] = id
	return list
}

func indexOf(list []string, id string) int {
	for i, existing := range list {
		if existing == id {
			return i
		}
	}
	return -1
}

func without(list []string, id string) []string {
	out := list[:0:0]
	for _, existing := range list {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func replaceID(list []string, oldID, newID string) []string {
	out := append([]string(nil), list...)
	for i, existing := range out {
		if existing == oldID {
			out[i] = newID
		}
	}
	return out
}
