// Package view is the on-screen projection of the message index: a tree of
// nodes, one per message, changed only through Mutations. Nothing reads it
// back to make reconciliation decisions.
package view

import (
	"fmt"
	"strings"

	"github.com/adamavenir/huddle/internal/render"
)

// MaxVisualDepth caps indentation; deeper replies render at this depth.
const MaxVisualDepth = 4

// Op is a mutation kind.
type Op int

const (
	// OpInsert mounts a new node under Parent ("" = top level) at Index.
	OpInsert Op = iota
	// OpReplace swaps a node's fragment. Its children stay attached.
	OpReplace
	// OpRemove detaches a node and its subtree.
	OpRemove
	// OpMove repositions an existing node under Parent at Index.
	OpMove
	// OpRekey renames a node in place (temporary id -> server id).
	OpRekey
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpReplace:
		return "replace"
	case OpRemove:
		return "remove"
	case OpMove:
		return "move"
	case OpRekey:
		return "rekey"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Mutation is one instruction for a Sink.
type Mutation struct {
	Op       Op
	ID       string
	NewID    string
	Parent   string
	Index    int
	Fragment render.Fragment
}

func (m Mutation) String() string {
	switch m.Op {
	case OpRekey:
		return fmt.Sprintf("rekey %s -> %s", m.ID, m.NewID)
	case OpInsert, OpMove:
		parent := m.Parent
		if parent == "" {
			parent = "<root>"
		}
		return fmt.Sprintf("%s %s under %s at %d", m.Op, m.ID, parent, m.Index)
	default:
		return fmt.Sprintf("%s %s", m.Op, m.ID)
	}
}

// Batch is a group of mutations applied as one render.
type Batch []Mutation

// Sink receives batches in order and applies each one atomically.
// Implementations must not call back into the producer.
type Sink interface {
	Commit(Batch)
}

// Ops returns the op kinds in order.
func (b Batch) Ops() []Op {
	out := make([]Op, len(b))
	for i, m := range b {
		out[i] = m.Op
	}
	return out
}

func (b Batch) String() string {
	parts := make([]string, len(b))
	for i, m := range b {
		parts[i] = m.String()
	}
	return strings.Join(parts, "; ")
}
