package view

import (
	"fmt"
	"strings"
	"sync"

	"github.com/adamavenir/huddle/internal/render"
)

// Node is one mounted message. Its pointer identity survives Replace,
// Move and Rekey, which is what keeps an updated message from flickering.
type Node struct {
	ID       string
	Fragment render.Fragment
	Parent   *Node
	Children []*Node
	// Serial is assigned once at insert and never reused.
	Serial uint64
}

// Depth is the logical nesting depth; top-level nodes are 0.
func (n *Node) Depth() int {
	depth := 0
	for p := n.Parent; p != nil; p = p.Parent {
		depth++
	}
	return depth
}

// VisualDepth is Depth capped at MaxVisualDepth.
func (n *Node) VisualDepth() int {
	return min(n.Depth(), MaxVisualDepth)
}

// Tree is the in-memory view. It is safe for one writer and concurrent
// readers.
type Tree struct {
	mu     sync.RWMutex
	roots  []*Node
	nodes  map[string]*Node
	serial uint64
	errs   []error
	rev    uint64
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{nodes: make(map[string]*Node)}
}

// Commit implements Sink. Readers never observe half a batch. Invalid
// mutations are recorded in Errors and otherwise ignored.
func (t *Tree) Commit(b Batch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range b {
		if err := t.apply(m); err != nil {
			t.errs = append(t.errs, fmt.Errorf("%s: %w", m, err))
			continue
		}
		t.rev++
	}
}

// Apply commits a single mutation.
func (t *Tree) Apply(m Mutation) {
	t.Commit(Batch{m})
}

func (t *Tree) apply(m Mutation) error {
	switch m.Op {
	case OpInsert:
		if _, ok := t.nodes[m.ID]; ok {
			return fmt.Errorf("node %s already mounted", m.ID)
		}
		t.serial++
		node := &Node{ID: m.ID, Fragment: m.Fragment, Serial: t.serial}
		if err := t.attach(node, m.Parent, m.Index); err != nil {
			return err
		}
		t.nodes[m.ID] = node
	case OpReplace:
		node, ok := t.nodes[m.ID]
		if !ok {
			return fmt.Errorf("node %s not mounted", m.ID)
		}
		node.Fragment = m.Fragment
	case OpRemove:
		node, ok := t.nodes[m.ID]
		if !ok {
			return fmt.Errorf("node %s not mounted", m.ID)
		}
		t.detach(node)
		t.forget(node)
	case OpMove:
		node, ok := t.nodes[m.ID]
		if !ok {
			return fmt.Errorf("node %s not mounted", m.ID)
		}
		if err := t.canAttach(node, m.Parent); err != nil {
			return err
		}
		t.detach(node)
		if err := t.attach(node, m.Parent, m.Index); err != nil {
			return err
		}
	case OpRekey:
		node, ok := t.nodes[m.ID]
		if !ok {
			return fmt.Errorf("node %s not mounted", m.ID)
		}
		if _, taken := t.nodes[m.NewID]; taken {
			return fmt.Errorf("node %s already mounted", m.NewID)
		}
		delete(t.nodes, m.ID)
		node.ID = m.NewID
		node.Fragment.ID = m.NewID
		t.nodes[m.NewID] = node
	default:
		return fmt.Errorf("unknown op %d", int(m.Op))
	}
	return nil
}

func (t *Tree) canAttach(node *Node, parentID string) error {
	if parentID == "" {
		return nil
	}
	parent, ok := t.nodes[parentID]
	if !ok {
		return fmt.Errorf("parent %s not mounted", parentID)
	}
	for p := parent; p != nil; p = p.Parent {
		if p == node {
			return fmt.Errorf("attaching %s under %s would create a cycle", node.ID, parentID)
		}
	}
	return nil
}

func (t *Tree) attach(node *Node, parentID string, index int) error {
	if err := t.canAttach(node, parentID); err != nil {
		return err
	}
	if parentID == "" {
		node.Parent = nil
		t.roots = insertAt(t.roots, node, index)
		return nil
	}
	parent := t.nodes[parentID]
	node.Parent = parent
	parent.Children = insertAt(parent.Children, node, index)
	return nil
}

func (t *Tree) detach(node *Node) {
	if node.Parent == nil {
		t.roots = without(t.roots, node)
		return
	}
	node.Parent.Children = without(node.Parent.Children, node)
	node.Parent = nil
}

func (t *Tree) forget(node *Node) {
	delete(t.nodes, node.ID)
	for _, child := range node.Children {
		t.forget(child)
	}
}

func insertAt(list []*Node, node *Node, index int) []*Node {
	if index < 0 || index > len(list) {
		index = len(list)
	}
	list = append(list, nil)
	copy(list[index+1:], list[index:])
	list[index] = node
	return list
}

func without(list []*Node, node *Node) []*Node {
	for i, n := range list {
		if n == node {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Node returns the mounted node for id.
func (t *Tree) Node(id string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	return node, ok
}

// Len is the number of mounted nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Rev is the number of mutations applied so far.
func (t *Tree) Rev() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rev
}

// Errors returns mutations the tree rejected.
func (t *Tree) Errors() []error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]error(nil), t.errs...)
}

// RootIDs lists top-level ids in display order.
func (t *Tree) RootIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return nodeIDs(t.roots)
}

// ChildIDs lists the reply ids of id in display order.
func (t *Tree) ChildIDs(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	if !ok {
		return nil
	}
	return nodeIDs(node.Children)
}

func nodeIDs(list []*Node) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.ID
	}
	return out
}

// Line is one node in display order.
type Line struct {
	ID       string
	Depth    int
	Fragment render.Fragment
}

// Walk returns every node in display order (pre-order), depth capped at
// MaxVisualDepth.
func (t *Tree) Walk() []Line {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Line, 0, len(t.nodes))
	var visit func(list []*Node, depth int)
	visit = func(list []*Node, depth int) {
		for _, n := range list {
			out = append(out, Line{ID: n.ID, Depth: min(depth, MaxVisualDepth), Fragment: n.Fragment})
			visit(n.Children, depth+1)
		}
	}
	visit(t.roots, 0)
	return out
}

// Count returns how many reachable nodes carry id. Anything but 0 or 1 is
// a bug.
func (t *Tree) Count(id string) int {
	count := 0
	for _, line := range t.Walk() {
		if line.ID == id {
			count++
		}
	}
	return count
}

// Validate checks that the index and the reachable tree agree.
func (t *Tree) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[*Node]bool, len(t.nodes))
	var check func(list []*Node, parent *Node) error
	check = func(list []*Node, parent *Node) error {
		for _, n := range list {
			if seen[n] {
				return fmt.Errorf("node %s reachable twice", n.ID)
			}
			seen[n] = true
			if n.Parent != parent {
				return fmt.Errorf("node %s has a stale parent pointer", n.ID)
			}
			if t.nodes[n.ID] != n {
				return fmt.Errorf("node %s is not indexed", n.ID)
			}
			if err := check(n.Children, n); err != nil {
				return err
			}
		}
		return nil
	}
	if err := check(t.roots, nil); err != nil {
		return err
	}
	if len(seen) != len(t.nodes) {
		return fmt.Errorf("%d indexed nodes are unreachable", len(t.nodes)-len(seen))
	}
	return nil
}

// Render draws the whole tree, indenting replies.
func (t *Tree) Render(width int) string {
	lines := t.Walk()
	blocks := make([]string, 0, len(lines))
	for _, line := range lines {
		indent := strings.Repeat("  ", line.Depth)
		inner := width - len(indent)
		if width > 0 && inner < 10 {
			inner = 10
		}
		block := line.Fragment.View(inner)
		if indent != "" {
			parts := strings.Split(block, "\n")
			for i, part := range parts {
				parts[i] = indent + part
			}
			block = strings.Join(parts, "\n")
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}
