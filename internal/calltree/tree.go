// Package calltree merges periodic goroutine stack samples into a prefix
// tree of call frames.
package calltree

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Node is one frame in the tree. All accessors are safe to call while
// captures are in progress.
type Node struct {
	frame    Frame
	count    atomic.Int64
	children atomic.Pointer[[]*Node]
	leaf     atomic.Pointer[leafHistogram]
}

// Frame returns the node's frame.
func (n *Node) Frame() Frame { return n.frame }

// SampleCount is the number of samples that passed through this frame.
func (n *Node) SampleCount() int64 { return n.count.Load() }

// Children returns the child nodes in insertion order.
func (n *Node) Children() []*Node {
	if c := n.children.Load(); c != nil {
		return *c
	}
	return nil
}

// LeafCount is the number of samples that ended at this frame.
func (n *Node) LeafCount() int64 {
	h := n.leaf.Load()
	if h == nil {
		return 0
	}
	return h.total()
}

// States returns the per-State sample counts for samples ending at this
// frame, keyed by State name.
func (n *Node) States() map[string]int64 {
	h := n.leaf.Load()
	if h == nil {
		return nil
	}
	return h.asMap()
}

// leafHistogram is immutable; each capture swaps in an updated copy. It holds
// a single inline state until a second distinct state is seen.
type leafHistogram struct {
	state string
	count int64
	more  map[string]int64
}

func (h *leafHistogram) with(state string) *leafHistogram {
	if h == nil {
		return &leafHistogram{state: state, count: 1}
	}
	if h.more == nil && h.state == state {
		return &leafHistogram{state: state, count: h.count + 1}
	}
	m := h.asMap()
	m[state]++
	return &leafHistogram{more: m}
}

func (h *leafHistogram) asMap() map[string]int64 {
	if h.more == nil {
		return map[string]int64{h.state: h.count}
	}
	m := make(map[string]int64, len(h.more)+1)
	for k, v := range h.more {
		m[k] = v
	}
	return m
}

func (h *leafHistogram) total() int64 {
	if h.more == nil {
		return h.count
	}
	var t int64
	for _, v := range h.more {
		t += v
	}
	return t
}

// Tree is a forest of Nodes built from stack samples of one goroutine.
type Tree struct {
	mu      sync.Mutex
	roots   atomic.Pointer[[]*Node]
	samples atomic.Int64
	dump    DumpFunc
}

// New creates an empty tree that samples goroutines with dump. A nil dump
// uses DumpAll.
func New(dump DumpFunc) *Tree {
	if dump == nil {
		dump = DumpAll
	}
	return &Tree{dump: dump}
}

// RootNodes returns the outermost frames.
func (t *Tree) RootNodes() []*Node {
	if r := t.roots.Load(); r != nil {
		return *r
	}
	return nil
}

// SampleCount is the number of samples folded into the tree.
func (t *Tree) SampleCount() int64 { return t.samples.Load() }

// CaptureGoroutine samples goroutine id and folds the sample into the tree.
// It returns false if the goroutine no longer exists.
func (t *Tree) CaptureGoroutine(id int64) bool {
	g, ok := LookupGoroutine(t.dump(), id)
	if !ok {
		return false
	}
	t.Capture(g)
	return true
}

// Capture folds one sample into the tree. Captures are serialised.
func (t *Tree) Capture(g GoroutineSample) {
	if len(g.Frames) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	siblings := &t.roots
	var node *Node
	// Runtime order is innermost first; walk outermost first.
	for i := len(g.Frames) - 1; i >= 0; i-- {
		node = childFor(siblings, g.Frames[i])
		node.count.Add(1)
		siblings = &node.children
	}
	node.leaf.Store(node.leaf.Load().with(string(g.State())))
	t.samples.Add(1)
}

// childFor returns the child matching frame, appending a new one if none
// does. Must be called with the tree lock held.
func childFor(siblings *atomic.Pointer[[]*Node], frame Frame) *Node {
	var cur []*Node
	if p := siblings.Load(); p != nil {
		cur = *p
	}
	for _, n := range cur {
		if n.frame == frame {
			return n
		}
	}
	n := &Node{frame: frame}
	next := make([]*Node, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, n)
	siblings.Store(&next)
	return n
}

// Walk visits every node depth first with the path of frames leading to it,
// outermost first. The path slice is reused between calls.
func (t *Tree) Walk(fn func(path []Frame, n *Node)) {
	var path []Frame
	var visit func(nodes []*Node)
	visit = func(nodes []*Node) {
		for _, n := range nodes {
			path = append(path, n.frame)
			fn(path, n)
			visit(n.Children())
			path = path[:len(path)-1]
		}
	}
	visit(t.RootNodes())
}

// Stack is one distinct sampled path ending in a leaf state.
type Stack struct {
	Frames []Frame `json:"frames"` // outermost first
	State  string  `json:"state"`
	Count  int64   `json:"count"`
}

// Stacks flattens the tree into its distinct leaf paths, most frequent first.
func (t *Tree) Stacks() []Stack {
	var out []Stack
	t.Walk(func(path []Frame, n *Node) {
		for state, count := range n.States() {
			frames := make([]Frame, len(path))
			copy(frames, path)
			out = append(out, Stack{Frames: frames, State: state, Count: count})
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
