// Package timing provides a tic/toc delta timer and a hierarchical timer for
// instrumenting slow operations such as bundle loads.
package timing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TicTocTimer measures and reports elapsed time between Tic and Toc calls.
// Output goes to the attached logger at debug level. The zero timer is not
// usable; construct with New.
type TicTocTimer struct {
	mu      sync.Mutex
	last    time.Time
	start   time.Time
	cumul   time.Duration
	stopped bool
	logger  zerolog.Logger
}

// New creates a timer with its reference time set to now.
func New(logger zerolog.Logger) *TicTocTimer {
	now := time.Now()
	return &TicTocTimer{
		last:   now,
		start:  now,
		logger: logger,
	}
}

// Tic resets the reference time from which the next delta is calculated.
func (t *TicTocTimer) Tic(msg string) {
	t.mu.Lock()
	t.last = time.Now()
	t.stopped = false
	t.mu.Unlock()

	if msg != "" {
		t.logger.Debug().Msg(msg)
	}
}

// Toc reports the elapsed wall-clock time since the last Tic or Toc and
// resets the reference time. Returns the measured delta.
func (t *TicTocTimer) Toc(msg string) time.Duration {
	now := time.Now()

	t.mu.Lock()
	var delta time.Duration
	if t.stopped {
		delta = t.cumul
	} else {
		delta = now.Sub(t.last)
		t.last = now
	}
	t.mu.Unlock()

	if msg != "" {
		t.logger.Debug().Dur("elapsed", delta).Msg(msg)
	}
	return delta
}

// Total returns the elapsed time since the timer was created.
func (t *TicTocTimer) Total() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.start)
}

// Stop pauses accumulation. Elapsed time since the last reference point is
// added to the cumulative total, which Toc reports while stopped.
func (t *TicTocTimer) Stop() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return 0
	}
	delta := time.Since(t.last)
	t.cumul += delta
	t.stopped = true
	return delta
}

// Start resumes accumulation after Stop.
func (t *TicTocTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = time.Now()
	t.stopped = false
}

// hierNode accumulates time for one named timer and its children.
type hierNode struct {
	total    time.Duration
	t0       time.Time
	calls    int
	order    []string
	children map[string]*hierNode
}

func (n *hierNode) child(name string) *hierNode {
	if n.children == nil {
		n.children = make(map[string]*hierNode)
	}
	c, ok := n.children[name]
	if !ok {
		c = &hierNode{}
		n.children[name] = c
		n.order = append(n.order, name)
	}
	return c
}

// HierarchicalTimer accumulates named, nestable time spans. Starting a timer
// while another is running nests it; stopping must match the innermost
// running name. Each name keeps a total, a call count, and its children.
type HierarchicalTimer struct {
	mu    sync.Mutex
	stack []*hierNode
	root  hierNode
}

// NewHierarchical creates an empty hierarchical timer.
func NewHierarchical() *HierarchicalTimer {
	h := &HierarchicalTimer{}
	h.stack = []*hierNode{&h.root}
	return h
}

// Start begins (or resumes) the named timer nested under the currently
// running one.
func (h *HierarchicalTimer) Start(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	top := h.stack[len(h.stack)-1]
	node := top.child(name)
	node.t0 = time.Now()
	h.stack = append(h.stack, node)
}

// Stop ends the named timer. The name must match the innermost running timer.
func (h *HierarchicalTimer) Stop(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.stack) < 2 {
		return fmt.Errorf("stop %q: no timer running", name)
	}
	parent := h.stack[len(h.stack)-2]
	node := h.stack[len(h.stack)-1]
	if parent.children[name] != node {
		return fmt.Errorf("stop %q: innermost running timer does not match", name)
	}
	node.total += time.Since(node.t0)
	node.calls++
	h.stack = h.stack[:len(h.stack)-1]
	return nil
}

// Total returns the accumulated time of a top-level timer.
func (h *HierarchicalTimer) Total(name string) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	if node, ok := h.root.children[name]; ok {
		return node.total
	}
	return 0
}

// Calls returns how many times a top-level timer was stopped.
func (h *HierarchicalTimer) Calls(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if node, ok := h.root.children[name]; ok {
		return node.calls
	}
	return 0
}

// Reset discards all accumulated timers.
func (h *HierarchicalTimer) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.root = hierNode{}
	h.stack = []*hierNode{&h.root}
}

// Report renders the accumulated timers as indented lines, one per name in
// start order, with total, call count, and average per call.
func (h *HierarchicalTimer) Report() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var b strings.Builder
	reportNode(&b, &h.root, 0)
	return b.String()
}

func reportNode(b *strings.Builder, n *hierNode, depth int) {
	for _, name := range n.order {
		child := n.children[name]
		avg := time.Duration(0)
		if child.calls > 0 {
			avg = child.total / time.Duration(child.calls)
		}
		fmt.Fprintf(b, "%s%-20s %12s %6d %12s\n",
			strings.Repeat("    ", depth), name, child.total, child.calls, avg)
		reportNode(b, child, depth+1)
	}
}
