package trace

import (
	"iter"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-trace/internal/flushlist"
	"github.com/coral-mesh/coral-trace/internal/nanoclock"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

// Options configures a Trace.
type Options struct {
	List   flushlist.Options
	Logger zerolog.Logger
	// OnMismatch is called once per pop that did not match the top of the
	// open-event stack.
	OnMismatch func()
}

// Trace is the stack-shaped sequence of events for one operation.
//
// PushElement and PopElement may only be called by the goroutine that owns
// the operation. All other methods are safe from any goroutine.
type Trace struct {
	root   *Event
	stack  []*Event
	events *flushlist.List[*Event]

	size      atomic.Int64
	endTick   atomic.Int64
	completed atomic.Bool

	logger     zerolog.Logger
	onMismatch func()
}

// New starts a trace whose root event is produced by exec at startTick.
func New(exec probe.Execution, startTick int64, opts Options) *Trace {
	t := &Trace{
		events:     flushlist.New[*Event](opts.List),
		logger:     opts.Logger,
		onMismatch: opts.OnMismatch,
	}
	root := &Event{
		exec:        exec,
		index:       0,
		parentIndex: -1,
		level:       0,
		startTick:   startTick,
	}
	t.root = root
	t.stack = append(t.stack, root)
	t.events.Add(root)
	t.size.Store(1)
	return t
}

// Root returns the root event.
func (t *Trace) Root() *Event { return t.root }

// StartTick is the root event's start tick.
func (t *Trace) StartTick() int64 { return t.root.startTick }

// Size is the number of events pushed so far, including the root.
func (t *Trace) Size() int { return int(t.size.Load()) }

// IsCompleted reports whether the root has been popped. Once true it stays true.
func (t *Trace) IsCompleted() bool { return t.completed.Load() }

// EndTick returns the tick the trace completed at, zero while running.
func (t *Trace) EndTick() int64 { return t.endTick.Load() }

// Duration is the trace duration if completed, else its age at now.
func (t *Trace) Duration(now int64) time.Duration {
	if t.completed.Load() {
		return nanoclock.Elapsed(t.root.startTick, t.endTick.Load())
	}
	return nanoclock.Elapsed(t.root.startTick, now)
}

// CurrentElement returns the innermost open event, or nil once completed.
func (t *Trace) CurrentElement() *Event {
	if len(t.stack) == 0 {
		return nil
	}
	return t.stack[len(t.stack)-1]
}

// PushElement opens a child of the current element. It returns nil if the
// trace has already completed.
func (t *Trace) PushElement(exec probe.Execution, startTick int64) *Event {
	parent := t.CurrentElement()
	if parent == nil {
		t.logger.Error().
			Str("description", descriptionOf(exec)).
			Msg("Trace event pushed onto a completed trace")
		return nil
	}
	e := &Event{
		exec:        exec,
		index:       int(t.size.Load()),
		parentIndex: parent.index,
		level:       parent.level + 1,
		startTick:   startTick,
		offset:      startTick - t.root.startTick,
	}
	t.stack = append(t.stack, e)
	t.events.Add(e)
	t.size.Add(1)
	return e
}

// PopElement completes e and removes it from the open-event stack.
//
// If e is not the innermost open event the caller forgot a pop somewhere.
// This is logged and every event above e is popped along with it so that the
// trace can still complete. It never panics.
func (t *Trace) PopElement(e *Event, endTick int64) {
	if e == nil {
		return
	}
	pos := -1
	for i := len(t.stack) - 1; i >= 0; i-- {
		if t.stack[i] == e {
			pos = i
			break
		}
	}
	if pos < 0 {
		if e.Completed() {
			// Already closed by an earlier unwind, which reported the mismatch.
			return
		}
		t.logger.Error().
			Int("index", e.index).
			Str("description", e.Description()).
			Msg("Popped trace event is not open in this trace")
		if t.onMismatch != nil {
			t.onMismatch()
		}
		return
	}

	e.complete(endTick)
	t.events.JustUpdatedPossiblyFlushedElement(e)

	if top := len(t.stack) - 1; top != pos {
		t.logger.Error().
			Int("expected_index", e.index).
			Str("expected", e.Description()).
			Int("actual_index", t.stack[top].index).
			Str("actual", t.stack[top].Description()).
			Int("unwound", top-pos).
			Msg("Trace event pop does not match the top of the stack, unwinding")
		if t.onMismatch != nil {
			t.onMismatch()
		}
		for i := top; i > pos; i-- {
			forgotten := t.stack[i]
			if !forgotten.Completed() {
				forgotten.complete(endTick)
				t.events.JustUpdatedPossiblyFlushedElement(forgotten)
			}
		}
	}

	clear(t.stack[pos:])
	t.stack = t.stack[:pos]
	if len(t.stack) == 0 {
		t.endTick.Store(endTick)
		t.completed.Store(true)
	}
}

// Events is a live view over the events, without flushing.
func (t *Trace) Events() iter.Seq[*Event] {
	return t.events.All()
}

// Flush returns a read-only view over the events written since the previous
// flush, plus retained context and updated earlier events.
func (t *Trace) Flush() *Snapshot {
	snap := t.events.Flush()
	return &Snapshot{
		root:      t.root,
		events:    snap.Slice(),
		completed: t.completed.Load(),
		endTick:   t.endTick.Load(),
	}
}

// Live returns a view over the events currently held, without flushing.
// Events handed out by an earlier flush and not retained are absent.
func (t *Trace) Live() *Snapshot {
	completed := t.completed.Load()
	var events []*Event
	for e := range t.events.All() {
		events = append(events, e)
	}
	return &Snapshot{
		root:      t.root,
		events:    events,
		completed: completed,
		endTick:   t.endTick.Load(),
	}
}

func descriptionOf(exec probe.Execution) string {
	if exec == nil {
		return ""
	}
	return exec.Description()
}
