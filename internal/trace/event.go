// Package trace records the nested trace events of one operation.
package trace

import (
	"sync/atomic"
	"time"

	"github.com/coral-mesh/coral-trace/internal/nanoclock"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

// Event is one captured call inside an operation. Everything except the end
// tick and completed flag is fixed at push time; those two are written once,
// by the owning goroutine, when the event is popped.
type Event struct {
	exec        probe.Execution
	index       int
	parentIndex int
	level       int
	startTick   int64
	offset      int64

	endTick   atomic.Int64
	completed atomic.Bool
}

// Index is the event's sequence number within its trace; the root is 0.
func (e *Event) Index() int { return e.index }

// ParentIndex is the index of the enclosing event, or -1 for the root.
func (e *Event) ParentIndex() int { return e.parentIndex }

// Level is the nesting depth; the root is 0.
func (e *Event) Level() int { return e.level }

// Execution returns the probe execution that produced the event.
func (e *Event) Execution() probe.Execution { return e.exec }

// Description is shorthand for Execution().Description().
func (e *Event) Description() string {
	if e.exec == nil {
		return ""
	}
	return e.exec.Description()
}

// StartTick is the nanoclock tick at which the event was pushed.
func (e *Event) StartTick() int64 { return e.startTick }

// Offset is the start of the event relative to the start of the operation.
func (e *Event) Offset() time.Duration { return time.Duration(e.offset) }

// Completed reports whether the event has been popped.
func (e *Event) Completed() bool { return e.completed.Load() }

// EndTick is the tick at which the event was popped; zero until completed.
func (e *Event) EndTick() int64 { return e.endTick.Load() }

// Duration returns the event's duration if completed, else its age at now.
func (e *Event) Duration(now int64) time.Duration {
	if e.completed.Load() {
		return nanoclock.Elapsed(e.startTick, e.endTick.Load())
	}
	return nanoclock.Elapsed(e.startTick, now)
}

func (e *Event) complete(endTick int64) {
	e.endTick.Store(endTick)
	e.completed.Store(true)
}
