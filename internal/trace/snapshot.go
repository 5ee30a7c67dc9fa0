package trace

import (
	"time"

	"github.com/coral-mesh/coral-trace/internal/nanoclock"
)

// Snapshot is a read-only view over flushed events of a trace.
type Snapshot struct {
	root      *Event
	events    []*Event
	completed bool
	endTick   int64
}

// Root returns the trace's root event, even when the root itself was not
// part of this flush.
func (s *Snapshot) Root() *Event { return s.root }

// Events returns the flushed events in index order.
func (s *Snapshot) Events() []*Event { return s.events }

// Size is the number of flushed events.
func (s *Snapshot) Size() int { return len(s.events) }

// Completed reports whether the trace had completed at flush time.
func (s *Snapshot) Completed() bool { return s.completed }

// Duration of the trace, measured to now when not completed.
func (s *Snapshot) Duration(now int64) time.Duration {
	if s.completed {
		return nanoclock.Elapsed(s.root.startTick, s.endTick)
	}
	return nanoclock.Elapsed(s.root.startTick, now)
}
