package operation

import (
	"time"

	"github.com/coral-mesh/coral-trace/internal/calltree"
	"github.com/coral-mesh/coral-trace/internal/metric"
	"github.com/coral-mesh/coral-trace/internal/trace"
)

// Snapshot is a read-only view of an operation handed to sinks. The call
// tree is shared with the live operation and may keep growing; everything
// else is fixed.
type Snapshot struct {
	ID        string
	FlushSeq  int
	StartTime time.Time
	// Tick is the monotonic time the snapshot was taken; open events are
	// measured up to it.
	Tick           int64
	Duration       time.Duration
	Completed      bool
	Stuck          bool
	GoroutineNames []string
	Description    string
	Username       string
	Trace          *trace.Snapshot
	Metrics        []metric.Item
	CallTree       *calltree.Tree
}

// EndTime is the wall-clock end, or the flush time for a running operation.
func (s *Snapshot) EndTime() time.Time {
	return s.StartTime.Add(s.Duration)
}
