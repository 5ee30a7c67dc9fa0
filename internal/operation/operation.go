// Package operation tracks one unit of work (typically one request): its
// trace, summary metrics, sampled call tree and background task handles.
package operation

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coral-mesh/coral-trace/internal/calltree"
	"github.com/coral-mesh/coral-trace/internal/metric"
	"github.com/coral-mesh/coral-trace/internal/nanoclock"
	"github.com/coral-mesh/coral-trace/internal/scheduler"
	"github.com/coral-mesh/coral-trace/internal/trace"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

// Options configures a new Operation.
type Options struct {
	Clock nanoclock.Clock
	Trace trace.Options
	// Dump supplies goroutine stack dumps; nil uses the runtime.
	Dump calltree.DumpFunc
	// GoroutineID of the owning goroutine; zero means the calling goroutine.
	GoroutineID int64
	// Now supplies the wall-clock start time; nil uses time.Now.
	Now func() time.Time
}

// Operation is created on the first trace event push of a goroutine that has
// no active operation and lives until its root event is popped.
type Operation struct {
	startTime   time.Time
	clock       nanoclock.Clock
	trace       *trace.Trace
	metrics     *metric.Data
	callTree    *calltree.Tree
	goroutineID int64

	namesMu sync.Mutex
	names   map[string]struct{}

	stackTask atomic.Pointer[scheduler.Handle]
	stuckTask atomic.Pointer[scheduler.Handle]
	stuck     atomic.Bool

	flushMu    sync.Mutex
	id         string
	flushCount int
}

// New starts an operation whose root event is produced by root.
func New(root probe.Execution, opts Options) *Operation {
	if opts.Clock == nil {
		opts.Clock = nanoclock.System()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	gid := opts.GoroutineID
	if gid == 0 {
		gid = calltree.CurrentGoroutineID()
	}
	op := &Operation{
		// Wall-clock and monotonic ticks are not convertible, so both are kept.
		startTime:   opts.Now(),
		clock:       opts.Clock,
		metrics:     metric.New(),
		callTree:    calltree.New(opts.Dump),
		goroutineID: gid,
		names:       make(map[string]struct{}),
	}
	op.trace = trace.New(root, opts.Clock.Nanos(), opts.Trace)
	op.names[goroutineName(gid)] = struct{}{}
	return op
}

func goroutineName(id int64) string {
	return fmt.Sprintf("goroutine %d", id)
}

// StartTime is the wall-clock start.
func (o *Operation) StartTime() time.Time { return o.startTime }

// StartTick is the monotonic start tick.
func (o *Operation) StartTick() int64 { return o.trace.StartTick() }

// Trace returns the live trace.
func (o *Operation) Trace() *trace.Trace { return o.trace }

// Metrics returns the summary metrics.
func (o *Operation) Metrics() *metric.Data { return o.metrics }

// CallTree returns the sampled call tree.
func (o *Operation) CallTree() *calltree.Tree { return o.callTree }

// GoroutineID is the id of the owning goroutine.
func (o *Operation) GoroutineID() int64 { return o.goroutineID }

// IsCompleted reports whether the root event has been popped.
func (o *Operation) IsCompleted() bool { return o.trace.IsCompleted() }

// Duration is the operation's duration, or its age if still running.
func (o *Operation) Duration() time.Duration {
	return o.trace.Duration(o.clock.Nanos())
}

// Description of the root event.
func (o *Operation) Description() string {
	return o.trace.Root().Description()
}

// Username of the root execution, if it carries one.
func (o *Operation) Username() string {
	if r, ok := o.trace.Root().Execution().(probe.Root); ok {
		return r.Username()
	}
	return ""
}

// ID is the unique id, empty unless the operation was flushed before it
// completed.
func (o *Operation) ID() string {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()
	return o.id
}

// FlushCount is the number of times the operation has been flushed.
func (o *Operation) FlushCount() int {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()
	return o.flushCount
}

// GoroutineNames returns the distinct goroutine names recorded.
func (o *Operation) GoroutineNames() []string {
	o.namesMu.Lock()
	defer o.namesMu.Unlock()
	out := make([]string, 0, len(o.names))
	for n := range o.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RecordSummaryData adds a timing to the operation's metrics. Lock-free.
func (o *Operation) RecordSummaryData(key string, nanos int64) {
	o.metrics.Record(key, nanos)
}

// CaptureStackTrace samples the owning goroutine into the call tree. It
// returns false if the goroutine no longer exists.
func (o *Operation) CaptureStackTrace() bool {
	if !o.callTree.CaptureGoroutine(o.goroutineID) {
		return false
	}
	o.namesMu.Lock()
	o.names[goroutineName(o.goroutineID)] = struct{}{}
	o.namesMu.Unlock()
	return true
}

// GetAndSetStuck marks the operation stuck and returns the previous value,
// so exactly one of several racing callers sees false.
func (o *Operation) GetAndSetStuck() bool {
	return o.stuck.Swap(true)
}

// IsStuck reports whether stuck detection has fired.
func (o *Operation) IsStuck() bool { return o.stuck.Load() }

// StackTask returns the stack capture task handle, if armed.
func (o *Operation) StackTask() *scheduler.Handle { return o.stackTask.Load() }

// SetStackTask records the stack capture task handle.
func (o *Operation) SetStackTask(h *scheduler.Handle) { o.stackTask.Store(h) }

// StuckTask returns the stuck detection task handle, if armed.
func (o *Operation) StuckTask() *scheduler.Handle { return o.stuckTask.Load() }

// SetStuckTask records the stuck detection task handle.
func (o *Operation) SetStuckTask(h *scheduler.Handle) { o.stuckTask.Store(h) }

// Flush returns an immutable point-in-time view of the operation containing
// the trace events gathered since the previous flush. The first flush of a
// running or stuck operation assigns its id.
func (o *Operation) Flush() *Snapshot {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()
	o.flushCount++
	o.assignIDLocked()
	return o.snapshotLocked()
}

// CompletedSnapshot is the final view handed to sinks on completion. It
// does not assign an id to an operation that was never flushed, unless the
// operation was marked stuck and its stuck view shares the id.
func (o *Operation) CompletedSnapshot() *Snapshot {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()
	o.flushCount++
	o.assignIDLocked()
	return o.snapshotLocked()
}

// assignIDLocked gives the operation an id once it may reach sinks as more
// than one record: while it is still running, or once it is marked stuck.
func (o *Operation) assignIDLocked() {
	if o.id == "" && (o.stuck.Load() || !o.trace.IsCompleted()) {
		o.id = uuid.NewString()
	}
}

// LiveSnapshot is a view of the running operation for readers that must not
// disturb flushing: it neither flushes the trace nor assigns an id.
func (o *Operation) LiveSnapshot() *Snapshot {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()
	return o.snapshot(o.trace.Live())
}

func (o *Operation) snapshotLocked() *Snapshot {
	return o.snapshot(o.trace.Flush())
}

func (o *Operation) snapshot(ts *trace.Snapshot) *Snapshot {
	now := o.clock.Nanos()
	return &Snapshot{
		ID:             o.id,
		FlushSeq:       o.flushCount,
		StartTime:      o.startTime,
		Tick:           now,
		Duration:       ts.Duration(now),
		Completed:      ts.Completed(),
		Stuck:          o.stuck.Load(),
		GoroutineNames: o.GoroutineNames(),
		Description:    o.Description(),
		Username:       o.Username(),
		Trace:          ts,
		Metrics:        o.metrics.Items(),
		CallTree:       o.callTree,
	}
}
