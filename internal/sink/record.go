package sink

import (
	"time"

	"github.com/coral-mesh/coral-trace/internal/calltree"
	"github.com/coral-mesh/coral-trace/internal/hoststats"
	"github.com/coral-mesh/coral-trace/internal/metric"
	"github.com/coral-mesh/coral-trace/internal/operation"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

// Kind tells why a record was produced.
type Kind string

const (
	KindCompleted Kind = "completed"
	KindStuck     Kind = "stuck"
	// KindLive is a view of a running operation requested by a reader.
	KindLive Kind = "live"
)

// MaxStacks bounds the call tree stacks carried by a record.
const MaxStacks = 20

// Record is the JSON form of an operation snapshot shared by the file sink,
// the live feed, the admin server and the store.
type Record struct {
	Kind        Kind             `json:"kind"`
	ID          string           `json:"id,omitempty"`
	FlushSeq    int              `json:"flush_seq"`
	Description string           `json:"description"`
	Username    string           `json:"username,omitempty"`
	StartTime   time.Time        `json:"start_time"`
	Duration    time.Duration    `json:"duration_ns"`
	Completed   bool             `json:"completed"`
	Stuck       bool             `json:"stuck"`
	Goroutines  []string         `json:"goroutines"`
	EventCount  int              `json:"event_count"`
	Events      []EventRecord    `json:"events"`
	Metrics     []metric.Item    `json:"metrics,omitempty"`
	Samples     int64            `json:"samples"`
	Stacks      []calltree.Stack `json:"stacks,omitempty"`
	Host        *hoststats.Stats `json:"host,omitempty"`
}

// EventRecord is one trace event.
type EventRecord struct {
	Index       int              `json:"index"`
	ParentIndex int              `json:"parent_index"`
	Level       int              `json:"level"`
	Description string           `json:"description"`
	MetricKey   string           `json:"metric_key,omitempty"`
	Offset      time.Duration    `json:"offset_ns"`
	Duration    time.Duration    `json:"duration_ns"`
	Completed   bool             `json:"completed"`
	Context     probe.ContextMap `json:"context,omitempty"`
}

// NewRecord converts snap. Open events are measured up to the snapshot tick.
func NewRecord(kind Kind, snap *operation.Snapshot) Record {
	rec := Record{
		Kind:        kind,
		ID:          snap.ID,
		FlushSeq:    snap.FlushSeq,
		Description: snap.Description,
		Username:    snap.Username,
		StartTime:   snap.StartTime,
		Duration:    snap.Duration,
		Completed:   snap.Completed,
		Stuck:       snap.Stuck,
		Goroutines:  snap.GoroutineNames,
		Metrics:     snap.Metrics,
	}

	if snap.Trace != nil {
		events := snap.Trace.Events()
		rec.EventCount = len(events)
		rec.Events = make([]EventRecord, 0, len(events))
		for _, e := range events {
			er := EventRecord{
				Index:       e.Index(),
				ParentIndex: e.ParentIndex(),
				Level:       e.Level(),
				Description: e.Description(),
				Offset:      e.Offset(),
				Duration:    e.Duration(snap.Tick),
				Completed:   e.Completed(),
			}
			if exec := e.Execution(); exec != nil {
				er.MetricKey = exec.MetricKey()
				er.Context = exec.ContextMap()
			}
			rec.Events = append(rec.Events, er)
		}
	}

	if snap.CallTree != nil {
		rec.Samples = snap.CallTree.SampleCount()
		stacks := snap.CallTree.Stacks()
		if len(stacks) > MaxStacks {
			stacks = stacks[:MaxStacks]
		}
		rec.Stacks = stacks
	}

	return rec
}
