package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coral-mesh/coral-trace/internal/calltree"
	"github.com/coral-mesh/coral-trace/internal/duckdb"
	tracerrors "github.com/coral-mesh/coral-trace/internal/errors"
	"github.com/coral-mesh/coral-trace/internal/metric"
	"github.com/coral-mesh/coral-trace/internal/sink"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

// Filter selects operations for List. Zero fields do not filter.
type Filter struct {
	Since       time.Time
	Until       time.Time
	Kind        sink.Kind
	Username    string
	MinDuration time.Duration
	StuckOnly   bool
	Limit       int
}

// ListOperations returns matching operations, most recent first.
func (s *Store) ListOperations(ctx context.Context, f Filter) ([]Operation, error) {
	b := duckdb.NewQueryBuilder("operations").
		Select(s.operations.Columns()...).
		Since(f.Since).
		Until(f.Until).
		Eq("kind", string(f.Kind)).
		Eq("username", f.Username)
	if f.MinDuration > 0 {
		b.Gte("duration_ns", int64(f.MinDuration))
	}
	if f.StuckOnly {
		b.Where("stuck = ?", true)
	}
	query, args, err := b.OrderBy("-start_time", "id").Limit(f.Limit).Build()
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("query", duckdb.InterpolateQuery(query, args)).Msg("Listing operations")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(
			&op.ID, &op.Kind, &op.Description, &op.Username, &op.StartTime,
			&op.DurationNs, &op.Completed, &op.Stuck, &op.Goroutines,
			&op.EventCount, &op.Samples, &op.FlushSeq, &op.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// Get returns the operation with id and everything recorded for it.
func (s *Store) Get(ctx context.Context, id string) (*Detail, error) {
	op, err := s.operations.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load operation %s: %w", id, err)
	}
	d := &Detail{Operation: *op}
	filter := map[string]any{"operation_id": id}

	if d.Events, err = s.Events(ctx, id); err != nil {
		return nil, err
	}

	metrics, err := s.metrics.List(ctx, filter, "name")
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics: %w", err)
	}
	for _, m := range metrics {
		d.Metrics = append(d.Metrics, metric.Item{Name: m.Name, Count: m.Count, Total: m.TotalNs, Min: m.MinNs, Max: m.MaxNs})
	}

	stacks, err := s.stacks.List(ctx, filter, "sample_count DESC, stack_hash")
	if err != nil {
		return nil, fmt.Errorf("failed to load stacks: %w", err)
	}
	for _, st := range stacks {
		var frames []calltree.Frame
		if err := json.Unmarshal([]byte(st.Frames), &frames); err != nil {
			return nil, fmt.Errorf("failed to decode stack %s: %w", st.StackHash, err)
		}
		d.Stacks = append(d.Stacks, calltree.Stack{Frames: frames, State: st.State, Count: st.SampleCount})
	}
	return d, nil
}

// Events returns the stored trace events of an operation in index order.
func (s *Store) Events(ctx context.Context, id string) ([]sink.EventRecord, error) {
	rows, err := s.events.List(ctx, map[string]any{"operation_id": id}, "idx")
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	out := make([]sink.EventRecord, 0, len(rows))
	for _, e := range rows {
		er := sink.EventRecord{
			Index:       int(e.Idx),
			ParentIndex: int(e.ParentIdx),
			Level:       int(e.Level),
			Description: e.Description,
			MetricKey:   e.MetricKey,
			Offset:      time.Duration(e.OffsetNs),
			Duration:    time.Duration(e.DurationNs),
			Completed:   e.Completed,
		}
		if e.Context != "" {
			var m probe.ContextMap
			if err := json.Unmarshal([]byte(e.Context), &m); err != nil {
				return nil, fmt.Errorf("failed to decode context of event %d: %w", e.Idx, err)
			}
			er.Context = m
		}
		out = append(out, er)
	}
	return out, nil
}

// Prune deletes operations that started before cutoff, with their rows in
// the other tables. It returns the number of operations deleted.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tracerrors.DeferRollback(s.logger, tx)

	cutoff = cutoff.UTC()
	for _, table := range []string{"trace_events", "operation_metrics", "call_tree_stacks"} {
		// #nosec G202 - table names are constants.
		query := "DELETE FROM " + table + " WHERE operation_id IN (SELECT id FROM operations WHERE start_time < ?)"
		if _, err := tx.ExecContext(ctx, query, cutoff); err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM operations WHERE start_time < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Pruned stored operations")
	return n, nil
}
