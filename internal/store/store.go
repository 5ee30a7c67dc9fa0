// Package store persists dispatched operations to DuckDB and answers the
// listing queries of the ops CLI.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/coral-trace/internal/calltree"
	"github.com/coral-mesh/coral-trace/internal/duckdb"
	tracerrors "github.com/coral-mesh/coral-trace/internal/errors"
	"github.com/coral-mesh/coral-trace/internal/metric"
	"github.com/coral-mesh/coral-trace/internal/operation"
	"github.com/coral-mesh/coral-trace/internal/retry"
	"github.com/coral-mesh/coral-trace/internal/sink"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

// ErrNotFound is returned for an unknown operation id.
var ErrNotFound = errors.New("operation not found")

// Operation is one row of the operations table.
type Operation struct {
	ID          string    `duckdb:"id,pk" json:"id"`
	Kind        string    `duckdb:"kind" json:"kind"`
	Description string    `duckdb:"description" json:"description"`
	Username    string    `duckdb:"username" json:"username,omitempty"`
	StartTime   time.Time `duckdb:"start_time" json:"start_time"`
	DurationNs  int64     `duckdb:"duration_ns" json:"duration_ns"`
	Completed   bool      `duckdb:"completed" json:"completed"`
	Stuck       bool      `duckdb:"stuck" json:"stuck"`
	Goroutines  string    `duckdb:"goroutines" json:"goroutines"`
	EventCount  int64     `duckdb:"event_count" json:"event_count"`
	Samples     int64     `duckdb:"samples" json:"samples"`
	FlushSeq    int64     `duckdb:"flush_seq" json:"flush_seq"`
	RecordedAt  time.Time `duckdb:"recorded_at,immutable" json:"recorded_at"`
}

// Duration returns DurationNs as a time.Duration.
func (o Operation) Duration() time.Duration { return time.Duration(o.DurationNs) }

type eventRow struct {
	OperationID string `duckdb:"operation_id,pk"`
	Idx         int64  `duckdb:"idx,pk"`
	ParentIdx   int64  `duckdb:"parent_idx"`
	Level       int64  `duckdb:"level"`
	Description string `duckdb:"description"`
	MetricKey   string `duckdb:"metric_key"`
	OffsetNs    int64  `duckdb:"offset_ns"`
	DurationNs  int64  `duckdb:"duration_ns"`
	Completed   bool   `duckdb:"completed"`
	Context     string `duckdb:"context"`
}

type metricRow struct {
	OperationID string `duckdb:"operation_id,pk"`
	Name        string `duckdb:"name,pk"`
	Count       int64  `duckdb:"count"`
	TotalNs     int64  `duckdb:"total_ns"`
	MinNs       int64  `duckdb:"min_ns"`
	MaxNs       int64  `duckdb:"max_ns"`
}

type stackRow struct {
	OperationID string `duckdb:"operation_id,pk"`
	StackHash   string `duckdb:"stack_hash,pk"`
	State       string `duckdb:"state"`
	Frames      string `duckdb:"frames"`
	SampleCount int64  `duckdb:"sample_count"`
}

// Detail is an operation with everything recorded for it.
type Detail struct {
	Operation
	Events  []sink.EventRecord `json:"events"`
	Metrics []metric.Item      `json:"metrics"`
	Stacks  []calltree.Stack   `json:"stacks"`
}

// Store writes records into DuckDB. It implements sink.Sink.
type Store struct {
	db     *sql.DB
	owned  bool
	logger zerolog.Logger
	now    func() time.Time

	operations *duckdb.Table[Operation]
	events     *duckdb.Table[eventRow]
	metrics    *duckdb.Table[metricRow]
	stacks     *duckdb.Table[stackRow]
}

// Open opens (or creates) the database at path and prepares the schema. An
// empty path is an in-memory database.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := duckdb.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}
	s, err := New(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// OpenReadOnly opens an existing database for queries only.
func OpenReadOnly(path string, logger zerolog.Logger) (*Store, error) {
	db, err := duckdb.OpenDB(duckdb.ReadOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}
	s := newStore(db, logger)
	s.owned = true
	return s, nil
}

// New uses db, creating the schema if needed. The caller keeps ownership of
// db.
func New(db *sql.DB, logger zerolog.Logger) (*Store, error) {
	s := newStore(db, logger)
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func newStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:         db,
		logger:     logger.With().Str("component", "store").Logger(),
		now:        time.Now,
		operations: duckdb.NewTable[Operation](db, "operations"),
		events:     duckdb.NewTable[eventRow](db, "trace_events"),
		metrics:    duckdb.NewTable[metricRow](db, "operation_metrics"),
		stacks:     duckdb.NewTable[stackRow](db, "call_tree_stacks"),
	}
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS operations (
			id          TEXT PRIMARY KEY,
			kind        TEXT      NOT NULL,
			description TEXT      NOT NULL,
			username    TEXT      NOT NULL,
			start_time  TIMESTAMP NOT NULL,
			duration_ns BIGINT    NOT NULL,
			completed   BOOLEAN   NOT NULL,
			stuck       BOOLEAN   NOT NULL,
			goroutines  TEXT      NOT NULL,
			event_count BIGINT    NOT NULL,
			samples     BIGINT    NOT NULL,
			flush_seq   BIGINT    NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trace_events (
			operation_id TEXT    NOT NULL,
			idx          BIGINT  NOT NULL,
			parent_idx   BIGINT  NOT NULL,
			level        BIGINT  NOT NULL,
			description  TEXT    NOT NULL,
			metric_key   TEXT    NOT NULL,
			offset_ns    BIGINT  NOT NULL,
			duration_ns  BIGINT  NOT NULL,
			completed    BOOLEAN NOT NULL,
			context      TEXT    NOT NULL,
			PRIMARY KEY (operation_id, idx)
		);

		CREATE TABLE IF NOT EXISTS operation_metrics (
			operation_id TEXT   NOT NULL,
			name         TEXT   NOT NULL,
			count        BIGINT NOT NULL,
			total_ns     BIGINT NOT NULL,
			min_ns       BIGINT NOT NULL,
			max_ns       BIGINT NOT NULL,
			PRIMARY KEY (operation_id, name)
		);

		-- Stacks are keyed by the xxh3 hash of their frames and leaf state.
		CREATE TABLE IF NOT EXISTS call_tree_stacks (
			operation_id TEXT   NOT NULL,
			stack_hash   TEXT   NOT NULL,
			state        TEXT   NOT NULL,
			frames       TEXT   NOT NULL,
			sample_count BIGINT NOT NULL,
			PRIMARY KEY (operation_id, stack_hash)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := s.db.Exec("CHECKPOINT"); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to checkpoint database")
	}
	return nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Collect stores a completed operation.
func (s *Store) Collect(ctx context.Context, snap *operation.Snapshot) error {
	return s.Write(ctx, sink.NewRecord(sink.KindCompleted, snap))
}

// CollectFirstStuck stores the first view of a stuck operation. Its
// completion later updates the same row.
func (s *Store) CollectFirstStuck(ctx context.Context, snap *operation.Snapshot) error {
	return s.Write(ctx, sink.NewRecord(sink.KindStuck, snap))
}

// CollectError logs tracer failures; they are not persisted.
func (s *Store) CollectError(msg string, err error) {
	s.logger.Error().Err(err).Msg(msg)
}

// Write stores rec, replacing what an earlier record with the same id
// stored for the same rows. Records without an id get a fresh one.
func (s *Store) Write(ctx context.Context, rec sink.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	op := &Operation{
		ID:          rec.ID,
		Kind:        string(rec.Kind),
		Description: rec.Description,
		Username:    rec.Username,
		StartTime:   rec.StartTime.UTC(),
		DurationNs:  int64(rec.Duration),
		Completed:   rec.Completed,
		Stuck:       rec.Stuck,
		Goroutines:  strings.Join(rec.Goroutines, ","),
		EventCount:  int64(rec.EventCount),
		Samples:     rec.Samples,
		FlushSeq:    int64(rec.FlushSeq),
		RecordedAt:  s.now().UTC(),
	}

	events := make([]*eventRow, 0, len(rec.Events))
	for _, e := range rec.Events {
		ctxJSON, err := encodeContext(e.Context)
		if err != nil {
			return fmt.Errorf("failed to encode context of event %d: %w", e.Index, err)
		}
		events = append(events, &eventRow{
			OperationID: rec.ID,
			Idx:         int64(e.Index),
			ParentIdx:   int64(e.ParentIndex),
			Level:       int64(e.Level),
			Description: e.Description,
			MetricKey:   e.MetricKey,
			OffsetNs:    int64(e.Offset),
			DurationNs:  int64(e.Duration),
			Completed:   e.Completed,
			Context:     ctxJSON,
		})
	}

	metrics := make([]*metricRow, 0, len(rec.Metrics))
	for _, m := range rec.Metrics {
		metrics = append(metrics, &metricRow{
			OperationID: rec.ID, Name: m.Name, Count: m.Count,
			TotalNs: m.Total, MinNs: m.Min, MaxNs: m.Max,
		})
	}

	stacks := make([]*stackRow, 0, len(rec.Stacks))
	for _, st := range rec.Stacks {
		frames, err := json.Marshal(st.Frames)
		if err != nil {
			return fmt.Errorf("failed to encode stack frames: %w", err)
		}
		stacks = append(stacks, &stackRow{
			OperationID: rec.ID,
			StackHash:   StackHash(st),
			State:       st.State,
			Frames:      string(frames),
			SampleCount: st.Count,
		})
	}

	err := retry.Do(ctx, retry.WriteConflict, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tracerrors.DeferRollback(s.logger, tx)

		if err := s.operations.WithDB(tx).BatchUpsert(ctx, []*Operation{op}); err != nil {
			return err
		}
		if err := s.events.WithDB(tx).BatchUpsert(ctx, events); err != nil {
			return err
		}
		if err := s.metrics.WithDB(tx).BatchUpsert(ctx, metrics); err != nil {
			return err
		}
		if err := s.stacks.WithDB(tx).BatchUpsert(ctx, stacks); err != nil {
			return err
		}
		return tx.Commit()
	}, duckdb.IsTransactionConflict)
	if err != nil {
		return fmt.Errorf("failed to store operation %s: %w", rec.ID, err)
	}

	s.logger.Debug().
		Str("id", rec.ID).
		Str("kind", string(rec.Kind)).
		Int("events", len(events)).
		Msg("Operation stored")
	return nil
}

// StackHash identifies a stack by its frames and leaf state.
func StackHash(st calltree.Stack) string {
	var sb strings.Builder
	for _, f := range st.Frames {
		sb.WriteString(f.String())
		sb.WriteByte('\n')
	}
	sb.WriteString(st.State)
	return fmt.Sprintf("%016x", xxh3.HashString(sb.String()))
}

func encodeContext(m probe.ContextMap) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
