package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-trace/internal/calltree"
	"github.com/coral-mesh/coral-trace/internal/metric"
	"github.com/coral-mesh/coral-trace/internal/sink"
	"github.com/coral-mesh/coral-trace/internal/store"
)

func record(id, user string, started time.Time, dur time.Duration, kind sink.Kind) sink.Record {
	return sink.Record{
		Kind:        kind,
		ID:          id,
		FlushSeq:    1,
		Description: "GET /orders/" + id,
		Username:    user,
		StartTime:   started,
		Duration:    dur,
		Completed:   kind == sink.KindCompleted,
		Stuck:       kind == sink.KindStuck,
		Goroutines:  []string{"goroutine 12"},
		EventCount:  2,
		Events: []sink.EventRecord{
			{Index: 0, ParentIndex: -1, Description: "GET /orders/" + id, Duration: dur, Completed: kind == sink.KindCompleted},
			{Index: 1, ParentIndex: 0, Level: 1, Description: "SELECT orders", MetricKey: "sql",
				Offset: time.Millisecond, Duration: dur - 2*time.Millisecond, Completed: true},
		},
		Metrics: []metric.Item{{Name: "sql", Count: 2, Total: 4e6, Min: 1e6, Max: 3e6}},
		Samples: 3,
		Stacks: []calltree.Stack{{
			Frames: []calltree.Frame{{Function: "main.main", File: "main.go", Line: 9}, {Function: "main.query", File: "db.go", Line: 77}},
			State:  "waiting",
			Count:  3,
		}},
	}
}

func seed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.duckdb")
	st, err := store.Open(path, zerolog.Nop())
	require.NoError(t, err)

	now := time.Now().UTC()
	for _, rec := range []sink.Record{
		record("op-old", "alice", now.Add(-48*time.Hour), 4*time.Second, sink.KindCompleted),
		record("op-slow", "alice", now.Add(-10*time.Minute), 6*time.Second, sink.KindCompleted),
		record("op-stuck", "bob", now.Add(-5*time.Minute), 200*time.Second, sink.KindStuck),
	} {
		require.NoError(t, st.Write(context.Background(), rec))
	}
	require.NoError(t, st.Close())
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logger := zerolog.Nop()
	var out bytes.Buffer
	cmd := NewOpsCmd(&logger)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestList(t *testing.T) {
	db := seed(t)

	tests := []struct {
		name    string
		args    []string
		wantIDs []string
	}{
		{name: "default window", args: nil, wantIDs: []string{"op-stuck", "op-slow"}},
		{name: "unbounded", args: []string{"--since", ""}, wantIDs: []string{"op-stuck", "op-slow", "op-old"}},
		{name: "user", args: []string{"--since", "", "--user", "alice"}, wantIDs: []string{"op-slow", "op-old"}},
		{name: "stuck", args: []string{"--stuck"}, wantIDs: []string{"op-stuck"}},
		{name: "kind", args: []string{"--kind", "completed"}, wantIDs: []string{"op-slow"}},
		{name: "min duration", args: []string{"--since", "", "--min-duration", "5s"}, wantIDs: []string{"op-stuck", "op-slow"}},
		{name: "limit", args: []string{"--limit", "1"}, wantIDs: []string{"op-stuck"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"list", "--db", db, "-o", "json"}, tt.args...)
			out, err := run(t, args...)
			require.NoError(t, err)

			var ops []store.Operation
			require.NoError(t, json.Unmarshal([]byte(out), &ops))
			ids := make([]string, 0, len(ops))
			for _, op := range ops {
				ids = append(ids, op.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestList_Table(t *testing.T) {
	db := seed(t)

	out, err := run(t, "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "DESCRIPTION")
	assert.Contains(t, out, "GET /orders/op-slow")
	assert.Contains(t, out, "stuck")
	assert.NotContains(t, out, "op-old")

	out, err = run(t, "list", "--db", db, "--user", "nobody")
	require.NoError(t, err)
	assert.Equal(t, "No operations found.\n", out)
}

func TestList_InvalidFlags(t *testing.T) {
	db := seed(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "format", args: []string{"-o", "yaml"}},
		{name: "kind", args: []string{"--kind", "live"}},
		{name: "since", args: []string{"--since", "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"list", "--db", db}, tt.args...)...)
			require.Error(t, err)
		})
	}
}

func TestShow(t *testing.T) {
	db := seed(t)

	out, err := run(t, "show", "op-slow", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "GET /orders/op-slow")
	assert.Contains(t, out, "state:      completed")
	assert.Contains(t, out, "user:       alice")
	assert.Contains(t, out, "SELECT orders")
	assert.Contains(t, out, "← SLOW")
	assert.Contains(t, out, "METRIC")
	assert.Contains(t, out, "Stacks (3 samples)")
	assert.Contains(t, out, "main.query (db.go:77)")
}

func TestShow_JSON(t *testing.T) {
	db := seed(t)

	out, err := run(t, "show", "op-stuck", "--db", db, "-o", "json")
	require.NoError(t, err)

	var d store.Detail
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, "op-stuck", d.ID)
	assert.True(t, d.Stuck)
	assert.Len(t, d.Events, 2)
}

func TestShow_NotFound(t *testing.T) {
	db := seed(t)

	_, err := run(t, "show", "missing", "--db", db)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPrune(t *testing.T) {
	db := seed(t)

	out, err := run(t, "prune", "--db", db, "--older-than", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 operations")

	out, err = run(t, "list", "--db", db, "--since", "", "-o", "json")
	require.NoError(t, err)
	var ops []store.Operation
	require.NoError(t, json.Unmarshal([]byte(out), &ops))
	assert.Len(t, ops, 2)

	_, err = run(t, "prune", "--db", db, "--older-than", "0s")
	require.Error(t, err)
}

func TestState(t *testing.T) {
	tests := []struct {
		op   store.Operation
		want string
	}{
		{op: store.Operation{Completed: true}, want: "completed"},
		{op: store.Operation{Completed: true, Stuck: true}, want: "completed (was stuck)"},
		{op: store.Operation{Stuck: true}, want: "stuck"},
		{op: store.Operation{}, want: "running"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, state(tt.op))
	}
}
