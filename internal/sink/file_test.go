package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-trace/internal/hoststats"
)

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "ops.jsonl")
	host, err := hoststats.New(zerolog.Nop())
	require.NoError(t, err)

	s, err := NewFileSink(path, zerolog.Nop(), host)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.CollectFirstStuck(ctx, newSnapshot(t, false)))
	require.NoError(t, s.Collect(ctx, newSnapshot(t, true)))
	s.CollectError("stack capture failed", errors.New("boom"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 3)

	assert.Equal(t, "stuck", lines[0]["kind"])
	assert.Contains(t, lines[0], "host")
	assert.Equal(t, "completed", lines[1]["kind"])
	assert.NotContains(t, lines[1], "host")
	assert.Equal(t, "error", lines[2]["kind"])
	assert.Equal(t, "boom", lines[2]["error"])

	var rec Record
	raw, err := json.Marshal(lines[1])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Len(t, rec.Events, 3)
	assert.True(t, rec.Completed)
}

func TestFileSink_WriteAfterClose(t *testing.T) {
	s, err := NewFileSink(filepath.Join(t.TempDir(), "ops.jsonl"), zerolog.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Error(t, s.Collect(context.Background(), newSnapshot(t, true)))
	assert.NotPanics(t, func() { s.CollectError("late", nil) })
}
