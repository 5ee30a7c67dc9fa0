package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-trace/internal/nanoclock"
	"github.com/coral-mesh/coral-trace/internal/operation"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

func newOp(desc string) *operation.Operation {
	return operation.New(probe.Simple{Desc: desc}, operation.Options{Clock: nanoclock.NewManual(baseTick)})
}

func TestRegistry_AddRemoveLookup(t *testing.T) {
	r := NewRegistry()
	a, b, c := newOp("a"), newOp("b"), newOp("c")

	ha := r.Add(a)
	hb := r.Add(b)
	hc := r.Add(c)
	assert.Equal(t, 3, r.Len())

	got, ok := r.Lookup(hb)
	require.True(t, ok)
	assert.Same(t, b, got)

	assert.True(t, r.Remove(hb))
	assert.False(t, r.Remove(hb))
	_, ok = r.Lookup(hb)
	assert.False(t, ok)

	entries := r.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, ha, entries[0].Handle)
	assert.Equal(t, hc, entries[1].Handle)
}

func TestRegistry_HandlesAreNotReused(t *testing.T) {
	r := NewRegistry()
	h1 := r.Add(newOp("first"))
	r.Remove(h1)
	h2 := r.Add(newOp("second"))

	assert.NotEqual(t, h1, h2)
	_, ok := r.Lookup(h1)
	assert.False(t, ok)
}

func TestRegistry_ScanStopsEarly(t *testing.T) {
	r := NewRegistry()
	for _, d := range []string{"a", "b", "c", "d"} {
		r.Add(newOp(d))
	}

	var seen []string
	r.Scan(func(_ Handle, op *operation.Operation) bool {
		seen = append(seen, op.Description())
		return op.Description() != "b"
	})
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestRegistry_Find(t *testing.T) {
	r := NewRegistry()
	op := newOp("flushed")
	r.Add(newOp("other"))
	r.Add(op)

	_, ok := r.Find("")
	assert.False(t, ok)

	snap := op.Flush()
	require.NotEmpty(t, snap.ID)
	got, ok := r.Find(snap.ID)
	require.True(t, ok)
	assert.Same(t, op, got)

	_, ok = r.Find("missing")
	assert.False(t, ok)
}
