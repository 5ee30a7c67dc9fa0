package trace

import (
	"bytes"
	"math"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-trace/internal/flushlist"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

func exec(desc string) probe.Execution {
	return probe.Simple{Desc: desc, Key: desc}
}

func newTestTrace(t *testing.T, start int64) *Trace {
	t.Helper()
	return New(exec("op1"), start, Options{
		List:   flushlist.DefaultOptions(),
		Logger: zerolog.Nop(),
	})
}

func TestTrace_NestedPushPop(t *testing.T) {
	const start = int64(1_000)
	tr := newTestTrace(t, start)
	root := tr.Root()

	child := tr.PushElement(exec("child"), start)
	require.NotNil(t, child)
	tr.PopElement(child, start+5_000_000)
	assert.False(t, tr.IsCompleted())

	tr.PopElement(root, start+12_000_000)
	require.True(t, tr.IsCompleted())

	events := slices.Collect(tr.Events())
	require.Len(t, events, 2)
	assert.Equal(t, 12*time.Millisecond, tr.Duration(0))
	assert.Equal(t, 12*time.Millisecond, root.Duration(0))
	assert.Equal(t, time.Duration(0), child.Offset())
	assert.Equal(t, 5*time.Millisecond, child.Duration(0))
	assert.Equal(t, 0, child.ParentIndex())
	assert.Equal(t, 1, child.Level())
	assert.Nil(t, tr.CurrentElement())
}

func TestTrace_IndexContiguityAndStackDiscipline(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tick := int64(0)
	tr := newTestTrace(t, tick)

	open := []*Event{tr.Root()}
	openAtPush := map[int]map[int]bool{}
	for i := 0; i < 500; i++ {
		tick++
		if len(open) > 1 && rng.Intn(3) == 0 {
			top := open[len(open)-1]
			tr.PopElement(top, tick)
			open = open[:len(open)-1]
			continue
		}
		e := tr.PushElement(exec("e"), tick)
		require.NotNil(t, e)
		set := map[int]bool{}
		for _, o := range open {
			set[o.Index()] = true
		}
		openAtPush[e.Index()] = set
		open = append(open, e)
	}
	for len(open) > 0 {
		tick++
		tr.PopElement(open[len(open)-1], tick)
		open = open[:len(open)-1]
	}
	require.True(t, tr.IsCompleted())

	events := slices.Collect(tr.Events())
	byIndex := map[int]*Event{}
	for i, e := range events {
		assert.Equal(t, i, e.Index())
		byIndex[e.Index()] = e
	}
	assert.Equal(t, tr.Size(), len(events))

	for _, e := range events[1:] {
		parent, ok := byIndex[e.ParentIndex()]
		require.True(t, ok)
		assert.Less(t, e.ParentIndex(), e.Index())
		assert.Equal(t, parent.Level()+1, e.Level())
		assert.True(t, openAtPush[e.Index()][e.ParentIndex()], "parent must be open at push time")
	}
}

func TestTrace_MismatchedPopUnwinds(t *testing.T) {
	var buf bytes.Buffer
	mismatches := 0
	tr := New(exec("root"), 0, Options{
		List:       flushlist.DefaultOptions(),
		Logger:     zerolog.New(&buf),
		OnMismatch: func() { mismatches++ },
	})

	a := tr.PushElement(exec("A"), 1)
	b := tr.PushElement(exec("B"), 2)
	c := tr.PushElement(exec("C"), 3)

	assert.NotPanics(t, func() { tr.PopElement(a, 10) })

	assert.Equal(t, tr.Root(), tr.CurrentElement())
	assert.Equal(t, 1, mismatches)
	assert.Contains(t, buf.String(), "does not match the top of the stack")
	for _, e := range []*Event{a, b, c} {
		assert.True(t, e.Completed())
		assert.Equal(t, int64(10), e.EndTick())
	}
	assert.False(t, tr.IsCompleted())

	tr.PopElement(tr.Root(), 11)
	assert.True(t, tr.IsCompleted())
}

func TestTrace_LatePopsOfUnwoundEventsNotRecounted(t *testing.T) {
	var buf bytes.Buffer
	mismatches := 0
	tr := New(exec("root"), 0, Options{
		List:       flushlist.DefaultOptions(),
		Logger:     zerolog.New(&buf),
		OnMismatch: func() { mismatches++ },
	})

	a := tr.PushElement(exec("A"), 1)
	b := tr.PushElement(exec("B"), 2)
	c := tr.PushElement(exec("C"), 3)
	tr.PopElement(a, 10)
	require.Equal(t, 1, mismatches)

	tr.PopElement(c, 12)
	tr.PopElement(b, 13)

	assert.Equal(t, 1, mismatches)
	assert.NotContains(t, buf.String(), "not open in this trace")
	assert.Equal(t, int64(10), b.EndTick())
	assert.Equal(t, int64(10), c.EndTick())
}

func TestTrace_ElapsedAcrossCounterWrap(t *testing.T) {
	start := int64(math.MaxInt64 - 1_000)
	tr := newTestTrace(t, start)
	child := tr.PushElement(exec("child"), start+500)
	tr.PopElement(child, start+2_000)
	tr.PopElement(tr.Root(), start+3_000)

	assert.Equal(t, 3*time.Microsecond, tr.Duration(0))
	assert.Equal(t, 1500*time.Nanosecond, child.Duration(0))
}

func TestTrace_MismatchedPopOfRootCompletes(t *testing.T) {
	tr := newTestTrace(t, 0)
	tr.PushElement(exec("A"), 1)
	tr.PushElement(exec("B"), 2)

	tr.PopElement(tr.Root(), 5)
	assert.True(t, tr.IsCompleted())
	assert.Equal(t, int64(5), tr.EndTick())
}

func TestTrace_PopOfUnknownEventIgnored(t *testing.T) {
	tr := newTestTrace(t, 0)
	a := tr.PushElement(exec("A"), 1)
	tr.PopElement(a, 2)

	tr.PopElement(a, 3)
	assert.Equal(t, int64(2), a.EndTick())
	assert.False(t, tr.IsCompleted())
}

func TestTrace_PushAfterCompletion(t *testing.T) {
	tr := newTestTrace(t, 0)
	tr.PopElement(tr.Root(), 1)
	assert.Nil(t, tr.PushElement(exec("late"), 2))
	assert.Equal(t, 1, tr.Size())
}

func TestTrace_FlushIncludesLateCompletion(t *testing.T) {
	tr := New(exec("root"), 0, Options{
		List:   flushlist.Options{RetainFirst: 0, RetainLast: 0},
		Logger: zerolog.Nop(),
	})
	a := tr.PushElement(exec("A"), 1)

	first := tr.Flush()
	require.Equal(t, 2, first.Size())
	assert.False(t, first.Events()[1].Completed())
	assert.False(t, first.Completed())

	b := tr.PushElement(exec("B"), 2)
	tr.PopElement(b, 3)
	tr.PopElement(a, 4)
	tr.PopElement(tr.Root(), 5)

	second := tr.Flush()
	assert.True(t, second.Completed())
	assert.Equal(t, tr.Root(), second.Root())
	var idx []int
	for _, e := range second.Events() {
		idx = append(idx, e.Index())
	}
	assert.Equal(t, []int{0, 1, 2}, idx)
	assert.Equal(t, 5*time.Nanosecond, second.Duration(0))
}

func TestTrace_LiveDoesNotFlush(t *testing.T) {
	tr := newTestTrace(t, 0)
	a := tr.PushElement(exec("A"), 1)

	live := tr.Live()
	assert.Equal(t, 2, live.Size())
	assert.False(t, live.Completed())
	assert.Equal(t, 3*time.Nanosecond, live.Duration(3))

	tr.PopElement(a, 2)
	flushed := tr.Flush()
	assert.Equal(t, 2, flushed.Size(), "a live view leaves every event for the next flush")
}
