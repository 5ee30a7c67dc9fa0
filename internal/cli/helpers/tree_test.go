package helpers

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/coral-mesh/coral-trace/internal/sink"
)

func TestRenderEventTree(t *testing.T) {
	events := []sink.EventRecord{
		{Index: 0, ParentIndex: -1, Description: "GET /orders", Duration: 100 * time.Millisecond, Completed: true},
		{Index: 1, ParentIndex: 0, Level: 1, Description: "load orders", Offset: time.Millisecond, Duration: 80 * time.Millisecond, Completed: true},
		{Index: 2, ParentIndex: 1, Level: 2, Description: "SELECT", Offset: 2 * time.Millisecond, Duration: 70 * time.Millisecond, Completed: true},
		{Index: 3, ParentIndex: 0, Level: 1, Description: "render", Offset: 90 * time.Millisecond, Duration: 5 * time.Millisecond},
	}

	out := RenderEventTree(events, 100*time.Millisecond, 75*time.Millisecond)
	lines := strings.Split(out, "\n")

	assert.Contains(t, lines[0], "└─ GET /orders (+0ns, 100.0ms, 100.0%) ← SLOW")
	assert.Contains(t, lines[1], "├─ load orders")
	assert.NotContains(t, lines[1], "SLOW")
	assert.Contains(t, lines[2], "│ └─ SELECT")
	assert.Contains(t, lines[3], "└─ render")
	assert.Contains(t, lines[3], "running")
	assert.Contains(t, out, "Legend:")
}

func TestRenderEventTree_OrphansBecomeRoots(t *testing.T) {
	events := []sink.EventRecord{
		{Index: 7, ParentIndex: 3, Level: 2, Description: "late child", Completed: true},
	}
	out := RenderEventTree(events, 0, 0)
	assert.True(t, strings.HasPrefix(out, "└─ late child"))
}

func TestRenderEventTree_Empty(t *testing.T) {
	assert.Equal(t, "No trace events.\n", RenderEventTree(nil, 0, 0))
}
