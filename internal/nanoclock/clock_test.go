package nanoclock

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		want int
	}{
		{name: "before", a: 1, b: 2, want: -1},
		{name: "after", a: 5, b: 2, want: 1},
		{name: "equal", a: 7, b: 7, want: 0},
		{name: "wrapped counter", a: math.MaxInt64, b: math.MinInt64, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
			assert.Equal(t, tt.want < 0, Less(tt.a, tt.b))
		})
	}
}

func TestElapsed(t *testing.T) {
	tests := []struct {
		name       string
		start, end int64
		want       time.Duration
	}{
		{name: "forward", start: 1, end: 2, want: time.Nanosecond},
		{name: "equal", start: 7, end: 7, want: 0},
		{name: "end before start", start: 5, end: 2, want: -3 * time.Nanosecond},
		{name: "wrapped counter", start: math.MaxInt64, end: math.MinInt64, want: time.Nanosecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Elapsed(tt.start, tt.end))
		})
	}
}

func TestManual(t *testing.T) {
	c := NewManual(100)
	assert.Equal(t, int64(100), c.Nanos())

	c.Advance(5 * time.Millisecond)
	assert.Equal(t, int64(100+5_000_000), c.Nanos())

	c.Set(42)
	assert.Equal(t, int64(42), c.Nanos())
	assert.Equal(t, 8*time.Nanosecond, Elapsed(42, 50))
}

func TestSystemIsMonotonic(t *testing.T) {
	c := System()
	a := c.Nanos()
	b := c.Nanos()
	assert.False(t, Less(b, a))
}
