// Package nanoclock provides monotonic nanosecond ticks and wraparound-tolerant
// comparison of tick values.
//
// Tick values are only meaningful relative to one another. They are not
// convertible to wall-clock time, which is why operations record a separate
// wall-clock start time.
package nanoclock

import (
	"sync/atomic"
	"time"
)

// Clock returns monotonic nanosecond ticks.
type Clock interface {
	Nanos() int64
}

var epoch = time.Now()

type systemClock struct{}

func (systemClock) Nanos() int64 {
	return int64(time.Since(epoch))
}

// System returns the process-wide monotonic clock.
func System() Clock {
	return systemClock{}
}

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	now atomic.Int64
}

// NewManual creates a manual clock starting at start.
func NewManual(start int64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

// Nanos returns the current tick.
func (m *Manual) Nanos() int64 {
	return m.now.Load()
}

// Set moves the clock to tick.
func (m *Manual) Set(tick int64) {
	m.now.Store(tick)
}

// Advance moves the clock forward by d and returns the new tick.
func (m *Manual) Advance(d time.Duration) int64 {
	return m.now.Add(int64(d))
}

// Compare returns -1, 0 or +1 depending on whether a is before, equal to or
// after b. Overflow of the underlying counter is tolerated as long as the two
// ticks are less than ~292 years apart.
func Compare(a, b int64) int {
	d := a - b
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}

// Less reports whether tick a is before tick b.
func Less(a, b int64) bool {
	return a-b < 0
}

// Elapsed returns end - start as a duration. The subtraction is done on the
// raw ticks, so it stays correct if the counter wraps between them.
func Elapsed(start, end int64) time.Duration {
	return time.Duration(end - start)
}
