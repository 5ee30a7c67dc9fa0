package flushlist

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminatable_AddAndTerminate(t *testing.T) {
	l := NewTerminatable[int]()
	require.True(t, l.Add(1))
	require.True(t, l.Add(2))

	assert.True(t, l.Terminate())
	assert.False(t, l.Terminate(), "second terminate reports already terminated")
	assert.False(t, l.Add(3))

	assert.Equal(t, []int{1, 2}, slices.Collect(l.All()))
	assert.Equal(t, 2, l.Len())
}

func TestTerminatable_Last(t *testing.T) {
	l := NewTerminatable[int]()
	for i := 0; i < 7; i++ {
		l.Add(i)
	}

	tests := []struct {
		name string
		n    int
		want []int
	}{
		{name: "zero", n: 0, want: nil},
		{name: "fewer than len", n: 3, want: []int{4, 5, 6}},
		{name: "exact len", n: 7, want: []int{0, 1, 2, 3, 4, 5, 6}},
		{name: "more than len", n: 10, want: []int{0, 1, 2, 3, 4, 5, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.Last(tt.n))
		})
	}
}

func TestTerminatable_RacingTerminate(t *testing.T) {
	for round := 0; round < 50; round++ {
		l := NewTerminatable[int]()
		var accepted []int
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if !l.Add(i) {
					return
				}
				accepted = append(accepted, i)
			}
		}()
		l.Terminate()
		wg.Wait()

		// Every accepted element is visible, and nothing else is.
		assert.Equal(t, accepted, slices.Collect(l.All()))
	}
}
