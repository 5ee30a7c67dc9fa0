package safe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUint64ToInt64(t *testing.T) {
	tests := []struct {
		name        string
		input       uint64
		want        int64
		wantClamped bool
	}{
		{name: "zero", input: 0, want: 0},
		{name: "small", input: 12345, want: 12345},
		{name: "max int64", input: math.MaxInt64, want: math.MaxInt64},
		{name: "overflow", input: math.MaxInt64 + 1, want: math.MaxInt64, wantClamped: true},
		{name: "max uint64", input: math.MaxUint64, want: math.MaxInt64, wantClamped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, clamped := Uint64ToInt64(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantClamped, clamped)
		})
	}
}

func TestPercent(t *testing.T) {
	assert.Zero(t, Percent(5, 0))
	assert.InDelta(t, 25.0, Percent(1, 4), 1e-9)
}
