package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeFlagsParse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		flags   TimeFlags
		want    TimeRange
		wantErr bool
	}{
		{
			name:  "since",
			flags: TimeFlags{Since: "1h"},
			want:  TimeRange{Start: now.Add(-time.Hour)},
		},
		{
			name:  "empty is unbounded",
			flags: TimeFlags{},
			want:  TimeRange{},
		},
		{
			name:  "from overrides since",
			flags: TimeFlags{Since: "1h", From: "2026-02-28T00:00:00Z"},
			want:  TimeRange{Start: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		},
		{
			name:  "from and to",
			flags: TimeFlags{From: "2026-02-28", To: "now"},
			want:  TimeRange{Start: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), End: now},
		},
		{
			name:  "to only",
			flags: TimeFlags{To: "2026-02-28T10:00:00"},
			want:  TimeRange{End: time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)},
		},
		{
			name:    "end before start",
			flags:   TimeFlags{From: "now", To: "2026-02-28"},
			wantErr: true,
		},
		{
			name:    "bad duration",
			flags:   TimeFlags{Since: "soon"},
			wantErr: true,
		},
		{
			name:    "negative duration",
			flags:   TimeFlags{Since: "-5m"},
			wantErr: true,
		},
		{
			name:    "bad time",
			flags:   TimeFlags{From: "yesterday"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.flags.Now = func() time.Time { return now }
			got, err := tt.flags.Parse()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Start.Equal(got.Start), "start %v != %v", got.Start, tt.want.Start)
			assert.True(t, tt.want.End.Equal(got.End), "end %v != %v", got.End, tt.want.End)
		})
	}
}
