package duckdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	tests := []struct {
		name      string
		build     func() *Builder
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "select all",
			build:     func() *Builder { return NewQueryBuilder("operations") },
			wantQuery: "SELECT * FROM operations",
		},
		{
			name: "columns and order",
			build: func() *Builder {
				return NewQueryBuilder("operations").Select("id", "kind").OrderBy("-start_time", "id")
			},
			wantQuery: "SELECT id, kind FROM operations ORDER BY start_time DESC, id",
		},
		{
			name: "time range",
			build: func() *Builder {
				return NewQueryBuilder("operations").Since(since).Until(until)
			},
			wantQuery: "SELECT * FROM operations WHERE start_time >= ? AND start_time <= ?",
			wantArgs:  []any{since, until},
		},
		{
			name: "custom time column and zero bound",
			build: func() *Builder {
				return NewQueryBuilder("events").TimeColumn("recorded_at").Since(since).Until(time.Time{})
			},
			wantQuery: "SELECT * FROM events WHERE recorded_at >= ?",
			wantArgs:  []any{since},
		},
		{
			name: "empty eq is a wildcard",
			build: func() *Builder {
				return NewQueryBuilder("operations").Eq("kind", "").Eq("username", "alice")
			},
			wantQuery: "SELECT * FROM operations WHERE username = ?",
			wantArgs:  []any{"alice"},
		},
		{
			name: "filters and limit",
			build: func() *Builder {
				return NewQueryBuilder("operations").
					Gte("duration_ns", int64(1000)).
					Where("stuck = ?", true).
					Limit(20)
			},
			wantQuery: "SELECT * FROM operations WHERE duration_ns >= ? AND stuck = ? LIMIT ?",
			wantArgs:  []any{int64(1000), true, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args, err := tt.build().Build()
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuery, q)
			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestBuilder_BuildTwice(t *testing.T) {
	b := NewQueryBuilder("operations").Eq("kind", "stuck").Limit(5)
	q1, a1, err := b.Build()
	require.NoError(t, err)
	q2, a2, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, q1, q2)
	assert.Equal(t, a1, a2)
}

func TestBuilder_NoTable(t *testing.T) {
	_, _, err := NewQueryBuilder("").Build()
	assert.Error(t, err)
}
