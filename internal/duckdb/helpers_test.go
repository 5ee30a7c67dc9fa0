package duckdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInterpolateQuery(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		query string
		args  []any
		want  string
	}{
		{name: "no args", query: "SELECT 1", want: "SELECT 1"},
		{name: "escapes quotes", query: "WHERE d = ?", args: []any{"o'brien"}, want: "WHERE d = 'o''brien'"},
		{name: "numbers", query: "LIMIT ? OFFSET ?", args: []any{10, int64(5)}, want: "LIMIT 10 OFFSET 5"},
		{name: "time", query: "WHERE t >= ?", args: []any{ts}, want: "WHERE t >= '2026-03-01T12:00:00Z'"},
		{name: "bool and nil", query: "SET a = ?, b = ?", args: []any{true, nil}, want: "SET a = true, b = NULL"},
		{name: "collapses whitespace", query: "SELECT *\n\tFROM  t", want: "SELECT * FROM t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InterpolateQuery(tt.query, tt.args))
		})
	}
}
