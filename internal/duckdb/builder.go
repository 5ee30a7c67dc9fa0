package duckdb

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Builder constructs SELECT queries. It only generates SQL.
type Builder struct {
	table      string
	columns    []string
	where      []string
	args       []any
	orderBy    []string
	limit      int
	timeColumn string
}

// NewQueryBuilder starts a query on table. The time column defaults to
// "start_time".
func NewQueryBuilder(table string) *Builder {
	return &Builder{table: table, timeColumn: "start_time"}
}

// Select adds result columns or expressions. Without any, all columns are
// selected.
func (b *Builder) Select(columns ...string) *Builder {
	b.columns = append(b.columns, columns...)
	return b
}

// TimeColumn sets the column used by Since and Until.
func (b *Builder) TimeColumn(name string) *Builder {
	b.timeColumn = name
	return b
}

// Since keeps rows at or after t. A zero t is ignored.
func (b *Builder) Since(t time.Time) *Builder {
	if t.IsZero() {
		return b
	}
	return b.Where(b.timeColumn+" >= ?", t)
}

// Until keeps rows at or before t. A zero t is ignored.
func (b *Builder) Until(t time.Time) *Builder {
	if t.IsZero() {
		return b
	}
	return b.Where(b.timeColumn+" <= ?", t)
}

// Where adds a condition; conditions are joined with AND.
func (b *Builder) Where(expr string, args ...any) *Builder {
	b.where = append(b.where, expr)
	b.args = append(b.args, args...)
	return b
}

// Eq adds column = value. An empty string value matches everything and
// adds no condition.
func (b *Builder) Eq(column string, value any) *Builder {
	if s, ok := value.(string); ok && s == "" {
		return b
	}
	return b.Where(column+" = ?", value)
}

// Gte adds column >= value.
func (b *Builder) Gte(column string, value any) *Builder {
	return b.Where(column+" >= ?", value)
}

// OrderBy adds sort columns; a "-" prefix sorts descending.
func (b *Builder) OrderBy(columns ...string) *Builder {
	for _, col := range columns {
		if name, ok := strings.CutPrefix(col, "-"); ok {
			col = name + " DESC"
		}
		b.orderBy = append(b.orderBy, col)
	}
	return b
}

// Limit caps the number of rows. Zero means no limit.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// Build returns the query and its arguments. It does not modify b, so a
// builder can be built more than once.
func (b *Builder) Build() (string, []any, error) {
	if b.table == "" {
		return "", nil, errors.New("table name is required")
	}

	var q strings.Builder
	cols := "*"
	if len(b.columns) > 0 {
		cols = strings.Join(b.columns, ", ")
	}
	fmt.Fprintf(&q, "SELECT %s FROM %s", cols, b.table)

	args := append([]any(nil), b.args...)
	if len(b.where) > 0 {
		q.WriteString(" WHERE " + strings.Join(b.where, " AND "))
	}
	if len(b.orderBy) > 0 {
		q.WriteString(" ORDER BY " + strings.Join(b.orderBy, ", "))
	}
	if b.limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, b.limit)
	}
	return q.String(), args, nil
}
