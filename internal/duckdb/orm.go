package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/coral-mesh/coral-trace/internal/retry"
)

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Table maps struct T onto a table through `duckdb:"column[,pk][,immutable]"`
// field tags. Immutable columns are written on insert and never updated.
type Table[T any] struct {
	db        Execer
	name      string
	columns   []string
	fields    []int
	pk        []string
	immutable map[string]bool
}

// NewTable builds the column mapping for T. It panics if T is not a struct.
func NewTable[T any](db Execer, name string) *Table[T] {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Struct {
		panic("duckdb.Table: T must be a struct")
	}

	t := &Table[T]{db: db, name: name, immutable: make(map[string]bool)}
	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("duckdb")
		if tag == "" || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		col := strings.TrimSpace(parts[0])
		t.columns = append(t.columns, col)
		t.fields = append(t.fields, i)
		for _, opt := range parts[1:] {
			switch strings.TrimSpace(opt) {
			case "pk":
				t.pk = append(t.pk, col)
			case "immutable":
				t.immutable[col] = true
			}
		}
	}
	return t
}

// WithDB returns a copy of the table bound to db, typically a transaction.
func (t *Table[T]) WithDB(db Execer) *Table[T] {
	cp := *t
	cp.db = db
	return &cp
}

// Columns returns the mapped column names in field order.
func (t *Table[T]) Columns() []string {
	return append([]string(nil), t.columns...)
}

func (t *Table[T]) upsertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	// #nosec G201 - table and column names come from struct tags.
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, strings.Join(t.columns, ", "), placeholders)
	if len(t.pk) == 0 {
		return query
	}

	var updates []string
	for _, col := range t.columns {
		if !t.isPK(col) && !t.immutable[col] {
			updates = append(updates, col+" = excluded."+col)
		}
	}
	action := "DO NOTHING"
	if len(updates) > 0 {
		action = "DO UPDATE SET " + strings.Join(updates, ", ")
	}
	return query + fmt.Sprintf(" ON CONFLICT (%s) %s", strings.Join(t.pk, ", "), action)
}

func (t *Table[T]) isPK(col string) bool {
	for _, pk := range t.pk {
		if pk == col {
			return true
		}
	}
	return false
}

func (t *Table[T]) values(item *T) []any {
	v := reflect.ValueOf(item).Elem()
	out := make([]any, len(t.fields))
	for i, idx := range t.fields {
		out[i] = v.Field(idx).Interface()
	}
	return out
}

func (t *Table[T]) dest(item *T) []any {
	v := reflect.ValueOf(item).Elem()
	out := make([]any, len(t.fields))
	for i, idx := range t.fields {
		out[i] = v.Field(idx).Addr().Interface()
	}
	return out
}

// Upsert inserts item or updates the row with the same primary key,
// retrying on write conflicts.
func (t *Table[T]) Upsert(ctx context.Context, item *T) error {
	query, values := t.upsertSQL(), t.values(item)
	return retry.Do(ctx, retry.WriteConflict, func() error {
		_, err := t.db.ExecContext(ctx, query, values...)
		return err
	}, IsTransactionConflict)
}

// BatchUpsert upserts items through one prepared statement. Callers wanting
// atomicity bind the table to a transaction with WithDB.
func (t *Table[T]) BatchUpsert(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}
	stmt, err := t.db.PrepareContext(ctx, t.upsertSQL())
	if err != nil {
		return fmt.Errorf("prepare upsert into %s: %w", t.name, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, t.values(item)...); err != nil {
			return fmt.Errorf("upsert into %s: %w", t.name, err)
		}
	}
	return nil
}

// Get returns the row whose primary key equals key, in pk column order.
// It returns sql.ErrNoRows when there is none.
func (t *Table[T]) Get(ctx context.Context, key ...any) (*T, error) {
	if len(t.pk) == 0 {
		return nil, errors.New("no primary key defined for table")
	}
	if len(key) != len(t.pk) {
		return nil, fmt.Errorf("expected %d key values, got %d", len(t.pk), len(key))
	}
	conds := make([]string, len(t.pk))
	for i, pk := range t.pk {
		conds[i] = pk + " = ?"
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(t.columns, ", "), t.name, strings.Join(conds, " AND "))

	var item T
	if err := t.db.QueryRowContext(ctx, query, key...).Scan(t.dest(&item)...); err != nil {
		return nil, err
	}
	return &item, nil
}

// List returns the rows matching all column = value filters, ordered by
// orderBy when set.
func (t *Table[T]) List(ctx context.Context, filters map[string]any, orderBy string) ([]*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.columns, ", "), t.name)

	cols := make([]string, 0, len(filters))
	for col := range filters {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	args := make([]any, 0, len(cols))
	if len(cols) > 0 {
		conds := make([]string, len(cols))
		for i, col := range cols {
			conds[i] = col + " = ?"
			args = append(args, filters[col])
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []*T
	for rows.Next() {
		var item T
		if err := rows.Scan(t.dest(&item)...); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// IsTransactionConflict reports whether err is a DuckDB optimistic
// concurrency failure worth retrying.
func IsTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Conflict on") ||
		strings.Contains(msg, "TransactionContext Error") ||
		strings.Contains(msg, "serialization")
}
