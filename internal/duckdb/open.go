package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net/url"
	"strings"

	duckdbDriver "github.com/marcboeker/go-duckdb"
)

// OpenDB opens the DuckDB database at dsn; an empty dsn or ":memory:" is an
// in-memory database. Every pooled connection runs with timestamps in UTC.
func OpenDB(dsn string) (*sql.DB, error) {
	connector, err := duckdbDriver.NewConnector(dsn, func(execer driver.ExecerContext) error {
		// Non-fatal: without the ICU extension the setting does not exist
		// and timestamps are already naive UTC.
		_, _ = execer.ExecContext(context.Background(), "SET TimeZone = 'UTC'", nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

// ReadOnlyDSN returns dsn with access_mode=READ_ONLY, so a reader can open a
// database file another process writes to.
func ReadOnlyDSN(dsn string) string {
	if dsn == "" || dsn == ":memory:" {
		return dsn
	}

	path, query := dsn, ""
	if sep := strings.IndexByte(dsn, '?'); sep >= 0 {
		path, query = dsn[:sep], dsn[sep+1:]
	}
	params, err := url.ParseQuery(query)
	if err != nil {
		return dsn
	}
	if !params.Has("access_mode") {
		params.Set("access_mode", "READ_ONLY")
	}
	return path + "?" + params.Encode()
}
