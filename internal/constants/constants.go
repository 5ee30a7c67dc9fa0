// Package constants defines shared defaults.
package constants

import "time"

const (
	// DefaultDatabaseFile is the operation store used by the CLI when --db
	// is not given.
	DefaultDatabaseFile = "coral-trace.duckdb"

	// DefaultDemoAddr is the listen address of 'coral-trace demo'.
	DefaultDemoAddr = "127.0.0.1:8080"

	// DefaultAdminAddr is the admin server address used by the demo.
	DefaultAdminAddr = "127.0.0.1:9090"
)

// Timeouts.
const (
	// DefaultQueryTimeout bounds a CLI query against the operation store.
	DefaultQueryTimeout = 60 * time.Second

	// DefaultShutdownTimeout bounds SDK shutdown, including the wait for
	// queued sink dispatches.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultReadHeaderTimeout is used by the HTTP servers.
	DefaultReadHeaderTimeout = 10 * time.Second
)
