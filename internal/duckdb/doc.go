// Package duckdb holds the small helpers the trace store builds on: opening
// a database, a generic table wrapper with conflict-retrying upserts, and a
// SELECT builder for filtered listings.
//
//	type operationRow struct {
//	    ID   string `duckdb:"id,pk"`
//	    Kind string `duckdb:"kind"`
//	}
//
//	table := duckdb.NewTable[operationRow](db, "operations")
//	err := table.Upsert(ctx, &operationRow{ID: id, Kind: "stuck"})
//
//	query, args, err := duckdb.NewQueryBuilder("operations").
//	    TimeColumn("start_time").
//	    Since(since).
//	    Eq("kind", "stuck").
//	    OrderBy("-start_time").
//	    Limit(50).
//	    Build()
package duckdb
