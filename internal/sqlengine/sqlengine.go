// Package sqlengine defines the boundary between Aqueducts and the
// columnar SQL engine that actually executes queries and plans. The
// engine itself is treated as an external collaborator: this package
// only describes the Context/DataFrame/PhysicalPlan contract every
// component programs against, plus one concrete implementation backed
// by database/sql + SQLite for local/single-node runs and tests.
package sqlengine

import (
	"context"

	"github.com/aqueducts/aqueducts/internal/schema"
)

// Context is a query execution session: it holds registered tables and
// compiles/executes SQL against them. One Context is created per pipeline
// run.
type Context interface {
	// RegisterTable makes rows available under name for subsequent SQL
	// queries. Re-registering a name replaces the prior table.
	RegisterTable(ctx context.Context, name string, sch schema.Schema, rows [][]any) error

	// DeregisterTable removes a previously registered table. It is a
	// no-op if the name was never registered.
	DeregisterTable(ctx context.Context, name string) error

	// SQL compiles query into a PhysicalPlan without executing it.
	SQL(ctx context.Context, query string) (PhysicalPlan, error)

	// Close releases all resources held by the Context (e.g. the
	// backing database connection and any temp files).
	Close() error
}

// PhysicalPlan is a compiled, not-yet-executed query plan.
type PhysicalPlan interface {
	// Schema returns the output schema of the plan without running it.
	Schema(ctx context.Context) (schema.Schema, error)

	// Execute runs the plan and returns a DataFrame streaming its rows.
	Execute(ctx context.Context) (DataFrame, error)
}

// DataFrame streams the rows of an executed query. Callers must call
// Close when done, even after an error from Next.
type DataFrame interface {
	Schema() schema.Schema
	// Next advances to the next row, returning false at EOF or on error;
	// call Err after Next returns false to distinguish the two.
	Next(ctx context.Context) bool
	// Row returns the current row's values, valid only after a Next
	// call that returned true.
	Row() []any
	Err() error
	Close() error
}

// Collect drains df into a slice of rows. Intended for small result sets
// (tests, preview/"show" stages); the stage executor itself streams rather
// than collecting.
func Collect(ctx context.Context, df DataFrame) ([][]any, error) {
	defer df.Close()
	var rows [][]any
	for df.Next(ctx) {
		row := df.Row()
		cp := make([]any, len(row))
		copy(cp, row)
		rows = append(rows, cp)
	}
	return rows, df.Err()
}
