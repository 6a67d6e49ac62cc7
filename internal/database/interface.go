package database

import "context"

// Querier is the statement surface shared by DB and Tx.
type Querier interface {
	// Query executes a SQL statement that returns multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a SQL statement that returns at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) Row

	// Exec executes a statement that returns no rows.
	Exec(ctx context.Context, sql string, args ...any) (Result, error)
}

// DB is the central contract for all store operations.
// Components talk only to this interface; driver packages are imported by
// bootstrapping code alone.
type DB interface {
	Querier
	Introspector

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close() error

	// Begin starts a read-write transaction on the writer connection.
	Begin(ctx context.Context) (Tx, error)

	// Dialect reports the SQL flavour the driver speaks.
	Dialect() Dialect
}

// Tx is a single read-write transaction.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Result summarises the effect of an Exec.
type Result struct {
	RowsAffected int64
	// LastInsertID is only populated by drivers that support it (SQLite, MySQL).
	LastInsertID int64
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Row is an abstraction over a single database row.
type Row interface {
	Scan(dest ...any) error
}

// Introspector reads the structure of a database (tables, columns, keys).
// Each driver implements the DB-specific queries; InspectSchema is shared.
type Introspector interface {
	// ListTables returns all user-defined table names.
	ListTables(ctx context.Context) ([]string, error)

	// InspectTable returns column, key and foreign key info for one table.
	InspectTable(ctx context.Context, table string) (*TableInfo, error)
}

// SchemaVersioner is implemented by drivers that can cheaply report a
// counter that changes whenever the schema changes.
type SchemaVersioner interface {
	SchemaVersion(ctx context.Context) (int64, error)
}
