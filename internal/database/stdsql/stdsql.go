// Package stdsql adapts database/sql handles to the database.Querier, Rows,
// Row and Tx contracts. The sqlite and mysql drivers share it; each supplies
// its own native-error mapper.
package stdsql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/koustreak/recordbase/internal/database"
)

// MapFunc translates a driver error into a classified error. It must return
// nil for a nil input.
type MapFunc func(err error, msg string) error

type execQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier wraps a *sql.DB, *sql.Conn or *sql.Tx.
type Querier struct {
	q      execQuerier
	mapErr MapFunc
}

// NewQuerier returns a Querier that reports errors through mapErr.
func NewQuerier(q execQuerier, mapErr MapFunc) *Querier {
	return &Querier{q: q, mapErr: mapErr}
}

func (s *Querier) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.mapErr(err, "query failed")
	}
	return &Rows{rows: rows, mapErr: s.mapErr}, nil
}

func (s *Querier) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return &Row{row: s.q.QueryRowContext(ctx, query, args...), mapErr: s.mapErr}
}

func (s *Querier) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return database.Result{}, s.mapErr(err, "exec failed")
	}
	var out database.Result
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out, nil
}

// Rows wraps *sql.Rows.
type Rows struct {
	rows   *sql.Rows
	mapErr MapFunc
}

func (r *Rows) Next() bool                 { return r.rows.Next() }
func (r *Rows) Columns() ([]string, error) { return r.rows.Columns() }
func (r *Rows) Close()                     { _ = r.rows.Close() }

func (r *Rows) Scan(dest ...any) error {
	return r.mapErr(r.rows.Scan(dest...), "scan failed")
}

func (r *Rows) Err() error {
	return r.mapErr(r.rows.Err(), "row iteration failed")
}

// Row wraps *sql.Row.
type Row struct {
	row    *sql.Row
	mapErr MapFunc
}

func (r *Row) Scan(dest ...any) error {
	return r.mapErr(r.row.Scan(dest...), "scan failed")
}

// Tx wraps *sql.Tx.
type Tx struct {
	*Querier
	tx *sql.Tx
}

// Begin starts a transaction on db.
func Begin(ctx context.Context, db *sql.DB, mapErr MapFunc) (*Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(err, "begin failed")
	}
	return &Tx{Querier: NewQuerier(tx, mapErr), tx: tx}, nil
}

func (t *Tx) Commit(_ context.Context) error {
	return t.mapErr(t.tx.Commit(), "commit failed")
}

func (t *Tx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return t.mapErr(err, "rollback failed")
}
