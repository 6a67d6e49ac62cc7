package database

import (
	"context"
	"errors"

	"github.com/koustreak/recordbase/internal/errs"
)

// ResultSet is a fully materialised query result with column order preserved.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// ScanRows reads all rows from the result set. Each value is the driver's
// Go-native representation of the column value.
//
// The returned Rows slice is always non-nil (empty slice on zero rows).
// ScanRows always closes the Rows.
func ScanRows(rows Rows) (*ResultSet, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, keepKind(err, "failed to read column names")
	}

	result := &ResultSet{Columns: columns, Rows: make([][]any, 0)}

	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, keepKind(err, "failed to scan row")
		}
		result.Rows = append(result.Rows, dest)
	}

	if err := rows.Err(); err != nil {
		return nil, keepKind(err, "error during row iteration")
	}

	return result, nil
}

// QueryAll runs sql on q and materialises the result.
func QueryAll(ctx context.Context, q Querier, sql string, args ...any) (*ResultSet, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return ScanRows(rows)
}

// keepKind leaves already-classified errors alone and wraps anything else
// as a query failure.
func keepKind(err error, msg string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}
