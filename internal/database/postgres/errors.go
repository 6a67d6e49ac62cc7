package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/errs"
)

// PostgreSQL SQLSTATE codes that need a specific kind.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrNotNullViolation     = "23502"
	pgErrForeignKeyViolation  = "23503"
	pgErrUniqueViolation      = "23505"
	pgErrCheckViolation       = "23514"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrInsufficientPriv     = "42501"
	pgErrQueryCanceled        = "57014"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
// It returns a nil error for a nil input.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := classifySQLState(pgErr.Code)
		return errs.Wrap(kind, database.StoreMessage(kind, msg), err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return errs.Wrap(errs.ErrKindStoreUnavailable, msg, err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

// classifySQLState maps a SQLSTATE code to ErrKind.
func classifySQLState(code string) errs.ErrKind {
	switch code {
	case pgErrUniqueViolation, pgErrForeignKeyViolation:
		return errs.ErrKindConflict
	case pgErrNotNullViolation, pgErrCheckViolation:
		return errs.ErrKindInvalidInput
	case pgErrSerializationFailure, pgErrDeadlockDetected:
		return errs.ErrKindStoreUnavailable
	case pgErrInsufficientPriv:
		return errs.ErrKindAccessDenied
	case pgErrQueryCanceled:
		return errs.ErrKindTimeout
	}

	if len(code) < 2 {
		return errs.ErrKindQueryFailed
	}
	switch code[:2] {
	case "08", "53", "57": // connection, insufficient resources, operator intervention
		return errs.ErrKindStoreUnavailable
	case "22": // data exception
		return errs.ErrKindInvalidInput
	default:
		return errs.ErrKindQueryFailed
	}
}
