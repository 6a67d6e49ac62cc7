package sqlite

import (
	"context"
	"database/sql"
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/koustreak/recordbase/internal/errs"
)

// mapError translates go-sqlite3 errors into *errs.Error.
// It returns a nil error for a nil input.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return errs.Wrap(classifyCode(sqliteErr.Code, sqliteErr.ExtendedCode), msg, err)
	}

	if errors.Is(err, sql.ErrConnDone) {
		return errs.Wrap(errs.ErrKindStoreUnavailable, msg, err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

// classifyCode maps SQLite result codes to ErrKind.
func classifyCode(code sqlite3.ErrNo, ext sqlite3.ErrNoExtended) errs.ErrKind {
	switch code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrFull:
		return errs.ErrKindStoreUnavailable
	case sqlite3.ErrConstraint:
		if ext == sqlite3.ErrConstraintNotNull || ext == sqlite3.ErrConstraintCheck {
			return errs.ErrKindInvalidInput
		}
		return errs.ErrKindConflict
	case sqlite3.ErrMismatch, sqlite3.ErrTooBig, sqlite3.ErrRange:
		return errs.ErrKindInvalidInput
	case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrReadonly:
		return errs.ErrKindAccessDenied
	default:
		return errs.ErrKindQueryFailed
	}
}
