package database

import "github.com/koustreak/recordbase/internal/errs"

// StoreMessage returns the public message for a classified server error.
// The server's own text names constraints and columns, so it stays in the
// error's Cause and only op and a fixed phrase per kind reach the caller.
func StoreMessage(kind errs.ErrKind, op string) string {
	switch kind {
	case errs.ErrKindConflict:
		return op + ": conflicts with existing data"
	case errs.ErrKindInvalidInput:
		return op + ": value rejected by the store"
	case errs.ErrKindAccessDenied:
		return op + ": store denied access"
	default:
		return op
	}
}
