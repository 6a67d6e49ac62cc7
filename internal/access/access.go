// Package access is the authorization boundary of the record layer. Policy
// evaluation lives behind Authorizer; the record API only asks questions.
package access

import (
	"context"

	"github.com/koustreak/recordbase/internal/record"
)

// Principal is the caller identity carried through request context.
type Principal struct {
	ID        string
	Admin     bool
	Anonymous bool
}

// AnonymousPrincipal is used when a request carries no credentials.
var AnonymousPrincipal = Principal{Anonymous: true}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored in ctx, or the
// anonymous principal.
func PrincipalFromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return AnonymousPrincipal
}

// Authorizer answers table-level access questions.
type Authorizer interface {
	CanRead(ctx context.Context, p Principal, table string, columns []string) bool
	CanWrite(ctx context.Context, p Principal, table string) bool
}

// RowAuthorizer is optionally implemented by authorizers with row rules.
// Rows it rejects are still counted as existing: expansion renders them as
// {id, data: null} and subscriptions skip them.
type RowAuthorizer interface {
	CanReadRow(ctx context.Context, p Principal, table string, row *record.Record) bool
}

// RowScoper is optionally implemented by authorizers whose row rule is an
// ownership check that list queries can push down as an equality filter.
type RowScoper interface {
	OwnerColumn(ctx context.Context, p Principal, table string) (column string, ok bool)
}

// AllowAll grants everything.
type AllowAll struct{}

func (AllowAll) CanRead(context.Context, Principal, string, []string) bool { return true }
func (AllowAll) CanWrite(context.Context, Principal, string) bool          { return true }

// CanReadRow checks row rules when auth implements RowAuthorizer.
func CanReadRow(ctx context.Context, auth Authorizer, p Principal, table string, row *record.Record) bool {
	ra, ok := auth.(RowAuthorizer)
	if !ok {
		return true
	}
	return ra.CanReadRow(ctx, p, table, row)
}
