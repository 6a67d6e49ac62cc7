package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"not found", New(ErrKindNotFound, "no table"), IsNotFound},
		{"invalid filter", New(ErrKindInvalidFilter, "bad op"), IsInvalidFilter},
		{"invalid sort", New(ErrKindInvalidSort, "bad col"), IsInvalidSort},
		{"access denied", New(ErrKindAccessDenied, "no"), IsAccessDenied},
		{"expansion denied", New(ErrKindExpansionDenied, "no"), IsExpansionDenied},
		{"store unavailable", New(ErrKindStoreUnavailable, "busy"), IsStoreUnavailable},
		{"sequence gap", New(ErrKindSequenceGap, "gap"), IsSequenceGap},
		{"wrapped chain", fmt.Errorf("outer: %w", New(ErrKindConflict, "dup")), IsConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.is(tt.err))
		})
	}
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrKindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(ErrKindStoreUnavailable, "busy")))
	assert.True(t, Retryable(New(ErrKindTimeout, "slow")))
	assert.False(t, Retryable(New(ErrKindInvalidFilter, "bad")))
	assert.False(t, Retryable(New(ErrKindAccessDenied, "denied")))
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("SQLITE_BUSY")
	err := Wrap(ErrKindStoreUnavailable, "database is busy", cause)

	assert.Equal(t, "[store_unavailable] database is busy: SQLITE_BUSY", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestPublic_DropsCause(t *testing.T) {
	err := Wrap(ErrKindQueryFailed, "list post: store operation failed",
		errors.New(`near "SELEC": syntax error in SELEC * FROM "post"`))

	pub := err.Public()
	assert.Equal(t, "query_failed", pub.Kind)
	assert.Equal(t, "list post: store operation failed", pub.Message)
	assert.NotContains(t, pub.Message, "SELEC")
}

func TestWithContext(t *testing.T) {
	t.Run("kinded error keeps kind", func(t *testing.T) {
		err := WithContext(New(ErrKindConflict, "unique constraint violated"), "post", "create")
		assert.True(t, IsConflict(err))
		assert.Equal(t, "create post: unique constraint violated", AsError(err).Message)
	})

	t.Run("plain error becomes query failed", func(t *testing.T) {
		cause := errors.New("raw driver failure")
		err := WithContext(cause, "post", "list")
		assert.True(t, IsQueryFailed(err))
		assert.ErrorIs(t, err, cause)
		assert.NotContains(t, AsError(err).Message, "raw driver")
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, WithContext(nil, "post", "list"))
	})
}
