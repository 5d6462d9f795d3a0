package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient_ExplicitAndWrapped(t *testing.T) {
	inner := NewTransientError("list news", errors.New("server overloaded"))
	assert.True(t, IsTransient(inner))
	assert.True(t, IsTransient(fmt.Errorf("aggregate: %w", inner)))
	assert.True(t, IsTransient(eris.Wrap(inner, "aggregate")))
}

func TestIsTransient_NilAndPlain(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("invalid input: missing field")))
}

func TestIsTransient_Syscalls(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	assert.True(t, IsTransient(&net.DNSError{IsTimeout: true, Err: "timeout"}))
}

func TestIsTransient_DriverPatterns(t *testing.T) {
	for _, msg := range []string{
		"database is locked (5) (SQLITE_BUSY)",
		"broken pipe",
		"I/O timeout",
		"ERROR: could not serialize access due to concurrent update",
		"conn closed",
	} {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}
}

func TestIsTransient_ValidationAndConflictAreFinal(t *testing.T) {
	assert.False(t, IsTransient(NewValidationError("plans", errors.New("i/o timeout"))))
	assert.False(t, IsTransient(NewConflictError("c1|daily|x", errors.New("database is locked"))))
}

func TestErrorTypes_UnwrapAndPredicates(t *testing.T) {
	root := errors.New("root cause")

	tests := []struct {
		name string
		err  error
		is   func(error) bool
		kind string
	}{
		{"validation", NewValidationError("name", root), IsValidation, "validation"},
		{"conflict", NewConflictError("key", root), IsConflict, "conflict"},
		{"compute", NewComputeError(root), IsCompute, "compute"},
		{"persistence", NewPersistenceError("insert fallback", root), IsPersistence, "persistence"},
		{"transient", NewTransientError("read", root), IsTransient, "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, root))
			assert.True(t, tt.is(eris.Wrap(tt.err, "wrapped")))
			assert.Equal(t, tt.kind, Classify(tt.err))
		})
	}
	assert.Equal(t, "none", Classify(nil))
	assert.Equal(t, "permanent", Classify(root))
}

func TestPersistenceWrappingTransientClassifiesAsPersistence(t *testing.T) {
	err := NewPersistenceError("insert fallback", NewTransientError("exec", errors.New("conn closed")))
	assert.Equal(t, "persistence", Classify(err))
	assert.True(t, IsTransient(err))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "validation: price: missing", Validationf("price", "missing").Error())
	assert.Equal(t, "validation: boom", NewValidationError("", errors.New("boom")).Error())
	assert.Equal(t, "read: boom", NewTransientError("read", errors.New("boom")).Error())
	assert.Equal(t, "boom", NewTransientError("", errors.New("boom")).Error())
	assert.Equal(t, "compute: boom", NewComputeError(errors.New("boom")).Error())
	assert.Equal(t, "persistence: write: boom", NewPersistenceError("write", errors.New("boom")).Error())
	assert.Contains(t, NewConflictError("k", errors.New("boom")).Error(), "conflict on k")
}
