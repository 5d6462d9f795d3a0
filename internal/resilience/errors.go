package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ValidationError marks malformed input (an extraction, a news record, a
// request). It is surfaced to the caller and never retried.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Err.Error()
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Err.Error())
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps err as a validation failure on field.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

// Validationf builds a ValidationError from a format string.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// TransientError wraps an error that is safe to retry (lock contention,
// dropped connection, timeout).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient for the named operation.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// ConflictError reports that another writer already committed the row for
// Key. Callers resolve it by reading the winner.
type ConflictError struct {
	Key string
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %v", e.Key, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// NewConflictError wraps err as a uniqueness conflict on key.
func NewConflictError(key string, err error) *ConflictError {
	return &ConflictError{Key: key, Err: err}
}

// ComputeError reports a failure inside aggregation logic after its inputs
// passed validation.
type ComputeError struct {
	Err error
}

func (e *ComputeError) Error() string {
	return "compute: " + e.Err.Error()
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

// NewComputeError wraps err as a compute failure.
func NewComputeError(err error) *ComputeError {
	return &ComputeError{Err: err}
}

// PersistenceError reports that a write the caller depends on could not be
// made durable, including the fallback write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps err as a hard persistence failure.
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err carries a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsCompute reports whether err carries a ComputeError.
func IsCompute(err error) bool {
	var ce *ComputeError
	return errors.As(err, &ce)
}

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient patterns from network
// stacks and database drivers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// Validation and conflict outcomes are final even when the message
	// happens to look like a driver hiccup.
	if IsValidation(err) || IsConflict(err) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"database is locked",
		"sqlite_busy",
		"conn closed",
		"connection refused",
		"too many connections",
		"server closed the connection unexpectedly",
		"deadlock detected",
		"could not serialize access",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// Classify names the taxonomy bucket of err for logs and metrics labels.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsValidation(err):
		return "validation"
	case IsConflict(err):
		return "conflict"
	case IsPersistence(err):
		return "persistence"
	case IsCompute(err):
		return "compute"
	case IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}
