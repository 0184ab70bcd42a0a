package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jewel-ledger/internal/money"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrInvariantViolation indicates a write that would break a balance invariant.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInvalidTransition indicates a document not in the expected source state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrBusy indicates another writer holds the document or account lock.
	ErrBusy = errors.New("resource busy")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// LineField names a field of the i-th document line.
func LineField(i int, name string) string {
	return fmt.Sprintf("lines[%d].%s", i, name)
}

// InvariantViolationError reports an attempted amount against what is available.
type InvariantViolationError struct {
	Entity    string
	ID        int64
	Currency  string
	Attempted decimal.Decimal
	Available decimal.Decimal
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s %d would go negative: attempted %s, available %s",
		e.Entity, e.ID, money.Format(e.Attempted, e.Currency), money.Format(e.Available, e.Currency))
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

// Shortfall is the amount missing to make the write legal.
func (e *InvariantViolationError) Shortfall() decimal.Decimal {
	return e.Attempted.Sub(e.Available)
}

// InvalidTransitionError carries expected vs. actual state of a document.
type InvalidTransitionError struct {
	Document string
	ID       int64
	Event    string
	Expected []string
	Actual   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s %d cannot %s: expected %s, actual %s",
		e.Document, e.ID, e.Event, strings.Join(e.Expected, "|"), e.Actual)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsClientError reports whether err reflects a precondition the caller must fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvariantViolation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIdempotencyConflict)
}

// IsRetryable reports whether the atomic commit failed transiently
// (serialization failure, deadlock or a held lock) and may be retried with
// the same inputs.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrBusy) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
