package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMemorySequenceUniqueUnderConcurrency(t *testing.T) {
	seq := NewMemorySequence()
	seq.Now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.Next(context.Background(), "RET")
			if err != nil {
				n = "error: " + err.Error()
			}
			mu.Lock()
			seen[n] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 50)
	require.Contains(t, seen, "RET-20261016-000050")

	_, err := seq.Next(context.Background(), "")
	require.Error(t, err)
}

func TestErrorTaxonomy(t *testing.T) {
	violation := &InvariantViolationError{
		Entity:    "ledger account",
		ID:        7,
		Currency:  "USD",
		Attempted: decimal.NewFromInt(150),
		Available: decimal.NewFromInt(100),
	}
	require.ErrorIs(t, violation, ErrInvariantViolation)
	require.True(t, violation.Shortfall().Equal(decimal.NewFromInt(50)))
	require.Contains(t, violation.Error(), "USD 150.00")

	transition := &InvalidTransitionError{Document: "return", ID: 3, Event: "complete", Expected: []string{"APPROVED"}, Actual: "COMPLETED"}
	require.ErrorIs(t, transition, ErrInvalidTransition)
	require.Contains(t, transition.Error(), "expected APPROVED, actual COMPLETED")

	wrapped := fmt.Errorf("procurement: receive: %w", Invalid("lines[0].received_qty", "exceeds ordered quantity"))
	require.ErrorIs(t, wrapped, ErrValidation)
	var verr *ValidationError
	require.True(t, errors.As(wrapped, &verr))
	require.Equal(t, "lines[0].received_qty", verr.Field)

	require.True(t, IsClientError(NotFound("purchase", 9)))
	require.True(t, IsClientError(ErrIdempotencyConflict))
	require.False(t, IsClientError(errors.New("connection reset")))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})))
	require.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))
	require.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsRetryable(ErrInvalidTransition))
}

func TestLockKeys(t *testing.T) {
	require.Equal(t, "ledger:account:12:lock", AccountLockKey(12))
	require.Equal(t, "workflow:purchase:4:lock", DocumentLockKey("purchase", 4))
}
