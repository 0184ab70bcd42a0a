// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. The
// structured detail of the error is carried in the problem's extension
// members so clients can act on it.
func RespondError(w http.ResponseWriter, err error) {
	var (
		verr *shared.ValidationError
		ierr *shared.InvariantViolationError
		terr *shared.InvalidTransitionError
		nerr *shared.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		write(w, ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest, Detail: err.Error(),
			Extensions: map[string]any{"field": verr.Field, "reason": verr.Reason}})
	case errors.As(err, &ierr):
		write(w, ProblemDetail{Title: "Invariant Violation", Status: http.StatusUnprocessableEntity, Detail: err.Error(),
			Extensions: map[string]any{
				"entity":    ierr.Entity,
				"id":        ierr.ID,
				"currency":  ierr.Currency,
				"attempted": ierr.Attempted.String(),
				"available": ierr.Available.String(),
			}})
	case errors.As(err, &terr):
		write(w, ProblemDetail{Title: "Invalid State Transition", Status: http.StatusConflict, Detail: err.Error(),
			Extensions: map[string]any{"document": terr.Document, "id": terr.ID, "event": terr.Event, "expected": terr.Expected, "actual": terr.Actual}})
	case errors.As(err, &nerr):
		write(w, ProblemDetail{Title: "Not Found", Status: http.StatusNotFound, Detail: err.Error(),
			Extensions: map[string]any{"entity": nerr.Entity, "id": nerr.ID}})
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvariantViolation):
		Problem(w, http.StatusUnprocessableEntity, "Invariant Violation", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid State Transition", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case shared.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		Problem(w, http.StatusServiceUnavailable, "Retry", "concurrent update, retry the request")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
