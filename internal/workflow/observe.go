package workflow

import (
	"errors"

	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// Outcome labels reported to a Recorder.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Recorder receives transition outcomes, typically a prometheus counter.
type Recorder interface {
	Transition(document, event, result string)
}

// NopRecorder discards outcomes.
type NopRecorder struct{}

// Transition implements Recorder.
func (NopRecorder) Transition(string, string, string) {}

// Result classifies err for a Recorder.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, shared.ErrInvalidTransition), shared.IsClientError(err):
		return ResultRejected
	default:
		return ResultError
	}
}
