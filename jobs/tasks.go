package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity replays every account's postings against its stored balance.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerIntegrityPayload narrows an integrity run. Empty AccountIDs means all accounts.
type LedgerIntegrityPayload struct {
	AccountIDs []int64 `json:"account_ids,omitempty"`
}

// IdempotencyCleanupPayload overrides the configured retention when positive.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewLedgerIntegrityTask builds an integrity task.
func NewLedgerIntegrityTask(accountIDs ...int64) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{AccountIDs: accountIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
