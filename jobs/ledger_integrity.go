package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/jewel-ledger/internal/jobs"
	"github.com/odyssey-erp/jewel-ledger/internal/ledger"
)

const defaultIntegrityConcurrency = 4

// IntegrityLedger is the read side of the ledger the integrity job needs.
type IntegrityLedger interface {
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	VerifyBalance(ctx context.Context, accountID int64) (ledger.BalanceCheck, error)
}

// DriftRecorder is told about every inconsistent account.
type DriftRecorder interface {
	BalanceDrift(accountID int64)
}

// LedgerIntegrityJob verifies that every account balance equals the replay of
// its postings.
type LedgerIntegrityJob struct {
	Ledger      IntegrityLedger
	Drift       DriftRecorder
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewLedgerIntegrityJob constructs the job handler.
func NewLedgerIntegrityJob(source IntegrityLedger, drift DriftRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Ledger: source, Drift: drift, Logger: logger, Metrics: metrics, Concurrency: defaultIntegrityConcurrency}
}

// Handle executes the integrity check.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger integrity: dependencies not configured")
	}
	var payload LedgerIntegrityPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	drifted, err := j.Run(ctx, payload.AccountIDs)
	if err != nil {
		j.log().Error("ledger integrity", slog.Any("error", err))
		return tracker.End(err)
	}
	if len(drifted) > 0 {
		j.log().Error("ledger balance drift detected", slog.Int("accounts", len(drifted)))
	}
	return tracker.End(nil)
}

// Run checks the given accounts, or all of them when ids is empty, and
// returns the inconsistent ones.
func (j *LedgerIntegrityJob) Run(ctx context.Context, ids []int64) ([]ledger.BalanceCheck, error) {
	start := time.Now()
	if len(ids) == 0 {
		accounts, err := j.Ledger.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		for _, acc := range accounts {
			ids = append(ids, acc.ID)
		}
	}

	limit := j.Concurrency
	if limit <= 0 {
		limit = defaultIntegrityConcurrency
	}
	var (
		mu      sync.Mutex
		drifted []ledger.BalanceCheck
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			check, err := j.Ledger.VerifyBalance(gctx, id)
			if err != nil {
				return err
			}
			if check.Consistent() {
				return nil
			}
			j.log().Warn("account out of balance",
				slog.Int64("account_id", check.AccountID),
				slog.String("stored", check.Stored.StringFixed(2)),
				slog.String("computed", check.Computed.StringFixed(2)),
				slog.Int64("first_drift_tx_id", check.FirstDriftTxID))
			if j.Drift != nil {
				j.Drift.BalanceDrift(check.AccountID)
			}
			mu.Lock()
			drifted = append(drifted, check)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	j.Metrics.AddProcessed(TaskLedgerIntegrity, "consistent", len(ids)-len(drifted))
	j.Metrics.AddProcessed(TaskLedgerIntegrity, "drift", len(drifted))
	j.log().Info("ledger integrity checked", slog.Int("accounts", len(ids)), slog.Int("drift", len(drifted)),
		slog.Duration("duration", time.Since(start)))
	return drifted, nil
}

func (j *LedgerIntegrityJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
