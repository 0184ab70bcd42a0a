package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/jewel-ledger/internal/jobs"
	"github.com/odyssey-erp/jewel-ledger/internal/ledger"
)

type fakeLedger struct {
	accounts []ledger.Account
	checks   map[int64]ledger.BalanceCheck
	failOn   int64

	mu       sync.Mutex
	verified []int64
}

func (f *fakeLedger) ListAccounts(context.Context) ([]ledger.Account, error) {
	return f.accounts, nil
}

func (f *fakeLedger) VerifyBalance(_ context.Context, id int64) (ledger.BalanceCheck, error) {
	f.mu.Lock()
	f.verified = append(f.verified, id)
	f.mu.Unlock()
	if id == f.failOn {
		return ledger.BalanceCheck{}, errors.New("connection reset")
	}
	return f.checks[id], nil
}

type driftCounter struct {
	mu  sync.Mutex
	ids []int64
}

func (d *driftCounter) BalanceDrift(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
}

func consistent(id int64, v string) ledger.BalanceCheck {
	d := decimal.RequireFromString(v)
	return ledger.BalanceCheck{AccountID: id, Stored: d, Computed: d}
}

func newFakeLedger() *fakeLedger {
	f := &fakeLedger{checks: map[int64]ledger.BalanceCheck{}}
	for id := int64(1); id <= 9; id++ {
		f.accounts = append(f.accounts, ledger.Account{ID: id})
		f.checks[id] = consistent(id, "1000000.00")
	}
	f.checks[4] = ledger.BalanceCheck{AccountID: 4, Stored: decimal.RequireFromString("500.00"),
		Computed: decimal.RequireFromString("450.00"), FirstDriftTxID: 31}
	return f
}

func TestLedgerIntegrityReportsDrift(t *testing.T) {
	fake := newFakeLedger()
	drift := &driftCounter{}
	job := NewLedgerIntegrityJob(fake, drift, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	drifted, err := job.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, drifted, 1)
	require.Equal(t, int64(31), drifted[0].FirstDriftTxID)
	require.Equal(t, []int64{4}, drift.ids)
	require.Len(t, fake.verified, 9)
}

func TestLedgerIntegrityHonoursAccountFilter(t *testing.T) {
	fake := newFakeLedger()
	job := NewLedgerIntegrityJob(fake, nil, nil, nil)

	task, err := NewLedgerIntegrityTask(2, 3)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.ElementsMatch(t, []int64{2, 3}, fake.verified)
}

func TestLedgerIntegrityPropagatesErrors(t *testing.T) {
	fake := newFakeLedger()
	fake.failOn = 6
	job := NewLedgerIntegrityJob(fake, nil, nil, nil)

	task, err := NewLedgerIntegrityTask()
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestLedgerIntegritySkipsMalformedPayload(t *testing.T) {
	job := NewLedgerIntegrityJob(newFakeLedger(), nil, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeCleaner struct {
	olderThan time.Duration
	removed   int64
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.removed, nil
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	store := &fakeCleaner{removed: 12}
	job := NewIdempotencyCleanupJob(store, 72*time.Hour, nil, nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, store.olderThan)

	task, err = NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, store.olderThan)

	task, err = NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	noRetention := NewIdempotencyCleanupJob(store, 0, nil, nil)
	require.ErrorIs(t, noRetention.Handle(context.Background(), task), asynq.SkipRetry)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestHealthEndpoint(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, nil, nil).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Pending)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/ledger-integrity", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
