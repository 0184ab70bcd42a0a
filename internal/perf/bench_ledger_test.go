package perf

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/jewel-ledger/internal/ledger"
	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/procurement"
)

func openAccount(tb testing.TB, svc *ledger.Service) ledger.Account {
	tb.Helper()
	acc, err := svc.OpenAccount(context.Background(), ledger.OpenAccountInput{
		Code:           "BCA-PERF",
		Name:           "BCA perf",
		Kind:           ledger.KindBank,
		OpeningBalance: money.MustParse("1000000000"),
	})
	require.NoError(tb, err)
	return acc
}

func TestRecordLatencyTarget(t *testing.T) {
	svc := ledger.NewService(ledger.NewMemoryStore(), nil, ledger.ServiceConfig{})
	acc := openAccount(t, svc)
	ctx := context.Background()

	samples := make([]time.Duration, 0, 200)
	for i := 0; i < cap(samples); i++ {
		typ := ledger.TypeDeposit
		if i%2 == 1 {
			typ = ledger.TypeWithdrawal
		}
		start := time.Now()
		_, err := svc.Record(ctx, ledger.RecordInput{AccountID: acc.ID, Type: typ, Amount: money.MustParse("125000.50")})
		require.NoError(t, err)
		samples = append(samples, time.Since(start))
	}
	p95 := percentile95(samples)
	require.Less(t, p95, 50*time.Millisecond, "record latency regression: p95=%s", p95)
}

func BenchmarkRecord(b *testing.B) {
	svc := ledger.NewService(ledger.NewMemoryStore(), nil, ledger.ServiceConfig{})
	acc := openAccount(b, svc)
	ctx := context.Background()
	amount := money.MustParse("10000")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.Record(ctx, ledger.RecordInput{AccountID: acc.ID, Type: ledger.TypeDeposit, Amount: amount}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReconstruct(b *testing.B) {
	account := ledger.Account{ID: 1}
	postings := make([]ledger.Transaction, 5000)
	running := decimal.Zero
	for i := range postings {
		amount := money.MustParse("1000.25")
		running = running.Add(amount)
		postings[i] = ledger.Transaction{ID: int64(i + 1), AccountID: 1, Type: ledger.TypeDeposit, Amount: amount, BalanceAfter: running}
	}
	account.Balance = running
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !ledger.Reconstruct(account, postings).Consistent() {
			b.Fatal("drift")
		}
	}
}

func BenchmarkDeriveStatus(b *testing.B) {
	lines := make([]procurement.Line, 50)
	for i := range lines {
		lines[i] = procurement.Line{OrderedQty: money.MustParse("10"), ReceivedQty: money.MustParse("10")}
	}
	lines[49].ReceivedQty = money.MustParse("9.5")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if procurement.DeriveStatus(lines) != procurement.StatusPartiallyReceived {
			b.Fatal("unexpected status")
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	return sorted[index]
}
