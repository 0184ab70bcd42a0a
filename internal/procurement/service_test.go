package procurement

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/jewel-ledger/internal/inventory"
	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

type memoryProcRepo struct {
	mu        sync.Mutex
	stock     *inventory.MemoryStore
	purchases map[int64]Purchase
	nextID    int64
}

type memoryProcTx struct {
	inventory.TxRepository
	repo *memoryProcRepo
}

func newMemoryProcRepo(stock *inventory.MemoryStore) *memoryProcRepo {
	return &memoryProcRepo{stock: stock, purchases: make(map[int64]Purchase)}
}

func clonePurchases(in map[int64]Purchase) map[int64]Purchase {
	out := make(map[int64]Purchase, len(in))
	for id, p := range in {
		p.Lines = slices.Clone(p.Lines)
		out[id] = p
	}
	return out
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	restoreStock := r.stock.Snapshot()
	purchases, nextID := clonePurchases(r.purchases), r.nextID
	if err := fn(ctx, &memoryProcTx{TxRepository: r.stock.Tx(), repo: r}); err != nil {
		restoreStock()
		r.purchases, r.nextID = purchases, nextID
		return err
	}
	return nil
}

func (r *memoryProcRepo) GetPurchase(_ context.Context, id int64) (Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[id]
	if !ok {
		return Purchase{}, shared.NotFound("purchase", id)
	}
	p.Lines = slices.Clone(p.Lines)
	return p, nil
}

func (r *memoryProcRepo) ListPurchases(_ context.Context, filter ListFilter) ([]Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Purchase
	for _, p := range r.purchases {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (tx *memoryProcTx) nextID() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryProcTx) CreatePurchase(_ context.Context, p Purchase) (int64, error) {
	p.ID = tx.nextID()
	p.Lines = nil
	tx.repo.purchases[p.ID] = p
	return p.ID, nil
}

func (tx *memoryProcTx) InsertLine(_ context.Context, line Line) (int64, error) {
	line.ID = tx.nextID()
	p := tx.repo.purchases[line.PurchaseID]
	p.Lines = append(slices.Clone(p.Lines), line)
	tx.repo.purchases[line.PurchaseID] = p
	return line.ID, nil
}

func (tx *memoryProcTx) GetPurchaseForUpdate(_ context.Context, id int64) (Purchase, error) {
	p, ok := tx.repo.purchases[id]
	if !ok {
		return Purchase{}, shared.NotFound("purchase", id)
	}
	p.Lines = slices.Clone(p.Lines)
	return p, nil
}

func (tx *memoryProcTx) UpdateLineReceived(_ context.Context, lineID int64, qty money.Amount) error {
	for id, p := range tx.repo.purchases {
		for i, l := range p.Lines {
			if l.ID == lineID {
				p.Lines = slices.Clone(p.Lines)
				p.Lines[i].ReceivedQty = qty
				tx.repo.purchases[id] = p
				return nil
			}
		}
	}
	return shared.NotFound("purchase line", lineID)
}

func (tx *memoryProcTx) UpdatePurchase(_ context.Context, p Purchase) error {
	stored := tx.repo.purchases[p.ID]
	stored.Status = p.Status
	stored.ReceivedAt = p.ReceivedAt
	stored.CancelReason = p.CancelReason
	stored.UpdatedAt = p.UpdatedAt
	tx.repo.purchases[p.ID] = stored
	return nil
}

func (tx *memoryProcTx) DeletePurchase(_ context.Context, id int64) error {
	delete(tx.repo.purchases, id)
	return nil
}

type procFixture struct {
	svc   *Service
	stock *inventory.Service
	repo  *memoryProcRepo
}

func newProcFixture() procFixture {
	store := inventory.NewMemoryStore()
	stock := inventory.NewService(store, nil, inventory.ServiceConfig{})
	repo := newMemoryProcRepo(store)
	return procFixture{
		svc:   NewService(repo, stock, shared.NewMemorySequence(), nil, ServiceConfig{}),
		stock: stock,
		repo:  repo,
	}
}

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// twoLinePurchase orders 5 of product 1 and 3 of product 2.
func (f procFixture) twoLinePurchase(t *testing.T) Purchase {
	t.Helper()
	p, err := f.svc.Create(context.Background(), CreateInput{
		SupplierID: 7,
		Lines: []LineInput{
			{ProductID: 1, OrderedQty: qty(5), UnitCost: money.MustParse("1500000")},
			{ProductID: 2, OrderedQty: qty(3), UnitCost: money.MustParse("2250000.50")},
		},
	})
	require.NoError(t, err)
	require.Len(t, p.Lines, 2)
	return p
}

func (f procFixture) onHand(t *testing.T, productID int64) decimal.Decimal {
	t.Helper()
	s, err := f.stock.GetStock(context.Background(), productID)
	require.NoError(t, err)
	return s.Qty
}

func TestCreateComputesTotals(t *testing.T) {
	f := newProcFixture()
	p := f.twoLinePurchase(t)
	require.Equal(t, StatusPending, p.Status)
	require.Equal(t, "14250001.50", p.Total.StringFixed(2))
	require.Contains(t, p.Number, "PUR-")

	_, err := f.svc.Create(context.Background(), CreateInput{SupplierID: 7})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Create(context.Background(), CreateInput{Lines: []LineInput{{ProductID: 1, OrderedQty: qty(1)}}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiveDerivesAggregateStatus(t *testing.T) {
	f := newProcFixture()
	ctx := context.Background()
	p := f.twoLinePurchase(t)
	first, second := p.Lines[0].ID, p.Lines[1].ID

	got, err := f.svc.Receive(ctx, p.ID, []LineReceipt{{LineID: first, ReceivedQty: qty(5)}, {LineID: second, ReceivedQty: qty(0)}}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, got.Status)
	require.True(t, f.onHand(t, 1).IsZero(), "partial receipts must not move stock")

	got, err = f.svc.Receive(ctx, p.ID, []LineReceipt{{LineID: first, ReceivedQty: qty(5)}, {LineID: second, ReceivedQty: qty(3)}}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.ReceivedAt)
	require.True(t, f.onHand(t, 1).Equal(qty(5)))
	require.True(t, f.onHand(t, 2).Equal(qty(3)))

	_, err = f.svc.Receive(ctx, p.ID, []LineReceipt{{LineID: first, ReceivedQty: qty(5)}}, 1)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.True(t, f.onHand(t, 1).Equal(qty(5)))

	card, err := f.stock.StockCard(ctx, inventory.StockCardFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, card, 1)
	require.Equal(t, inventory.RefPurchase, card[0].RefModule)
	require.Equal(t, p.ID, card[0].RefID)
}

func TestReceiveWithNothingArrivedStaysPending(t *testing.T) {
	f := newProcFixture()
	p := f.twoLinePurchase(t)

	got, err := f.svc.Receive(context.Background(), p.ID, []LineReceipt{{LineID: p.Lines[0].ID, ReceivedQty: qty(0)}}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestReceiveRejectsOverReceiptAndRetraction(t *testing.T) {
	f := newProcFixture()
	ctx := context.Background()
	p := f.twoLinePurchase(t)
	first := p.Lines[0].ID

	_, err := f.svc.Receive(ctx, p.ID, []LineReceipt{{LineID: first, ReceivedQty: qty(6)}}, 1)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "lines[0].received_qty", verr.Field)

	_, err = f.svc.Receive(ctx, p.ID, []LineReceipt{{LineID: first, ReceivedQty: qty(4)}}, 1)
	require.NoError(t, err)

	_, err = f.svc.Receive(ctx, p.ID, []LineReceipt{{LineID: first, ReceivedQty: qty(2)}}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)

	stored, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, stored.Lines[0].ReceivedQty.Equal(qty(4)), "stored quantity must be unchanged")
	require.Equal(t, StatusPartiallyReceived, stored.Status)

	_, err = f.svc.Receive(ctx, p.ID, []LineReceipt{{LineID: 9999, ReceivedQty: qty(1)}}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Receive(ctx, p.ID, []LineReceipt{{LineID: first, ReceivedQty: qty(5)}, {LineID: first, ReceivedQty: qty(5)}}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.Receive(ctx, p.ID, nil, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiveRejectsInvalidLineWithoutPartialWrites(t *testing.T) {
	f := newProcFixture()
	ctx := context.Background()
	p := f.twoLinePurchase(t)

	_, err := f.svc.Receive(ctx, p.ID, []LineReceipt{
		{LineID: p.Lines[0].ID, ReceivedQty: qty(5)},
		{LineID: p.Lines[1].ID, ReceivedQty: qty(4)},
	}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)

	stored, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, stored.Lines[0].ReceivedQty.IsZero())
	require.Equal(t, StatusPending, stored.Status)
}

func TestCompleteShortcutMovesStockOnce(t *testing.T) {
	f := newProcFixture()
	ctx := context.Background()
	p := f.twoLinePurchase(t)

	_, err := f.svc.Receive(ctx, p.ID, []LineReceipt{{LineID: p.Lines[1].ID, ReceivedQty: qty(1)}}, 1)
	require.NoError(t, err)

	got, err := f.svc.Complete(ctx, p.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	for _, l := range got.Lines {
		require.True(t, l.Fulfilled())
	}
	require.True(t, f.onHand(t, 1).Equal(qty(5)))
	require.True(t, f.onHand(t, 2).Equal(qty(3)))

	_, err = f.svc.Complete(ctx, p.ID, 1)
	var terr *shared.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, string(StatusCompleted), terr.Actual)
	require.True(t, f.onHand(t, 2).Equal(qty(3)))
}

func TestCancelAndDelete(t *testing.T) {
	f := newProcFixture()
	ctx := context.Background()

	partial := f.twoLinePurchase(t)
	_, err := f.svc.Receive(ctx, partial.ID, []LineReceipt{{LineID: partial.Lines[0].ID, ReceivedQty: qty(2)}}, 1)
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.Delete(ctx, partial.ID, 1), shared.ErrInvalidTransition)

	cancelled, err := f.svc.Cancel(ctx, partial.ID, " supplier out of stock ", 1)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, "supplier out of stock", cancelled.CancelReason)
	require.True(t, f.onHand(t, 1).IsZero())

	_, err = f.svc.Complete(ctx, partial.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.svc.Cancel(ctx, partial.ID, "", 1)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	pending := f.twoLinePurchase(t)
	require.NoError(t, f.svc.Delete(ctx, pending.ID, 1))
	_, err = f.svc.Get(ctx, pending.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetRecomputesOpenStatus(t *testing.T) {
	f := newProcFixture()
	ctx := context.Background()
	p := f.twoLinePurchase(t)

	f.repo.mu.Lock()
	stored := f.repo.purchases[p.ID]
	stored.Lines[0].ReceivedQty = qty(1)
	f.repo.purchases[p.ID] = stored
	f.repo.mu.Unlock()

	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, got.Status)
}

func TestDeriveStatus(t *testing.T) {
	line := func(ordered, received int64) Line {
		return Line{OrderedQty: qty(ordered), ReceivedQty: qty(received)}
	}
	cases := []struct {
		name  string
		lines []Line
		want  Status
	}{
		{"nothing received", []Line{line(5, 0), line(3, 0)}, StatusPending},
		{"one line full", []Line{line(5, 5), line(3, 0)}, StatusPartiallyReceived},
		{"partial quantities", []Line{line(5, 2), line(3, 1)}, StatusPartiallyReceived},
		{"all full", []Line{line(5, 5), line(3, 3)}, StatusCompleted},
		{"fractional full", []Line{{OrderedQty: money.MustParse("2.5"), ReceivedQty: money.MustParse("2.500")}}, StatusCompleted},
		{"no lines", nil, StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveStatus(tc.lines))
		})
	}
}

func TestQuantitiesAndCostsMustFitColumnScale(t *testing.T) {
	f := newProcFixture()
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateInput
		field string
	}{
		{"ordered below a thousandth", CreateInput{SupplierID: 7, Lines: []LineInput{{ProductID: 1, OrderedQty: money.MustParse("0.0004")}}}, "lines[0].ordered_qty"},
		{"sub-cent unit cost", CreateInput{SupplierID: 7, Lines: []LineInput{{ProductID: 1, OrderedQty: qty(1), UnitCost: money.MustParse("10.005")}}}, "lines[0].unit_cost"},
		{"sub-cent tax", CreateInput{SupplierID: 7, Tax: money.MustParse("0.001"), Lines: []LineInput{{ProductID: 1, OrderedQty: qty(1)}}}, "tax"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.input)
			var verr *shared.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}

	p := f.twoLinePurchase(t)
	_, err := f.svc.Receive(ctx, p.ID, []LineReceipt{{LineID: p.Lines[0].ID, ReceivedQty: money.MustParse("4.9996")}}, 1)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "lines[0].received_qty", verr.Field)

	got, err := f.svc.Receive(ctx, p.ID, []LineReceipt{{LineID: p.Lines[0].ID, ReceivedQty: money.MustParse("4.999")}}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, got.Status)
	stored, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, stored.Status)
	require.True(t, f.onHand(t, 1).IsZero())
}
