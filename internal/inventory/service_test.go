package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

func TestApplyTracksBalanceAndCard(t *testing.T) {
	repo := NewMemoryStore()
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := svc.Apply(ctx, tx, Movement{ProductID: 1, QtyChange: money.MustParse("10"), RefModule: RefPurchase, RefID: 4})
		require.NoError(t, err)
		require.Equal(t, MovementIn, entry.Type)
		require.True(t, entry.QtyIn.Equal(decimal.NewFromInt(10)))
		require.True(t, entry.QtyOut.IsZero())

		entry, err = svc.Apply(ctx, tx, Movement{ProductID: 1, QtyChange: money.MustParse("-2.5"), RefModule: RefReturn, RefID: 9})
		require.NoError(t, err)
		require.Equal(t, MovementOut, entry.Type)
		require.True(t, entry.QtyOut.Equal(money.MustParse("2.5")))
		require.True(t, entry.BalanceQty.Equal(money.MustParse("7.5")))
		return nil
	})
	require.NoError(t, err)

	stock, err := svc.GetStock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "7.5", stock.Qty.String())

	cards, err := svc.StockCard(ctx, StockCardFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	require.Equal(t, int64(9), cards[1].RefID)
}

func TestNegativeStockGuard(t *testing.T) {
	repo := NewMemoryStore()
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: decimal.NewFromInt(-1), Note: "shrinkage"})
	require.ErrorIs(t, err, ErrNegativeStock)
	require.ErrorIs(t, err, shared.ErrInvariantViolation)
	var violation *shared.InvariantViolationError
	require.True(t, errors.As(err, &violation))
	require.Equal(t, int64(1), violation.ID)
	require.True(t, violation.Available.IsZero())

	stock, err := svc.GetStock(ctx, 1)
	require.NoError(t, err)
	require.True(t, stock.Qty.IsZero())
	cards, err := svc.StockCard(ctx, StockCardFilter{ProductID: 1})
	require.NoError(t, err)
	require.Empty(t, cards)
}

func TestAllowNegativeStock(t *testing.T) {
	repo := NewMemoryStore()
	svc := NewService(repo, nil, ServiceConfig{AllowNegativeStock: true})

	card, err := svc.PostAdjustment(context.Background(), AdjustmentInput{ProductID: 3, Qty: decimal.NewFromInt(-2), Note: "count correction"})
	require.NoError(t, err)
	require.True(t, card.BalanceQty.Equal(decimal.NewFromInt(-2)))
	require.Equal(t, MovementAdjust, card.Type)
}

func TestApplyRejectsBadMovement(t *testing.T) {
	repo := NewMemoryStore()
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: decimal.Zero, Note: "noop"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: money.MustParse("1.0005"), Note: "scale"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.StockCard(ctx, StockCardFilter{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFailedTransactionRollsBackStock(t *testing.T) {
	repo := NewMemoryStore()
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	boom := errors.New("status write failed")
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := svc.Apply(ctx, tx, Movement{ProductID: 5, QtyChange: decimal.NewFromInt(4)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stock, err := svc.GetStock(ctx, 5)
	require.NoError(t, err)
	require.True(t, stock.Qty.IsZero())
}
