package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStock(ctx context.Context, productID int64) (Stock, error)
	GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates inventory operations.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	allowNeg bool
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	Logger             *slog.Logger
	Now                func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	svc := &Service{repo: repo, audit: audit, allowNeg: cfg.AllowNegativeStock, logger: cfg.Logger, now: cfg.Now}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// Apply posts a movement inside the caller's transaction: it locks the stock
// row, applies the delta and appends a stock card entry. Purchase and return
// completion call it so the quantity change commits with the status change.
func (s *Service) Apply(ctx context.Context, tx TxRepository, m Movement) (StockCardEntry, error) {
	if m.ProductID <= 0 {
		return StockCardEntry{}, shared.Invalid("product_id", "required")
	}
	if m.QtyChange.IsZero() {
		return StockCardEntry{}, shared.Invalid("qty", "must be non zero")
	}
	if !money.FitsScale(m.QtyChange, money.QtyPlaces) {
		return StockCardEntry{}, shared.Invalid("qty", "at most %d decimal places", money.QtyPlaces)
	}
	stock, err := tx.GetStockForUpdate(ctx, m.ProductID)
	if err != nil && !errors.Is(err, ErrStockNotFound) {
		return StockCardEntry{}, err
	}
	if errors.Is(err, ErrStockNotFound) {
		stock = Stock{ProductID: m.ProductID}
	}

	newQty := stock.Qty.Add(m.QtyChange)
	if newQty.IsNegative() && !s.allowNeg {
		return StockCardEntry{}, fmt.Errorf("%w: %w", ErrNegativeStock, &shared.InvariantViolationError{
			Entity:    "product stock",
			ID:        m.ProductID,
			Attempted: m.QtyChange.Neg(),
			Available: stock.Qty,
		})
	}

	kind := m.Type
	if kind == "" {
		kind = MovementIn
		if m.QtyChange.IsNegative() {
			kind = MovementOut
		}
	}
	now := s.now().UTC()
	stock.Qty = newQty
	stock.UpdatedAt = now
	if err := tx.UpsertStock(ctx, stock); err != nil {
		return StockCardEntry{}, err
	}
	card := StockCardEntry{
		ProductID:  m.ProductID,
		Type:       kind,
		QtyIn:      decimal.Zero,
		QtyOut:     decimal.Zero,
		BalanceQty: newQty,
		RefModule:  m.RefModule,
		RefID:      m.RefID,
		Note:       m.Note,
		PostedAt:   now,
		CreatedBy:  m.ActorID,
	}
	if m.QtyChange.IsPositive() {
		card.QtyIn = m.QtyChange
	} else {
		card.QtyOut = m.QtyChange.Neg()
	}
	id, err := tx.InsertCardEntry(ctx, card)
	if err != nil {
		return StockCardEntry{}, err
	}
	card.ID = id
	return card, nil
}

// PostAdjustment applies a manual stock correction in its own transaction.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (StockCardEntry, error) {
	if input.Note == "" {
		return StockCardEntry{}, shared.Invalid("note", "required for manual adjustments")
	}
	var card StockCardEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		card, err = s.Apply(ctx, tx, Movement{
			ProductID: input.ProductID,
			QtyChange: input.Qty,
			Type:      MovementAdjust,
			RefModule: RefManual,
			Note:      input.Note,
			ActorID:   input.ActorID,
		})
		return err
	})
	if err != nil {
		s.logger.Warn("inventory adjustment rejected", slog.Int64("product_id", input.ProductID), slog.Any("error", err))
		return StockCardEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory:ADJUST",
			Entity:   "stock_card",
			EntityID: shared.EntityRef(card.ID),
			Meta: map[string]any{
				"product_id": input.ProductID,
				"qty":        input.Qty.String(),
				"note":       input.Note,
			},
		})
	}
	s.logger.Info("inventory adjusted", slog.Int64("product_id", input.ProductID), slog.String("qty", input.Qty.String()), slog.String("balance", card.BalanceQty.String()))
	return card, nil
}

// GetStock returns the on-hand quantity; unknown products have zero stock.
func (s *Service) GetStock(ctx context.Context, productID int64) (Stock, error) {
	if productID <= 0 {
		return Stock{}, shared.Invalid("product_id", "required")
	}
	stock, err := s.repo.GetStock(ctx, productID)
	if errors.Is(err, ErrStockNotFound) {
		return Stock{ProductID: productID}, nil
	}
	return stock, err
}

// StockCard lists stock card entries in posting order.
func (s *Service) StockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if filter.ProductID <= 0 {
		return nil, shared.Invalid("product_id", "required")
	}
	return s.repo.GetStockCard(ctx, filter)
}
