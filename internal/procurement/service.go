package procurement

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jewel-ledger/internal/inventory"
	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
	"github.com/odyssey-erp/jewel-ledger/internal/workflow"
)

const numberPrefix = "PUR"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, id int64) (Purchase, error)
	ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, error)
}

// StockPort applies stock movements inside an open transaction.
type StockPort interface {
	Apply(ctx context.Context, tx inventory.TxRepository, m inventory.Movement) (inventory.StockCardEntry, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger  *slog.Logger
	Metrics workflow.Recorder
	Now     func() time.Time
}

// Service orchestrates purchases and their receiving.
type Service struct {
	repo    RepositoryPort
	stock   StockPort
	numbers shared.NumberGenerator
	audit   AuditPort
	logger  *slog.Logger
	metrics workflow.Recorder
	now     func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, stock StockPort, numbers shared.NumberGenerator, audit AuditPort, cfg ServiceConfig) *Service {
	svc := &Service{repo: repo, stock: stock, numbers: numbers, audit: audit, logger: cfg.Logger, metrics: cfg.Metrics, now: cfg.Now}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.metrics == nil {
		svc.metrics = workflow.NopRecorder{}
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// Create persists a pending purchase header and lines.
func (s *Service) Create(ctx context.Context, input CreateInput) (Purchase, error) {
	if input.SupplierID <= 0 {
		return Purchase{}, shared.Invalid("supplier_id", "required")
	}
	if err := validateLines(input.Lines); err != nil {
		return Purchase{}, err
	}
	if input.Tax.IsNegative() {
		return Purchase{}, shared.Invalid("tax", "must not be negative")
	}
	if !money.FitsScale(input.Tax, money.AmountPlaces) {
		return Purchase{}, shared.Invalid("tax", "at most %d decimal places", money.AmountPlaces)
	}
	currency := strings.ToUpper(input.Currency)
	if currency == "" {
		currency = money.DefaultCurrency
	}
	number, err := s.numbers.Next(ctx, numberPrefix)
	if err != nil {
		return Purchase{}, err
	}
	now := s.now().UTC()
	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = now
	}
	p := Purchase{
		Number:     number,
		SupplierID: input.SupplierID,
		Status:     StatusPending,
		Currency:   currency,
		Tax:        input.Tax,
		OrderDate:  orderDate,
		Note:       input.Note,
		CreatedBy:  input.ActorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	subtotal := decimal.Zero
	for _, l := range input.Lines {
		line := Line{ProductID: l.ProductID, OrderedQty: l.OrderedQty, ReceivedQty: decimal.Zero, UnitCost: l.UnitCost}
		p.Lines = append(p.Lines, line)
		subtotal = subtotal.Add(line.Amount())
	}
	p.Subtotal = subtotal
	p.Total = subtotal.Add(input.Tax)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePurchase(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		for i := range p.Lines {
			p.Lines[i].PurchaseID = id
			if p.Lines[i].ID, err = tx.InsertLine(ctx, p.Lines[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	s.recordAudit(ctx, input.ActorID, "purchase:create", p.ID, map[string]any{"number": p.Number, "total": p.Total.StringFixed(2)})
	return p, nil
}

// Receive records cumulative received quantities for some lines and moves the
// purchase to its derived status. Stock moves only when the purchase completes.
func (s *Service) Receive(ctx context.Context, purchaseID int64, receipts []LineReceipt, actorID int64) (Purchase, error) {
	var (
		p     Purchase
		event = eventReceive
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		p, err = tx.GetPurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if err := Machine.Guard(p.ID, p.Status, eventReceive, StatusPending, StatusPartiallyReceived); err != nil {
			return err
		}
		lines, changed, err := applyReceipts(p.Lines, receipts)
		if err != nil {
			return err
		}
		for _, l := range changed {
			if err := tx.UpdateLineReceived(ctx, l.ID, l.ReceivedQty); err != nil {
				return err
			}
		}
		p.Lines = lines

		next := DeriveStatus(lines)
		if next == p.Status {
			return nil
		}
		event = EventReceivePartial
		if next == StatusCompleted {
			event = EventReceiveAll
		}
		if err := Machine.Reach(p.ID, p.Status, event, next); err != nil {
			return err
		}
		return s.transition(ctx, tx, &p, next, actorID)
	})
	s.metrics.Transition("purchase", string(event), workflow.Result(err))
	if err != nil {
		s.logger.Warn("purchase receipt rejected", slog.Int64("purchase_id", purchaseID), slog.Any("error", err))
		return Purchase{}, err
	}
	s.recordAudit(ctx, actorID, "purchase:receive", p.ID, map[string]any{"status": p.Status, "receipts": len(receipts)})
	s.logger.Info("purchase received", slog.Int64("purchase_id", p.ID), slog.String("status", string(p.Status)))
	return p, nil
}

// Complete asserts that everything ordered has arrived: every line is set to
// its ordered quantity and the purchase completes in one step.
func (s *Service) Complete(ctx context.Context, purchaseID, actorID int64) (Purchase, error) {
	var p Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		p, err = tx.GetPurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		next, err := Machine.Fire(p.ID, p.Status, EventReceiveAll)
		if err != nil {
			return err
		}
		for i, l := range p.Lines {
			if l.Fulfilled() {
				continue
			}
			if err := tx.UpdateLineReceived(ctx, l.ID, l.OrderedQty); err != nil {
				return err
			}
			p.Lines[i].ReceivedQty = l.OrderedQty
		}
		return s.transition(ctx, tx, &p, next, actorID)
	})
	s.metrics.Transition("purchase", string(EventReceiveAll), workflow.Result(err))
	if err != nil {
		s.logger.Warn("purchase completion rejected", slog.Int64("purchase_id", purchaseID), slog.Any("error", err))
		return Purchase{}, err
	}
	s.recordAudit(ctx, actorID, "purchase:complete", p.ID, nil)
	s.logger.Info("purchase completed", slog.Int64("purchase_id", p.ID), slog.String("number", p.Number))
	return p, nil
}

// Cancel voids a purchase that has not completed. Partial receipts never
// moved stock, so nothing is reversed.
func (s *Service) Cancel(ctx context.Context, purchaseID int64, reason string, actorID int64) (Purchase, error) {
	var p Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		p, err = tx.GetPurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		next, err := Machine.Fire(p.ID, p.Status, EventCancel)
		if err != nil {
			return err
		}
		p.CancelReason = strings.TrimSpace(reason)
		return s.transition(ctx, tx, &p, next, actorID)
	})
	s.metrics.Transition("purchase", string(EventCancel), workflow.Result(err))
	if err != nil {
		return Purchase{}, err
	}
	s.recordAudit(ctx, actorID, "purchase:cancel", p.ID, map[string]any{"reason": p.CancelReason})
	return p, nil
}

// Delete removes a purchase that is still pending.
func (s *Service) Delete(ctx context.Context, purchaseID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if err := Machine.Guard(p.ID, p.Status, eventDelete, StatusPending); err != nil {
			return err
		}
		return tx.DeletePurchase(ctx, p.ID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "purchase:delete", purchaseID, nil)
	return nil
}

// Get returns a purchase. The status of an open purchase is recomputed from
// its lines rather than trusted from storage.
func (s *Service) Get(ctx context.Context, id int64) (Purchase, error) {
	p, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return Purchase{}, err
	}
	if !Machine.IsTerminal(p.Status) {
		p.Status = DeriveStatus(p.Lines)
	}
	return p, nil
}

// List returns purchase headers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Purchase, error) {
	return s.repo.ListPurchases(ctx, filter)
}

// transition persists next and, on completion, moves every received line
// into stock. It runs inside the caller's transaction.
func (s *Service) transition(ctx context.Context, tx TxRepository, p *Purchase, next Status, actorID int64) error {
	now := s.now().UTC()
	p.Status = next
	p.UpdatedAt = now
	if next == StatusCompleted {
		p.ReceivedAt = &now
		for _, l := range p.Lines {
			_, err := s.stock.Apply(ctx, tx, inventory.Movement{
				ProductID: l.ProductID,
				QtyChange: l.ReceivedQty,
				Type:      inventory.MovementIn,
				RefModule: inventory.RefPurchase,
				RefID:     p.ID,
				Note:      p.Number,
				ActorID:   actorID,
			})
			if err != nil {
				return err
			}
		}
	}
	return tx.UpdatePurchase(ctx, *p)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase",
		EntityID: shared.EntityRef(id),
		Meta:     meta,
		At:       s.now().UTC(),
	})
}
