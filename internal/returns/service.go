package returns

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/jewel-ledger/internal/inventory"
	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/procurement"
	"github.com/odyssey-erp/jewel-ledger/internal/sales"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
	"github.com/odyssey-erp/jewel-ledger/internal/workflow"
)

const numberPrefix = "RET"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReturn(ctx context.Context, id int64) (Return, error)
	ListReturns(ctx context.Context, filter ListFilter) ([]Return, error)
}

// StockPort applies stock movements inside an open transaction.
type StockPort interface {
	Apply(ctx context.Context, tx inventory.TxRepository, m inventory.Movement) (inventory.StockCardEntry, error)
}

// Locker takes a short advisory lock on a key.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Locker  Locker
	Logger  *slog.Logger
	Metrics workflow.Recorder
	Now     func() time.Time
}

// Service runs the customer and supplier return workflow.
type Service struct {
	repo    RepositoryPort
	stock   StockPort
	numbers shared.NumberGenerator
	audit   AuditPort
	locker  Locker
	logger  *slog.Logger
	metrics workflow.Recorder
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, stock StockPort, numbers shared.NumberGenerator, audit AuditPort, cfg ServiceConfig) *Service {
	svc := &Service{
		repo:    repo,
		stock:   stock,
		numbers: numbers,
		audit:   audit,
		locker:  cfg.Locker,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
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

// Create registers a pending return against an existing sale or purchase.
func (s *Service) Create(ctx context.Context, input CreateInput) (Return, error) {
	if !input.Kind.Valid() {
		return Return{}, shared.Invalid("kind", "must be CUSTOMER or SUPPLIER")
	}
	switch input.Kind {
	case KindCustomer:
		if input.SaleID <= 0 || input.PurchaseID != 0 {
			return Return{}, shared.Invalid("sale_id", "a customer return references exactly one sale")
		}
		if !input.RefundAmount.IsPositive() {
			return Return{}, shared.Invalid("refund_amount", "must be greater than zero")
		}
	case KindSupplier:
		if input.PurchaseID <= 0 || input.SaleID != 0 {
			return Return{}, shared.Invalid("purchase_id", "a supplier return references exactly one purchase")
		}
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return Return{}, shared.Invalid("reason", "required")
	}
	if err := validateRefund(input.RefundAmount); err != nil {
		return Return{}, err
	}
	number, err := s.numbers.Next(ctx, numberPrefix)
	if err != nil {
		return Return{}, err
	}
	now := s.now().UTC()
	returnDate := input.ReturnDate
	if returnDate.IsZero() {
		returnDate = now
	}
	ret := Return{
		Number:       number,
		Kind:         input.Kind,
		SaleID:       input.SaleID,
		PurchaseID:   input.PurchaseID,
		Status:       StatusPending,
		Reason:       reason,
		Details:      strings.TrimSpace(input.Details),
		RefundAmount: input.RefundAmount,
		ReturnDate:   returnDate,
		CreatedBy:    input.ActorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := checkOrigin(ctx, tx, ret); err != nil {
			return err
		}
		id, err := tx.CreateReturn(ctx, ret)
		if err != nil {
			return err
		}
		ret.ID = id
		return nil
	})
	if err != nil {
		return Return{}, err
	}
	s.recordAudit(ctx, input.ActorID, "return:create", ret.ID, map[string]any{"number": ret.Number, "kind": ret.Kind})
	return ret, nil
}

// UpdateDetails edits the reason, details or refund of a pending return.
func (s *Service) UpdateDetails(ctx context.Context, id int64, input UpdateInput) (Return, error) {
	var ret Return
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Machine.Guard(ret.ID, ret.Status, eventEdit, StatusPending); err != nil {
			return err
		}
		if input.Reason != nil {
			reason := strings.TrimSpace(*input.Reason)
			if reason == "" {
				return shared.Invalid("reason", "required")
			}
			ret.Reason = reason
		}
		if input.Details != nil {
			ret.Details = strings.TrimSpace(*input.Details)
		}
		if input.RefundAmount != nil {
			if err := validateRefund(*input.RefundAmount); err != nil {
				return err
			}
			if ret.Kind == KindCustomer && !input.RefundAmount.IsPositive() {
				return shared.Invalid("refund_amount", "must be greater than zero")
			}
			ret.RefundAmount = *input.RefundAmount
			if err := checkOrigin(ctx, tx, ret); err != nil {
				return err
			}
		}
		ret.UpdatedAt = s.now().UTC()
		return tx.UpdateReturn(ctx, ret)
	})
	if err != nil {
		return Return{}, err
	}
	s.recordAudit(ctx, input.ActorID, "return:update", ret.ID, nil)
	return ret, nil
}

// Approve accepts a pending return. A customer refund moves the originating
// sale to REFUNDED when it equals the sale total exactly, otherwise to
// PARTIALLY_REFUNDED. Stock does not move until Complete.
func (s *Service) Approve(ctx context.Context, id, approverID int64) (Return, error) {
	if approverID <= 0 {
		return Return{}, shared.Invalid("approver_id", "required")
	}
	release, err := s.acquire(ctx, id)
	if err != nil {
		return Return{}, err
	}
	defer release()

	var (
		ret       Return
		saleEvent workflow.Event
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Machine.Fire(ret.ID, ret.Status, EventApprove)
		if err != nil {
			return err
		}
		if err := checkOrigin(ctx, tx, ret); err != nil {
			return err
		}
		now := s.now().UTC()
		if ret.Kind == KindCustomer {
			sale, err := tx.GetSaleForUpdate(ctx, ret.SaleID)
			if err != nil {
				return err
			}
			saleEvent = sales.ClassifyRefund(sale.Total, ret.RefundAmount)
			saleNext, err := sales.Machine.Fire(sale.ID, sale.Status, saleEvent)
			if err != nil {
				return err
			}
			if err := tx.UpdateSaleStatus(ctx, sale.ID, saleNext, now); err != nil {
				return err
			}
		}
		ret.Status = next
		ret.ApprovedBy = approverID
		ret.ApprovedAt = &now
		ret.UpdatedAt = now
		return tx.UpdateReturn(ctx, ret)
	})
	s.observe(EventApprove, id, err)
	if saleEvent != "" {
		s.metrics.Transition(sales.Machine.Document(), string(saleEvent), workflow.Result(err))
	}
	if err != nil {
		return Return{}, err
	}
	s.recordAudit(ctx, approverID, "return:approve", ret.ID, map[string]any{"refund_amount": ret.RefundAmount.StringFixed(2), "sale_event": saleEvent})
	return ret, nil
}

// Reject declines a pending return. The reason is mandatory; nothing else
// changes.
func (s *Service) Reject(ctx context.Context, id, approverID int64, reason string) (Return, error) {
	if approverID <= 0 {
		return Return{}, shared.Invalid("approver_id", "required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Return{}, shared.Invalid("reason", "required when rejecting a return")
	}
	release, err := s.acquire(ctx, id)
	if err != nil {
		return Return{}, err
	}
	defer release()

	var ret Return
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Machine.Fire(ret.ID, ret.Status, EventReject)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		ret.Status = next
		ret.RejectedBy = approverID
		ret.RejectedAt = &now
		ret.RejectionReason = reason
		ret.UpdatedAt = now
		return tx.UpdateReturn(ctx, ret)
	})
	s.observe(EventReject, id, err)
	if err != nil {
		return Return{}, err
	}
	s.recordAudit(ctx, approverID, "return:reject", ret.ID, map[string]any{"reason": reason})
	return ret, nil
}

// Complete finishes an approved return and moves stock for every line of the
// originating document: a customer return brings sold quantities back, a
// supplier return takes received quantities out.
func (s *Service) Complete(ctx context.Context, id, actorID int64) (Return, error) {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return Return{}, err
	}
	defer release()

	var ret Return
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Machine.Fire(ret.ID, ret.Status, EventComplete)
		if err != nil {
			return err
		}
		movements, err := originMovements(ctx, tx, ret)
		if err != nil {
			return err
		}
		for _, m := range movements {
			m.ActorID = actorID
			if _, err := s.stock.Apply(ctx, tx, m); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		ret.Status = next
		ret.CompletedAt = &now
		ret.UpdatedAt = now
		return tx.UpdateReturn(ctx, ret)
	})
	s.observe(EventComplete, id, err)
	if err != nil {
		return Return{}, err
	}
	s.recordAudit(ctx, actorID, "return:complete", ret.ID, nil)
	s.logger.Info("return completed", slog.Int64("return_id", ret.ID), slog.String("kind", string(ret.Kind)))
	return ret, nil
}

// Delete removes a pending return.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ret, err := tx.GetReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Machine.Guard(ret.ID, ret.Status, eventDelete, StatusPending); err != nil {
			return err
		}
		return tx.DeleteReturn(ctx, ret.ID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "return:delete", id, nil)
	return nil
}

// Get returns a return by id.
func (s *Service) Get(ctx context.Context, id int64) (Return, error) {
	return s.repo.GetReturn(ctx, id)
}

// List returns returns matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Return, error) {
	return s.repo.ListReturns(ctx, filter)
}

func (s *Service) acquire(ctx context.Context, id int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, shared.DocumentLockKey(Machine.Document(), id))
}

func (s *Service) observe(event workflow.Event, id int64, err error) {
	s.metrics.Transition(Machine.Document(), string(event), workflow.Result(err))
	if err != nil {
		s.logger.Warn("return transition rejected", slog.String("event", string(event)), slog.Int64("return_id", id), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "return",
		EntityID: shared.EntityRef(id),
		Meta:     meta,
		At:       s.now().UTC(),
	})
}

func validateRefund(amount money.Amount) error {
	if amount.IsNegative() {
		return shared.Invalid("refund_amount", "must not be negative")
	}
	if !money.FitsScale(amount, money.AmountPlaces) {
		return shared.Invalid("refund_amount", "at most 2 decimal places")
	}
	return nil
}

// checkOrigin verifies the originating document can take this return. The
// document row stays locked until the transaction ends.
func checkOrigin(ctx context.Context, tx TxRepository, ret Return) error {
	switch ret.Kind {
	case KindCustomer:
		sale, err := tx.GetSaleForUpdate(ctx, ret.SaleID)
		if err != nil {
			return err
		}
		if err := checkNoActiveReturn(ctx, tx, ret, sale.ID); err != nil {
			return err
		}
		if !sales.Machine.Can(sale.Status, sales.EventRefundPartial) {
			return shared.Invalid("sale_id", "sale %s is %s and cannot be refunded", sale.Number, sale.Status)
		}
		if ret.RefundAmount.GreaterThan(sale.Total) {
			return shared.Invalid("refund_amount", "exceeds sale total %s", money.Format(sale.Total, sale.Currency))
		}
	case KindSupplier:
		p, err := tx.GetPurchaseForUpdate(ctx, ret.PurchaseID)
		if err != nil {
			return err
		}
		if err := checkNoActiveReturn(ctx, tx, ret, p.ID); err != nil {
			return err
		}
		if p.Status != procurement.StatusCompleted {
			return shared.Invalid("purchase_id", "purchase %s is %s; only received purchases can be returned", p.Number, p.Status)
		}
		if ret.RefundAmount.GreaterThan(p.Total) {
			return shared.Invalid("refund_amount", "exceeds purchase total %s", money.Format(p.Total, p.Currency))
		}
	}
	return nil
}

// checkNoActiveReturn allows one approved or completed return per originating
// document, since completion moves stock for all of the document's lines.
func checkNoActiveReturn(ctx context.Context, tx TxRepository, ret Return, originID int64) error {
	active, err := tx.HasActiveReturn(ctx, ret.Kind, originID, ret.ID)
	if err != nil {
		return err
	}
	if active {
		return errActiveReturn(ret)
	}
	return nil
}

func errActiveReturn(ret Return) error {
	if ret.Kind == KindSupplier {
		return shared.Invalid("purchase_id", "purchase %d already has an approved or completed return", ret.PurchaseID)
	}
	return shared.Invalid("sale_id", "sale %d already has an approved or completed return", ret.SaleID)
}

// originMovements lists the stock movements completing ret produces.
func originMovements(ctx context.Context, tx TxRepository, ret Return) ([]inventory.Movement, error) {
	var out []inventory.Movement
	switch ret.Kind {
	case KindCustomer:
		sale, err := tx.GetSaleForUpdate(ctx, ret.SaleID)
		if err != nil {
			return nil, err
		}
		for _, l := range sale.Lines {
			out = append(out, inventory.Movement{
				ProductID: l.ProductID,
				QtyChange: l.Quantity,
				Type:      inventory.MovementIn,
				RefModule: inventory.RefReturn,
				RefID:     ret.ID,
				Note:      ret.Number + " from " + sale.Number,
			})
		}
	case KindSupplier:
		p, err := tx.GetPurchaseForUpdate(ctx, ret.PurchaseID)
		if err != nil {
			return nil, err
		}
		for _, l := range p.Lines {
			if l.ReceivedQty.IsZero() {
				continue
			}
			out = append(out, inventory.Movement{
				ProductID: l.ProductID,
				QtyChange: l.ReceivedQty.Neg(),
				Type:      inventory.MovementOut,
				RefModule: inventory.RefReturn,
				RefID:     ret.ID,
				Note:      ret.Number + " to " + p.Number,
			})
		}
	}
	return out, nil
}
