package sales

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jewel-ledger/internal/ledger"
	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
	"github.com/odyssey-erp/jewel-ledger/internal/workflow"
)

const numberPrefix = "SAL"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListPayments(ctx context.Context, saleID int64) ([]Payment, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Poster is the slice of the ledger recorder used for payments.
type Poster interface {
	Post(ctx context.Context, tx ledger.TxRepository, input ledger.RecordInput) (ledger.Transaction, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger  *slog.Logger
	Metrics workflow.Recorder
	Now     func() time.Time
}

// Service manages sales and their payments.
type Service struct {
	repo    RepositoryPort
	ledger  Poster
	numbers shared.NumberGenerator
	audit   AuditPort
	logger  *slog.Logger
	metrics workflow.Recorder
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, poster Poster, numbers shared.NumberGenerator, audit AuditPort, cfg ServiceConfig) *Service {
	svc := &Service{repo: repo, ledger: poster, numbers: numbers, audit: audit, logger: cfg.Logger, metrics: cfg.Metrics, now: cfg.Now}
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

// Create registers a pending sale with totals computed from its lines.
func (s *Service) Create(ctx context.Context, input CreateInput) (Sale, error) {
	if input.CustomerID <= 0 {
		return Sale{}, shared.Invalid("customer_id", "required")
	}
	if err := validateLines(input.Lines); err != nil {
		return Sale{}, err
	}
	if input.Tax.IsNegative() {
		return Sale{}, shared.Invalid("tax", "must not be negative")
	}
	if !money.FitsScale(input.Tax, money.AmountPlaces) {
		return Sale{}, shared.Invalid("tax", "at most %d decimal places", money.AmountPlaces)
	}
	currency := strings.ToUpper(input.Currency)
	if currency == "" {
		currency = money.DefaultCurrency
	}
	number, err := s.numbers.Next(ctx, numberPrefix)
	if err != nil {
		return Sale{}, err
	}
	now := s.now().UTC()
	saleDate := input.SaleDate
	if saleDate.IsZero() {
		saleDate = now
	}
	sale := Sale{
		Number:     number,
		CustomerID: input.CustomerID,
		Status:     SaleStatusPending,
		Currency:   currency,
		Tax:        input.Tax,
		PaidAmount: decimal.Zero,
		SaleDate:   saleDate,
		CreatedBy:  input.ActorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	subtotal := decimal.Zero
	for _, l := range input.Lines {
		line := SaleLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
		sale.Lines = append(sale.Lines, line)
		subtotal = subtotal.Add(line.Amount())
	}
	sale.Subtotal = subtotal
	sale.Total = subtotal.Add(input.Tax)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = id
		for i := range sale.Lines {
			sale.Lines[i].SaleID = id
			lineID, err := tx.InsertSaleLine(ctx, sale.Lines[i])
			if err != nil {
				return err
			}
			sale.Lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, input.ActorID, "sale:create", sale.ID, map[string]any{"number": sale.Number, "total": sale.Total.StringFixed(2)})
	return sale, nil
}

// RecordPayment posts a payment into a bank or cash account and adds it to
// the sale's paid amount in one transaction. A fully paid sale completes.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (Sale, Payment, error) {
	if input.SaleID <= 0 {
		return Sale{}, Payment{}, shared.Invalid("sale_id", "required")
	}
	if input.AccountID <= 0 {
		return Sale{}, Payment{}, shared.Invalid("account_id", "required")
	}
	if !input.Amount.IsPositive() {
		return Sale{}, Payment{}, shared.Invalid("amount", "must be greater than zero")
	}
	if !money.FitsScale(input.Amount, money.AmountPlaces) {
		return Sale{}, Payment{}, shared.Invalid("amount", "at most %d decimal places", money.AmountPlaces)
	}

	var (
		sale    Sale
		payment Payment
		event   workflow.Event = "pay"
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, input.SaleID)
		if err != nil {
			return err
		}
		if err := Machine.Guard(sale.ID, sale.Status, event, SaleStatusPending); err != nil {
			return err
		}
		if input.Amount.GreaterThan(sale.Outstanding()) {
			return shared.Invalid("amount", "exceeds outstanding %s", money.Format(sale.Outstanding(), sale.Currency))
		}
		account, err := tx.GetAccountForUpdate(ctx, input.AccountID)
		if err != nil {
			return err
		}
		reference := input.Reference
		if reference == "" {
			reference = sale.Number
		}
		posting, err := s.ledger.Post(ctx, tx, ledger.RecordInput{
			AccountID:      account.ID,
			Type:           ledger.InboundType(account.Kind),
			Amount:         input.Amount,
			Currency:       sale.Currency,
			TxDate:         input.PaidAt,
			Reference:      reference,
			Description:    "Payment for sale " + sale.Number,
			Metadata:       map[string]string{"sale_id": strconv.FormatInt(sale.ID, 10)},
			IdempotencyKey: input.IdempotencyKey,
			ActorID:        input.ActorID,
		})
		if err != nil {
			return err
		}

		now := s.now().UTC()
		paidAt := input.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		payment = Payment{
			SaleID:     sale.ID,
			AccountID:  account.ID,
			LedgerTxID: posting.ID,
			Amount:     input.Amount,
			PaidAt:     paidAt,
			RecordedBy: input.ActorID,
		}
		if payment.ID, err = tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		sale.PaidAmount = sale.PaidAmount.Add(input.Amount)
		if err := tx.UpdateSalePaid(ctx, sale.ID, sale.PaidAmount, now); err != nil {
			return err
		}
		if sale.Outstanding().IsZero() {
			event = EventSettle
			next, err := Machine.Fire(sale.ID, sale.Status, EventSettle)
			if err != nil {
				return err
			}
			if err := tx.UpdateSaleStatus(ctx, sale.ID, next, now); err != nil {
				return err
			}
			sale.Status = next
		}
		sale.UpdatedAt = now
		return nil
	})
	s.metrics.Transition("sale", string(event), workflow.Result(err))
	if err != nil {
		s.logger.Warn("sale payment rejected", slog.Int64("sale_id", input.SaleID), slog.Any("error", err))
		return Sale{}, Payment{}, err
	}
	s.recordAudit(ctx, input.ActorID, "sale:payment", sale.ID, map[string]any{
		"account_id":   payment.AccountID,
		"ledger_tx_id": payment.LedgerTxID,
		"amount":       payment.Amount.StringFixed(2),
		"status":       sale.Status,
	})
	s.logger.Info("sale payment recorded", slog.Int64("sale_id", sale.ID), slog.String("amount", payment.Amount.StringFixed(2)), slog.String("status", string(sale.Status)))
	return sale, payment, nil
}

// Cancel voids an unpaid pending sale.
func (s *Service) Cancel(ctx context.Context, saleID, actorID int64) (Sale, error) {
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		next, err := Machine.Fire(sale.ID, sale.Status, EventCancel)
		if err != nil {
			return err
		}
		if sale.PaidAmount.IsPositive() {
			return shared.Invalid("paid_amount", "sale has %s paid; refund through a return", money.Format(sale.PaidAmount, sale.Currency))
		}
		now := s.now().UTC()
		if err := tx.UpdateSaleStatus(ctx, sale.ID, next, now); err != nil {
			return err
		}
		sale.Status = next
		sale.UpdatedAt = now
		return nil
	})
	s.metrics.Transition("sale", string(EventCancel), workflow.Result(err))
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, actorID, "sale:cancel", sale.ID, nil)
	return sale, nil
}

// Get returns a sale with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// Payments lists a sale's payments.
func (s *Service) Payments(ctx context.Context, saleID int64) ([]Payment, error) {
	if _, err := s.repo.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, saleID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sale",
		EntityID: shared.EntityRef(id),
		Meta:     meta,
		At:       s.now().UTC(),
	})
}
