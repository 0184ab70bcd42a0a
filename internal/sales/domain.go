package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
	"github.com/odyssey-erp/jewel-ledger/internal/workflow"
)

// SaleStatus enumerates sale lifecycle states.
type SaleStatus string

const (
	SaleStatusPending           SaleStatus = "PENDING"
	SaleStatusCompleted         SaleStatus = "COMPLETED"
	SaleStatusPartiallyRefunded SaleStatus = "PARTIALLY_REFUNDED"
	SaleStatusRefunded          SaleStatus = "REFUNDED"
	SaleStatusCancelled         SaleStatus = "CANCELLED"
)

// Sale events.
const (
	EventSettle        workflow.Event = "settle"
	EventCancel        workflow.Event = "cancel"
	EventRefundFull    workflow.Event = "refund_full"
	EventRefundPartial workflow.Event = "refund_partial"
)

// Machine is the sale transition table. Refunds may land on a sale that is
// still being paid, completed or already partially refunded.
var Machine = workflow.New("sale",
	[]SaleStatus{SaleStatusPending, SaleStatusCompleted, SaleStatusPartiallyRefunded, SaleStatusRefunded, SaleStatusCancelled},
	workflow.Transition[SaleStatus]{From: SaleStatusPending, Event: EventSettle, To: SaleStatusCompleted},
	workflow.Transition[SaleStatus]{From: SaleStatusPending, Event: EventCancel, To: SaleStatusCancelled},
	workflow.Transition[SaleStatus]{From: SaleStatusPending, Event: EventRefundFull, To: SaleStatusRefunded},
	workflow.Transition[SaleStatus]{From: SaleStatusCompleted, Event: EventRefundFull, To: SaleStatusRefunded},
	workflow.Transition[SaleStatus]{From: SaleStatusPartiallyRefunded, Event: EventRefundFull, To: SaleStatusRefunded},
	workflow.Transition[SaleStatus]{From: SaleStatusPending, Event: EventRefundPartial, To: SaleStatusPartiallyRefunded},
	workflow.Transition[SaleStatus]{From: SaleStatusCompleted, Event: EventRefundPartial, To: SaleStatusPartiallyRefunded},
	workflow.Transition[SaleStatus]{From: SaleStatusPartiallyRefunded, Event: EventRefundPartial, To: SaleStatusPartiallyRefunded},
)

// Sale is an originating document for customer returns.
type Sale struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	CustomerID int64           `json:"customer_id"`
	Status     SaleStatus      `json:"status"`
	Currency   string          `json:"currency"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	SaleDate   time.Time       `json:"sale_date"`
	Lines      []SaleLine      `json:"lines"`
	CreatedBy  int64           `json:"created_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Outstanding is what remains to be paid.
func (s Sale) Outstanding() decimal.Decimal {
	return s.Total.Sub(s.PaidAmount)
}

// SaleLine is one sold item.
type SaleLine struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Amount is quantity times unit price, rounded to cents.
func (l SaleLine) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Round(2)
}

// Payment links a sale to the ledger posting that settled it.
type Payment struct {
	ID         int64           `json:"id"`
	SaleID     int64           `json:"sale_id"`
	AccountID  int64           `json:"account_id"`
	LedgerTxID int64           `json:"ledger_tx_id"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAt     time.Time       `json:"paid_at"`
	RecordedBy int64           `json:"recorded_by,omitempty"`
}

// LineInput describes a sale line on creation.
type LineInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// CreateInput creates a pending sale.
type CreateInput struct {
	CustomerID int64
	Currency   string
	SaleDate   time.Time
	Tax        decimal.Decimal
	Lines      []LineInput
	ActorID    int64
}

// PaymentInput settles part or all of a sale into a ledger account.
type PaymentInput struct {
	SaleID         int64
	AccountID      int64
	Amount         decimal.Decimal
	PaidAt         time.Time
	Reference      string
	IdempotencyKey string
	ActorID        int64
}

// ClassifyRefund returns the refund event for a refund against a sale total:
// only an exact decimal match is a full refund.
func ClassifyRefund(total, refund decimal.Decimal) workflow.Event {
	if refund.Equal(total) {
		return EventRefundFull
	}
	return EventRefundPartial
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return shared.Invalid("lines", "at least one line required")
	}
	for i, l := range lines {
		if l.ProductID <= 0 {
			return shared.Invalid(shared.LineField(i, "product_id"), "required")
		}
		if !l.Quantity.IsPositive() {
			return shared.Invalid(shared.LineField(i, "quantity"), "must be greater than zero")
		}
		if !money.FitsScale(l.Quantity, money.QtyPlaces) {
			return shared.Invalid(shared.LineField(i, "quantity"), "at most %d decimal places", money.QtyPlaces)
		}
		if l.UnitPrice.IsNegative() {
			return shared.Invalid(shared.LineField(i, "unit_price"), "must not be negative")
		}
		if !money.FitsScale(l.UnitPrice, money.AmountPlaces) {
			return shared.Invalid(shared.LineField(i, "unit_price"), "at most %d decimal places", money.AmountPlaces)
		}
	}
	return nil
}
