package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
	"github.com/odyssey-erp/jewel-ledger/internal/workflow"
)

// Status enumerates purchase lifecycle states.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

// Purchase events.
const (
	EventReceivePartial workflow.Event = "receive_partial"
	EventReceiveAll     workflow.Event = "receive_all"
	EventCancel         workflow.Event = "cancel"

	eventReceive workflow.Event = "receive"
	eventDelete  workflow.Event = "delete"
)

// Machine is the purchase transition table. COMPLETED and CANCELLED are terminal.
var Machine = workflow.New("purchase",
	[]Status{StatusPending, StatusPartiallyReceived, StatusCompleted, StatusCancelled},
	workflow.Transition[Status]{From: StatusPending, Event: EventReceivePartial, To: StatusPartiallyReceived},
	workflow.Transition[Status]{From: StatusPartiallyReceived, Event: EventReceivePartial, To: StatusPartiallyReceived},
	workflow.Transition[Status]{From: StatusPending, Event: EventReceiveAll, To: StatusCompleted},
	workflow.Transition[Status]{From: StatusPartiallyReceived, Event: EventReceiveAll, To: StatusCompleted},
	workflow.Transition[Status]{From: StatusPending, Event: EventCancel, To: StatusCancelled},
	workflow.Transition[Status]{From: StatusPartiallyReceived, Event: EventCancel, To: StatusCancelled},
)

// Purchase is a supplier order whose lines are received over time.
type Purchase struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	SupplierID   int64           `json:"supplier_id"`
	Status       Status          `json:"status"`
	Currency     string          `json:"currency"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	OrderDate    time.Time       `json:"order_date"`
	ReceivedAt   *time.Time      `json:"received_at,omitempty"`
	Note         string          `json:"note,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	Lines        []Line          `json:"lines"`
	CreatedBy    int64           `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Line is one ordered product. ReceivedQty never exceeds OrderedQty and never decreases.
type Line struct {
	ID          int64           `json:"id"`
	PurchaseID  int64           `json:"purchase_id"`
	ProductID   int64           `json:"product_id"`
	OrderedQty  decimal.Decimal `json:"ordered_qty"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// Amount is ordered quantity times unit cost, rounded to cents.
func (l Line) Amount() decimal.Decimal {
	return l.OrderedQty.Mul(l.UnitCost).Round(2)
}

// Fulfilled reports whether everything ordered on the line has arrived.
func (l Line) Fulfilled() bool {
	return l.ReceivedQty.Equal(l.OrderedQty)
}

// DeriveStatus computes the aggregate receiving status from the lines alone:
// COMPLETED when every line is fulfilled, PARTIALLY_RECEIVED when anything
// has arrived, PENDING otherwise.
func DeriveStatus(lines []Line) Status {
	if len(lines) == 0 {
		return StatusPending
	}
	all, some := true, false
	for _, l := range lines {
		if !l.Fulfilled() {
			all = false
		}
		if l.ReceivedQty.IsPositive() {
			some = true
		}
	}
	switch {
	case all:
		return StatusCompleted
	case some:
		return StatusPartiallyReceived
	default:
		return StatusPending
	}
}

// LineInput describes an ordered line on creation.
type LineInput struct {
	ProductID  int64
	OrderedQty decimal.Decimal
	UnitCost   decimal.Decimal
}

// CreateInput creates a pending purchase.
type CreateInput struct {
	SupplierID int64
	Currency   string
	OrderDate  time.Time
	Tax        decimal.Decimal
	Note       string
	Lines      []LineInput
	ActorID    int64
}

// LineReceipt sets the cumulative received quantity of one line.
type LineReceipt struct {
	LineID      int64
	ReceivedQty decimal.Decimal
}

// ListFilter narrows ListPurchases.
type ListFilter struct {
	Status     Status
	SupplierID int64
	Limit      int
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return shared.Invalid("lines", "at least one line required")
	}
	for i, l := range lines {
		if l.ProductID <= 0 {
			return shared.Invalid(shared.LineField(i, "product_id"), "required")
		}
		if !l.OrderedQty.IsPositive() {
			return shared.Invalid(shared.LineField(i, "ordered_qty"), "must be greater than zero")
		}
		if !money.FitsScale(l.OrderedQty, money.QtyPlaces) {
			return shared.Invalid(shared.LineField(i, "ordered_qty"), "at most %d decimal places", money.QtyPlaces)
		}
		if l.UnitCost.IsNegative() {
			return shared.Invalid(shared.LineField(i, "unit_cost"), "must not be negative")
		}
		if !money.FitsScale(l.UnitCost, money.AmountPlaces) {
			return shared.Invalid(shared.LineField(i, "unit_cost"), "at most %d decimal places", money.AmountPlaces)
		}
	}
	return nil
}

// applyReceipts validates receipts against the stored lines and returns the
// updated lines plus the ones that changed. Stored lines are left untouched
// on error.
func applyReceipts(lines []Line, receipts []LineReceipt) ([]Line, []Line, error) {
	if len(receipts) == 0 {
		return nil, nil, shared.Invalid("lines", "at least one receipt required")
	}
	index := make(map[int64]int, len(lines))
	for i, l := range lines {
		index[l.ID] = i
	}
	updated := make([]Line, len(lines))
	copy(updated, lines)
	seen := make(map[int64]struct{}, len(receipts))
	var changed []Line
	for i, r := range receipts {
		pos, ok := index[r.LineID]
		if !ok {
			return nil, nil, shared.Invalid(shared.LineField(i, "line_id"), "line %d is not on this purchase", r.LineID)
		}
		if _, dup := seen[r.LineID]; dup {
			return nil, nil, shared.Invalid(shared.LineField(i, "line_id"), "line %d listed twice", r.LineID)
		}
		seen[r.LineID] = struct{}{}
		line := updated[pos]
		switch {
		case r.ReceivedQty.IsNegative():
			return nil, nil, shared.Invalid(shared.LineField(i, "received_qty"), "must not be negative")
		case !money.FitsScale(r.ReceivedQty, money.QtyPlaces):
			return nil, nil, shared.Invalid(shared.LineField(i, "received_qty"), "at most %d decimal places", money.QtyPlaces)
		case r.ReceivedQty.GreaterThan(line.OrderedQty):
			return nil, nil, shared.Invalid(shared.LineField(i, "received_qty"), "%s exceeds ordered %s", r.ReceivedQty, line.OrderedQty)
		case r.ReceivedQty.LessThan(line.ReceivedQty):
			return nil, nil, shared.Invalid(shared.LineField(i, "received_qty"), "%s is below already received %s", r.ReceivedQty, line.ReceivedQty)
		}
		if r.ReceivedQty.Equal(line.ReceivedQty) {
			continue
		}
		updated[pos].ReceivedQty = r.ReceivedQty
		changed = append(changed, updated[pos])
	}
	return updated, changed, nil
}
