package returns

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jewel-ledger/internal/workflow"
)

// Kind tells which side of the business a return flows to.
type Kind string

const (
	// KindCustomer brings sold goods back into stock against a sale.
	KindCustomer Kind = "CUSTOMER"
	// KindSupplier sends purchased goods back to the supplier.
	KindSupplier Kind = "SUPPLIER"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindCustomer || k == KindSupplier
}

// Status enumerates return lifecycle states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
)

// Return events.
const (
	EventApprove  workflow.Event = "approve"
	EventReject   workflow.Event = "reject"
	EventComplete workflow.Event = "complete"

	eventEdit   workflow.Event = "edit"
	eventDelete workflow.Event = "delete"
)

// Machine is the return transition table. There is no path back from
// APPROVED: a return is never reversed.
var Machine = workflow.New("return",
	[]Status{StatusPending, StatusApproved, StatusRejected, StatusCompleted},
	workflow.Transition[Status]{From: StatusPending, Event: EventApprove, To: StatusApproved},
	workflow.Transition[Status]{From: StatusPending, Event: EventReject, To: StatusRejected},
	workflow.Transition[Status]{From: StatusApproved, Event: EventComplete, To: StatusCompleted},
)

// Return is a customer or supplier return against exactly one originating
// document. It carries no lines of its own; completion acts on the
// originating document's lines.
type Return struct {
	ID              int64           `json:"id"`
	Number          string          `json:"number"`
	Kind            Kind            `json:"kind"`
	SaleID          int64           `json:"sale_id,omitempty"`
	PurchaseID      int64           `json:"purchase_id,omitempty"`
	Status          Status          `json:"status"`
	Reason          string          `json:"reason"`
	Details         string          `json:"details,omitempty"`
	RefundAmount    decimal.Decimal `json:"refund_amount"`
	ReturnDate      time.Time       `json:"return_date"`
	ApprovedBy      int64           `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedBy      int64           `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedBy       int64           `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CreateInput registers a pending return.
type CreateInput struct {
	Kind         Kind
	SaleID       int64
	PurchaseID   int64
	Reason       string
	Details      string
	RefundAmount decimal.Decimal
	ReturnDate   time.Time
	ActorID      int64
}

// UpdateInput edits a pending return. Nil fields are left as they are.
type UpdateInput struct {
	Reason       *string
	Details      *string
	RefundAmount *decimal.Decimal
	ActorID      int64
}

// ListFilter narrows ListReturns.
type ListFilter struct {
	Kind   Kind
	Status Status
	Limit  int
}
