package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents an inbound movement (purchase receipt, customer return).
	MovementIn MovementType = "IN"
	// MovementOut represents an outbound movement (supplier return, sale).
	MovementOut MovementType = "OUT"
	// MovementAdjust indicates manual adjustments.
	MovementAdjust MovementType = "ADJUST"
)

// Reference modules recorded on stock card entries.
const (
	RefPurchase = "purchase"
	RefReturn   = "return"
	RefManual   = "manual"
)

// Stock is the on-hand quantity of a product.
type Stock struct {
	ProductID int64           `json:"product_id"`
	Qty       decimal.Decimal `json:"qty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Movement is a signed quantity change applied to one product.
type Movement struct {
	ProductID int64
	QtyChange decimal.Decimal
	Type      MovementType
	RefModule string
	RefID     int64
	Note      string
	ActorID   int64
}

// StockCardEntry describes one line of a product's stock card.
type StockCardEntry struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"product_id"`
	Type       MovementType    `json:"type"`
	QtyIn      decimal.Decimal `json:"qty_in"`
	QtyOut     decimal.Decimal `json:"qty_out"`
	BalanceQty decimal.Decimal `json:"balance_qty"`
	RefModule  string          `json:"ref_module,omitempty"`
	RefID      int64           `json:"ref_id,omitempty"`
	Note       string          `json:"note,omitempty"`
	PostedAt   time.Time       `json:"posted_at"`
	CreatedBy  int64           `json:"created_by,omitempty"`
}

// AdjustmentInput describes request to adjust stock.
type AdjustmentInput struct {
	ProductID int64
	Qty       decimal.Decimal
	Note      string
	ActorID   int64
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	ProductID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// ErrNegativeStock triggered when movement would result negative qty.
var ErrNegativeStock = errors.New("inventory: negative stock not allowed")

// ErrStockNotFound indicates a product without a stock row yet.
var ErrStockNotFound = errors.New("inventory: stock row not found")
