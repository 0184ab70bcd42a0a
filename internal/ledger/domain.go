package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
	"github.com/odyssey-erp/jewel-ledger/internal/workflow"
)

// AccountKind distinguishes bank accounts from cash registers.
type AccountKind string

const (
	// KindBank is a bank account.
	KindBank AccountKind = "BANK"
	// KindCash is a cash register / drawer.
	KindCash AccountKind = "CASH"
)

// Valid reports whether k is a known kind.
func (k AccountKind) Valid() bool {
	return k == KindBank || k == KindCash
}

// TransactionType enumerates postings supported by the recorder.
type TransactionType string

const (
	TypeDeposit     TransactionType = "DEPOSIT"
	TypeWithdrawal  TransactionType = "WITHDRAWAL"
	TypeTransferIn  TransactionType = "TRANSFER_IN"
	TypeTransferOut TransactionType = "TRANSFER_OUT"
	TypeFee         TransactionType = "FEE"
	TypeInterest    TransactionType = "INTEREST"
	TypeCheckIn     TransactionType = "CHECK_IN"
	TypeCheckOut    TransactionType = "CHECK_OUT"

	TypeCashIn  TransactionType = "CASH_IN"
	TypeCashOut TransactionType = "CASH_OUT"
	TypeOpening TransactionType = "OPENING"
	TypeClosing TransactionType = "CLOSING"
)

type typeRule struct {
	sign int64
	kind AccountKind
}

var typeRules = map[TransactionType]typeRule{
	TypeDeposit:     {sign: 1, kind: KindBank},
	TypeWithdrawal:  {sign: -1, kind: KindBank},
	TypeTransferIn:  {sign: 1, kind: KindBank},
	TypeTransferOut: {sign: -1, kind: KindBank},
	TypeFee:         {sign: -1, kind: KindBank},
	TypeInterest:    {sign: 1, kind: KindBank},
	TypeCheckIn:     {sign: 1, kind: KindBank},
	TypeCheckOut:    {sign: -1, kind: KindBank},
	TypeCashIn:      {sign: 1, kind: KindCash},
	TypeCashOut:     {sign: -1, kind: KindCash},
	TypeOpening:     {sign: 1, kind: KindCash},
	TypeClosing:     {sign: -1, kind: KindCash},
}

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	_, ok := typeRules[t]
	return ok
}

// SignedEffect returns +1 for types that increase the balance and -1 for
// types that decrease it. Unknown types return 0.
func (t TransactionType) SignedEffect() int64 {
	return typeRules[t].sign
}

// AllowedFor reports whether t may be posted to an account of kind k.
func (t TransactionType) AllowedFor(k AccountKind) bool {
	rule, ok := typeRules[t]
	return ok && rule.kind == k
}

// Signed applies the type's effect to a positive amount.
func (t TransactionType) Signed(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(t.SignedEffect()))
}

// InboundType is the incoming posting type for an account kind.
func InboundType(k AccountKind) TransactionType {
	if k == KindCash {
		return TypeCashIn
	}
	return TypeDeposit
}

// OpeningType is the type used to post an opening balance.
func OpeningType(k AccountKind) TransactionType {
	if k == KindCash {
		return TypeOpening
	}
	return TypeDeposit
}

func transferTypes(k AccountKind) (out, in TransactionType) {
	if k == KindCash {
		return TypeCashOut, TypeCashIn
	}
	return TypeTransferOut, TypeTransferIn
}

// Account is a bank account or cash register with a denormalized balance.
type Account struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Kind      AccountKind     `json:"kind"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is an immutable posting. Only the reconciliation flag changes
// after insert.
type Transaction struct {
	ID           int64             `json:"id"`
	AccountID    int64             `json:"account_id"`
	Type         TransactionType   `json:"type"`
	Amount       decimal.Decimal   `json:"amount"`
	TxDate       time.Time         `json:"tx_date"`
	BalanceAfter decimal.Decimal   `json:"balance_after"`
	Reference    string            `json:"reference,omitempty"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Reconciled   bool              `json:"reconciled"`
	ReconciledAt *time.Time        `json:"reconciled_at,omitempty"`
	CreatedBy    int64             `json:"created_by,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// SignedAmount is the balance delta of the posting.
func (t Transaction) SignedAmount() decimal.Decimal {
	return t.Type.Signed(t.Amount)
}

// RecordInput describes one posting request.
type RecordInput struct {
	AccountID   int64
	Type        TransactionType
	Amount      decimal.Decimal
	Currency    string
	TxDate      time.Time
	Reference   string
	Description string
	Metadata    map[string]string
	// AllowNegative is the administrative override for the non-negative
	// balance rule.
	AllowNegative  bool
	IdempotencyKey string
	ActorID        int64
}

func (in RecordInput) validate() error {
	if in.AccountID <= 0 {
		return shared.Invalid("account_id", "required")
	}
	if !in.Type.Valid() {
		return shared.Invalid("type", "unknown transaction type %q", in.Type)
	}
	if !in.Amount.IsPositive() {
		return shared.Invalid("amount", "must be greater than zero")
	}
	if !money.FitsScale(in.Amount, money.AmountPlaces) {
		return shared.Invalid("amount", "at most 2 decimal places")
	}
	return nil
}

// OpenAccountInput creates an account with an optional opening balance.
type OpenAccountInput struct {
	Code           string
	Name           string
	Kind           AccountKind
	Currency       string
	OpeningBalance decimal.Decimal
	OpeningDate    time.Time
	ActorID        int64
}

// TransferInput moves funds between two accounts of the same currency.
type TransferInput struct {
	FromAccountID  int64
	ToAccountID    int64
	Amount         decimal.Decimal
	TxDate         time.Time
	Reference      string
	Description    string
	IdempotencyKey string
	ActorID        int64
}

// StatementFilter narrows a statement by transaction date (inclusive).
type StatementFilter struct {
	From time.Time
	To   time.Time
}

// BalanceCheck is the outcome of recomputing an account from its postings.
type BalanceCheck struct {
	AccountID    int64           `json:"account_id"`
	Stored       decimal.Decimal `json:"stored"`
	Computed     decimal.Decimal `json:"computed"`
	Transactions int             `json:"transactions"`
	// FirstDriftTxID is the first posting whose BalanceAfter disagrees with
	// the running sum; zero when every snapshot agrees.
	FirstDriftTxID int64 `json:"first_drift_tx_id,omitempty"`
}

// Consistent reports whether the stored balance and every snapshot agree.
func (c BalanceCheck) Consistent() bool {
	return c.Stored.Equal(c.Computed) && c.FirstDriftTxID == 0
}

// ErrAccountHasHistory rejects deletion of an account that carries postings.
var ErrAccountHasHistory = fmt.Errorf("ledger: account has transaction history, deactivate instead: %w", shared.ErrInvariantViolation)

// ErrSameAccount rejects a transfer onto itself.
var ErrSameAccount error = &shared.ValidationError{Field: "to_account_id", Reason: "must differ from from_account_id"}

type accountState string

const (
	accountActive   accountState = "ACTIVE"
	accountInactive accountState = "INACTIVE"
)

func stateOf(a Account) accountState {
	if a.Active {
		return accountActive
	}
	return accountInactive
}

type reconcileState string

const (
	unreconciled reconcileState = "UNRECONCILED"
	reconciled   reconcileState = "RECONCILED"
)

var (
	accountMachine = workflow.New("ledger account",
		[]accountState{accountActive, accountInactive},
		workflow.Transition[accountState]{From: accountActive, Event: "deactivate", To: accountInactive},
	)
	reconcileMachine = workflow.New("ledger transaction",
		[]reconcileState{unreconciled, reconciled},
		workflow.Transition[reconcileState]{From: unreconciled, Event: "reconcile", To: reconciled},
	)
)
