package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

const idempotencyModule = "ledger"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListTransactions(ctx context.Context, accountID int64, filter StatementFilter) ([]Transaction, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics receives recorder outcomes.
type Metrics interface {
	TransactionRecorded(txType string)
	InvariantViolation(entity string)
}

type nopMetrics struct{}

func (nopMetrics) TransactionRecorded(string) {}
func (nopMetrics) InvariantViolation(string)  {}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger  *slog.Logger
	Metrics Metrics
	Now     func() time.Time
}

// Service is the transaction recorder and account registry.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	svc := &Service{repo: repo, audit: audit, metrics: cfg.Metrics, logger: cfg.Logger, now: cfg.Now}
	if svc.metrics == nil {
		svc.metrics = nopMetrics{}
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// OpenAccount registers an account and posts its opening balance in the same
// transaction.
func (s *Service) OpenAccount(ctx context.Context, input OpenAccountInput) (Account, error) {
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	if code == "" {
		return Account{}, shared.Invalid("code", "required")
	}
	if name == "" {
		return Account{}, shared.Invalid("name", "required")
	}
	if !input.Kind.Valid() {
		return Account{}, shared.Invalid("kind", "must be BANK or CASH")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = money.DefaultCurrency
	}
	if len(currency) != 3 {
		return Account{}, shared.Invalid("currency", "must be an ISO 4217 code")
	}
	if input.OpeningBalance.IsNegative() {
		return Account{}, shared.Invalid("opening_balance", "must not be negative")
	}

	now := s.now().UTC()
	account := Account{
		Code:      code,
		Name:      name,
		Kind:      input.Kind,
		Currency:  currency,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var opening *Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateAccount(ctx, account)
		if err != nil {
			return err
		}
		account.ID = id
		if !input.OpeningBalance.IsPositive() {
			return nil
		}
		txn, updated, err := s.post(ctx, tx, RecordInput{
			AccountID:   id,
			Type:        OpeningType(input.Kind),
			Amount:      input.OpeningBalance,
			TxDate:      input.OpeningDate,
			Reference:   "OPENING",
			Description: "Opening balance",
			ActorID:     input.ActorID,
		})
		if err != nil {
			return err
		}
		account = updated
		opening = &txn
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	if opening != nil {
		s.metrics.TransactionRecorded(string(opening.Type))
	}
	s.recordAudit(ctx, input.ActorID, "ledger:account:open", "ledger_account", account.ID, map[string]any{
		"code":            account.Code,
		"kind":            account.Kind,
		"currency":        account.Currency,
		"opening_balance": input.OpeningBalance.StringFixed(2),
	})
	s.logger.Info("ledger account opened", slog.Int64("account_id", account.ID), slog.String("code", account.Code), slog.String("balance", account.Balance.StringFixed(2)))
	return account, nil
}

// Record posts one transaction in its own atomic unit.
func (s *Service) Record(ctx context.Context, input RecordInput) (Transaction, error) {
	var txn Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		txn, _, err = s.post(ctx, tx, input)
		return err
	})
	if err != nil {
		s.observeRejection("record", input.AccountID, err)
		return Transaction{}, err
	}
	s.metrics.TransactionRecorded(string(txn.Type))
	s.recordAudit(ctx, input.ActorID, "ledger:record", "ledger_transaction", txn.ID, map[string]any{
		"account_id":    txn.AccountID,
		"type":          txn.Type,
		"amount":        txn.Amount.StringFixed(2),
		"balance_after": txn.BalanceAfter.StringFixed(2),
		"reference":     txn.Reference,
	})
	s.logger.Info("ledger transaction recorded",
		slog.Int64("account_id", txn.AccountID),
		slog.Int64("tx_id", txn.ID),
		slog.String("type", string(txn.Type)),
		slog.String("amount", txn.Amount.StringFixed(2)),
		slog.String("balance_after", txn.BalanceAfter.StringFixed(2)),
	)
	return txn, nil
}

// Post runs the recorder inside a caller-owned transaction. The caller is
// responsible for committing and for post-commit side effects.
func (s *Service) Post(ctx context.Context, tx TxRepository, input RecordInput) (Transaction, error) {
	txn, _, err := s.post(ctx, tx, input)
	return txn, err
}

func (s *Service) post(ctx context.Context, tx TxRepository, input RecordInput) (Transaction, Account, error) {
	if err := input.validate(); err != nil {
		return Transaction{}, Account{}, err
	}
	account, err := tx.GetAccountForUpdate(ctx, input.AccountID)
	if err != nil {
		return Transaction{}, Account{}, err
	}
	if err := accountMachine.Guard(account.ID, stateOf(account), "post", accountActive); err != nil {
		return Transaction{}, Account{}, err
	}
	if !input.Type.AllowedFor(account.Kind) {
		return Transaction{}, Account{}, shared.Invalid("type", "%s is not allowed on a %s account", input.Type, account.Kind)
	}
	if input.Currency != "" && !strings.EqualFold(input.Currency, account.Currency) {
		return Transaction{}, Account{}, shared.Invalid("currency", "account %d is kept in %s", account.ID, account.Currency)
	}
	if input.IdempotencyKey != "" {
		if err := tx.RegisterIdempotencyKey(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			return Transaction{}, Account{}, err
		}
	}

	newBalance := account.Balance.Add(input.Type.Signed(input.Amount))
	if newBalance.IsNegative() && !input.AllowNegative {
		return Transaction{}, Account{}, &shared.InvariantViolationError{
			Entity:    "ledger account",
			ID:        account.ID,
			Currency:  account.Currency,
			Attempted: input.Amount,
			Available: account.Balance,
		}
	}

	now := s.now().UTC()
	txDate := input.TxDate
	if txDate.IsZero() {
		txDate = now
	}
	txn := Transaction{
		AccountID:    account.ID,
		Type:         input.Type,
		Amount:       input.Amount,
		TxDate:       txDate,
		BalanceAfter: newBalance,
		Reference:    input.Reference,
		Description:  input.Description,
		Metadata:     input.Metadata,
		CreatedBy:    input.ActorID,
		CreatedAt:    now,
	}
	id, err := tx.InsertTransaction(ctx, txn)
	if err != nil {
		return Transaction{}, Account{}, err
	}
	txn.ID = id
	if err := tx.UpdateAccountBalance(ctx, account.ID, newBalance, now); err != nil {
		return Transaction{}, Account{}, err
	}
	account.Balance = newBalance
	account.UpdatedAt = now
	return txn, account, nil
}

// Transfer moves an amount between two accounts as an outgoing and an incoming
// posting. Accounts are locked in ascending id order.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (Transaction, Transaction, error) {
	if input.FromAccountID <= 0 {
		return Transaction{}, Transaction{}, shared.Invalid("from_account_id", "required")
	}
	if input.ToAccountID <= 0 {
		return Transaction{}, Transaction{}, shared.Invalid("to_account_id", "required")
	}
	if input.FromAccountID == input.ToAccountID {
		return Transaction{}, Transaction{}, ErrSameAccount
	}
	if !input.Amount.IsPositive() {
		return Transaction{}, Transaction{}, shared.Invalid("amount", "must be greater than zero")
	}
	reference := input.Reference
	if reference == "" {
		reference = "TRF-" + uuid.NewString()
	}

	var out, in Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		first, second := input.FromAccountID, input.ToAccountID
		if first > second {
			first, second = second, first
		}
		locked := make(map[int64]Account, 2)
		for _, id := range []int64{first, second} {
			acc, err := tx.GetAccountForUpdate(ctx, id)
			if err != nil {
				return err
			}
			locked[id] = acc
		}
		from, to := locked[input.FromAccountID], locked[input.ToAccountID]
		if from.Currency != to.Currency {
			return shared.Invalid("to_account_id", "currency %s does not match %s", to.Currency, from.Currency)
		}
		outType, _ := transferTypes(from.Kind)
		_, inType := transferTypes(to.Kind)

		var err error
		out, _, err = s.post(ctx, tx, RecordInput{
			AccountID:      from.ID,
			Type:           outType,
			Amount:         input.Amount,
			TxDate:         input.TxDate,
			Reference:      reference,
			Description:    input.Description,
			Metadata:       map[string]string{"counterparty_account_id": strconv.FormatInt(to.ID, 10)},
			IdempotencyKey: input.IdempotencyKey,
			ActorID:        input.ActorID,
		})
		if err != nil {
			return err
		}
		in, _, err = s.post(ctx, tx, RecordInput{
			AccountID:   to.ID,
			Type:        inType,
			Amount:      input.Amount,
			TxDate:      input.TxDate,
			Reference:   reference,
			Description: input.Description,
			Metadata:    map[string]string{"counterparty_account_id": strconv.FormatInt(from.ID, 10)},
			ActorID:     input.ActorID,
		})
		return err
	})
	if err != nil {
		s.observeRejection("transfer", input.FromAccountID, err)
		return Transaction{}, Transaction{}, err
	}
	s.metrics.TransactionRecorded(string(out.Type))
	s.metrics.TransactionRecorded(string(in.Type))
	s.recordAudit(ctx, input.ActorID, "ledger:transfer", "ledger_transaction", out.ID, map[string]any{
		"from_account_id": out.AccountID,
		"to_account_id":   in.AccountID,
		"amount":          input.Amount.StringFixed(2),
		"reference":       reference,
	})
	s.logger.Info("ledger transfer recorded", slog.Int64("from_account_id", out.AccountID), slog.Int64("to_account_id", in.AccountID), slog.String("amount", input.Amount.StringFixed(2)))
	return out, in, nil
}

// Reconcile marks a transaction as matched against the bank statement.
func (s *Service) Reconcile(ctx context.Context, txID int64, at time.Time, actorID int64) (Transaction, error) {
	if txID <= 0 {
		return Transaction{}, shared.Invalid("id", "required")
	}
	if at.IsZero() {
		at = s.now().UTC()
	}
	var txn Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		txn, err = tx.GetTransactionForUpdate(ctx, txID)
		if err != nil {
			return err
		}
		current := unreconciled
		if txn.Reconciled {
			current = reconciled
		}
		if _, err := reconcileMachine.Fire(txn.ID, current, "reconcile"); err != nil {
			return err
		}
		if err := tx.MarkReconciled(ctx, txn.ID, at); err != nil {
			return err
		}
		txn.Reconciled = true
		txn.ReconciledAt = &at
		return nil
	})
	if err != nil {
		s.observeRejection("reconcile", 0, err)
		return Transaction{}, err
	}
	s.recordAudit(ctx, actorID, "ledger:reconcile", "ledger_transaction", txn.ID, map[string]any{"reconciled_at": at})
	return txn, nil
}

// Deactivate soft-deletes an account. Postings are kept and further records
// are rejected.
func (s *Service) Deactivate(ctx context.Context, accountID, actorID int64) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if _, err := accountMachine.Fire(account.ID, stateOf(account), "deactivate"); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := tx.SetAccountActive(ctx, account.ID, false, now); err != nil {
			return err
		}
		account.Active = false
		account.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.observeRejection("deactivate", accountID, err)
		return Account{}, err
	}
	s.recordAudit(ctx, actorID, "ledger:account:deactivate", "ledger_account", account.ID, nil)
	s.logger.Info("ledger account deactivated", slog.Int64("account_id", account.ID))
	return account, nil
}

// DeleteAccount removes an account that never carried a posting.
func (s *Service) DeleteAccount(ctx context.Context, accountID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		n, err := tx.CountTransactions(ctx, account.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("account %d has %d transactions: %w", account.ID, n, ErrAccountHasHistory)
		}
		return tx.DeleteAccount(ctx, account.ID)
	})
	if err != nil {
		s.observeRejection("delete", accountID, err)
		return err
	}
	s.recordAudit(ctx, actorID, "ledger:account:delete", "ledger_account", accountID, nil)
	return nil
}

// GetAccount returns an account by id.
func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ListAccounts returns every account ordered by id.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.repo.ListAccounts(ctx)
}

// Statement lists an account's transactions in recording order.
func (s *Service) Statement(ctx context.Context, accountID int64, filter StatementFilter) ([]Transaction, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, shared.Invalid("from", "must not be after to")
	}
	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, accountID, filter)
}

// VerifyBalance recomputes the account from its postings under the account
// lock and reports the first snapshot that disagrees with the running sum.
func (s *Service) VerifyBalance(ctx context.Context, accountID int64) (BalanceCheck, error) {
	var check BalanceCheck
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		postings, err := tx.ListPostings(ctx, account.ID)
		if err != nil {
			return err
		}
		check = Reconstruct(account, postings)
		return nil
	})
	if err != nil {
		return BalanceCheck{}, err
	}
	return check, nil
}

// Reconstruct folds postings, given in recording order, into a BalanceCheck.
func Reconstruct(account Account, postings []Transaction) BalanceCheck {
	check := BalanceCheck{AccountID: account.ID, Stored: account.Balance, Transactions: len(postings)}
	running := check.Computed
	for _, p := range postings {
		running = running.Add(p.SignedAmount())
		if check.FirstDriftTxID == 0 && !p.BalanceAfter.Equal(running) {
			check.FirstDriftTxID = p.ID
		}
	}
	check.Computed = running
	return check
}

func (s *Service) observeRejection(op string, accountID int64, err error) {
	attrs := []any{slog.String("op", op), slog.Int64("account_id", accountID), slog.Any("error", err)}
	switch {
	case errors.Is(err, shared.ErrInvariantViolation):
		s.metrics.InvariantViolation("ledger account")
		s.logger.Warn("ledger invariant rejected write", attrs...)
	case shared.IsClientError(err):
		s.logger.Warn("ledger request rejected", attrs...)
	default:
		s.logger.Error("ledger write failed", attrs...)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: shared.EntityRef(id),
		Meta:     meta,
		At:       s.now().UTC(),
	})
}
