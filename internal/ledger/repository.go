package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/platform/db"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// TxRepository exposes transactional operations used by the recorder. Other
// modules embed it so their writes share one database transaction with the
// postings they trigger.
type TxRepository interface {
	CreateAccount(ctx context.Context, account Account) (int64, error)
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	UpdateAccountBalance(ctx context.Context, id int64, balance money.Amount, at time.Time) error
	SetAccountActive(ctx context.Context, id int64, active bool, at time.Time) error
	DeleteAccount(ctx context.Context, id int64) error
	CountTransactions(ctx context.Context, accountID int64) (int64, error)
	InsertTransaction(ctx context.Context, txn Transaction) (int64, error)
	GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error)
	MarkReconciled(ctx context.Context, id int64, at time.Time) error
	ListPostings(ctx context.Context, accountID int64) ([]Transaction, error)
	RegisterIdempotencyKey(ctx context.Context, key, module string) error
}

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepo binds the ledger statements to an open transaction. It is exported
// so other modules' repositories can compose it.
type TxRepo struct {
	tx pgx.Tx
}

// NewTxRepo wraps tx.
func NewTxRepo(tx pgx.Tx) *TxRepo {
	return &TxRepo{tx: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepo(tx))
	})
}

const accountColumns = `id, code, name, kind, currency, balance, active, created_at, updated_at`

const transactionColumns = `id, account_id, tx_type, amount, tx_date, balance_after, reference, description, metadata,
	reconciled, reconciled_at, COALESCE(created_by, 0), created_at`

// GetAccount loads one account.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id=$1`, id), id)
}

// ListAccounts returns all accounts ordered by id.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows, 0)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// ListTransactions returns a statement in recording order.
func (r *Repository) ListTransactions(ctx context.Context, accountID int64, filter StatementFilter) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions
WHERE account_id=$1
  AND ($2::date IS NULL OR tx_date >= $2)
  AND ($3::date IS NULL OR tx_date <= $3)
ORDER BY id`, accountID, optionalDate(filter.From), optionalDate(filter.To))
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (t *TxRepo) CreateAccount(ctx context.Context, account Account) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO ledger_accounts (code, name, kind, currency, balance, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		account.Code, account.Name, string(account.Kind), account.Currency, money.ToNumeric(account.Balance),
		account.Active, account.CreatedAt, account.UpdatedAt).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, shared.Invalid("code", "account code %q already exists", account.Code)
		}
		return 0, err
	}
	return id, nil
}

func (t *TxRepo) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id=$1 FOR UPDATE`, id), id)
}

func (t *TxRepo) UpdateAccountBalance(ctx context.Context, id int64, balance money.Amount, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE ledger_accounts SET balance=$2, updated_at=$3 WHERE id=$1`, id, money.ToNumeric(balance), at)
	return err
}

func (t *TxRepo) SetAccountActive(ctx context.Context, id int64, active bool, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE ledger_accounts SET active=$2, updated_at=$3 WHERE id=$1`, id, active, at)
	return err
}

func (t *TxRepo) DeleteAccount(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM ledger_accounts WHERE id=$1`, id)
	return err
}

func (t *TxRepo) CountTransactions(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_transactions WHERE account_id=$1`, accountID).Scan(&n)
	return n, err
}

func (t *TxRepo) InsertTransaction(ctx context.Context, txn Transaction) (int64, error) {
	meta, err := json.Marshal(txn.Metadata)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO ledger_transactions
(account_id, tx_type, amount, tx_date, balance_after, reference, description, metadata, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		txn.AccountID, string(txn.Type), money.ToNumeric(txn.Amount), pgtype.Date{Time: txn.TxDate, Valid: true},
		money.ToNumeric(txn.BalanceAfter), txn.Reference, txn.Description, meta,
		pgtype.Int8{Int64: txn.CreatedBy, Valid: txn.CreatedBy != 0}, txn.CreatedAt).Scan(&id)
	return id, err
}

func (t *TxRepo) GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error) {
	txn, err := scanTransaction(t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, shared.NotFound("ledger transaction", id)
	}
	return txn, err
}

func (t *TxRepo) MarkReconciled(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE ledger_transactions SET reconciled=TRUE, reconciled_at=$2 WHERE id=$1`, id, at)
	return err
}

func (t *TxRepo) ListPostings(ctx context.Context, accountID int64) ([]Transaction, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE account_id=$1 ORDER BY id`, accountID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (t *TxRepo) RegisterIdempotencyKey(ctx context.Context, key, module string) error {
	return shared.InsertIdempotencyKey(ctx, t.tx, key, module)
}

func scanAccount(row pgx.Row, id int64) (Account, error) {
	var (
		acc     Account
		kind    string
		balance pgtype.Numeric
	)
	err := row.Scan(&acc.ID, &acc.Code, &acc.Name, &kind, &acc.Currency, &balance, &acc.Active, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.NotFound("ledger account", id)
		}
		return Account{}, err
	}
	acc.Kind = AccountKind(kind)
	if acc.Balance, err = money.FromNumeric(balance); err != nil {
		return Account{}, err
	}
	return acc, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		txn          Transaction
		txType       string
		amount       pgtype.Numeric
		balanceAfter pgtype.Numeric
		txDate       pgtype.Date
		meta         []byte
		reconciledAt pgtype.Timestamptz
	)
	err := row.Scan(&txn.ID, &txn.AccountID, &txType, &amount, &txDate, &balanceAfter, &txn.Reference, &txn.Description,
		&meta, &txn.Reconciled, &reconciledAt, &txn.CreatedBy, &txn.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	txn.Type = TransactionType(txType)
	txn.TxDate = txDate.Time
	if txn.Amount, err = money.FromNumeric(amount); err != nil {
		return Transaction{}, err
	}
	if txn.BalanceAfter, err = money.FromNumeric(balanceAfter); err != nil {
		return Transaction{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &txn.Metadata); err != nil {
			return Transaction{}, err
		}
	}
	if reconciledAt.Valid {
		at := reconciledAt.Time
		txn.ReconciledAt = &at
	}
	return txn, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var txns []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func optionalDate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: t, Valid: !t.IsZero()}
}
