package sales

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/jewel-ledger/internal/ledger"
	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/platform/db"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// TxRepository exposes transactional operations. It embeds the ledger's so a
// payment posting commits together with the sale update.
type TxRepository interface {
	ledger.TxRepository
	CreateSale(ctx context.Context, sale Sale) (int64, error)
	InsertSaleLine(ctx context.Context, line SaleLine) (int64, error)
	GetSaleForUpdate(ctx context.Context, id int64) (Sale, error)
	UpdateSaleStatus(ctx context.Context, id int64, status SaleStatus, at time.Time) error
	UpdateSalePaid(ctx context.Context, id int64, paid money.Amount, at time.Time) error
	InsertPayment(ctx context.Context, payment Payment) (int64, error)
}

// Repository persists sales in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepo binds sale statements, plus the ledger's, to an open transaction.
type TxRepo struct {
	*ledger.TxRepo
	tx pgx.Tx
}

// NewTxRepo wraps tx.
func NewTxRepo(tx pgx.Tx) *TxRepo {
	return &TxRepo{TxRepo: ledger.NewTxRepo(tx), tx: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepo(tx))
	})
}

const saleColumns = `id, number, customer_id, status, currency, subtotal, tax, total, paid_amount, sale_date,
	COALESCE(created_by, 0), created_at, updated_at`

// GetSale returns a sale with its lines.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id), id)
	if err != nil {
		return Sale{}, err
	}
	sale.Lines, err = loadLines(ctx, r.pool, id)
	return sale, err
}

// ListPayments returns the payments of a sale in recording order.
func (r *Repository) ListPayments(ctx context.Context, saleID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, account_id, ledger_tx_id, amount, paid_at, COALESCE(recorded_by, 0)
FROM sale_payments WHERE sale_id=$1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var (
			p      Payment
			amount pgtype.Numeric
		)
		if err := rows.Scan(&p.ID, &p.SaleID, &p.AccountID, &p.LedgerTxID, &amount, &p.PaidAt, &p.RecordedBy); err != nil {
			return nil, err
		}
		if p.Amount, err = money.FromNumeric(amount); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (t *TxRepo) CreateSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales
(number, customer_id, status, currency, subtotal, tax, total, paid_amount, sale_date, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11) RETURNING id`,
		sale.Number, sale.CustomerID, string(sale.Status), sale.Currency,
		money.ToNumeric(sale.Subtotal), money.ToNumeric(sale.Tax), money.ToNumeric(sale.Total), money.ToNumeric(sale.PaidAmount),
		pgtype.Date{Time: sale.SaleDate, Valid: true}, pgtype.Int8{Int64: sale.CreatedBy, Valid: sale.CreatedBy != 0},
		sale.CreatedAt).Scan(&id)
	return id, err
}

func (t *TxRepo) InsertSaleLine(ctx context.Context, line SaleLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4) RETURNING id`,
		line.SaleID, line.ProductID, money.ToNumeric(line.Quantity), money.ToNumeric(line.UnitPrice)).Scan(&id)
	return id, err
}

func (t *TxRepo) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	sale, err := scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1 FOR UPDATE`, id), id)
	if err != nil {
		return Sale{}, err
	}
	sale.Lines, err = loadLines(ctx, t.tx, id)
	return sale, err
}

func (t *TxRepo) UpdateSaleStatus(ctx context.Context, id int64, status SaleStatus, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales SET status=$2, updated_at=$3 WHERE id=$1`, id, string(status), at)
	return err
}

func (t *TxRepo) UpdateSalePaid(ctx context.Context, id int64, paid money.Amount, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales SET paid_amount=$2, updated_at=$3 WHERE id=$1`, id, money.ToNumeric(paid), at)
	return err
}

func (t *TxRepo) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_payments (sale_id, account_id, ledger_tx_id, amount, paid_at, recorded_by)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		payment.SaleID, payment.AccountID, payment.LedgerTxID, money.ToNumeric(payment.Amount), payment.PaidAt,
		pgtype.Int8{Int64: payment.RecordedBy, Valid: payment.RecordedBy != 0}).Scan(&id)
	return id, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, saleID int64) ([]SaleLine, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, product_id, quantity, unit_price FROM sale_lines WHERE sale_id=$1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []SaleLine
	for rows.Next() {
		var (
			line       SaleLine
			qty, price pgtype.Numeric
		)
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &qty, &price); err != nil {
			return nil, err
		}
		if line.Quantity, err = money.FromNumeric(qty); err != nil {
			return nil, err
		}
		if line.UnitPrice, err = money.FromNumeric(price); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanSale(row pgx.Row, id int64) (Sale, error) {
	var (
		sale                       Sale
		status                     string
		subtotal, tax, total, paid pgtype.Numeric
		saleDate                   pgtype.Date
	)
	err := row.Scan(&sale.ID, &sale.Number, &sale.CustomerID, &status, &sale.Currency, &subtotal, &tax, &total, &paid,
		&saleDate, &sale.CreatedBy, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, shared.NotFound("sale", id)
		}
		return Sale{}, err
	}
	sale.Status = SaleStatus(status)
	sale.SaleDate = saleDate.Time
	for _, f := range []struct {
		dst *money.Amount
		src pgtype.Numeric
	}{{&sale.Subtotal, subtotal}, {&sale.Tax, tax}, {&sale.Total, total}, {&sale.PaidAmount, paid}} {
		if *f.dst, err = money.FromNumeric(f.src); err != nil {
			return Sale{}, err
		}
	}
	return sale, nil
}
