package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/jewel-ledger/internal/inventory"
	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/platform/db"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Stock statements share the
// transaction so a completed receipt and its stock movements commit together.
type TxRepository interface {
	inventory.TxRepository
	CreatePurchase(ctx context.Context, p Purchase) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error)
	UpdateLineReceived(ctx context.Context, lineID int64, qty money.Amount) error
	UpdatePurchase(ctx context.Context, p Purchase) error
	DeletePurchase(ctx context.Context, id int64) error
}

// TxRepo binds purchase statements, plus inventory's, to an open transaction.
type TxRepo struct {
	*inventory.TxRepo
	tx pgx.Tx
}

// NewTxRepo wraps tx.
func NewTxRepo(tx pgx.Tx) *TxRepo {
	return &TxRepo{TxRepo: inventory.NewTxRepo(tx), tx: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepo(tx))
	})
}

const purchaseColumns = `id, number, supplier_id, status, currency, subtotal, tax, total, order_date, received_at,
	COALESCE(note, ''), COALESCE(cancel_reason, ''), COALESCE(created_by, 0), created_at, updated_at`

// GetPurchase returns a purchase with its lines.
func (r *Repository) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id), id)
	if err != nil {
		return Purchase{}, err
	}
	p.Lines, err = loadLines(ctx, r.pool, id)
	return p, err
}

// ListPurchases returns purchase headers, newest first.
func (r *Repository) ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SupplierID > 0 {
		args = append(args, filter.SupplierID)
		where = append(where, fmt.Sprintf("supplier_id = $%d", len(args)))
	}
	query := `SELECT ` + purchaseColumns + ` FROM purchases`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *TxRepo) CreatePurchase(ctx context.Context, p Purchase) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchases
(number, supplier_id, status, currency, subtotal, tax, total, order_date, note, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $11) RETURNING id`,
		p.Number, p.SupplierID, string(p.Status), p.Currency,
		money.ToNumeric(p.Subtotal), money.ToNumeric(p.Tax), money.ToNumeric(p.Total),
		pgtype.Date{Time: p.OrderDate, Valid: true}, p.Note,
		pgtype.Int8{Int64: p.CreatedBy, Valid: p.CreatedBy != 0}, p.CreatedAt).Scan(&id)
	return id, err
}

func (t *TxRepo) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_lines (purchase_id, product_id, ordered_qty, received_qty, unit_cost)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		line.PurchaseID, line.ProductID, money.ToNumeric(line.OrderedQty), money.ToNumeric(line.ReceivedQty),
		money.ToNumeric(line.UnitCost)).Scan(&id)
	return id, err
}

func (t *TxRepo) GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error) {
	p, err := scanPurchase(t.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1 FOR UPDATE`, id), id)
	if err != nil {
		return Purchase{}, err
	}
	p.Lines, err = loadLines(ctx, t.tx, id)
	return p, err
}

func (t *TxRepo) UpdateLineReceived(ctx context.Context, lineID int64, qty money.Amount) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_lines SET received_qty=$2 WHERE id=$1`, lineID, money.ToNumeric(qty))
	return err
}

func (t *TxRepo) UpdatePurchase(ctx context.Context, p Purchase) error {
	var receivedAt pgtype.Timestamptz
	if p.ReceivedAt != nil {
		receivedAt = pgtype.Timestamptz{Time: *p.ReceivedAt, Valid: true}
	}
	_, err := t.tx.Exec(ctx, `UPDATE purchases SET status=$2, received_at=$3, cancel_reason=NULLIF($4, ''), updated_at=$5 WHERE id=$1`,
		p.ID, string(p.Status), receivedAt, p.CancelReason, p.UpdatedAt)
	return err
}

func (t *TxRepo) DeletePurchase(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_lines WHERE purchase_id=$1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM purchases WHERE id=$1`, id)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, purchaseID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, purchase_id, product_id, ordered_qty, received_qty, unit_cost
FROM purchase_lines WHERE purchase_id=$1 ORDER BY id`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var (
			line                    Line
			ordered, received, cost pgtype.Numeric
		)
		if err := rows.Scan(&line.ID, &line.PurchaseID, &line.ProductID, &ordered, &received, &cost); err != nil {
			return nil, err
		}
		if line.OrderedQty, err = money.FromNumeric(ordered); err != nil {
			return nil, err
		}
		if line.ReceivedQty, err = money.FromNumeric(received); err != nil {
			return nil, err
		}
		if line.UnitCost, err = money.FromNumeric(cost); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanPurchase(row pgx.Row, id int64) (Purchase, error) {
	var (
		p                 Purchase
		status            string
		subtotal, tax, tt pgtype.Numeric
		orderDate         pgtype.Date
		receivedAt        pgtype.Timestamptz
	)
	err := row.Scan(&p.ID, &p.Number, &p.SupplierID, &status, &p.Currency, &subtotal, &tax, &tt, &orderDate, &receivedAt,
		&p.Note, &p.CancelReason, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, shared.NotFound("purchase", id)
		}
		return Purchase{}, err
	}
	p.Status = Status(status)
	p.OrderDate = orderDate.Time
	if receivedAt.Valid {
		at := receivedAt.Time
		p.ReceivedAt = &at
	}
	if p.Subtotal, err = money.FromNumeric(subtotal); err != nil {
		return Purchase{}, err
	}
	if p.Tax, err = money.FromNumeric(tax); err != nil {
		return Purchase{}, err
	}
	if p.Total, err = money.FromNumeric(tt); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

var _ TxRepository = (*TxRepo)(nil)
