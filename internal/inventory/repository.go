package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetStockForUpdate(ctx context.Context, productID int64) (Stock, error)
	UpsertStock(ctx context.Context, stock Stock) error
	InsertCardEntry(ctx context.Context, card StockCardEntry) (int64, error)
}

// TxRepo binds stock statements to an open transaction.
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

// GetStock reads the current quantity without locking.
func (r *Repository) GetStock(ctx context.Context, productID int64) (Stock, error) {
	return scanStock(r.pool.QueryRow(ctx, `SELECT product_id, qty, updated_at FROM product_stock WHERE product_id=$1`, productID))
}

// GetStockCard lists card entries in posting order.
func (r *Repository) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, movement_type, qty_in, qty_out, balance_qty, ref_module,
	COALESCE(ref_id, 0), note, posted_at, COALESCE(created_by, 0)
FROM stock_cards
WHERE product_id=$1
  AND ($2::timestamptz IS NULL OR posted_at >= $2)
  AND ($3::timestamptz IS NULL OR posted_at <= $3)
ORDER BY id
LIMIT $4`, filter.ProductID,
		pgtype.Timestamptz{Time: filter.From, Valid: !filter.From.IsZero()},
		pgtype.Timestamptz{Time: filter.To, Valid: !filter.To.IsZero()},
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []StockCardEntry
	for rows.Next() {
		var (
			entry  StockCardEntry
			kind   string
			qtyIn  pgtype.Numeric
			qtyOut pgtype.Numeric
			bal    pgtype.Numeric
		)
		if err := rows.Scan(&entry.ID, &entry.ProductID, &kind, &qtyIn, &qtyOut, &bal, &entry.RefModule,
			&entry.RefID, &entry.Note, &entry.PostedAt, &entry.CreatedBy); err != nil {
			return nil, err
		}
		entry.Type = MovementType(kind)
		if entry.QtyIn, err = money.FromNumeric(qtyIn); err != nil {
			return nil, err
		}
		if entry.QtyOut, err = money.FromNumeric(qtyOut); err != nil {
			return nil, err
		}
		if entry.BalanceQty, err = money.FromNumeric(bal); err != nil {
			return nil, err
		}
		cards = append(cards, entry)
	}
	return cards, rows.Err()
}

func (t *TxRepo) GetStockForUpdate(ctx context.Context, productID int64) (Stock, error) {
	return scanStock(t.tx.QueryRow(ctx, `SELECT product_id, qty, updated_at FROM product_stock WHERE product_id=$1 FOR UPDATE`, productID))
}

func (t *TxRepo) UpsertStock(ctx context.Context, stock Stock) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO product_stock (product_id, qty, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (product_id) DO UPDATE SET qty = EXCLUDED.qty, updated_at = EXCLUDED.updated_at`,
		stock.ProductID, money.ToNumeric(stock.Qty), stock.UpdatedAt)
	return err
}

func (t *TxRepo) InsertCardEntry(ctx context.Context, card StockCardEntry) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_cards
(product_id, movement_type, qty_in, qty_out, balance_qty, ref_module, ref_id, note, posted_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		card.ProductID, string(card.Type), money.ToNumeric(card.QtyIn), money.ToNumeric(card.QtyOut),
		money.ToNumeric(card.BalanceQty), card.RefModule, pgtype.Int8{Int64: card.RefID, Valid: card.RefID != 0},
		card.Note, card.PostedAt, pgtype.Int8{Int64: card.CreatedBy, Valid: card.CreatedBy != 0}).Scan(&id)
	return id, err
}

func scanStock(row pgx.Row) (Stock, error) {
	var (
		stock Stock
		qty   pgtype.Numeric
	)
	if err := row.Scan(&stock.ProductID, &qty, &stock.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stock{}, ErrStockNotFound
		}
		return Stock{}, err
	}
	var err error
	stock.Qty, err = money.FromNumeric(qty)
	return stock, err
}
