package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/jewel-ledger/internal/inventory"
	"github.com/odyssey-erp/jewel-ledger/internal/money"
	"github.com/odyssey-erp/jewel-ledger/internal/platform/db"
	"github.com/odyssey-erp/jewel-ledger/internal/procurement"
	"github.com/odyssey-erp/jewel-ledger/internal/sales"
	"github.com/odyssey-erp/jewel-ledger/internal/shared"
)

// TxRepository is everything a return transition touches in one transaction:
// the return itself, its originating sale or purchase, and stock.
type TxRepository interface {
	inventory.TxRepository
	GetSaleForUpdate(ctx context.Context, id int64) (sales.Sale, error)
	UpdateSaleStatus(ctx context.Context, id int64, status sales.SaleStatus, at time.Time) error
	GetPurchaseForUpdate(ctx context.Context, id int64) (procurement.Purchase, error)
	// HasActiveReturn reports whether a return other than excludeID against the
	// same sale or purchase is APPROVED or COMPLETED.
	HasActiveReturn(ctx context.Context, kind Kind, originID, excludeID int64) (bool, error)
	CreateReturn(ctx context.Context, r Return) (int64, error)
	GetReturnForUpdate(ctx context.Context, id int64) (Return, error)
	UpdateReturn(ctx context.Context, r Return) error
	DeleteReturn(ctx context.Context, id int64) error
}

// Repository persists returns in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepo binds return statements to an open transaction and delegates the
// originating-document reads to the sales and procurement repositories.
type TxRepo struct {
	*inventory.TxRepo
	sales     *sales.TxRepo
	purchases *procurement.TxRepo
	tx        pgx.Tx
}

// NewTxRepo wraps tx.
func NewTxRepo(tx pgx.Tx) *TxRepo {
	return &TxRepo{
		TxRepo:    inventory.NewTxRepo(tx),
		sales:     sales.NewTxRepo(tx),
		purchases: procurement.NewTxRepo(tx),
		tx:        tx,
	}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepo(tx))
	})
}

const returnColumns = `id, number, kind, COALESCE(sale_id, 0), COALESCE(purchase_id, 0), status, reason,
	COALESCE(details, ''), refund_amount, return_date, COALESCE(approved_by, 0), approved_at,
	COALESCE(rejected_by, 0), rejected_at, COALESCE(rejection_reason, ''), completed_at,
	COALESCE(created_by, 0), created_at, updated_at`

// GetReturn loads a return by id.
func (r *Repository) GetReturn(ctx context.Context, id int64) (Return, error) {
	return scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM returns WHERE id=$1`, id), id)
}

// ListReturns returns the newest returns first.
func (r *Repository) ListReturns(ctx context.Context, filter ListFilter) ([]Return, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + returnColumns + ` FROM returns`
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
	var out []Return
	for rows.Next() {
		ret, err := scanReturn(rows, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

func (t *TxRepo) GetSaleForUpdate(ctx context.Context, id int64) (sales.Sale, error) {
	return t.sales.GetSaleForUpdate(ctx, id)
}

func (t *TxRepo) UpdateSaleStatus(ctx context.Context, id int64, status sales.SaleStatus, at time.Time) error {
	return t.sales.UpdateSaleStatus(ctx, id, status, at)
}

func (t *TxRepo) GetPurchaseForUpdate(ctx context.Context, id int64) (procurement.Purchase, error) {
	return t.purchases.GetPurchaseForUpdate(ctx, id)
}

func (t *TxRepo) HasActiveReturn(ctx context.Context, kind Kind, originID, excludeID int64) (bool, error) {
	column := "sale_id"
	if kind == KindSupplier {
		column = "purchase_id"
	}
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM returns WHERE `+column+`=$1 AND id<>$2 AND status IN ($3, $4))`,
		originID, excludeID, string(StatusApproved), string(StatusCompleted)).Scan(&exists)
	return exists, err
}

func (t *TxRepo) CreateReturn(ctx context.Context, r Return) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO returns
(number, kind, sale_id, purchase_id, status, reason, details, refund_amount, return_date, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $11) RETURNING id`,
		r.Number, string(r.Kind), optionalID(r.SaleID), optionalID(r.PurchaseID), string(r.Status), r.Reason, r.Details,
		money.ToNumeric(r.RefundAmount), pgtype.Date{Time: r.ReturnDate, Valid: true}, optionalID(r.CreatedBy),
		r.CreatedAt).Scan(&id)
	return id, err
}

func (t *TxRepo) GetReturnForUpdate(ctx context.Context, id int64) (Return, error) {
	return scanReturn(t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM returns WHERE id=$1 FOR UPDATE`, id), id)
}

func (t *TxRepo) UpdateReturn(ctx context.Context, r Return) error {
	_, err := t.tx.Exec(ctx, `UPDATE returns SET status=$2, reason=$3, details=NULLIF($4, ''), refund_amount=$5,
approved_by=$6, approved_at=$7, rejected_by=$8, rejected_at=$9, rejection_reason=NULLIF($10, ''), completed_at=$11, updated_at=$12
WHERE id=$1`,
		r.ID, string(r.Status), r.Reason, r.Details, money.ToNumeric(r.RefundAmount),
		optionalID(r.ApprovedBy), timestamp(r.ApprovedAt), optionalID(r.RejectedBy), timestamp(r.RejectedAt),
		r.RejectionReason, timestamp(r.CompletedAt), r.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.HasPrefix(pgErr.ConstraintName, "uq_returns_active_") {
		return errActiveReturn(r)
	}
	return err
}

func (t *TxRepo) DeleteReturn(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM returns WHERE id=$1`, id)
	return err
}

func optionalID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id != 0}
}

func timestamp(at *time.Time) pgtype.Timestamptz {
	if at == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *at, Valid: true}
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	at := ts.Time
	return &at
}

func scanReturn(row pgx.Row, id int64) (Return, error) {
	var (
		r                                  Return
		kind, status                       string
		refund                             pgtype.Numeric
		returnDate                         pgtype.Date
		approvedAt, rejectedAt, completeAt pgtype.Timestamptz
	)
	err := row.Scan(&r.ID, &r.Number, &kind, &r.SaleID, &r.PurchaseID, &status, &r.Reason, &r.Details, &refund,
		&returnDate, &r.ApprovedBy, &approvedAt, &r.RejectedBy, &rejectedAt, &r.RejectionReason, &completeAt,
		&r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Return{}, shared.NotFound("return", id)
		}
		return Return{}, err
	}
	r.Kind = Kind(kind)
	r.Status = Status(status)
	r.ReturnDate = returnDate.Time
	r.ApprovedAt = timePtr(approvedAt)
	r.RejectedAt = timePtr(rejectedAt)
	r.CompletedAt = timePtr(completeAt)
	if r.RefundAmount, err = money.FromNumeric(refund); err != nil {
		return Return{}, err
	}
	return r, nil
}

var _ TxRepository = (*TxRepo)(nil)
