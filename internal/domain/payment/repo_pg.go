package payment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

type txnRepoPG struct{ pool *pgxpool.Pool }

func NewTransactionRepoPG(pool *pgxpool.Pool) TransactionRepository { return &txnRepoPG{pool: pool} }

func (r *txnRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const txnCols = `id, seq, bill_id, order_code, amount, payment_method, transaction_date,
	status, created_at, updated_at`

func scanTxn(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.Seq, &t.BillID, &t.OrderCode, &t.Amount, &t.PaymentMethod,
		&t.TransactionDate, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *txnRepoPG) Create(ctx context.Context, t *Transaction) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment_transaction (bill_id, order_code, amount, payment_method, transaction_date, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, seq, created_at, updated_at`,
		t.BillID, t.OrderCode, t.Amount, t.PaymentMethod, t.TransactionDate, t.Status,
	).Scan(&t.ID, &t.Seq, &t.CreatedAt, &t.UpdatedAt)
}

func (r *txnRepoPG) LatestByBill(ctx context.Context, billID int64) (*Transaction, error) {
	t, err := scanTxn(r.conn(ctx).QueryRow(ctx, `
		SELECT `+txnCols+` FROM payment_transaction
		WHERE bill_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`, billID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *txnRepoPG) GetByOrderCode(ctx context.Context, orderCode int64) (*Transaction, error) {
	t, err := scanTxn(r.conn(ctx).QueryRow(ctx, `SELECT `+txnCols+` FROM payment_transaction WHERE order_code = $1`, orderCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("payment.GetByOrderCode", "no transaction for order code %d", orderCode)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *txnRepoPG) CompareAndSetStatus(ctx context.Context, id int64, from, to TransactionStatus, method PaymentMethod) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payment_transaction
		SET status = $3, payment_method = COALESCE(NULLIF($4, ''), payment_method), updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to, string(method))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txnRepoPG) ListByBill(ctx context.Context, billID int64) ([]*Transaction, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+txnCols+` FROM payment_transaction
		WHERE bill_id = $1
		ORDER BY created_at DESC, seq DESC`, billID)
	if err != nil {
		return nil, err
	}
	return collectTxns(rows)
}

func (r *txnRepoPG) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Transaction, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+txnCols+` FROM payment_transaction
		WHERE status = 'PENDING' AND order_code IS NOT NULL AND created_at < $1
		ORDER BY created_at, seq
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return collectTxns(rows)
}

func collectTxns(rows pgx.Rows) ([]*Transaction, error) {
	defer rows.Close()
	var items []*Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}
