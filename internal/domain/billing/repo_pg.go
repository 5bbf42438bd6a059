package billing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

const pgForeignKeyViolation = "23503"

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

func (r *billRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const billCols = `id, appointment_id, patient_id, total_cost, insurance_discount, amount,
	status, created_at, updated_at`

const detailCols = `id, bill_id, item_type, quantity, unit_price, insurance_discount,
	total_price, created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.AppointmentID, &b.PatientID, &b.TotalCost, &b.InsuranceDiscount,
		&b.Amount, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func scanDetail(row pgx.Row) (*BillDetail, error) {
	var d BillDetail
	err := row.Scan(&d.ID, &d.BillID, &d.ItemType, &d.Quantity, &d.UnitPrice,
		&d.InsuranceDiscount, &d.TotalPrice, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func notFoundOr(err error, op string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, "bill %d not found", id)
	}
	return err
}

func translateWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return apperr.InvalidArgument(op, "referenced record does not exist: %s", pgErr.ConstraintName)
	}
	return err
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bill (appointment_id, patient_id, total_cost, insurance_discount, amount, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at, updated_at`,
		b.AppointmentID, b.PatientID, b.TotalCost, b.InsuranceDiscount, b.Amount, b.Status,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	return translateWriteErr("billing.Create", err)
}

func (r *billRepoPG) GetByID(ctx context.Context, id int64) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "billing.GetByID", id)
	}
	return b, nil
}

func (r *billRepoPG) GetForUpdate(ctx context.Context, id int64) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundOr(err, "billing.GetForUpdate", id)
	}
	return b, nil
}

func (r *billRepoPG) Update(ctx context.Context, b *Bill) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE bill SET appointment_id=$2, total_cost=$3, insurance_discount=$4, amount=$5,
			status=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.AppointmentID, b.TotalCost, b.InsuranceDiscount, b.Amount, b.Status,
	).Scan(&b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("billing.Update", "bill %d not found", b.ID)
	}
	return translateWriteErr("billing.Update", err)
}

func (r *billRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bill WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("billing.Delete", "bill %d not found", id)
	}
	return nil
}

func (r *billRepoPG) List(ctx context.Context, limit, offset int) ([]*Bill, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bill`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+billCols+` FROM bill ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectBills(rows)
	return items, total, err
}

func (r *billRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*Bill, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+billCols+` FROM bill WHERE patient_id = $1 ORDER BY created_at DESC, id DESC`, patientID)
	if err != nil {
		return nil, err
	}
	return collectBills(rows)
}

func collectBills(rows pgx.Rows) ([]*Bill, error) {
	defer rows.Close()
	var items []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *billRepoPG) AddDetail(ctx context.Context, d *BillDetail) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bill_detail (bill_id, item_type, quantity, unit_price, insurance_discount, total_price)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at, updated_at`,
		d.BillID, d.ItemType, d.Quantity, d.UnitPrice, d.InsuranceDiscount, d.TotalPrice,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	return translateWriteErr("billing.AddDetail", err)
}

func (r *billRepoPG) DeleteDetails(ctx context.Context, billID int64) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM bill_detail WHERE bill_id = $1`, billID)
	return err
}

func (r *billRepoPG) GetDetails(ctx context.Context, billID int64) ([]*BillDetail, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+detailCols+` FROM bill_detail WHERE bill_id = $1 ORDER BY id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BillDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
