package appointment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) GetFees(ctx context.Context, appointmentID int64) (*Fees, error) {
	q := db.Conn(ctx, r.pool)

	f := &Fees{AppointmentID: appointmentID}
	err := q.QueryRow(ctx,
		`SELECT patient_id, booking_fee FROM appointment WHERE id = $1`, appointmentID,
	).Scan(&f.PatientID, &f.BookingFee)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment.GetFees", "appointment %d not found", appointmentID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT s.price
		FROM service_order so
		JOIN service s ON s.id = so.service_id
		WHERE so.appointment_id = $1 AND s.price IS NOT NULL
		ORDER BY so.id`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var price decimal.Decimal
		if err := rows.Scan(&price); err != nil {
			return nil, err
		}
		f.ServicePrices = append(f.ServicePrices, price)
	}
	return f, rows.Err()
}
