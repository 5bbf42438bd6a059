package appointment

import (
	"context"
)

type Repository interface {
	GetFees(ctx context.Context, appointmentID int64) (*Fees, error)
}
