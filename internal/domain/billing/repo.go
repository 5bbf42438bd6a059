package billing

import (
	"context"

	"github.com/clinic/clinic/internal/domain/appointment"
)

type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id int64) (*Bill, error)
	// GetForUpdate loads the bill and locks its row until the surrounding
	// transaction ends. Outside a transaction it behaves like GetByID.
	GetForUpdate(ctx context.Context, id int64) (*Bill, error)
	Update(ctx context.Context, b *Bill) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, limit, offset int) ([]*Bill, int, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*Bill, error)

	AddDetail(ctx context.Context, d *BillDetail) error
	DeleteDetails(ctx context.Context, billID int64) error
	GetDetails(ctx context.Context, billID int64) ([]*BillDetail, error)
}

// TxManager runs fn atomically. *db.TxManager satisfies it.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// FeeLookup resolves the appointment fees a bill view is derived from.
type FeeLookup interface {
	GetFees(ctx context.Context, appointmentID int64) (*appointment.Fees, error)
}
