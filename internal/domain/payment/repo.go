package payment

import (
	"context"
	"time"

	"github.com/clinic/clinic/internal/domain/billing"
)

type TransactionRepository interface {
	Create(ctx context.Context, t *Transaction) error
	// LatestByBill returns the most recently created transaction of a bill,
	// ordered by created_at then seq, or nil when the bill has none.
	LatestByBill(ctx context.Context, billID int64) (*Transaction, error)
	GetByOrderCode(ctx context.Context, orderCode int64) (*Transaction, error)
	// CompareAndSetStatus moves the transaction from `from` to `to` and reports
	// whether a row changed. An empty method keeps the stored one.
	CompareAndSetStatus(ctx context.Context, id int64, from, to TransactionStatus, method PaymentMethod) (bool, error)
	ListByBill(ctx context.Context, billID int64) ([]*Transaction, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Transaction, error)
}

// BillStore is the slice of the bill repository payments need.
type BillStore interface {
	GetByID(ctx context.Context, id int64) (*billing.Bill, error)
	GetForUpdate(ctx context.Context, id int64) (*billing.Bill, error)
	Update(ctx context.Context, b *billing.Bill) error
}
