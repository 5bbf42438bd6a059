package payment

import (
	"context"
	"time"

	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/platform/apperr"
)

// Ledger owns transaction records. Every bill may have many transactions;
// the most recently created one is its current transaction.
type Ledger struct {
	txns TransactionRepository
	now  func() time.Time
}

func NewLedger(txns TransactionRepository) *Ledger {
	return &Ledger{txns: txns, now: time.Now}
}

func (l *Ledger) LatestTransaction(ctx context.Context, billID int64) (*Transaction, error) {
	return l.txns.LatestByBill(ctx, billID)
}

// RecordPending opens an online transaction snapshotting the bill amount.
func (l *Ledger) RecordPending(ctx context.Context, bill *billing.Bill, method PaymentMethod, orderCode int64) (*Transaction, error) {
	t := &Transaction{
		BillID:          bill.ID,
		OrderCode:       &orderCode,
		Amount:          bill.Amount,
		PaymentMethod:   method,
		TransactionDate: l.now(),
		Status:          TxnPending,
	}
	if err := l.txns.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RecordCash stores a transaction that succeeded on creation.
func (l *Ledger) RecordCash(ctx context.Context, bill *billing.Bill) (*Transaction, error) {
	t := &Transaction{
		BillID:          bill.ID,
		Amount:          bill.Amount,
		PaymentMethod:   MethodCash,
		TransactionDate: l.now(),
		Status:          TxnSuccess,
	}
	if err := l.txns.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Transition moves t out of PENDING. It returns false without error when t
// is not PENDING anymore, including when a concurrent writer got there first.
func (l *Ledger) Transition(ctx context.Context, t *Transaction, to TransactionStatus, method PaymentMethod) (bool, error) {
	if to == TxnPending {
		return false, apperr.InvalidArgument("payment.Transition", "cannot transition to %s", to)
	}
	if !t.IsPending() {
		return false, nil
	}
	ok, err := l.txns.CompareAndSetStatus(ctx, t.ID, TxnPending, to, method)
	if err != nil || !ok {
		return false, err
	}
	t.Status = to
	if method != "" {
		t.PaymentMethod = method
	}
	return true, nil
}

// RecordSuccess settles the latest transaction of a bill when it is PENDING.
// The returned transaction is nil when there was nothing to settle.
func (l *Ledger) RecordSuccess(ctx context.Context, billID int64, method PaymentMethod) (*Transaction, error) {
	return l.settleLatest(ctx, billID, TxnSuccess, method)
}

func (l *Ledger) settleLatest(ctx context.Context, billID int64, to TransactionStatus, method PaymentMethod) (*Transaction, error) {
	t, err := l.txns.LatestByBill(ctx, billID)
	if err != nil || t == nil {
		return nil, err
	}
	ok, err := l.Transition(ctx, t, to, method)
	if err != nil || !ok {
		return nil, err
	}
	return t, nil
}

func (l *Ledger) ListByBill(ctx context.Context, billID int64) ([]*Transaction, error) {
	return l.txns.ListByBill(ctx, billID)
}

// UsedOrderCodes returns every order code ever issued for the bill.
func (l *Ledger) UsedOrderCodes(ctx context.Context, billID int64) (map[int64]bool, error) {
	txns, err := l.txns.ListByBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	used := make(map[int64]bool, len(txns))
	for _, t := range txns {
		if t.OrderCode != nil {
			used[*t.OrderCode] = true
		}
	}
	return used, nil
}

// ByOrderCode returns the transaction that carries orderCode.
func (l *Ledger) ByOrderCode(ctx context.Context, orderCode int64) (*Transaction, error) {
	return l.txns.GetByOrderCode(ctx, orderCode)
}
