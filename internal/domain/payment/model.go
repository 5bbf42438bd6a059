package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxnPending TransactionStatus = "PENDING"
	TxnSuccess TransactionStatus = "SUCCESS"
	TxnFailed  TransactionStatus = "FAILED"
)

type PaymentMethod string

const (
	MethodCash          PaymentMethod = "CASH"
	MethodOnlineBanking PaymentMethod = "ONLINE_BANKING"
)

// Transaction maps to the payment_transaction table. Seq is a monotonic
// tie-break for transactions created within the same timestamp.
type Transaction struct {
	ID              int64             `db:"id" json:"id"`
	Seq             int64             `db:"seq" json:"-"`
	BillID          int64             `db:"bill_id" json:"bill_id"`
	OrderCode       *int64            `db:"order_code" json:"order_code,omitempty"`
	Amount          decimal.Decimal   `db:"amount" json:"amount"`
	PaymentMethod   PaymentMethod     `db:"payment_method" json:"payment_method"`
	TransactionDate time.Time         `db:"transaction_date" json:"transaction_date"`
	Status          TransactionStatus `db:"status" json:"status"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

func (t *Transaction) IsPending() bool {
	return t != nil && t.Status == TxnPending
}

// PaymentLink is returned to the client after a checkout session is opened.
type PaymentLink struct {
	BillID      int64  `json:"bill_id"`
	OrderCode   int64  `json:"order_code"`
	CheckoutURL string `json:"checkout_url"`
}

// PaymentInfo is the gateway's view of one checkout session.
type PaymentInfo struct {
	OrderCode   int64           `json:"order_code"`
	Status      LinkStatus      `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	CreatedAt   *time.Time      `json:"created_at,omitempty"`
}

// Outcome reports what a callback, redirect or reconciliation did.
type Outcome struct {
	BillID      int64        `json:"bill_id"`
	OrderCode   int64        `json:"order_code"`
	Applied     bool         `json:"applied"`
	Transaction *Transaction `json:"transaction,omitempty"`
}
