package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LinkStatus is the gateway-side state of a checkout session.
type LinkStatus string

const (
	LinkPending    LinkStatus = "PENDING"
	LinkProcessing LinkStatus = "PROCESSING"
	LinkPaid       LinkStatus = "PAID"
	LinkUnderpaid  LinkStatus = "UNDERPAID"
	LinkCancelled  LinkStatus = "CANCELLED"
	LinkExpired    LinkStatus = "EXPIRED"
	LinkFailed     LinkStatus = "FAILED"
)

// Terminal reports whether the gateway will not change the status again,
// and whether that final state means the customer paid.
func (s LinkStatus) Terminal() (final, paid bool) {
	switch s {
	case LinkPaid:
		return true, true
	case LinkCancelled, LinkExpired, LinkFailed:
		return true, false
	}
	return false, false
}

type LinkItem struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
}

type LinkRequest struct {
	OrderCode   int64
	Amount      decimal.Decimal
	Description string
	ReturnURL   string
	CancelURL   string
	Items       []LinkItem
}

type Link struct {
	OrderCode     int64
	CheckoutURL   string
	PaymentLinkID string
	Status        LinkStatus
}

type LinkInfo struct {
	OrderCode     int64
	PaymentLinkID string
	Status        LinkStatus
	Amount        decimal.Decimal
	AmountPaid    decimal.Decimal
	Description   string
	CreatedAt     *time.Time
}

// WebhookData is an authenticated gateway notification.
type WebhookData struct {
	OrderCode     int64
	Success       bool
	Amount        decimal.Decimal
	Description   string
	Reference     string
	PaymentLinkID string
	Code          string
	Desc          string
}

// Gateway is the only path to the external payment provider. Network
// failures come back as apperr.ErrGateway; VerifyWebhook reports forged or
// corrupted payloads as apperr.ErrInvalidSignature.
type Gateway interface {
	CreateLink(ctx context.Context, req LinkRequest) (*Link, error)
	CancelLink(ctx context.Context, orderCode int64, reason string) (*LinkInfo, error)
	VerifyWebhook(payload []byte) (*WebhookData, error)
	GetLinkInfo(ctx context.Context, orderCode int64) (*LinkInfo, error)
}
