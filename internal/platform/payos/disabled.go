package payos

import (
	"context"
	"errors"

	"github.com/clinic/clinic/internal/domain/payment"
	"github.com/clinic/clinic/internal/platform/apperr"
)

// ErrNotConfigured is wrapped by every Disabled call.
var ErrNotConfigured = errors.New("payment gateway not configured")

// Disabled stands in for the gateway when no PayOS credentials are set, so a
// development server still serves bills and cash payments. Online payment
// calls fail with a gateway error and webhooks cannot be verified.
type Disabled struct{}

var _ payment.Gateway = Disabled{}

func (Disabled) CreateLink(context.Context, payment.LinkRequest) (*payment.Link, error) {
	return nil, apperr.Gateway("payos.CreateLink", ErrNotConfigured)
}

func (Disabled) CancelLink(context.Context, int64, string) (*payment.LinkInfo, error) {
	return nil, apperr.Gateway("payos.CancelLink", ErrNotConfigured)
}

func (Disabled) GetLinkInfo(context.Context, int64) (*payment.LinkInfo, error) {
	return nil, apperr.Gateway("payos.GetLinkInfo", ErrNotConfigured)
}

func (Disabled) VerifyWebhook([]byte) (*payment.WebhookData, error) {
	return nil, apperr.InvalidSignature("payos.VerifyWebhook", ErrNotConfigured)
}

// Configured reports whether cfg carries every credential New requires.
func (cfg Config) Configured() bool {
	return cfg.ClientID != "" && cfg.APIKey != "" && cfg.ChecksumKey != ""
}
