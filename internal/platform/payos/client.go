// Package payos implements payment.Gateway against the PayOS merchant API.
package payos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/payment"
	"github.com/clinic/clinic/internal/platform/apperr"
)

const (
	DefaultBaseURL = "https://api-merchant.payos.vn"

	codeOK            = "00"
	maxDescriptionLen = 25
	maxResponseBody   = 1 << 20
)

type Config struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// Client talks to PayOS. Deadlines come from the caller's context; the HTTP
// client timeout is only a backstop.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ payment.Gateway = (*Client)(nil)

func New(cfg Config, opts ...Option) (*Client, error) {
	if !cfg.Configured() {
		return nil, apperr.InvalidArgument("payos.New", "client id, api key and checksum key are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With().Str("component", "payos").Logger()
	return c, nil
}

// envelope wraps every PayOS response.
type envelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return apperr.Gateway(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", c.cfg.ClientID)
	req.Header.Set("x-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Gateway(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("payos request")
	if err != nil {
		return apperr.Gateway(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Gateway(op, fmt.Errorf("non-2xx response: %d", resp.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperr.Gateway(op, fmt.Errorf("decode response: %w", err))
	}
	if env.Code != codeOK {
		return apperr.Gateway(op, fmt.Errorf("payos error %s: %s", env.Code, env.Desc))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperr.Gateway(op, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

type itemBody struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type createBody struct {
	OrderCode   int64      `json:"orderCode"`
	Amount      int64      `json:"amount"`
	Description string     `json:"description"`
	CancelURL   string     `json:"cancelUrl"`
	ReturnURL   string     `json:"returnUrl"`
	Items       []itemBody `json:"items,omitempty"`
	Signature   string     `json:"signature"`
}

type createData struct {
	OrderCode     int64  `json:"orderCode"`
	CheckoutURL   string `json:"checkoutUrl"`
	PaymentLinkID string `json:"paymentLinkId"`
	Status        string `json:"status"`
}

func wholeAmount(op string, d decimal.Decimal) (int64, error) {
	if !d.Equal(d.Truncate(0)) || !d.IsPositive() {
		return 0, apperr.InvalidArgument(op, "amount %s must be a positive whole number", d)
	}
	return d.IntPart(), nil
}

func truncateDescription(s string) string {
	if utf8.RuneCountInString(s) <= maxDescriptionLen {
		return s
	}
	return string([]rune(s)[:maxDescriptionLen])
}

// CreateLink opens a checkout session. PayOS only accepts whole amounts.
func (c *Client) CreateLink(ctx context.Context, req payment.LinkRequest) (*payment.Link, error) {
	const op = "payos.CreateLink"
	amount, err := wholeAmount(op, req.Amount)
	if err != nil {
		return nil, err
	}
	desc := truncateDescription(req.Description)

	body := createBody{
		OrderCode:   req.OrderCode,
		Amount:      amount,
		Description: desc,
		CancelURL:   req.CancelURL,
		ReturnURL:   req.ReturnURL,
		Signature:   Sign(paymentRequestData(amount, req.CancelURL, desc, req.OrderCode, req.ReturnURL), c.cfg.ChecksumKey),
	}
	for _, it := range req.Items {
		price, err := wholeAmount(op, it.Price)
		if err != nil {
			return nil, err
		}
		body.Items = append(body.Items, itemBody{Name: it.Name, Quantity: it.Quantity, Price: price})
	}

	var data createData
	if err := c.do(ctx, op, http.MethodPost, "/v2/payment-requests", body, &data); err != nil {
		return nil, err
	}
	if data.CheckoutURL == "" {
		return nil, apperr.Gateway(op, errors.New("response carries no checkout url"))
	}
	return &payment.Link{
		OrderCode:     req.OrderCode,
		CheckoutURL:   data.CheckoutURL,
		PaymentLinkID: data.PaymentLinkID,
		Status:        payment.LinkStatus(data.Status),
	}, nil
}

type linkData struct {
	ID          string `json:"id"`
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	AmountPaid  int64  `json:"amountPaid"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
	Description string `json:"description"`
}

func (d linkData) toInfo() *payment.LinkInfo {
	info := &payment.LinkInfo{
		OrderCode:     d.OrderCode,
		PaymentLinkID: d.ID,
		Status:        payment.LinkStatus(d.Status),
		Amount:        decimal.NewFromInt(d.Amount),
		AmountPaid:    decimal.NewFromInt(d.AmountPaid),
		Description:   d.Description,
	}
	if ts, err := time.Parse(time.RFC3339, d.CreatedAt); err == nil {
		info.CreatedAt = &ts
	}
	return info
}

func (c *Client) GetLinkInfo(ctx context.Context, orderCode int64) (*payment.LinkInfo, error) {
	var data linkData
	path := "/v2/payment-requests/" + strconv.FormatInt(orderCode, 10)
	if err := c.do(ctx, "payos.GetLinkInfo", http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.toInfo(), nil
}

func (c *Client) CancelLink(ctx context.Context, orderCode int64, reason string) (*payment.LinkInfo, error) {
	var data linkData
	path := "/v2/payment-requests/" + strconv.FormatInt(orderCode, 10) + "/cancel"
	body := map[string]string{"cancellationReason": reason}
	if err := c.do(ctx, "payos.CancelLink", http.MethodPost, path, body, &data); err != nil {
		return nil, err
	}
	return data.toInfo(), nil
}

type webhookBody struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

type webhookFields struct {
	OrderCode     int64       `json:"orderCode"`
	Amount        json.Number `json:"amount"`
	Description   string      `json:"description"`
	Reference     string      `json:"reference"`
	PaymentLinkID string      `json:"paymentLinkId"`
	Code          string      `json:"code"`
	Desc          string      `json:"desc"`
}

// VerifyWebhook authenticates a webhook body by recomputing the checksum over
// its data object. Nothing in the payload is trusted before that succeeds.
func (c *Client) VerifyWebhook(payload []byte) (*payment.WebhookData, error) {
	const op = "payos.VerifyWebhook"
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, apperr.InvalidArgument(op, "malformed webhook payload")
	}
	if len(body.Data) == 0 || body.Signature == "" {
		return nil, apperr.InvalidSignature(op, errors.New("missing data or signature"))
	}
	canonical, err := canonicalData(body.Data)
	if err != nil {
		return nil, apperr.InvalidSignature(op, err)
	}
	if !Verify(canonical, c.cfg.ChecksumKey, body.Signature) {
		return nil, apperr.InvalidSignature(op, errors.New("checksum mismatch"))
	}

	var f webhookFields
	if err := json.Unmarshal(body.Data, &f); err != nil {
		return nil, apperr.InvalidArgument(op, "malformed webhook data")
	}
	// only data is signed, so the outcome comes from data.code; an envelope
	// that says otherwise has been altered
	success := f.Code == codeOK
	if body.Success != success {
		return nil, apperr.InvalidSignature(op, fmt.Errorf("envelope success=%v disagrees with signed code %q", body.Success, f.Code))
	}
	amount, err := decimal.NewFromString(string(f.Amount))
	if err != nil {
		amount = decimal.Zero
	}
	return &payment.WebhookData{
		OrderCode:     f.OrderCode,
		Success:       success,
		Amount:        amount,
		Description:   f.Description,
		Reference:     f.Reference,
		PaymentLinkID: f.PaymentLinkID,
		Code:          f.Code,
		Desc:          f.Desc,
	}, nil
}
