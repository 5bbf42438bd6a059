package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/events"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	publishTimeout        = 5 * time.Second
)

type Config struct {
	// ReturnURLBase is the public origin the gateway redirects customers to.
	ReturnURLBase  string
	GatewayTimeout time.Duration
}

// Orchestrator drives a bill through its payment lifecycle:
//
//	UNPAID, no txn  -> CreatePaymentLink -> PENDING txn, bill UNPAID
//	PENDING txn     -> success           -> txn SUCCESS, bill PAID
//	PENDING txn     -> failure/cancel    -> txn FAILED, bill UNPAID
//	UNPAID          -> cash payment      -> txn SUCCESS, bill PAID
//
// Gateway calls never run inside a database transaction.
type Orchestrator struct {
	bills   BillStore
	ledger  *Ledger
	gateway Gateway
	tx      billing.TxManager
	events  events.Publisher
	logger  zerolog.Logger
	cfg     Config
	sf      singleflight.Group
	now     func() time.Time
}

func NewOrchestrator(bills BillStore, ledger *Ledger, gw Gateway, tx billing.TxManager,
	pub events.Publisher, logger zerolog.Logger, cfg Config) *Orchestrator {
	if pub == nil {
		pub = events.Noop{}
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	cfg.ReturnURLBase = strings.TrimRight(cfg.ReturnURLBase, "/")
	return &Orchestrator{
		bills:   bills,
		ledger:  ledger,
		gateway: gw,
		tx:      tx,
		events:  pub,
		logger:  logger.With().Str("component", "payment").Logger(),
		cfg:     cfg,
		now:     time.Now,
	}
}

func (o *Orchestrator) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.GatewayTimeout)
}

func gatewayErr(op string, err error) error {
	if errors.Is(err, apperr.ErrGateway) || errors.Is(err, apperr.ErrInvalidSignature) {
		return err
	}
	return apperr.Gateway(op, err)
}

func checkPayable(op string, b *billing.Bill) error {
	if b.Status == billing.BillPaid {
		return apperr.InvalidState(op, "bill %d is already paid", b.ID)
	}
	if !b.Amount.IsPositive() {
		return apperr.InvalidState(op, "bill %d has no amount due", b.ID)
	}
	return nil
}

func (o *Orchestrator) redirectURL(orderCode int64, outcome string) string {
	return fmt.Sprintf("%s/api/payments/transactions/%d/%s", o.cfg.ReturnURLBase, orderCode, outcome)
}

// CreatePaymentLink opens a checkout session for an unpaid bill. A PENDING
// transaction left by an earlier attempt is cancelled at the gateway on a
// best-effort basis and failed locally first. Concurrent calls for one bill
// within this process share a single gateway round trip.
func (o *Orchestrator) CreatePaymentLink(ctx context.Context, billID int64, actor string) (*PaymentLink, error) {
	v, err, shared := o.sf.Do(fmt.Sprintf("create_link_%d", billID), func() (interface{}, error) {
		return o.createPaymentLink(ctx, billID, actor)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		o.logger.Debug().Int64("bill_id", billID).Msg("payment link request collapsed")
	}
	return v.(*PaymentLink), nil
}

func (o *Orchestrator) createPaymentLink(ctx context.Context, billID int64, actor string) (*PaymentLink, error) {
	const op = "payment.CreatePaymentLink"

	bill, err := o.bills.GetByID(ctx, billID)
	if err != nil {
		return nil, err
	}
	if err := checkPayable(op, bill); err != nil {
		return nil, err
	}
	amount := bill.Amount
	if !amount.Equal(amount.Truncate(0)) {
		return nil, apperr.InvalidState(op, "bill %d amount %s is not a whole currency unit", billID, amount)
	}

	latest, err := o.ledger.LatestTransaction(ctx, billID)
	if err != nil {
		return nil, err
	}
	if latest.IsPending() {
		if err := o.retireStale(ctx, latest, actor); err != nil {
			return nil, err
		}
	}

	used, err := o.ledger.UsedOrderCodes(ctx, billID)
	if err != nil {
		return nil, err
	}
	code, ok := NextOrderCode(billID, o.now(), used)
	if !ok {
		return nil, apperr.InvalidState(op, "bill %d has exhausted its order codes", billID)
	}

	gctx, cancel := o.gatewayCtx(ctx)
	link, err := o.gateway.CreateLink(gctx, LinkRequest{
		OrderCode:   code,
		Amount:      amount,
		Description: fmt.Sprintf("Bill %d", billID),
		ReturnURL:   o.redirectURL(code, "success"),
		CancelURL:   o.redirectURL(code, "cancel"),
		Items:       []LinkItem{{Name: fmt.Sprintf("Bill #%d", billID), Quantity: 1, Price: amount}},
	})
	cancel()
	if err != nil {
		o.logger.Error().Err(err).Int64("bill_id", billID).Int64("order_code", code).Msg("create payment link failed")
		return nil, gatewayErr(op, err)
	}

	var txn *Transaction
	err = o.tx.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := o.bills.GetForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if err := checkPayable(op, locked); err != nil {
			return err
		}
		if !locked.Amount.Equal(amount) {
			return apperr.InvalidState(op, "bill %d amount changed while the link was being created", billID)
		}
		cur, err := o.ledger.LatestTransaction(ctx, billID)
		if err != nil {
			return err
		}
		if cur.IsPending() {
			return apperr.InvalidState(op, "bill %d already has a payment in progress", billID)
		}
		txn, err = o.ledger.RecordPending(ctx, locked, MethodOnlineBanking, code)
		return err
	})
	if err != nil {
		o.cancelQuietly(ctx, code, "payment link was not recorded")
		return nil, err
	}

	o.logger.Info().
		Int64("bill_id", billID).
		Int64("order_code", code).
		Int64("txn_id", txn.ID).
		Str("actor", actor).
		Msg("payment link created")
	return &PaymentLink{BillID: billID, OrderCode: code, CheckoutURL: link.CheckoutURL}, nil
}

// retireStale cancels the checkout session behind a PENDING transaction and
// marks it FAILED. Gateway failures are logged and ignored.
func (o *Orchestrator) retireStale(ctx context.Context, stale *Transaction, actor string) error {
	if stale.OrderCode != nil {
		o.cancelQuietly(ctx, *stale.OrderCode, "superseded by a new payment link")
	}
	var failed bool
	err := o.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := o.bills.GetForUpdate(ctx, stale.BillID); err != nil {
			return err
		}
		var err error
		failed, err = o.ledger.Transition(ctx, stale, TxnFailed, "")
		return err
	})
	if err != nil {
		return err
	}
	if failed {
		o.publish(ctx, events.TypeTransactionFailed, stale.BillID, stale, actor)
	}
	return nil
}

func (o *Orchestrator) cancelQuietly(ctx context.Context, orderCode int64, reason string) {
	gctx, cancel := o.gatewayCtx(ctx)
	defer cancel()
	if _, err := o.gateway.CancelLink(gctx, orderCode, reason); err != nil {
		o.logger.Warn().Err(err).Int64("order_code", orderCode).Msg("cancel payment link failed")
	}
}

// ProcessCashPayment records a successful cash transaction and marks the bill
// PAID in one database transaction.
func (o *Orchestrator) ProcessCashPayment(ctx context.Context, billID int64, actor string) (*Transaction, error) {
	const op = "payment.ProcessCashPayment"
	var txn *Transaction
	err := o.tx.RunInTx(ctx, func(ctx context.Context) error {
		bill, err := o.bills.GetForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Status == billing.BillPaid {
			return apperr.InvalidState(op, "bill %d is already paid", billID)
		}
		if txn, err = o.ledger.RecordCash(ctx, bill); err != nil {
			return err
		}
		bill.Status = billing.BillPaid
		return o.bills.Update(ctx, bill)
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info().Int64("bill_id", billID).Int64("txn_id", txn.ID).Str("actor", actor).Msg("cash payment recorded")
	o.publish(ctx, events.TypeBillPaid, billID, txn, actor)
	return txn, nil
}

// HandlePaymentCallback authenticates a gateway webhook and applies it.
// Replays are no-ops. Notifications for order codes that match no bill are
// acknowledged without changes so the gateway stops retrying.
func (o *Orchestrator) HandlePaymentCallback(ctx context.Context, payload []byte) (*Outcome, error) {
	data, err := o.gateway.VerifyWebhook(payload)
	if err != nil {
		o.logger.Warn().Err(err).Msg("webhook rejected")
		return nil, err
	}
	out, err := o.applyOutcome(ctx, data.OrderCode, data.Success, "webhook", "")
	if errors.Is(err, apperr.ErrNotFound) {
		o.logger.Warn().Int64("order_code", data.OrderCode).Msg("webhook for unknown order code ignored")
		return &Outcome{OrderCode: data.OrderCode}, nil
	}
	return out, err
}

// HandlePaymentSuccess applies the gateway's success redirect. The redirect is
// unauthenticated, so the link status is confirmed with the gateway first.
func (o *Orchestrator) HandlePaymentSuccess(ctx context.Context, orderCode int64, actor string) (*Outcome, error) {
	info, err := o.linkInfo(ctx, "payment.HandlePaymentSuccess", orderCode)
	if err != nil {
		return nil, err
	}
	if info.Status != LinkPaid {
		o.logger.Info().Int64("order_code", orderCode).Str("link_status", string(info.Status)).Msg("success redirect for unpaid link ignored")
		return &Outcome{BillID: BillIDFromOrderCode(orderCode), OrderCode: orderCode}, nil
	}
	return o.applyOutcome(ctx, orderCode, true, "redirect", actor)
}

// HandlePaymentCancel applies the gateway's cancel redirect. The link is also
// cancelled at the gateway so it cannot be paid after its transaction failed.
func (o *Orchestrator) HandlePaymentCancel(ctx context.Context, orderCode int64, actor string) (*Outcome, error) {
	o.cancelQuietly(ctx, orderCode, "cancelled by customer")
	return o.applyOutcome(ctx, orderCode, false, "redirect", actor)
}

// applyOutcome settles the transaction behind orderCode. A success for a code
// no transaction carries falls back to the bill's latest transaction; a
// failure for such a code is ignored. Only PENDING transactions move.
func (o *Orchestrator) applyOutcome(ctx context.Context, orderCode int64, success bool, source, actor string) (*Outcome, error) {
	out := &Outcome{OrderCode: orderCode}
	var orphaned bool
	err := o.tx.RunInTx(ctx, func(ctx context.Context) error {
		txn, err := o.ledger.ByOrderCode(ctx, orderCode)
		switch {
		case err == nil:
			out.BillID = txn.BillID
		case errors.Is(err, apperr.ErrNotFound):
			txn = nil
			out.BillID = BillIDFromOrderCode(orderCode)
		default:
			return err
		}

		bill, err := o.bills.GetForUpdate(ctx, out.BillID)
		if err != nil {
			return err
		}

		if !success {
			// a failure only ever settles the transaction carrying this
			// exact code; the bill's live link may still be paid
			if txn == nil {
				return nil
			}
			ok, err := o.ledger.Transition(ctx, txn, TxnFailed, "")
			if err != nil || !ok {
				return err
			}
			out.Applied, out.Transaction = true, txn
			return nil
		}

		if bill.Status == billing.BillPaid {
			return nil
		}
		if txn != nil {
			ok, err := o.ledger.Transition(ctx, txn, TxnSuccess, MethodOnlineBanking)
			if err != nil {
				return err
			}
			if !ok {
				orphaned = true
				return nil
			}
		} else if txn, err = o.ledger.RecordSuccess(ctx, bill.ID, MethodOnlineBanking); err != nil {
			return err
		} else if txn == nil {
			orphaned = true
			return nil
		}
		bill.Status = billing.BillPaid
		if err := o.bills.Update(ctx, bill); err != nil {
			return err
		}
		out.Applied, out.Transaction = true, txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := o.logger.With().
		Int64("bill_id", out.BillID).
		Int64("order_code", orderCode).
		Str("source", source).
		Bool("success", success).
		Logger()
	switch {
	case out.Applied:
		log.Info().Int64("txn_id", out.Transaction.ID).Msg("payment state updated")
		evtType := events.TypeTransactionFailed
		if success {
			evtType = events.TypeBillPaid
		}
		o.publish(ctx, evtType, out.BillID, out.Transaction, actor)
	case orphaned:
		log.Error().Msg("gateway reports payment for a transaction that is no longer pending; manual review required")
	default:
		log.Info().Msg("payment notification already applied")
	}
	return out, nil
}

func (o *Orchestrator) linkInfo(ctx context.Context, op string, orderCode int64) (*LinkInfo, error) {
	gctx, cancel := o.gatewayCtx(ctx)
	defer cancel()
	info, err := o.gateway.GetLinkInfo(gctx, orderCode)
	if err != nil {
		o.logger.Error().Err(err).Int64("order_code", orderCode).Msg("payment link lookup failed")
		return nil, gatewayErr(op, err)
	}
	return info, nil
}

func toPaymentInfo(orderCode int64, info *LinkInfo) *PaymentInfo {
	return &PaymentInfo{
		OrderCode:   orderCode,
		Status:      info.Status,
		Amount:      info.Amount,
		Description: info.Description,
		CreatedAt:   info.CreatedAt,
	}
}

// GetPaymentInfo asks the gateway for the state of a checkout session.
func (o *Orchestrator) GetPaymentInfo(ctx context.Context, orderCode int64) (*PaymentInfo, error) {
	info, err := o.linkInfo(ctx, "payment.GetPaymentInfo", orderCode)
	if err != nil {
		return nil, err
	}
	return toPaymentInfo(orderCode, info), nil
}

// CancelPayment cancels a checkout session at the gateway and fails its
// transaction if it is still PENDING.
func (o *Orchestrator) CancelPayment(ctx context.Context, orderCode int64, actor string) (*PaymentInfo, error) {
	const op = "payment.CancelPayment"
	gctx, cancel := o.gatewayCtx(ctx)
	info, err := o.gateway.CancelLink(gctx, orderCode, "cancelled by staff")
	cancel()
	if err != nil {
		o.logger.Error().Err(err).Int64("order_code", orderCode).Msg("cancel payment failed")
		return nil, gatewayErr(op, err)
	}
	if _, err := o.applyOutcome(ctx, orderCode, false, "cancel", actor); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return toPaymentInfo(orderCode, info), nil
}

// ListTransactions returns a bill's transactions, newest first.
func (o *Orchestrator) ListTransactions(ctx context.Context, billID int64) ([]*Transaction, error) {
	if _, err := o.bills.GetByID(ctx, billID); err != nil {
		return nil, err
	}
	return o.ledger.ListByBill(ctx, billID)
}

// publish runs after commit. Failures are logged; the committed state stands.
func (o *Orchestrator) publish(ctx context.Context, eventType string, billID int64, txn *Transaction, actor string) {
	evt := events.New(eventType, billID)
	evt.Actor = actor
	if txn != nil {
		evt.TransactionID = txn.ID
		evt.PaymentMethod = string(txn.PaymentMethod)
		evt.Amount = txn.Amount.StringFixed(2)
		if txn.OrderCode != nil {
			evt.OrderCode = *txn.OrderCode
		}
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.events.Publish(pctx, evt); err != nil {
		o.logger.Warn().Err(err).Str("event", eventType).Int64("bill_id", billID).Msg("publish payment event failed")
	}
}
