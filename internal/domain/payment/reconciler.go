package payment

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	Checked   int `json:"checked"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Untouched int `json:"untouched"`
	Errors    int `json:"errors"`
}

// Reconciler settles PENDING transactions whose webhook never arrived by
// asking the gateway for the final link status. It is run as a one-shot
// sweep; scheduling belongs to the host's cron.
type Reconciler struct {
	txns       TransactionRepository
	orch       *Orchestrator
	logger     zerolog.Logger
	staleAfter time.Duration
	batchSize  int
	workers    int
}

func NewReconciler(txns TransactionRepository, orch *Orchestrator, logger zerolog.Logger, staleAfter time.Duration, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Reconciler{
		txns:       txns,
		orch:       orch,
		logger:     logger.With().Str("component", "reconciler").Logger(),
		staleAfter: staleAfter,
		batchSize:  batchSize,
		workers:    4,
	}
}

// Run processes one batch of stale transactions. Per-transaction failures
// are counted and logged; only the initial query can fail the sweep.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	stale, err := r.txns.ListStalePending(ctx, r.orch.now().Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return report, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, t := range stale {
		if t.OrderCode == nil {
			continue
		}
		code := *t.OrderCode
		g.Go(func() error {
			applied, success, err := r.reconcileOne(gctx, code)
			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			switch {
			case err != nil:
				report.Errors++
				r.logger.Error().Err(err).Int64("order_code", code).Msg("reconcile transaction failed")
			case !applied:
				report.Untouched++
			case success:
				report.Succeeded++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info().
		Int("checked", report.Checked).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("untouched", report.Untouched).
		Int("errors", report.Errors).
		Msg("reconciliation sweep finished")
	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, orderCode int64) (applied, success bool, err error) {
	info, err := r.orch.linkInfo(ctx, "payment.Reconcile", orderCode)
	if err != nil {
		return false, false, err
	}
	final, paid := info.Status.Terminal()
	if !final {
		return false, false, nil
	}
	out, err := r.orch.applyOutcome(ctx, orderCode, paid, "reconcile", "reconciler")
	if err != nil {
		return false, false, err
	}
	return out.Applied, paid, nil
}
