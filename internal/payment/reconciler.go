// Package payment drives payments through their lifecycle: creation,
// cancellation and the reconciliation loop that settles them against the chain.
package payment

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/texitpay/paygate/internal/chain"
	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/ledger"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/models"
)

// ChainClient reads address activity from the explorer
type ChainClient interface {
	BlockHeight(ctx context.Context) (int64, error)
	ConfirmedTransactions(ctx context.Context, address string) ([]chain.Transaction, bool, error)
	MempoolTransactions(ctx context.Context, address string) ([]chain.Transaction, error)
}

// Notifier sends notifications and runs the retry sweep
type Notifier interface {
	WebhookSender
	RetryPending(ctx context.Context) (int, error)
}

// Options configure the reconciliation loop
type Options struct {
	Network           string
	PollInterval      time.Duration
	RetryInterval     time.Duration
	ConfirmationGrace time.Duration
	PageSize          int // active payments loaded per query; 0 loads all at once
}

// CycleResult summarizes one reconciliation cycle
type CycleResult struct {
	Expired int
	Checked int
	Changed int
	Failed  int
	Retried int
	Skipped bool // another cycle was still running
}

// Reconciler is the payment monitor. It runs one cycle at a time.
type Reconciler struct {
	stores   *database.Stores
	ledger   *ledger.Ledger
	chain    ChainClient
	notifier Notifier
	events   EventPublisher
	clk      clock.Clock
	opts     Options

	cycle     sync.Mutex
	retryMu   sync.Mutex
	lastRetry time.Time

	statusMu  sync.Mutex
	lastCycle time.Time
}

// NewReconciler creates the monitor. events may be nil.
func NewReconciler(stores *database.Stores, l *ledger.Ledger, client ChainClient, notifier Notifier, events EventPublisher, clk clock.Clock, opts Options) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	return &Reconciler{
		stores:   stores,
		ledger:   l,
		chain:    client,
		notifier: notifier,
		events:   events,
		clk:      clk,
		opts:     opts,
	}
}

// Run executes cycles until ctx is cancelled. The next cycle is scheduled
// only after the previous one finished; cancellation lets the cycle in
// progress complete.
func (r *Reconciler) Run(ctx context.Context) error {
	logger.Info("Payment monitor started", logger.Fields{
		"network":        r.opts.Network,
		"poll_interval":  r.opts.PollInterval.String(),
		"retry_interval": r.opts.RetryInterval.String(),
	})

	for {
		r.RunCycle(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			logger.Info("Payment monitor stopped")
			return nil
		case <-r.clk.After(r.opts.PollInterval):
		}
	}
}

// RunCycle expires stale payments, reconciles every active payment and runs
// the throttled webhook retry sweep. Per-payment failures are logged and
// counted, never returned.
func (r *Reconciler) RunCycle(ctx context.Context) CycleResult {
	var res CycleResult
	if !r.cycle.TryLock() {
		logger.Warn("Previous cycle still running, skipping", logger.Fields{"network": r.opts.Network})
		res.Skipped = true
		return res
	}
	defer r.cycle.Unlock()

	start := r.clk.Now()
	res.Expired = r.expire(ctx)
	res.Checked, res.Changed, res.Failed = r.reconcileActive(ctx)
	res.Retried = r.retryWebhooks(ctx, false)

	r.statusMu.Lock()
	r.lastCycle = r.clk.Now()
	r.statusMu.Unlock()

	if res.Checked > 0 || res.Expired > 0 {
		logger.Info("Cycle finished", logger.Fields{
			"network":  r.opts.Network,
			"expired":  res.Expired,
			"checked":  res.Checked,
			"changed":  res.Changed,
			"failed":   res.Failed,
			"retried":  res.Retried,
			"duration": r.clk.Now().Sub(start).String(),
		})
	}
	return res
}

// LastCycleAt is when the last full cycle finished, zero before the first
func (r *Reconciler) LastCycleAt() time.Time {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.lastCycle
}

// RetryWebhooks runs the retry sweep now, ignoring the throttle
func (r *Reconciler) RetryWebhooks(ctx context.Context) int {
	return r.retryWebhooks(ctx, true)
}

func (r *Reconciler) retryWebhooks(ctx context.Context, force bool) int {
	now := r.clk.Now()
	r.retryMu.Lock()
	if !force && !r.lastRetry.IsZero() && now.Sub(r.lastRetry) < r.opts.RetryInterval {
		r.retryMu.Unlock()
		return 0
	}
	r.lastRetry = now
	r.retryMu.Unlock()

	n, err := r.notifier.RetryPending(ctx)
	if err != nil {
		logger.Error("Webhook retry sweep failed", logger.Fields{"error": err.Error()})
	}
	return n
}

func (r *Reconciler) expire(ctx context.Context) int {
	now := r.clk.Now().UTC()
	expired, err := r.stores.Payments.ExpireStale(ctx, now, r.opts.ConfirmationGrace)
	if err != nil {
		logger.Error("Expiry sweep failed", logger.Fields{"error": err.Error()})
	}
	for i := range expired {
		e := &expired[i]
		notifyTransition(ctx, r.notifier, r.events, &e.Payment, e.From, models.StatusExpired, now)
	}
	return len(expired)
}

func (r *Reconciler) reconcileActive(ctx context.Context) (checked, changed, failed int) {
	now := r.clk.Now().UTC()
	var (
		height int64
		after  *database.ActiveCursor
	)
	// every active payment is visited each cycle; pages only bound memory
	for {
		payments, err := r.stores.Payments.ListActive(ctx, r.opts.Network, now, r.opts.ConfirmationGrace, after, r.opts.PageSize)
		if err != nil {
			logger.Error("Failed to load active payments", logger.Fields{"error": err.Error()})
			return checked, changed, failed
		}
		if len(payments) == 0 {
			return checked, changed, failed
		}

		if after == nil {
			// one height per cycle so every payment is judged against the same tip
			height, err = r.chain.BlockHeight(ctx)
			if err != nil {
				logger.Warn("Chain height unavailable, skipping reconciliation", logger.Fields{
					"network":  r.opts.Network,
					"payments": len(payments),
					"error":    err.Error(),
				})
				return 0, 0, 0
			}
		}

		for i := range payments {
			p := &payments[i]
			checked++
			ok, err := r.ReconcilePayment(ctx, p, height)
			if err != nil {
				failed++
				logPaymentError(p, err)
				continue
			}
			if ok {
				changed++
			}
		}

		if r.opts.PageSize <= 0 || len(payments) < r.opts.PageSize {
			return checked, changed, failed
		}
		last := payments[len(payments)-1]
		after = &database.ActiveCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

// ReconcilePayment merges the address's chain activity into the ledger,
// applies the policy and persists the result in one transaction. Status
// transitions are notified after commit. Reports whether the payment changed.
func (r *Reconciler) ReconcilePayment(ctx context.Context, p *models.Payment, height int64) (bool, error) {
	// mempool first: a transaction confirming between the two calls then
	// still shows up in the confirmed history
	mempool, err := r.chain.MempoolTransactions(ctx, p.PaymentAddress)
	if err != nil {
		return false, err
	}
	confirmed, complete, err := r.chain.ConfirmedTransactions(ctx, p.PaymentAddress)
	if err != nil {
		return false, err
	}
	observed := mergeTransactions(confirmed, mempool)
	// rows are only marked dropped against a view known to be whole
	complete = complete && len(mempool) < chain.MempoolLimit

	previous := p.Status
	now := r.clk.Now().UTC()
	var d *decision
	err = r.stores.Transaction(ctx, func(tx *database.Stores) error {
		l := r.ledger.WithTx(tx.DB())

		seen := make(map[string]bool, len(observed))
		for i := range observed {
			t := &observed[i]
			if t.AmountTo(p.PaymentAddress) <= 0 {
				continue
			}
			seen[t.TxID] = true
			if _, err := l.RecordOrUpdate(ctx, p, t, height); err != nil {
				if errors.IsCode(err, errors.CodeInvariantViolation) {
					logger.Error("Ledger invariant violated, skipping transaction", logger.Fields{
						"payment_id": p.ID,
						"tx_hash":    t.TxID,
						"invariant":  "ledger_credit",
						"error":      err.Error(),
					})
					continue
				}
				return err
			}
		}
		if complete {
			if _, err := l.MarkDropped(ctx, p.ID, seen); err != nil {
				return err
			}
		}

		total, err := l.TotalReceived(ctx, p.ID)
		if err != nil {
			return err
		}
		min, err := l.MinConfirmations(ctx, p.ID)
		if err != nil {
			return err
		}

		d = decide(p, Observation{TotalReceived: total, MinConfirmations: min}, now)
		if d == nil {
			return nil
		}
		return tx.Payments.UpdateState(ctx, p, d.update)
	})
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	from := previous
	for _, step := range d.steps {
		logger.Info("State transition", logger.Fields{
			"payment_id":  p.ID,
			"from":        from,
			"to":          step,
			"amount_paid": p.AmountPaid,
			"requested":   p.AmountRequested,
			"confs":       p.CurrentConfirmations,
			"required":    p.RequiredConfirmations,
		})
		notifyTransition(ctx, r.notifier, r.events, p, from, step, now)
		from = step
	}
	return true, nil
}

// mergeTransactions unions confirmed and mempool views by txid, preferring
// the confirmed copy
func mergeTransactions(confirmed, mempool []chain.Transaction) []chain.Transaction {
	out := make([]chain.Transaction, 0, len(confirmed)+len(mempool))
	seen := make(map[string]bool, len(confirmed)+len(mempool))
	for _, group := range [][]chain.Transaction{confirmed, mempool} {
		for _, t := range group {
			if seen[t.TxID] {
				continue
			}
			seen[t.TxID] = true
			out = append(out, t)
		}
	}
	return out
}

func logPaymentError(p *models.Payment, err error) {
	fields := logger.Fields{
		"payment_id": p.ID,
		"status":     p.Status,
		"error":      err.Error(),
	}
	switch errors.Code(err) {
	case errors.CodeConflict:
		logger.Info("Payment changed concurrently, retrying next cycle", fields)
	case errors.CodeUpstreamUnavailable:
		logger.Warn("Explorer unavailable for payment, retrying next cycle", fields)
	case errors.CodePaymentNotFound, errors.CodeMerchantNotFound:
		logger.Warn("Payment disappeared during cycle", fields)
	default:
		logger.Error("Failed to reconcile payment", fields)
	}
}
