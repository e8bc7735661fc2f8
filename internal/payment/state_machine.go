package payment

import (
	"time"

	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/ledger"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/models"
)

// Observation is the ledger's view of a payment in one cycle
type Observation struct {
	TotalReceived    int64
	MinConfirmations int // ledger.NoConfirmations when nothing was received
}

// Evaluate applies the settlement policy to the current totals. It is
// stateless: the result depends only on its arguments.
func Evaluate(amountRequested int64, requiredConfirmations int, obs Observation, previous models.PaymentStatus) models.PaymentStatus {
	total, min := obs.TotalReceived, obs.MinConfirmations
	switch {
	case total <= 0:
		return previous
	case total >= amountRequested:
		if min >= requiredConfirmations {
			return models.StatusCompleted
		}
		if min > 0 {
			return models.StatusConfirming
		}
		return models.StatusDetected
	case min >= requiredConfirmations:
		return models.StatusUnderpaid
	case previous == models.StatusPending:
		return models.StatusDetected
	default:
		return previous
	}
}

// Path lists the statuses entered on the way from one status to a target,
// in order. A PENDING payment reaching a later status passes through
// DETECTED. An unreachable target yields nil.
func Path(from, to models.PaymentStatus) []models.PaymentStatus {
	if from == to {
		return nil
	}
	if models.CanTransition(from, to) {
		return []models.PaymentStatus{to}
	}
	if from == models.StatusPending && models.CanTransition(models.StatusDetected, to) {
		return []models.PaymentStatus{models.StatusDetected, to}
	}
	return nil
}

// decision is the reconciled state of one payment and the statuses it entered
type decision struct {
	update database.StateUpdate
	steps  []models.PaymentStatus
}

// decide turns an observation into a state update. It returns nil when the
// stored state already matches.
func decide(p *models.Payment, obs Observation, now time.Time) *decision {
	target := Evaluate(p.AmountRequested, p.RequiredConfirmations, obs, p.Status)
	steps := Path(p.Status, target)
	if target != p.Status && steps == nil {
		logger.Warn("Policy target not reachable, keeping status", logger.Fields{
			"payment_id": p.ID,
			"status":     p.Status,
			"target":     target,
		})
	}

	confirmations := obs.MinConfirmations
	if confirmations == ledger.NoConfirmations {
		confirmations = 0
	}

	status := p.Status
	if len(steps) > 0 {
		status = steps[len(steps)-1]
	}
	if status == p.Status && obs.TotalReceived == p.AmountPaid && confirmations == p.CurrentConfirmations {
		return nil
	}

	d := &decision{
		update: database.StateUpdate{
			Status:               status,
			AmountPaid:           obs.TotalReceived,
			CurrentConfirmations: confirmations,
			UpdatedAt:            now,
		},
		steps: steps,
	}
	for _, s := range steps {
		switch s {
		case models.StatusDetected:
			if p.DetectedAt == nil {
				d.update.DetectedAt = &now
			}
		case models.StatusConfirming:
			if p.ConfirmedAt == nil {
				d.update.ConfirmedAt = &now
			}
		case models.StatusCompleted:
			if p.CompletedAt == nil {
				d.update.CompletedAt = &now
			}
		}
	}
	return d
}
