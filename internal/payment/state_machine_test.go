package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texitpay/paygate/internal/ledger"
	"github.com/texitpay/paygate/internal/models"
)

func TestEvaluate(t *testing.T) {
	const requested = 100_000_000
	tests := []struct {
		name     string
		total    int64
		min      int
		previous models.PaymentStatus
		want     models.PaymentStatus
	}{
		{"nothing received", 0, ledger.NoConfirmations, models.StatusPending, models.StatusPending},
		{"full unconfirmed", requested, 0, models.StatusPending, models.StatusDetected},
		{"full partially confirmed", requested, 3, models.StatusDetected, models.StatusConfirming},
		{"full confirmed", requested, 6, models.StatusConfirming, models.StatusCompleted},
		{"overpaid confirmed", requested + 1, 6, models.StatusPending, models.StatusCompleted},
		{"partial confirmed", requested / 2, 6, models.StatusPending, models.StatusUnderpaid},
		{"partial unconfirmed from pending", requested / 2, 0, models.StatusPending, models.StatusDetected},
		{"partial unconfirmed stays detected", requested / 2, 2, models.StatusDetected, models.StatusDetected},
		{"partial unconfirmed keeps confirming", requested / 2, 2, models.StatusConfirming, models.StatusConfirming},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(requested, 6, Observation{TotalReceived: tt.total, MinConfirmations: tt.min}, tt.previous)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPath(t *testing.T) {
	tests := []struct {
		from, to models.PaymentStatus
		want     []models.PaymentStatus
	}{
		{models.StatusPending, models.StatusPending, nil},
		{models.StatusPending, models.StatusDetected, []models.PaymentStatus{models.StatusDetected}},
		{models.StatusPending, models.StatusCompleted, []models.PaymentStatus{models.StatusDetected, models.StatusCompleted}},
		{models.StatusPending, models.StatusUnderpaid, []models.PaymentStatus{models.StatusDetected, models.StatusUnderpaid}},
		{models.StatusDetected, models.StatusCompleted, []models.PaymentStatus{models.StatusCompleted}},
		{models.StatusConfirming, models.StatusDetected, nil},
		{models.StatusCompleted, models.StatusUnderpaid, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, Path(tt.from, tt.to))
		})
	}
}

func TestPathNeverLeavesTransitionGraph(t *testing.T) {
	all := []models.PaymentStatus{
		models.StatusPending, models.StatusDetected, models.StatusConfirming, models.StatusCompleted,
		models.StatusUnderpaid, models.StatusExpired, models.StatusCancelled,
	}
	for _, from := range all {
		for _, to := range all {
			prev := from
			for _, step := range Path(from, to) {
				assert.True(t, models.CanTransition(prev, step), "%s -> %s", prev, step)
				prev = step
			}
		}
	}
}

func TestDecideSetsMilestonesOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)
	p := &models.Payment{
		ID:                    "pay-1",
		AmountRequested:       100,
		RequiredConfirmations: 6,
		Status:                models.StatusDetected,
		DetectedAt:            &earlier,
	}

	d := decide(p, Observation{TotalReceived: 100, MinConfirmations: 6}, now)
	require.NotNil(t, d)
	assert.Equal(t, models.StatusCompleted, d.update.Status)
	assert.Nil(t, d.update.DetectedAt)
	require.NotNil(t, d.update.CompletedAt)
	assert.Equal(t, []models.PaymentStatus{models.StatusCompleted}, d.steps)

	pending := &models.Payment{ID: "pay-2", AmountRequested: 100, RequiredConfirmations: 6, Status: models.StatusPending}
	d = decide(pending, Observation{TotalReceived: 100, MinConfirmations: 6}, now)
	require.NotNil(t, d)
	require.NotNil(t, d.update.DetectedAt)
	require.NotNil(t, d.update.CompletedAt)
	assert.Equal(t, 6, d.update.CurrentConfirmations)
}

func TestDecideNoChange(t *testing.T) {
	p := &models.Payment{ID: "pay-1", AmountRequested: 100, RequiredConfirmations: 6, Status: models.StatusPending}
	assert.Nil(t, decide(p, Observation{MinConfirmations: ledger.NoConfirmations}, time.Now()))

	p = &models.Payment{ID: "pay-1", AmountRequested: 100, AmountPaid: 100, CurrentConfirmations: 2,
		RequiredConfirmations: 6, Status: models.StatusConfirming}
	assert.Nil(t, decide(p, Observation{TotalReceived: 100, MinConfirmations: 2}, time.Now()))
}

func TestDecideKeepsStatusWhenTargetUnreachable(t *testing.T) {
	p := &models.Payment{ID: "pay-1", AmountRequested: 100, AmountPaid: 100, CurrentConfirmations: 2,
		RequiredConfirmations: 6, Status: models.StatusConfirming}

	// a second, unconfirmed input drags the minimum back to zero
	d := decide(p, Observation{TotalReceived: 150, MinConfirmations: 0}, time.Now())
	require.NotNil(t, d)
	assert.Equal(t, models.StatusConfirming, d.update.Status)
	assert.Equal(t, int64(150), d.update.AmountPaid)
	assert.Empty(t, d.steps)
}
