// Package ledger records the on-chain transactions credited to each payment
// and derives the received totals the settlement policy works from.
package ledger

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/texitpay/paygate/internal/chain"
	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/models"
)

// NoConfirmations is returned by MinConfirmations when a payment has no
// contributing transactions yet.
const NoConfirmations = math.MaxInt32

// Ledger is bound to one database handle. Use WithTx to join a transaction.
type Ledger struct {
	db  *gorm.DB
	clk clock.Clock
}

// New creates a ledger
func New(db *gorm.DB, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.New()
	}
	return &Ledger{db: db, clk: clk}
}

// WithTx returns a ledger writing through tx
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx, clk: l.clk}
}

// RecordOrUpdate upserts the ledger row for tx keyed by (txHash, network).
// Recording the same observation twice writes nothing. Confirmations never
// decrease and the credited amount never changes; a differing amount is an
// INVARIANT_VIOLATION and leaves the row untouched. A transaction paying
// nothing to the payment's address returns (nil, nil).
func (l *Ledger) RecordOrUpdate(ctx context.Context, payment *models.Payment, tx *chain.Transaction, height int64) (*models.PaymentTransaction, error) {
	amount := tx.AmountTo(payment.PaymentAddress)
	if amount <= 0 {
		return nil, nil
	}
	confirmations := tx.Confirmations(height)
	now := l.clk.Now().UTC()

	var existing models.PaymentTransaction
	err := l.db.WithContext(ctx).
		Where("tx_hash = ? AND network = ?", tx.TxID, payment.Network).
		First(&existing).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return l.create(ctx, payment, tx, amount, confirmations, now)
	}
	if err != nil {
		return nil, errors.ErrDatabaseOperation("get_ledger_tx", err)
	}

	if existing.PaymentID != payment.ID {
		return nil, errors.ErrInvariantViolation(fmt.Sprintf(
			"tx %s already credited to payment %s", tx.TxID, existing.PaymentID))
	}
	if existing.Amount != amount {
		return nil, errors.ErrInvariantViolation(fmt.Sprintf(
			"tx %s amount changed from %d to %d", tx.TxID, existing.Amount, amount))
	}

	updates := map[string]interface{}{}
	switch {
	case confirmations > existing.Confirmations:
		updates["confirmations"] = confirmations
		existing.Confirmations = confirmations
	case confirmations < existing.Confirmations:
		logger.Warn("Confirmation count went backwards, keeping recorded value", logger.Fields{
			"payment_id": payment.ID,
			"tx_hash":    tx.TxID,
			"recorded":   existing.Confirmations,
			"observed":   confirmations,
		})
	}
	if existing.Confirmations > 0 && !existing.IsConfirmed {
		updates["is_confirmed"] = true
		updates["confirmed_at"] = now
		existing.IsConfirmed = true
		existing.ConfirmedAt = &now
	}
	if tx.Status.Confirmed && existing.BlockNumber == nil && tx.Status.BlockHeight > 0 {
		block := tx.Status.BlockHeight
		hash := tx.Status.BlockHash
		updates["block_number"] = block
		updates["block_hash"] = hash
		existing.BlockNumber = &block
		existing.BlockHash = &hash
	}
	if existing.DroppedAt != nil {
		updates["dropped_at"] = nil
		existing.DroppedAt = nil
		logger.Info("Dropped transaction reappeared", logger.Fields{"payment_id": payment.ID, "tx_hash": tx.TxID})
	}
	if len(updates) == 0 {
		return &existing, nil
	}

	updates["updated_at"] = now
	res := l.db.WithContext(ctx).Model(&models.PaymentTransaction{}).Where("id = ?", existing.ID).Updates(updates)
	if res.Error != nil {
		return nil, errors.ErrDatabaseOperation("update_ledger_tx", res.Error)
	}
	existing.UpdatedAt = now
	return &existing, nil
}

func (l *Ledger) create(ctx context.Context, payment *models.Payment, tx *chain.Transaction, amount int64, confirmations int, now time.Time) (*models.PaymentTransaction, error) {
	row := &models.PaymentTransaction{
		ID:            uuid.NewString(),
		PaymentID:     payment.ID,
		TxHash:        tx.TxID,
		Network:       payment.Network,
		ToAddress:     payment.PaymentAddress,
		Amount:        amount,
		Confirmations: confirmations,
		IsConfirmed:   confirmations > 0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sender := tx.Sender(); sender != "" {
		row.FromAddress = &sender
	}
	if row.IsConfirmed {
		row.ConfirmedAt = &now
	}
	if tx.Status.Confirmed && tx.Status.BlockHeight > 0 {
		block := tx.Status.BlockHeight
		hash := tx.Status.BlockHash
		row.BlockNumber = &block
		row.BlockHash = &hash
	}

	if err := l.db.WithContext(ctx).Create(row).Error; err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errors.ErrConflict("ledger_tx", tx.TxID)
		}
		return nil, errors.ErrDatabaseOperation("create_ledger_tx", err)
	}

	logger.Info("Transaction recorded", logger.Fields{
		"payment_id":    payment.ID,
		"tx_hash":       tx.TxID,
		"amount":        amount,
		"confirmations": confirmations,
	})
	return row, nil
}

// MarkDropped flags the payment's rows whose hash is not in seen. Flagged
// rows stop counting toward the totals until they are observed again.
func (l *Ledger) MarkDropped(ctx context.Context, paymentID string, seen map[string]bool) (int64, error) {
	hashes := make([]string, 0, len(seen))
	for h := range seen {
		hashes = append(hashes, h)
	}

	q := l.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("payment_id = ? AND dropped_at IS NULL", paymentID)
	if len(hashes) > 0 {
		q = q.Where("tx_hash NOT IN ?", hashes)
	}
	now := l.clk.Now().UTC()
	res := q.Updates(map[string]interface{}{"dropped_at": now, "updated_at": now})
	if res.Error != nil {
		return 0, errors.ErrDatabaseOperation("mark_dropped", res.Error)
	}
	if res.RowsAffected > 0 {
		logger.Warn("Transactions no longer visible on chain", logger.Fields{
			"payment_id": paymentID,
			"dropped":    res.RowsAffected,
		})
	}
	return res.RowsAffected, nil
}

// TotalReceived sums every live transaction for the payment, confirmed or not
func (l *Ledger) TotalReceived(ctx context.Context, paymentID string) (int64, error) {
	var total sql.NullInt64
	err := l.live(ctx, paymentID).Select("SUM(amount)").Row().Scan(&total)
	if err != nil {
		return 0, errors.ErrDatabaseOperation("sum_received", err)
	}
	return total.Int64, nil
}

// ConfirmedReceived sums live transactions with at least required confirmations
func (l *Ledger) ConfirmedReceived(ctx context.Context, paymentID string, required int) (int64, error) {
	var total sql.NullInt64
	err := l.live(ctx, paymentID).
		Where("confirmations >= ?", required).
		Select("SUM(amount)").Row().Scan(&total)
	if err != nil {
		return 0, errors.ErrDatabaseOperation("sum_confirmed", err)
	}
	return total.Int64, nil
}

// MinConfirmations is the lowest confirmation count among live transactions,
// or NoConfirmations when there are none.
func (l *Ledger) MinConfirmations(ctx context.Context, paymentID string) (int, error) {
	var min sql.NullInt64
	err := l.live(ctx, paymentID).Select("MIN(confirmations)").Row().Scan(&min)
	if err != nil {
		return 0, errors.ErrDatabaseOperation("min_confirmations", err)
	}
	if !min.Valid {
		return NoConfirmations, nil
	}
	return int(min.Int64), nil
}

// Transactions lists every row recorded for the payment, dropped ones included
func (l *Ledger) Transactions(ctx context.Context, paymentID string) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := l.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, errors.ErrDatabaseOperation("list_ledger_txs", err)
	}
	return rows, nil
}

func (l *Ledger) live(ctx context.Context, paymentID string) *gorm.DB {
	return l.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("payment_id = ? AND dropped_at IS NULL AND amount > 0", paymentID)
}
