package database

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/models"
)

// PaymentStore persists payments. Every state-changing write is conditional
// on the row's version so concurrent writers never overwrite each other.
type PaymentStore struct {
	db *gorm.DB
}

// NewPaymentStore creates a payment store
func NewPaymentStore(db *gorm.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

// StateUpdate is the reconciled state of a payment. Milestone timestamps are
// written only when non-nil.
type StateUpdate struct {
	Status               models.PaymentStatus
	AmountPaid           int64
	CurrentConfirmations int
	DetectedAt           *time.Time
	ConfirmedAt          *time.Time
	CompletedAt          *time.Time
	UpdatedAt            time.Time
}

// Create inserts a new payment
func (s *PaymentStore) Create(ctx context.Context, payment *models.Payment) error {
	if payment.Version == 0 {
		payment.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) && payment.ExternalID != nil {
			return errors.ErrDuplicateExternalID(*payment.ExternalID)
		}
		logger.Error("Failed to create payment", logger.Fields{"error": err.Error(), "payment_id": payment.ID})
		return errors.ErrDatabaseOperation("create_payment", err)
	}
	return nil
}

// Get retrieves a payment by id
func (s *PaymentStore) Get(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrPaymentNotFound(id)
		}
		return nil, errors.ErrDatabaseOperation("get_payment", err)
	}
	return &payment, nil
}

// GetForMerchant retrieves a payment owned by merchantID, with its ledger rows
func (s *PaymentStore) GetForMerchant(ctx context.Context, merchantID, id string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Preload("Transactions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ? AND merchant_id = ?", id, merchantID).
		First(&payment).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrPaymentNotFound(id)
		}
		return nil, errors.ErrDatabaseOperation("get_payment", err)
	}
	return &payment, nil
}

// List returns one page of payments matching q, newest first, and the total match count
func (s *PaymentStore) List(ctx context.Context, q PaymentQuery) ([]models.Payment, int64, error) {
	var total int64
	if err := q.apply(s.db.WithContext(ctx).Model(&models.Payment{})).Count(&total).Error; err != nil {
		return nil, 0, errors.ErrDatabaseOperation("count_payments", err)
	}

	limit, offset := q.page()
	var payments []models.Payment
	err := q.apply(s.db.WithContext(ctx)).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&payments).Error
	if err != nil {
		return nil, 0, errors.ErrDatabaseOperation("list_payments", err)
	}
	return payments, total, nil
}

// ActiveCursor is the keyset position of the last payment of a page
type ActiveCursor struct {
	CreatedAt time.Time
	ID        string
}

// ListActive loads one page of payments on network the loop should
// reconcile: active and not yet past expiresAt. With grace > 0, funded
// payments (DETECTED, CONFIRMING) stay in the set until expiresAt + grace.
// Pages are ordered by (created_at, id); pass the previous page's last row
// as after to continue. limit <= 0 returns the whole set.
func (s *PaymentStore) ListActive(ctx context.Context, network string, now time.Time, grace time.Duration, after *ActiveCursor, limit int) ([]models.Payment, error) {
	db := s.db.WithContext(ctx).Where("network = ?", network)
	if grace > 0 {
		db = db.Where(
			s.db.Where("status IN ? AND expires_at > ?", models.ActiveStatuses, now).
				Or("status IN ? AND expires_at > ?", []models.PaymentStatus{models.StatusDetected, models.StatusConfirming}, now.Add(-grace)),
		)
	} else {
		db = db.Where("status IN ? AND expires_at > ?", models.ActiveStatuses, now)
	}
	if after != nil {
		db = db.Where("created_at > ? OR (created_at = ? AND id > ?)", after.CreatedAt, after.CreatedAt, after.ID)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}

	var payments []models.Payment
	if err := db.Order("created_at ASC").Order("id ASC").Find(&payments).Error; err != nil {
		return nil, errors.ErrDatabaseOperation("list_active_payments", err)
	}
	return payments, nil
}

// Expiry is a payment ExpireStale moved to EXPIRED
type Expiry struct {
	Payment models.Payment
	From    models.PaymentStatus
}

// ExpireStale moves payments past their deadline to EXPIRED and returns the
// rows it changed. PENDING rows expire at expiresAt. With grace > 0, DETECTED
// and CONFIRMING rows expire at expiresAt + grace.
func (s *PaymentStore) ExpireStale(ctx context.Context, now time.Time, grace time.Duration) ([]Expiry, error) {
	db := s.db.WithContext(ctx)
	query := db.Where("status = ? AND expires_at < ?", models.StatusPending, now)
	if grace > 0 {
		query = db.Where(
			s.db.Where("status = ? AND expires_at < ?", models.StatusPending, now).
				Or("status IN ? AND expires_at < ?", []models.PaymentStatus{models.StatusDetected, models.StatusConfirming}, now.Add(-grace)),
		)
	}

	var candidates []models.Payment
	if err := query.Find(&candidates).Error; err != nil {
		return nil, errors.ErrDatabaseOperation("find_stale_payments", err)
	}

	expired := make([]Expiry, 0, len(candidates))
	for i := range candidates {
		p := candidates[i]
		res := db.Model(&models.Payment{}).
			Where("id = ? AND version = ? AND status = ?", p.ID, p.Version, p.Status).
			Updates(map[string]interface{}{
				"status":     models.StatusExpired,
				"version":    gorm.Expr("version + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return expired, errors.ErrDatabaseOperation("expire_payment", res.Error)
		}
		if res.RowsAffected == 0 {
			// changed underneath us (cancelled, detected); its new owner handles it
			continue
		}
		previous := p.Status
		p.Status = models.StatusExpired
		p.Version++
		p.UpdatedAt = now
		expired = append(expired, Expiry{Payment: p, From: previous})
		logger.Info("Payment expired", logger.Fields{"payment_id": p.ID, "from": previous})
	}
	return expired, nil
}

// UpdateState writes a reconciled state if the row is still at payment's
// version and status. A lost race returns a CONFLICT error and changes nothing.
// On success payment is updated in place.
func (s *PaymentStore) UpdateState(ctx context.Context, payment *models.Payment, u StateUpdate) error {
	updates := map[string]interface{}{
		"status":                u.Status,
		"amount_paid":           u.AmountPaid,
		"current_confirmations": u.CurrentConfirmations,
		"version":               gorm.Expr("version + 1"),
		"updated_at":            u.UpdatedAt,
	}
	if u.DetectedAt != nil {
		updates["detected_at"] = *u.DetectedAt
	}
	if u.ConfirmedAt != nil {
		updates["confirmed_at"] = *u.ConfirmedAt
	}
	if u.CompletedAt != nil {
		updates["completed_at"] = *u.CompletedAt
	}

	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND version = ? AND status = ?", payment.ID, payment.Version, payment.Status).
		Updates(updates)
	if res.Error != nil {
		return errors.ErrDatabaseOperation("update_payment_state", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrConflict("payment", payment.ID)
	}

	payment.Status = u.Status
	payment.AmountPaid = u.AmountPaid
	payment.CurrentConfirmations = u.CurrentConfirmations
	if u.DetectedAt != nil {
		payment.DetectedAt = u.DetectedAt
	}
	if u.ConfirmedAt != nil {
		payment.ConfirmedAt = u.ConfirmedAt
	}
	if u.CompletedAt != nil {
		payment.CompletedAt = u.CompletedAt
	}
	payment.Version++
	payment.UpdatedAt = u.UpdatedAt
	return nil
}

// Cancel moves a PENDING payment owned by merchantID to CANCELLED. Any other
// status fails with INVALID_STATE without touching the row.
func (s *PaymentStore) Cancel(ctx context.Context, merchantID, id string, now time.Time) (*models.Payment, error) {
	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND merchant_id = ? AND status = ?", id, merchantID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":       models.StatusCancelled,
			"cancelled_at": now,
			"version":      gorm.Expr("version + 1"),
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, errors.ErrDatabaseOperation("cancel_payment", res.Error)
	}

	payment, err := s.GetForMerchant(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, errors.ErrInvalidState(id, string(payment.Status))
	}
	return payment, nil
}
