package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/models"
)

// RetryBatchSize caps how many failed notifications one retry sweep picks up
const RetryBatchSize = 100

// WebhookLogStore persists webhook notifications and their delivery outcomes
type WebhookLogStore struct {
	db *gorm.DB
}

// NewWebhookLogStore creates a webhook log store
func NewWebhookLogStore(db *gorm.DB) *WebhookLogStore {
	return &WebhookLogStore{db: db}
}

// Create inserts a notification before its first delivery attempt
func (s *WebhookLogStore) Create(ctx context.Context, log *models.WebhookLog) error {
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		return errors.ErrDatabaseOperation("create_webhook_log", err)
	}
	return nil
}

// Get retrieves a webhook log by id
func (s *WebhookLogStore) Get(ctx context.Context, id string) (*models.WebhookLog, error) {
	var log models.WebhookLog
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&log).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.CodeInvalidRequest, fmt.Sprintf("Webhook log '%s' not found", id), http.StatusNotFound, nil)
		}
		return nil, errors.ErrDatabaseOperation("get_webhook_log", err)
	}
	return &log, nil
}

// RecordAttempt stores the outcome of one delivery attempt. The write only
// lands if no other worker recorded an attempt since prevAttempts was read.
func (s *WebhookLogStore) RecordAttempt(ctx context.Context, log *models.WebhookLog, prevAttempts int) error {
	res := s.db.WithContext(ctx).Model(&models.WebhookLog{}).
		Where("id = ? AND attempts = ?", log.ID, prevAttempts).
		Updates(map[string]interface{}{
			"http_status":   log.HTTPStatus,
			"response":      log.Response,
			"error":         log.Error,
			"attempts":      log.Attempts,
			"is_delivered":  log.IsDelivered,
			"next_retry_at": log.NextRetryAt,
			"delivered_at":  log.DeliveredAt,
			"updated_at":    log.UpdatedAt,
		})
	if res.Error != nil {
		return errors.ErrDatabaseOperation("update_webhook_log", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrConflict("webhook_log", log.ID)
	}
	return nil
}

// Reschedule moves an undelivered notification's next attempt to next without
// counting an attempt. A nil next parks the row until an operator intervenes.
func (s *WebhookLogStore) Reschedule(ctx context.Context, id string, next *time.Time, reason string, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.WebhookLog{}).
		Where("id = ? AND is_delivered = ?", id, false).
		Updates(map[string]interface{}{
			"next_retry_at": next,
			"error":         reason,
			"updated_at":    now,
		})
	if res.Error != nil {
		return errors.ErrDatabaseOperation("reschedule_webhook_log", res.Error)
	}
	return nil
}

// DueForRetry returns undelivered notifications whose next attempt is due,
// oldest first.
func (s *WebhookLogStore) DueForRetry(ctx context.Context, now time.Time, limit int) ([]models.WebhookLog, error) {
	if limit <= 0 {
		limit = RetryBatchSize
	}
	var logs []models.WebhookLog
	err := s.db.WithContext(ctx).
		Where("is_delivered = ? AND attempts < ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", false, models.MaxWebhookAttempts, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, errors.ErrDatabaseOperation("list_due_webhooks", err)
	}
	return logs, nil
}

// ListByPayment returns every notification sent for a payment, oldest first
func (s *WebhookLogStore) ListByPayment(ctx context.Context, paymentID string) ([]models.WebhookLog, error) {
	var logs []models.WebhookLog
	err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&logs).Error
	if err != nil {
		return nil, errors.ErrDatabaseOperation("list_payment_webhooks", err)
	}
	return logs, nil
}

// ListByMerchant returns a page of a merchant's notifications, newest first
func (s *WebhookLogStore) ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]models.WebhookLog, error) {
	limit, offset = PaymentQuery{Limit: limit, Offset: offset}.page()
	var logs []models.WebhookLog
	err := s.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	if err != nil {
		return nil, errors.ErrDatabaseOperation("list_merchant_webhooks", err)
	}
	return logs, nil
}
