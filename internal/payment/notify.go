package payment

import (
	"context"
	"strconv"
	"time"

	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/models"
)

// WebhookSender delivers one merchant notification
type WebhookSender interface {
	Send(ctx context.Context, merchantID string, paymentID *string, event string, data interface{}) (*models.WebhookLog, error)
}

// EventPublisher fans status transitions out to downstream consumers
type EventPublisher interface {
	PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
}

// WebhookData builds the data object of a payment.* notification
func WebhookData(p *models.Payment, status models.PaymentStatus, amountPaid int64) models.PaymentWebhookData {
	return models.PaymentWebhookData{
		PaymentID:       p.ID,
		ExternalID:      p.ExternalID,
		Status:          status,
		AmountRequested: strconv.FormatInt(p.AmountRequested, 10),
		AmountPaid:      strconv.FormatInt(amountPaid, 10),
		Currency:        p.Currency,
		Network:         p.Network,
		PaymentAddress:  p.PaymentAddress,
	}
}

// notifyTransition tells the merchant and the event queue that p entered to.
// Failures are logged and never returned: the state change is already committed.
func notifyTransition(ctx context.Context, webhooks WebhookSender, events EventPublisher, p *models.Payment, from, to models.PaymentStatus, now time.Time) {
	event := to.EventName()
	if webhooks != nil {
		paymentID := p.ID
		if _, err := webhooks.Send(ctx, p.MerchantID, &paymentID, event, WebhookData(p, to, p.AmountPaid)); err != nil {
			logger.Error("Failed to send webhook", logger.Fields{
				"payment_id": p.ID,
				"event":      event,
				"error":      err.Error(),
			})
		}
	}

	if events == nil {
		return
	}
	err := events.PublishPaymentEvent(ctx, &models.PaymentEvent{
		EventType:       event,
		PaymentID:       p.ID,
		MerchantID:      p.MerchantID,
		FromStatus:      from,
		Status:          to,
		AmountRequested: p.AmountRequested,
		AmountPaid:      p.AmountPaid,
		Currency:        p.Currency,
		Network:         p.Network,
		Timestamp:       now,
	})
	if err != nil {
		logger.Error("Failed to publish payment event", logger.Fields{
			"payment_id": p.ID,
			"event":      event,
			"error":      err.Error(),
		})
	}
}
