// Package webhook signs and delivers merchant notifications and keeps their
// retry schedule.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/models"
)

// RetryDelays is the backoff ladder. The n-th failed attempt schedules the
// next one RetryDelays[n-1] later.
var RetryDelays = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
	14400 * time.Second,
}

// ResponseLimit caps the stored response body, in characters
const ResponseLimit = 1000

// MerchantLookup resolves the merchant's current webhook configuration
type MerchantLookup interface {
	Get(ctx context.Context, id string) (*models.Merchant, error)
}

// LogStore persists delivery lineage
type LogStore interface {
	Create(ctx context.Context, log *models.WebhookLog) error
	RecordAttempt(ctx context.Context, log *models.WebhookLog, prevAttempts int) error
	DueForRetry(ctx context.Context, now time.Time, limit int) ([]models.WebhookLog, error)
	Reschedule(ctx context.Context, id string, next *time.Time, reason string, now time.Time) error
}

// Dispatcher delivers signed notifications with at-least-once semantics
type Dispatcher struct {
	merchants MerchantLookup
	logs      LogStore
	client    *http.Client
	clk       clock.Clock
}

// NewDispatcher creates a dispatcher. Each delivery attempt is bounded by timeout.
func NewDispatcher(merchants MerchantLookup, logs LogStore, timeout time.Duration, clk clock.Clock) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{
		merchants: merchants,
		logs:      logs,
		client: &http.Client{
			Timeout: timeout,
			// a redirect is a successful delivery, not something to follow
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		clk: clk,
	}
}

// Send records a notification and makes one delivery attempt. It returns
// (nil, nil) when the merchant has no endpoint. A failed delivery is not an
// error: it is recorded on the returned log and scheduled for retry.
func (d *Dispatcher) Send(ctx context.Context, merchantID string, paymentID *string, event string, data interface{}) (*models.WebhookLog, error) {
	merchant, err := d.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if !merchant.HasWebhook() {
		return nil, nil
	}

	now := d.clk.Now().UTC()
	body, err := json.Marshal(models.WebhookPayload{
		Event:     event,
		Data:      data,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		return nil, errors.ErrInternalServer("failed to encode webhook payload", err)
	}

	log := &models.WebhookLog{
		ID:         uuid.NewString(),
		MerchantID: merchantID,
		PaymentID:  paymentID,
		Event:      event,
		Payload:    body,
		URL:        *merchant.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := d.logs.Create(ctx, log); err != nil {
		return nil, err
	}

	d.attempt(ctx, log, log.URL, merchant.Secret())
	return log, nil
}

// RetryPending re-delivers due notifications with each merchant's current
// endpoint and secret. Returns how many were attempted.
func (d *Dispatcher) RetryPending(ctx context.Context) (int, error) {
	due, err := d.logs.DueForRetry(ctx, d.clk.Now().UTC(), database.RetryBatchSize)
	if err != nil {
		return 0, err
	}

	retried := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		log := &due[i]
		merchant, err := d.merchants.Get(ctx, log.MerchantID)
		switch {
		case err != nil && !errors.IsCode(err, errors.CodeMerchantNotFound):
			// rows that cannot be attempted must leave the head of the queue
			next := d.clk.Now().UTC().Add(RetryDelays[0])
			d.hold(ctx, log, &next, "merchant lookup failed: "+err.Error())
			continue
		case err != nil || !merchant.HasWebhook():
			d.hold(ctx, log, nil, "merchant has no webhook endpoint")
			continue
		}
		d.attempt(ctx, log, *merchant.WebhookURL, merchant.Secret())
		retried++
	}

	if retried > 0 {
		logger.Info("Webhook retry sweep finished", logger.Fields{"due": len(due), "retried": retried})
	}
	return retried, nil
}

// hold reschedules a due notification that could not be attempted
func (d *Dispatcher) hold(ctx context.Context, log *models.WebhookLog, next *time.Time, reason string) {
	fields := logger.Fields{
		"webhook_id":  log.ID,
		"merchant_id": log.MerchantID,
		"reason":      reason,
	}
	if next != nil {
		fields["next_retry_at"] = *next
	}
	logger.Warn("Webhook retry not attempted", fields)
	if err := d.logs.Reschedule(ctx, log.ID, next, reason, d.clk.Now().UTC()); err != nil {
		logger.Error("Failed to reschedule webhook", logger.Fields{"webhook_id": log.ID, "error": err.Error()})
	}
}

// attempt delivers log to url once and records the outcome. log.URL keeps
// the endpoint of the first send. Failures are logged, never returned.
func (d *Dispatcher) attempt(ctx context.Context, log *models.WebhookLog, url, secret string) {
	prev := log.Attempts
	status, body, err := d.post(ctx, url, log.Payload, secret)
	now := d.clk.Now().UTC()

	log.Attempts = prev + 1
	log.UpdatedAt = now
	// 0 when the endpoint was never reached
	log.HTTPStatus = &status
	if body != "" {
		log.Response = &body
	} else {
		log.Response = nil
	}

	if err == nil && status >= 200 && status < 400 {
		log.IsDelivered = true
		log.DeliveredAt = &now
		log.NextRetryAt = nil
		log.Error = nil
	} else {
		if err == nil {
			err = pkgerrors.Errorf("endpoint returned status %d", status)
		}
		msg := truncate(err.Error(), ResponseLimit)
		log.Error = &msg
		log.NextRetryAt = nextRetry(now, log.Attempts)

		fields := logger.Fields{
			"webhook_id":  log.ID,
			"merchant_id": log.MerchantID,
			"event":       log.Event,
			"attempts":    log.Attempts,
			"http_status": status,
			"error":       msg,
		}
		if log.NextRetryAt == nil {
			logger.Error("Webhook delivery failed permanently", fields)
		} else {
			fields["next_retry_at"] = *log.NextRetryAt
			logger.Warn("Webhook delivery failed", fields)
		}
	}

	if rerr := d.logs.RecordAttempt(ctx, log, prev); rerr != nil {
		logger.Error("Failed to record webhook attempt", logger.Fields{
			"webhook_id": log.ID,
			"error":      rerr.Error(),
		})
		return
	}
	if log.IsDelivered {
		logger.Info("Webhook delivered", logger.Fields{
			"webhook_id":  log.ID,
			"event":       log.Event,
			"http_status": status,
			"attempts":    log.Attempts,
		})
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, payload []byte, secret string) (int, string, error) {
	timestamp, err := payloadTimestamp(payload)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", pkgerrors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(secret, payload))
	req.Header.Set(TimestampHeader, timestamp)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", errors.ErrDeliveryFailed(url, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*ResponseLimit))
	return resp.StatusCode, truncate(string(raw), ResponseLimit), nil
}

// payloadTimestamp reads the timestamp field back out of a stored payload
func payloadTimestamp(payload []byte) (string, error) {
	var p struct {
		Timestamp json.Number `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", pkgerrors.Wrap(err, "decode stored payload")
	}
	if _, err := strconv.ParseInt(p.Timestamp.String(), 10, 64); err != nil {
		return "", pkgerrors.Wrap(err, "payload timestamp")
	}
	return p.Timestamp.String(), nil
}

func nextRetry(now time.Time, attempts int) *time.Time {
	if attempts >= models.MaxWebhookAttempts || attempts < 1 || attempts > len(RetryDelays) {
		return nil
	}
	at := now.Add(RetryDelays[attempts-1])
	return &at
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
