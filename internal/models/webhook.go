package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// MaxWebhookAttempts bounds automatic delivery attempts per log row
const MaxWebhookAttempts = 5

// SignedPayload holds the exact bytes a signature was computed over. It is
// stored as text so the database never re-serializes it.
type SignedPayload []byte

// Value implements driver.Valuer
func (p SignedPayload) Value() (driver.Value, error) {
	return string(p), nil
}

// Scan implements sql.Scanner
func (p *SignedPayload) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append(SignedPayload(nil), v...)
	case string:
		*p = SignedPayload(v)
	default:
		return fmt.Errorf("cannot scan %T into SignedPayload", value)
	}
	return nil
}

// MarshalJSON embeds the payload as raw JSON
func (p SignedPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// WebhookLog is one notification and its delivery attempt lineage
type WebhookLog struct {
	ID          string        `gorm:"primaryKey;size:36" json:"id"`
	MerchantID  string        `gorm:"size:36;not null;index" json:"merchant_id"`
	PaymentID   *string       `gorm:"size:36;index" json:"payment_id,omitempty"`
	Event       string        `gorm:"size:64;not null" json:"event"`
	Payload     SignedPayload `gorm:"type:text;not null" json:"payload"`
	URL         string        `gorm:"size:512;not null" json:"url"`
	HTTPStatus  *int          `json:"http_status,omitempty"`
	Response    *string       `gorm:"type:text" json:"response,omitempty"`
	Error       *string       `gorm:"type:text" json:"error,omitempty"`
	Attempts    int           `gorm:"not null;default:0" json:"attempts"`
	IsDelivered bool          `gorm:"not null;default:false;index:idx_webhook_retry" json:"is_delivered"`
	NextRetryAt *time.Time    `gorm:"index:idx_webhook_retry" json:"next_retry_at,omitempty"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// WebhookPayload is the signed body. Field order is the wire order and
// Timestamp is epoch milliseconds.
type WebhookPayload struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// PaymentWebhookData is the data object of every payment.* event.
// Amounts are decimal strings in the smallest unit.
type PaymentWebhookData struct {
	PaymentID       string        `json:"paymentId"`
	ExternalID      *string       `json:"externalId"`
	Status          PaymentStatus `json:"status"`
	AmountRequested string        `json:"amountRequested"`
	AmountPaid      string        `json:"amountPaid"`
	Currency        string        `json:"currency"`
	Network         string        `json:"network"`
	PaymentAddress  string        `json:"paymentAddress"`
}
