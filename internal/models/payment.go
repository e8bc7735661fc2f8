package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentStatus represents the current state of a payment
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusDetected   PaymentStatus = "DETECTED"
	StatusConfirming PaymentStatus = "CONFIRMING"
	StatusCompleted  PaymentStatus = "COMPLETED"
	StatusUnderpaid  PaymentStatus = "UNDERPAID"
	StatusExpired    PaymentStatus = "EXPIRED"
	StatusCancelled  PaymentStatus = "CANCELLED"
)

// ActiveStatuses are the statuses the reconciliation loop works on
var ActiveStatuses = []PaymentStatus{StatusPending, StatusDetected, StatusConfirming}

var transitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:    {StatusDetected, StatusCancelled, StatusExpired},
	StatusDetected:   {StatusConfirming, StatusCompleted, StatusUnderpaid, StatusExpired},
	StatusConfirming: {StatusCompleted, StatusUnderpaid, StatusExpired},
}

// CanTransition reports whether from -> to is an edge of the payment lifecycle
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves the status
func (s PaymentStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsActive reports whether the reconciliation loop still owns the payment
func (s PaymentStatus) IsActive() bool {
	for _, a := range ActiveStatuses {
		if a == s {
			return true
		}
	}
	return false
}

// EventName is the webhook event emitted on entering the status
func (s PaymentStatus) EventName() string {
	return "payment." + strings.ToLower(string(s))
}

// Payment is the unit of settlement. Amounts are in the currency's smallest unit.
type Payment struct {
	ID                    string         `gorm:"primaryKey;size:36" json:"id"`
	MerchantID            string         `gorm:"size:36;not null;index;uniqueIndex:idx_merchant_external_id" json:"merchant_id"`
	ExternalID            *string        `gorm:"size:128;uniqueIndex:idx_merchant_external_id" json:"external_id,omitempty"`
	Network               string         `gorm:"size:16;not null;index:idx_network_status" json:"network"`
	Currency              string         `gorm:"size:16;not null" json:"currency"`
	PaymentAddress        string         `gorm:"size:128;not null;index" json:"payment_address"`
	AmountRequested       int64          `gorm:"not null" json:"amount_requested"`
	AmountPaid            int64          `gorm:"not null;default:0" json:"amount_paid"`
	FiatAmount            *int64         `json:"fiat_amount,omitempty"`
	FiatCurrency          *string        `gorm:"size:8" json:"fiat_currency,omitempty"`
	ExchangeRate          *int64         `json:"exchange_rate,omitempty"` // rate x 10^8
	RequiredConfirmations int            `gorm:"not null" json:"required_confirmations"`
	CurrentConfirmations  int            `gorm:"not null;default:0" json:"current_confirmations"`
	Status                PaymentStatus  `gorm:"size:16;not null;index:idx_network_status" json:"status"`
	ExpiresAt             time.Time      `gorm:"not null;index" json:"expires_at"`
	DetectedAt            *time.Time     `json:"detected_at,omitempty"`
	ConfirmedAt           *time.Time     `json:"confirmed_at,omitempty"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
	CancelledAt           *time.Time     `json:"cancelled_at,omitempty"`
	CustomerEmail         *string        `gorm:"size:255" json:"customer_email,omitempty"`
	CustomerName          *string        `gorm:"size:255" json:"customer_name,omitempty"`
	SuccessURL            *string        `gorm:"size:512" json:"success_url,omitempty"`
	CancelURL             *string        `gorm:"size:512" json:"cancel_url,omitempty"`
	Metadata              datatypes.JSON `json:"metadata,omitempty"`
	Version               int64          `gorm:"not null" json:"-"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             gorm.DeletedAt `gorm:"index" json:"-"`

	Merchant     *Merchant            `gorm:"foreignKey:MerchantID" json:"-"`
	Transactions []PaymentTransaction `gorm:"foreignKey:PaymentID" json:"transactions,omitempty"`
}

// PaymentTransaction is one observed on-chain transaction crediting a payment
type PaymentTransaction struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	PaymentID     string     `gorm:"size:36;not null;index" json:"payment_id"`
	TxHash        string     `gorm:"size:128;not null;uniqueIndex:idx_tx_network" json:"tx_hash"`
	Network       string     `gorm:"size:16;not null;uniqueIndex:idx_tx_network" json:"network"`
	FromAddress   *string    `gorm:"size:128" json:"from_address,omitempty"`
	ToAddress     string     `gorm:"size:128;not null" json:"to_address"`
	Amount        int64      `gorm:"not null" json:"amount"`
	Confirmations int        `gorm:"not null;default:0" json:"confirmations"`
	BlockNumber   *int64     `json:"block_number,omitempty"`
	BlockHash     *string    `gorm:"size:128" json:"block_hash,omitempty"`
	IsConfirmed   bool       `gorm:"not null;default:false" json:"is_confirmed"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	DroppedAt     *time.Time `json:"dropped_at,omitempty"` // absent from the explorer's current view
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CreatePaymentRequest represents the incoming API request. Amount is in the
// crypto's smallest unit, or in fiat cents when FiatCurrency is set.
type CreatePaymentRequest struct {
	MerchantID        string         `json:"merchant_id"`
	ExternalID        *string        `json:"external_id,omitempty"`
	Network           string         `json:"network"`
	Currency          string         `json:"currency"`
	Amount            string         `json:"amount"`
	FiatCurrency      *string        `json:"fiat_currency,omitempty"`
	ExpirationMinutes *int           `json:"expiration_minutes,omitempty"`
	CustomerEmail     *string        `json:"customer_email,omitempty"`
	CustomerName      *string        `json:"customer_name,omitempty"`
	SuccessURL        *string        `json:"success_url,omitempty"`
	CancelURL         *string        `json:"cancel_url,omitempty"`
	Metadata          datatypes.JSON `json:"metadata,omitempty"`
}

// PaymentResponse represents the API response
type PaymentResponse struct {
	*Payment
	AmountRequestedDisplay string `json:"amount_requested_display"`
	AmountPaidDisplay      string `json:"amount_paid_display"`
}

// PaymentEvent is published to the event queue on every status transition
type PaymentEvent struct {
	EventType       string        `json:"event_type"`
	PaymentID       string        `json:"payment_id"`
	MerchantID      string        `json:"merchant_id"`
	FromStatus      PaymentStatus `json:"from_status"`
	Status          PaymentStatus `json:"status"`
	AmountRequested int64         `json:"amount_requested"`
	AmountPaid      int64         `json:"amount_paid"`
	Currency        string        `json:"currency"`
	Network         string        `json:"network"`
	Timestamp       time.Time     `json:"timestamp"`
}
