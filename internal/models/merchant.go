package models

import "time"

// Merchant owns payments and receives their webhooks
type Merchant struct {
	ID                       string            `gorm:"primaryKey;size:36" json:"id"`
	Name                     string            `gorm:"size:255;not null" json:"name"`
	WebhookURL               *string           `gorm:"size:512" json:"webhook_url,omitempty"`
	WebhookSecret            *string           `gorm:"size:255" json:"-"`
	DefaultExpirationMinutes *int              `json:"default_expiration_minutes,omitempty"`
	AutoConfirmations        *int              `json:"auto_confirmations,omitempty"`
	IsActive                 bool              `gorm:"not null" json:"is_active"`
	Networks                 []MerchantNetwork `gorm:"foreignKey:MerchantID" json:"networks,omitempty"`
	CreatedAt                time.Time         `json:"created_at"`
	UpdatedAt                time.Time         `json:"updated_at"`
}

// HasWebhook reports whether the merchant has a delivery endpoint configured
func (m *Merchant) HasWebhook() bool {
	return m.WebhookURL != nil && *m.WebhookURL != ""
}

// Secret returns the webhook signing secret, or "" when unset
func (m *Merchant) Secret() string {
	if m.WebhookSecret == nil {
		return ""
	}
	return *m.WebhookSecret
}

// MerchantNetwork is a (network, currency) pair a merchant accepts
type MerchantNetwork struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	MerchantID    string    `gorm:"size:36;not null;uniqueIndex:idx_merchant_network_currency" json:"merchant_id"`
	Network       string    `gorm:"size:16;not null;uniqueIndex:idx_merchant_network_currency" json:"network"`
	Currency      string    `gorm:"size:16;not null;uniqueIndex:idx_merchant_network_currency" json:"currency"`
	WalletAddress string    `gorm:"size:128" json:"wallet_address"`
	IsActive      bool      `gorm:"not null" json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Address is a pre-provisioned receive address handed out to one payment
type Address struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Network    string     `gorm:"size:16;not null;uniqueIndex:idx_network_address" json:"network"`
	Address    string     `gorm:"size:128;not null;uniqueIndex:idx_network_address" json:"address"`
	PaymentID  *string    `gorm:"size:36;index" json:"payment_id,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
