// Package testutil provides database fixtures shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/models"
)

// Epoch is the fixed start time of mock clocks in tests
var Epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// NewClock returns a mock clock set to Epoch
func NewClock() *clock.Mock {
	clk := clock.NewMock()
	clk.Add(Epoch.Sub(clk.Now()))
	return clk
}

// NewDB opens an isolated in-memory sqlite database with every table migrated
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := database.Open("sqlite", dsn, false)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// MerchantOption customizes a seeded merchant
type MerchantOption func(*models.Merchant)

// WithWebhook sets the merchant's webhook endpoint and secret
func WithWebhook(url, secret string) MerchantOption {
	return func(m *models.Merchant) {
		m.WebhookURL = &url
		m.WebhookSecret = &secret
	}
}

// WithConfirmations overrides the merchant's confirmation threshold
func WithConfirmations(n int) MerchantOption {
	return func(m *models.Merchant) {
		m.AutoConfirmations = &n
	}
}

// SeedMerchant inserts an active merchant accepting TXC on TXC
func SeedMerchant(t *testing.T, db *gorm.DB, opts ...MerchantOption) *models.Merchant {
	t.Helper()

	id := uuid.NewString()
	m := &models.Merchant{
		ID:       id,
		Name:     "Test Merchant",
		IsActive: true,
		Networks: []models.MerchantNetwork{{
			ID:            uuid.NewString(),
			MerchantID:    id,
			Network:       "TXC",
			Currency:      "TXC",
			WalletAddress: "txc1merchantwallet",
			IsActive:      true,
		}},
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("Failed to seed merchant: %v", err)
	}
	return m
}

// PaymentOption customizes a seeded payment
type PaymentOption func(*models.Payment)

// WithStatus sets the payment's status
func WithStatus(s models.PaymentStatus) PaymentOption {
	return func(p *models.Payment) { p.Status = s }
}

// WithExpiry sets the payment's deadline
func WithExpiry(at time.Time) PaymentOption {
	return func(p *models.Payment) { p.ExpiresAt = at }
}

// WithAddress sets the payment's receive address
func WithAddress(addr string) PaymentOption {
	return func(p *models.Payment) { p.PaymentAddress = addr }
}

// WithAmount sets the requested amount in smallest units
func WithAmount(amount int64) PaymentOption {
	return func(p *models.Payment) { p.AmountRequested = amount }
}

// WithRequiredConfirmations sets the confirmation threshold
func WithRequiredConfirmations(n int) PaymentOption {
	return func(p *models.Payment) { p.RequiredConfirmations = n }
}

// SeedPayment inserts a PENDING TXC payment of 1 TXC expiring an hour after Epoch
func SeedPayment(t *testing.T, db *gorm.DB, merchantID string, opts ...PaymentOption) *models.Payment {
	t.Helper()

	p := &models.Payment{
		ID:                    uuid.NewString(),
		MerchantID:            merchantID,
		Network:               "TXC",
		Currency:              "TXC",
		PaymentAddress:        "txc1" + uuid.NewString()[:12],
		AmountRequested:       100_000_000,
		RequiredConfirmations: 3,
		Status:                models.StatusPending,
		ExpiresAt:             Epoch.Add(time.Hour),
		Version:               1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("Failed to seed payment: %v", err)
	}
	return p
}

// Reload reads a payment back from db
func Reload(t *testing.T, db *gorm.DB, id string) *models.Payment {
	t.Helper()

	var p models.Payment
	if err := db.Preload("Transactions").Where("id = ?", id).First(&p).Error; err != nil {
		t.Fatalf("Failed to reload payment %s: %v", id, err)
	}
	return &p
}
