package database

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/texitpay/paygate/internal/models"
)

// DefaultPageSize and MaxPageSize bound list queries
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PaymentQuery is the typed filter for listing payments. Zero-valued fields
// do not constrain the result.
type PaymentQuery struct {
	MerchantID    string
	Statuses      []models.PaymentStatus
	Network       string
	Currency      string
	ExternalID    string
	CustomerEmail string // case-insensitive substring
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	Limit         int
	Offset        int
}

func (q PaymentQuery) apply(db *gorm.DB) *gorm.DB {
	if q.MerchantID != "" {
		db = db.Where("merchant_id = ?", q.MerchantID)
	}
	if len(q.Statuses) > 0 {
		db = db.Where("status IN ?", q.Statuses)
	}
	if q.Network != "" {
		db = db.Where("network = ?", strings.ToUpper(q.Network))
	}
	if q.Currency != "" {
		db = db.Where("currency = ?", strings.ToUpper(q.Currency))
	}
	if q.ExternalID != "" {
		db = db.Where("external_id = ?", q.ExternalID)
	}
	if q.CustomerEmail != "" {
		db = db.Where("LOWER(customer_email) LIKE ?", "%"+strings.ToLower(q.CustomerEmail)+"%")
	}
	if q.CreatedFrom != nil {
		db = db.Where("created_at >= ?", *q.CreatedFrom)
	}
	if q.CreatedTo != nil {
		db = db.Where("created_at <= ?", *q.CreatedTo)
	}
	return db
}

func (q PaymentQuery) page() (limit, offset int) {
	limit = q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	offset = q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
