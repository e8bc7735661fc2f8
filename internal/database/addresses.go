package database

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/models"
)

const acquireAttempts = 5

// AddressPool hands out pre-provisioned receive addresses, one per payment
type AddressPool struct {
	db *gorm.DB
}

// NewAddressPool creates an address pool
func NewAddressPool(db *gorm.DB) *AddressPool {
	return &AddressPool{db: db}
}

// Add imports addresses for network. Addresses already in the pool are skipped.
// Returns how many were new.
func (p *AddressPool) Add(ctx context.Context, network string, addresses []string) (int, error) {
	network = strings.ToUpper(network)
	rows := make([]models.Address, 0, len(addresses))
	seen := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		rows = append(rows, models.Address{Network: network, Address: a})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error != nil {
		return 0, errors.ErrDatabaseOperation("add_addresses", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Acquire assigns a free address on network to paymentID
func (p *AddressPool) Acquire(ctx context.Context, network, paymentID string, now time.Time) (string, error) {
	network = strings.ToUpper(network)
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		var candidate models.Address
		err := p.db.WithContext(ctx).
			Where("network = ? AND payment_id IS NULL", network).
			Order("id ASC").
			First(&candidate).Error
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return "", errors.ErrNoAddressAvailable(network)
			}
			return "", errors.ErrDatabaseOperation("acquire_address", err)
		}

		res := p.db.WithContext(ctx).Model(&models.Address{}).
			Where("id = ? AND payment_id IS NULL", candidate.ID).
			Updates(map[string]interface{}{"payment_id": paymentID, "assigned_at": now})
		if res.Error != nil {
			return "", errors.ErrDatabaseOperation("acquire_address", res.Error)
		}
		if res.RowsAffected == 1 {
			return candidate.Address, nil
		}
		logger.Debug("Address taken concurrently, retrying", logger.Fields{"network": network, "address": candidate.Address})
	}
	return "", errors.ErrNoAddressAvailable(network)
}

// Available counts unassigned addresses on network
func (p *AddressPool) Available(ctx context.Context, network string) (int64, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&models.Address{}).
		Where("network = ? AND payment_id IS NULL", strings.ToUpper(network)).
		Count(&n).Error
	if err != nil {
		return 0, errors.ErrDatabaseOperation("count_addresses", err)
	}
	return n, nil
}
