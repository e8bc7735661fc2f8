package database

import (
	"context"
	stderrors "errors"
	"strings"

	"gorm.io/gorm"

	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/models"
)

// MerchantStore reads merchant configuration
type MerchantStore struct {
	db *gorm.DB
}

// NewMerchantStore creates a merchant store
func NewMerchantStore(db *gorm.DB) *MerchantStore {
	return &MerchantStore{db: db}
}

// Create inserts a merchant together with its networks
func (s *MerchantStore) Create(ctx context.Context, merchant *models.Merchant) error {
	if err := s.db.WithContext(ctx).Create(merchant).Error; err != nil {
		return errors.ErrDatabaseOperation("create_merchant", err)
	}
	return nil
}

// Get retrieves a merchant with its networks
func (s *MerchantStore) Get(ctx context.Context, id string) (*models.Merchant, error) {
	var merchant models.Merchant
	err := s.db.WithContext(ctx).Preload("Networks").Where("id = ?", id).First(&merchant).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrMerchantNotFound(id)
		}
		return nil, errors.ErrDatabaseOperation("get_merchant", err)
	}
	return &merchant, nil
}

// SupportedNetwork returns the merchant's active configuration for the
// (network, currency) pair, or UNSUPPORTED_NETWORK.
func (s *MerchantStore) SupportedNetwork(ctx context.Context, merchantID, network, currency string) (*models.MerchantNetwork, error) {
	network, currency = strings.ToUpper(network), strings.ToUpper(currency)

	var mn models.MerchantNetwork
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND network = ? AND currency = ? AND is_active = ?", merchantID, network, currency, true).
		First(&mn).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrUnsupportedNetwork(network, currency)
		}
		return nil, errors.ErrDatabaseOperation("get_merchant_network", err)
	}
	return &mn, nil
}
