package payment

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"github.com/texitpay/paygate/internal/config"
	"github.com/texitpay/paygate/internal/currency"
	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/models"
	"github.com/texitpay/paygate/internal/prices"
	"github.com/texitpay/paygate/internal/validator"
)

// PriceSource quotes a crypto currency in USD
type PriceSource interface {
	Price(ctx context.Context, code string) (prices.Quote, error)
}

// Service is the merchant-facing side of payments
type Service struct {
	stores   *database.Stores
	oracle   PriceSource
	webhooks WebhookSender
	events   EventPublisher
	chains   map[string]config.ChainDefaults
	clk      clock.Clock
}

// NewService creates a payment service. events may be nil.
func NewService(stores *database.Stores, oracle PriceSource, webhooks WebhookSender, events EventPublisher, chains map[string]config.ChainDefaults, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		stores:   stores,
		oracle:   oracle,
		webhooks: webhooks,
		events:   events,
		chains:   chains,
		clk:      clk,
	}
}

// Create validates req, assigns a receive address and stores a PENDING payment
func (s *Service) Create(ctx context.Context, req *models.CreatePaymentRequest) (*models.Payment, error) {
	if err := validator.ValidateCreatePaymentRequest(req); err != nil {
		return nil, err
	}
	network := strings.ToUpper(req.Network)
	code := strings.ToUpper(req.Currency)

	chainDefaults, ok := s.chains[network]
	if !ok {
		return nil, errors.ErrUnsupportedNetwork(network, code)
	}

	merchant, err := s.stores.Merchants.Get(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}
	if !merchant.IsActive {
		return nil, errors.ErrValidation("merchant_id", "merchant is not active")
	}
	if _, err := s.stores.Merchants.SupportedNetwork(ctx, merchant.ID, network, code); err != nil {
		return nil, err
	}

	p := &models.Payment{
		ID:            uuid.NewString(),
		MerchantID:    merchant.ID,
		ExternalID:    req.ExternalID,
		Network:       network,
		Currency:      code,
		Status:        models.StatusPending,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		Metadata:      req.Metadata,
		Version:       1,
	}

	if err := s.price(ctx, p, req); err != nil {
		return nil, err
	}

	now := s.clk.Now().UTC()
	expiration := chainDefaults.ExpirationMinutes
	switch {
	case req.ExpirationMinutes != nil && *req.ExpirationMinutes > 0:
		expiration = *req.ExpirationMinutes
	case merchant.DefaultExpirationMinutes != nil && *merchant.DefaultExpirationMinutes > 0:
		expiration = *merchant.DefaultExpirationMinutes
	}
	p.ExpiresAt = now.Add(time.Duration(expiration) * time.Minute)

	p.RequiredConfirmations = chainDefaults.ConfirmationsRequired
	if merchant.AutoConfirmations != nil && *merchant.AutoConfirmations > 0 {
		p.RequiredConfirmations = *merchant.AutoConfirmations
	}

	// address assignment and insert commit together so a failed insert frees the address
	err = s.stores.Transaction(ctx, func(tx *database.Stores) error {
		addr, err := tx.Addresses.Acquire(ctx, network, p.ID, now)
		if err != nil {
			return err
		}
		p.PaymentAddress = addr
		return tx.Payments.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Payment created", logger.Fields{
		"payment_id":       p.ID,
		"merchant_id":      p.MerchantID,
		"network":          p.Network,
		"amount_requested": p.AmountRequested,
		"payment_address":  p.PaymentAddress,
		"expires_at":       p.ExpiresAt,
	})
	return p, nil
}

// price fills the requested amount, converting a fiat amount through the oracle
func (s *Service) price(ctx context.Context, p *models.Payment, req *models.CreatePaymentRequest) error {
	amount, err := parseUnits(req.Amount)
	if err != nil {
		return err
	}

	if req.FiatCurrency == nil || strings.EqualFold(*req.FiatCurrency, p.Currency) {
		p.AmountRequested = amount
		return nil
	}

	fiat := strings.ToUpper(*req.FiatCurrency)
	quote, err := s.oracle.Price(ctx, p.Currency)
	if err != nil {
		return err
	}
	rate := quote.StoredRate()
	crypto, err := currency.FiatToCrypto(amount, fiat, p.Currency, rate)
	if err != nil {
		return errors.ErrValidation("amount", err.Error())
	}
	if crypto <= 0 {
		return errors.ErrValidation("amount", "converts to zero at the current rate")
	}

	p.AmountRequested = crypto
	p.FiatAmount = &amount
	p.FiatCurrency = &fiat
	p.ExchangeRate = &rate
	if quote.Source != prices.SourceLive && quote.Source != prices.SourceCache {
		logger.Warn("Payment priced with degraded rate", logger.Fields{
			"payment_id": p.ID,
			"currency":   p.Currency,
			"source":     quote.Source,
			"rate":       quote.USD.String(),
		})
	}
	return nil
}

// Get returns a merchant's payment with its ledger rows
func (s *Service) Get(ctx context.Context, merchantID, id string) (*models.Payment, error) {
	return s.stores.Payments.GetForMerchant(ctx, merchantID, id)
}

// List returns a page of payments matching q and the total count
func (s *Service) List(ctx context.Context, q database.PaymentQuery) ([]models.Payment, int64, error) {
	if err := validator.ValidatePaymentQuery(&q); err != nil {
		return nil, 0, err
	}
	return s.stores.Payments.List(ctx, q)
}

// Cancel moves a PENDING payment to CANCELLED and notifies the merchant
func (s *Service) Cancel(ctx context.Context, merchantID, id string) (*models.Payment, error) {
	now := s.clk.Now().UTC()
	p, err := s.stores.Payments.Cancel(ctx, merchantID, id, now)
	if err != nil {
		return nil, err
	}

	logger.Info("Payment cancelled", logger.Fields{"payment_id": p.ID, "merchant_id": merchantID})
	notifyTransition(ctx, s.webhooks, s.events, p, models.StatusPending, models.StatusCancelled, now)
	return p, nil
}

// WebhookLogs lists the notifications sent for a merchant's payment
func (s *Service) WebhookLogs(ctx context.Context, merchantID, paymentID string) ([]models.WebhookLog, error) {
	if _, err := s.stores.Payments.GetForMerchant(ctx, merchantID, paymentID); err != nil {
		return nil, err
	}
	return s.stores.Webhooks.ListByPayment(ctx, paymentID)
}

// Response decorates p with human readable amounts
func Response(p *models.Payment) *models.PaymentResponse {
	return &models.PaymentResponse{
		Payment:                p,
		AmountRequestedDisplay: currency.Format(p.AmountRequested, p.Currency),
		AmountPaidDisplay:      currency.Format(p.AmountPaid, p.Currency),
	}
}

func parseUnits(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.ErrValidation("amount", "must be a positive integer in the smallest unit")
	}
	return n, nil
}
