package validator

import (
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"

	"github.com/texitpay/paygate/internal/currency"
	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/models"
)

// Fiat currencies a payment can be denominated in. Rates are quoted in USD.
var supportedFiat = map[string]bool{
	"USD": true,
}

// MaxExpirationMinutes bounds a requested payment window
const MaxExpirationMinutes = 7 * 24 * 60

// ValidateCreatePaymentRequest validates a payment creation request
func ValidateCreatePaymentRequest(req *models.CreatePaymentRequest) error {
	if req == nil {
		return errors.ErrInvalidRequest("request body is required", nil)
	}

	if strings.TrimSpace(req.MerchantID) == "" {
		return errors.ErrValidation("merchant_id", "is required")
	}

	if req.Network == "" {
		return errors.ErrValidation("network", "is required")
	}

	if req.Currency == "" {
		return errors.ErrValidation("currency", "is required")
	}
	code := strings.ToUpper(req.Currency)
	if !currency.IsSupported(code) || currency.IsFiat(code) {
		return errors.ErrValidation("currency", fmt.Sprintf("'%s' is not supported", req.Currency))
	}

	if req.Amount == "" {
		return errors.ErrValidation("amount", "is required")
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(req.Amount), 10, 64)
	if err != nil {
		return errors.ErrValidation("amount", "must be an integer in the smallest unit")
	}
	if amount <= 0 {
		return errors.ErrValidation("amount", "must be greater than 0")
	}

	if req.FiatCurrency != nil && !strings.EqualFold(*req.FiatCurrency, code) {
		if !supportedFiat[strings.ToUpper(*req.FiatCurrency)] {
			return errors.ErrValidation("fiat_currency", fmt.Sprintf("'%s' is not supported", *req.FiatCurrency))
		}
	}

	if req.ExternalID != nil {
		if len(*req.ExternalID) == 0 || len(*req.ExternalID) > 128 {
			return errors.ErrValidation("external_id", "must be between 1 and 128 characters")
		}
	}

	if req.ExpirationMinutes != nil {
		if *req.ExpirationMinutes <= 0 || *req.ExpirationMinutes > MaxExpirationMinutes {
			return errors.ErrValidation("expiration_minutes", fmt.Sprintf("must be between 1 and %d", MaxExpirationMinutes))
		}
	}

	if req.CustomerEmail != nil {
		if _, err := mail.ParseAddress(*req.CustomerEmail); err != nil {
			return errors.ErrValidation("customer_email", "is not a valid email address")
		}
	}

	for field, raw := range map[string]*string{"success_url": req.SuccessURL, "cancel_url": req.CancelURL} {
		if raw == nil {
			continue
		}
		if err := validateURL(*raw); err != nil {
			return errors.ErrValidation(field, err.Error())
		}
	}

	return nil
}

// ValidatePaymentQuery checks and normalizes a list query
func ValidatePaymentQuery(q *database.PaymentQuery) error {
	if strings.TrimSpace(q.MerchantID) == "" {
		return errors.ErrValidation("merchant_id", "is required")
	}
	for _, s := range q.Statuses {
		if !IsValidStatus(string(s)) {
			return errors.ErrValidation("status", fmt.Sprintf("'%s' is not a payment status", s))
		}
	}
	if q.Currency != "" && !currency.IsSupported(q.Currency) {
		return errors.ErrValidation("currency", fmt.Sprintf("'%s' is not supported", q.Currency))
	}
	if q.CreatedFrom != nil && q.CreatedTo != nil && q.CreatedFrom.After(*q.CreatedTo) {
		return errors.ErrValidation("created_from", "must not be after created_to")
	}
	if q.Limit < 0 || q.Limit > database.MaxPageSize {
		return errors.ErrValidation("limit", fmt.Sprintf("must be between 0 and %d", database.MaxPageSize))
	}
	if q.Offset < 0 {
		return errors.ErrValidation("offset", "must not be negative")
	}
	return nil
}

// IsValidStatus checks if s names a payment status
func IsValidStatus(s string) bool {
	switch models.PaymentStatus(strings.ToUpper(s)) {
	case models.StatusPending, models.StatusDetected, models.StatusConfirming,
		models.StatusCompleted, models.StatusUnderpaid, models.StatusExpired, models.StatusCancelled:
		return true
	}
	return false
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("is not a valid URL")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("must use http or https")
	}
	return nil
}
