package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/models"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int { return &i }

func validRequest() *models.CreatePaymentRequest {
	return &models.CreatePaymentRequest{
		MerchantID: "merchant-1",
		Network:    "TXC",
		Currency:   "TXC",
		Amount:     "100000000",
	}
}

func TestValidateCreatePaymentRequest(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.CreatePaymentRequest)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid request",
			mutate:  func(*models.CreatePaymentRequest) {},
			wantErr: false,
		},
		{
			name:    "valid fiat request",
			mutate:  func(r *models.CreatePaymentRequest) { r.FiatCurrency = strPtr("usd"); r.Amount = "1000" },
			wantErr: false,
		},
		{
			name:    "missing merchant",
			mutate:  func(r *models.CreatePaymentRequest) { r.MerchantID = "" },
			wantErr: true,
			errMsg:  "merchant_id",
		},
		{
			name:    "missing network",
			mutate:  func(r *models.CreatePaymentRequest) { r.Network = "" },
			wantErr: true,
			errMsg:  "network",
		},
		{
			name:    "unsupported currency",
			mutate:  func(r *models.CreatePaymentRequest) { r.Currency = "DOGE" },
			wantErr: true,
			errMsg:  "currency",
		},
		{
			name:    "fiat as payment currency",
			mutate:  func(r *models.CreatePaymentRequest) { r.Currency = "USD" },
			wantErr: true,
			errMsg:  "currency",
		},
		{
			name:    "zero amount",
			mutate:  func(r *models.CreatePaymentRequest) { r.Amount = "0" },
			wantErr: true,
			errMsg:  "amount",
		},
		{
			name:    "negative amount",
			mutate:  func(r *models.CreatePaymentRequest) { r.Amount = "-1000" },
			wantErr: true,
			errMsg:  "amount",
		},
		{
			name:    "decimal amount",
			mutate:  func(r *models.CreatePaymentRequest) { r.Amount = "1.5" },
			wantErr: true,
			errMsg:  "amount",
		},
		{
			name:    "unsupported fiat",
			mutate:  func(r *models.CreatePaymentRequest) { r.FiatCurrency = strPtr("JPY") },
			wantErr: true,
			errMsg:  "fiat_currency",
		},
		{
			name:    "expiration too long",
			mutate:  func(r *models.CreatePaymentRequest) { r.ExpirationMinutes = intPtr(MaxExpirationMinutes + 1) },
			wantErr: true,
			errMsg:  "expiration_minutes",
		},
		{
			name:    "bad email",
			mutate:  func(r *models.CreatePaymentRequest) { r.CustomerEmail = strPtr("not-an-email") },
			wantErr: true,
			errMsg:  "customer_email",
		},
		{
			name:    "bad success url",
			mutate:  func(r *models.CreatePaymentRequest) { r.SuccessURL = strPtr("ftp://shop.example/ok") },
			wantErr: true,
			errMsg:  "success_url",
		},
		{
			name:    "empty external id",
			mutate:  func(r *models.CreatePaymentRequest) { r.ExternalID = strPtr("") },
			wantErr: true,
			errMsg:  "external_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			err := ValidateCreatePaymentRequest(req)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePaymentQuery(t *testing.T) {
	from := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		query   database.PaymentQuery
		wantErr bool
		errMsg  string
	}{
		{name: "valid", query: database.PaymentQuery{MerchantID: "m", Statuses: []models.PaymentStatus{models.StatusPending}}},
		{name: "missing merchant", query: database.PaymentQuery{}, wantErr: true, errMsg: "merchant_id"},
		{name: "bad status", query: database.PaymentQuery{MerchantID: "m", Statuses: []models.PaymentStatus{"PAID"}}, wantErr: true, errMsg: "status"},
		{name: "bad currency", query: database.PaymentQuery{MerchantID: "m", Currency: "DOGE"}, wantErr: true, errMsg: "currency"},
		{name: "inverted dates", query: database.PaymentQuery{MerchantID: "m", CreatedFrom: &from, CreatedTo: &to}, wantErr: true, errMsg: "created_from"},
		{name: "limit too large", query: database.PaymentQuery{MerchantID: "m", Limit: 1000}, wantErr: true, errMsg: "limit"},
		{name: "negative offset", query: database.PaymentQuery{MerchantID: "m", Offset: -1}, wantErr: true, errMsg: "offset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePaymentQuery(&tt.query)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsValidStatus(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"PENDING", true},
		{"completed", true},
		{"UNDERPAID", true},
		{"FAILED", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidStatus(tt.status))
		})
	}
}
