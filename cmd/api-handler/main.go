package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/texitpay/paygate/internal/app"
	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/models"
	"github.com/texitpay/paygate/internal/payment"
	"github.com/texitpay/paygate/internal/prices"
)

// MerchantHeader carries the caller's merchant id, set by the API Gateway authorizer
const MerchantHeader = "X-Merchant-Id"

// PaymentService is the merchant-facing payment surface
type PaymentService interface {
	Create(ctx context.Context, req *models.CreatePaymentRequest) (*models.Payment, error)
	Get(ctx context.Context, merchantID, id string) (*models.Payment, error)
	List(ctx context.Context, q database.PaymentQuery) ([]models.Payment, int64, error)
	Cancel(ctx context.Context, merchantID, id string) (*models.Payment, error)
	WebhookLogs(ctx context.Context, merchantID, paymentID string) ([]models.WebhookLog, error)
}

// PriceLister prices every supported currency
type PriceLister interface {
	AllPrices(ctx context.Context) map[string]prices.Quote
}

// Handler manages the API Lambda dependencies
type Handler struct {
	payments PaymentService
	prices   PriceLister
}

// NewHandler creates a new API handler
func NewHandler(payments PaymentService, oracle PriceLister) *Handler {
	return &Handler{payments: payments, prices: oracle}
}

// ListResponse is one page of payments
type ListResponse struct {
	Payments []*models.PaymentResponse `json:"payments"`
	Total    int64                     `json:"total"`
	Limit    int                       `json:"limit"`
	Offset   int                       `json:"offset"`
}

// HandleRequest handles the API Gateway request
func (h *Handler) HandleRequest(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger.Info("Received API request", logger.Fields{
		"path":     request.Path,
		"resource": request.Resource,
		"method":   request.HTTPMethod,
	})

	paymentID := request.PathParameters["payment_id"]
	switch {
	case request.HTTPMethod == http.MethodPost && request.Resource == "/payments":
		return h.handleCreatePayment(ctx, request)
	case request.HTTPMethod == http.MethodGet && request.Resource == "/payments":
		return h.handleListPayments(ctx, request)
	case request.HTTPMethod == http.MethodGet && request.Resource == "/payments/{payment_id}":
		return h.handleGetPayment(ctx, request, paymentID)
	case request.HTTPMethod == http.MethodPost && request.Resource == "/payments/{payment_id}/cancel":
		return h.handleCancelPayment(ctx, request, paymentID)
	case request.HTTPMethod == http.MethodGet && request.Resource == "/payments/{payment_id}/webhooks":
		return h.handleWebhookLogs(ctx, request, paymentID)
	case request.HTTPMethod == http.MethodGet && request.Resource == "/prices":
		return jsonResponse(http.StatusOK, h.prices.AllPrices(ctx))
	}

	return errorResponse(http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
}

// handleCreatePayment handles POST /payments
func (h *Handler) handleCreatePayment(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var req models.CreatePaymentRequest
	if err := json.Unmarshal([]byte(request.Body), &req); err != nil {
		logger.Error("Failed to parse request body", logger.Fields{"error": err.Error()})
		return errorResponse(http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
	}
	if merchantID := merchantFrom(request); merchantID != "" {
		req.MerchantID = merchantID
	}

	p, err := h.payments.Create(ctx, &req)
	if err != nil {
		return appErrorResponse(err)
	}
	return jsonResponse(http.StatusCreated, payment.Response(p))
}

// handleListPayments handles GET /payments
func (h *Handler) handleListPayments(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	q, err := parseQuery(merchantFrom(request), request.QueryStringParameters)
	if err != nil {
		return appErrorResponse(err)
	}

	payments, total, err := h.payments.List(ctx, q)
	if err != nil {
		return appErrorResponse(err)
	}

	resp := ListResponse{Payments: make([]*models.PaymentResponse, 0, len(payments)), Total: total, Limit: q.Limit, Offset: q.Offset}
	for i := range payments {
		resp.Payments = append(resp.Payments, payment.Response(&payments[i]))
	}
	return jsonResponse(http.StatusOK, resp)
}

// handleGetPayment handles GET /payments/{payment_id}
func (h *Handler) handleGetPayment(ctx context.Context, request events.APIGatewayProxyRequest, paymentID string) (events.APIGatewayProxyResponse, error) {
	p, err := h.payments.Get(ctx, merchantFrom(request), paymentID)
	if err != nil {
		return appErrorResponse(err)
	}
	return jsonResponse(http.StatusOK, payment.Response(p))
}

// handleCancelPayment handles POST /payments/{payment_id}/cancel
func (h *Handler) handleCancelPayment(ctx context.Context, request events.APIGatewayProxyRequest, paymentID string) (events.APIGatewayProxyResponse, error) {
	p, err := h.payments.Cancel(ctx, merchantFrom(request), paymentID)
	if err != nil {
		return appErrorResponse(err)
	}
	return jsonResponse(http.StatusOK, payment.Response(p))
}

// handleWebhookLogs handles GET /payments/{payment_id}/webhooks
func (h *Handler) handleWebhookLogs(ctx context.Context, request events.APIGatewayProxyRequest, paymentID string) (events.APIGatewayProxyResponse, error) {
	logs, err := h.payments.WebhookLogs(ctx, merchantFrom(request), paymentID)
	if err != nil {
		return appErrorResponse(err)
	}
	if logs == nil {
		logs = []models.WebhookLog{}
	}
	return jsonResponse(http.StatusOK, logs)
}

func merchantFrom(request events.APIGatewayProxyRequest) string {
	for k, v := range request.Headers {
		if strings.EqualFold(k, MerchantHeader) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// parseQuery turns query string parameters into a payment query
func parseQuery(merchantID string, params map[string]string) (database.PaymentQuery, error) {
	q := database.PaymentQuery{
		MerchantID:    merchantID,
		Network:       params["network"],
		Currency:      params["currency"],
		ExternalID:    params["external_id"],
		CustomerEmail: params["customer_email"],
	}
	if s := params["status"]; s != "" {
		for _, status := range strings.Split(s, ",") {
			q.Statuses = append(q.Statuses, models.PaymentStatus(strings.ToUpper(strings.TrimSpace(status))))
		}
	}

	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"created_from", &q.CreatedFrom}, {"created_to", &q.CreatedTo}} {
		if s := params[f.name]; s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return q, errors.ErrValidation(f.name, "must be an RFC 3339 timestamp")
			}
			*f.dst = &t
		}
	}

	for _, f := range []struct {
		name string
		dst  *int
	}{{"limit", &q.Limit}, {"offset", &q.Offset}} {
		if s := params[f.name]; s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return q, errors.ErrValidation(f.name, "must be an integer")
			}
			*f.dst = n
		}
	}
	if q.Limit == 0 {
		q.Limit = database.DefaultPageSize
	}
	return q, nil
}

func headers() map[string]string {
	return map[string]string{
		"Content-Type":                 "application/json",
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET,POST,OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token,X-Merchant-Id",
	}
}

func jsonResponse(statusCode int, v interface{}) (events.APIGatewayProxyResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to marshal response", logger.Fields{"error": err.Error()})
		return errorResponse(http.StatusInternalServerError, errors.CodeInternal, "Failed to encode response")
	}
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    headers(),
		Body:       string(body),
	}, nil
}

// appErrorResponse maps an error to its API response
func appErrorResponse(err error) (events.APIGatewayProxyResponse, error) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		if appErr.StatusCode >= http.StatusInternalServerError {
			logger.Error("Request failed", logger.Fields{"code": appErr.Code, "error": appErr.Error()})
		} else {
			logger.Warn("Request rejected", logger.Fields{"code": appErr.Code, "error": appErr.Message})
		}
		return errorResponse(appErr.StatusCode, appErr.Code, appErr.Message)
	}
	logger.Error("Request failed", logger.Fields{"error": err.Error()})
	return errorResponse(http.StatusInternalServerError, errors.CodeInternal, "Internal server error")
}

// errorResponse creates an error response
func errorResponse(statusCode int, code, message string) (events.APIGatewayProxyResponse, error) {
	body, _ := json.Marshal(errors.ErrorResponse{
		Error: errors.ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    headers(),
		Body:       string(body),
	}, nil
}

func main() {
	cfg, err := app.LoadConfig(context.Background())
	if err != nil {
		logger.Error("Failed to load configuration", logger.Fields{"error": err.Error()})
		panic(err)
	}

	a, err := app.New(cfg)
	if err != nil {
		logger.Error("Failed to create handler", logger.Fields{"error": err.Error()})
		panic(err)
	}

	handler := NewHandler(a.Payments, a.Oracle)
	lambda.Start(handler.HandleRequest)
}
