package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes shared between the engine and the API surface
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeValidation          = "VALIDATION_ERROR"
	CodePaymentNotFound     = "PAYMENT_NOT_FOUND"
	CodeMerchantNotFound    = "MERCHANT_NOT_FOUND"
	CodeUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	CodeDuplicateExternalID = "DUPLICATE_EXTERNAL_ID"
	CodeInvalidState        = "INVALID_STATE"
	CodeConflict            = "CONFLICT"
	CodeNoAddressAvailable  = "NO_ADDRESS_AVAILABLE"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeDeliveryFailed      = "DELIVERY_FAILED"
	CodeInvariantViolation  = "INVARIANT_VIOLATION"
	CodeDatabase            = "DATABASE_ERROR"
	CodeQueue               = "QUEUE_ERROR"
	CodeInternal            = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code       string // Machine-readable error code
	Message    string // Human-readable error message
	StatusCode int    // HTTP status code
	Err        error  // Underlying error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (underlying: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// As returns the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Code returns the code of the first AppError in err's chain, or "" if none
func Code(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code
func IsCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// Common error constructors

// ErrInvalidRequest creates an invalid request error
func ErrInvalidRequest(message string, err error) *AppError {
	return New(CodeInvalidRequest, message, http.StatusBadRequest, err)
}

// ErrValidation creates a validation error
func ErrValidation(field, reason string) *AppError {
	return New(CodeValidation, fmt.Sprintf("Validation failed for field '%s': %s", field, reason), http.StatusBadRequest, nil)
}

// ErrPaymentNotFound creates a payment not found error
func ErrPaymentNotFound(paymentID string) *AppError {
	return New(CodePaymentNotFound, fmt.Sprintf("Payment '%s' not found", paymentID), http.StatusNotFound, nil)
}

// ErrMerchantNotFound creates a merchant not found error
func ErrMerchantNotFound(merchantID string) *AppError {
	return New(CodeMerchantNotFound, fmt.Sprintf("Merchant '%s' not found", merchantID), http.StatusNotFound, nil)
}

// ErrUnsupportedNetwork is returned when a merchant has no active wallet for a network/currency pair
func ErrUnsupportedNetwork(network, currency string) *AppError {
	return New(CodeUnsupportedNetwork, fmt.Sprintf("Network %s with currency %s is not supported", network, currency), http.StatusBadRequest, nil)
}

// ErrDuplicateExternalID creates a duplicate external id error
func ErrDuplicateExternalID(externalID string) *AppError {
	return New(CodeDuplicateExternalID, fmt.Sprintf("Payment with external id '%s' already exists", externalID), http.StatusConflict, nil)
}

// ErrInvalidState is returned when an operation is not allowed from the payment's current status
func ErrInvalidState(paymentID, status string) *AppError {
	return New(CodeInvalidState, fmt.Sprintf("Payment '%s' is %s", paymentID, status), http.StatusConflict, nil)
}

// ErrConflict signals a lost optimistic-lock race
func ErrConflict(resource, id string) *AppError {
	return New(CodeConflict, fmt.Sprintf("%s '%s' was modified concurrently", resource, id), http.StatusConflict, nil)
}

// ErrNoAddressAvailable is returned when the address pool for a network is drained
func ErrNoAddressAvailable(network string) *AppError {
	return New(CodeNoAddressAvailable, fmt.Sprintf("No unassigned %s address available", network), http.StatusServiceUnavailable, nil)
}

// ErrUpstreamUnavailable wraps a failed call to an external service
func ErrUpstreamUnavailable(service string, err error) *AppError {
	return New(CodeUpstreamUnavailable, fmt.Sprintf("Upstream '%s' unavailable", service), http.StatusBadGateway, err)
}

// ErrDeliveryFailed creates a webhook delivery error
func ErrDeliveryFailed(url string, err error) *AppError {
	return New(CodeDeliveryFailed, fmt.Sprintf("Webhook delivery to '%s' failed", url), http.StatusBadGateway, err)
}

// ErrInvariantViolation flags state that chain rules say cannot happen
func ErrInvariantViolation(message string) *AppError {
	return New(CodeInvariantViolation, message, http.StatusInternalServerError, nil)
}

// ErrInternalServer creates an internal server error
func ErrInternalServer(message string, err error) *AppError {
	return New(CodeInternal, message, http.StatusInternalServerError, err)
}

// ErrDatabaseOperation creates a database operation error
func ErrDatabaseOperation(operation string, err error) *AppError {
	return New(CodeDatabase, fmt.Sprintf("Database operation '%s' failed", operation), http.StatusInternalServerError, err)
}

// ErrQueueOperation creates a queue operation error
func ErrQueueOperation(operation string, err error) *AppError {
	return New(CodeQueue, fmt.Sprintf("Queue operation '%s' failed", operation), http.StatusInternalServerError, err)
}

// ErrorResponse represents an error response structure
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details for API responses
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToErrorResponse converts an AppError to an ErrorResponse
func ToErrorResponse(err *AppError) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    err.Code,
			Message: err.Message,
		},
	}
}
