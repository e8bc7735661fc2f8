package errors

import (
	"fmt"
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCodeThroughWrapChain(t *testing.T) {
	base := ErrUpstreamUnavailable("explorer", fmt.Errorf("dial tcp: refused"))
	wrapped := pkgerrors.Wrap(fmt.Errorf("fetch history: %w", base), "payment p-1")

	assert.Equal(t, CodeUpstreamUnavailable, Code(wrapped))
	assert.True(t, IsCode(wrapped, CodeUpstreamUnavailable))
	assert.False(t, IsCode(wrapped, CodeConflict))
	assert.False(t, IsCode(nil, CodeConflict))
	assert.Equal(t, "", Code(fmt.Errorf("plain")))
}

func TestAppErrorFormatting(t *testing.T) {
	err := ErrDatabaseOperation("update_payment", fmt.Errorf("locked"))
	assert.Equal(t, "DATABASE_ERROR: Database operation 'update_payment' failed (underlying: locked)", err.Error())
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)

	nf := ErrPaymentNotFound("p-2")
	assert.Equal(t, "PAYMENT_NOT_FOUND: Payment 'p-2' not found", nf.Error())
	assert.Equal(t, http.StatusNotFound, nf.StatusCode)
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrInvalidState("p-3", "COMPLETED"))
	assert.Equal(t, CodeInvalidState, resp.Error.Code)
	assert.Equal(t, "Payment 'p-3' is COMPLETED", resp.Error.Message)
}
