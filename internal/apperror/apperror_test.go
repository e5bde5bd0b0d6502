package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("cancel reservation: %w", Conflict("reservation %d already completed", 7))

	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, Is(err, KindConflict))
	assert.Equal(t, "reservation 7 already completed", Message(err))
}

func TestKindOfPlainError(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.False(t, Is(nil, KindInternal))
	assert.Equal(t, "internal server error", Message(err))
}

func TestGatewayKindsKeepCause(t *testing.T) {
	cause := errors.New("gateway timeout")

	err := PaymentFailed(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindPaymentFailed, KindOf(err))
	assert.Equal(t, KindRefundFailed, KindOf(RefundFailed(cause)))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:      http.StatusNotFound,
		KindConflict:      http.StatusBadRequest,
		KindBadRequest:    http.StatusBadRequest,
		KindAccessDenied:  http.StatusForbidden,
		KindUnauthorized:  http.StatusUnauthorized,
		KindPaymentFailed: http.StatusBadRequest,
		KindRefundFailed:  http.StatusBadRequest,
		KindInternal:      http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), kind)
	}
}
