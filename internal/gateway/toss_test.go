package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://api.gateway.test"

func newTestClient() *TossClient {
	return NewTossClient(Config{
		BaseURL:     testBaseURL,
		SecretKey:   "test_sk",
		ConfirmPath: "/v1/payments/confirm",
		CancelPath:  "/v1/payments/%s/cancel",
		Timeout:     2 * time.Second,
	})
}

func TestConfirmSuccess(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/v1/payments/confirm",
		func(req *http.Request) (*http.Response, error) {
			user, pass, ok := req.BasicAuth()
			if !ok || user != "test_sk" || pass != "" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, `{"code":"UNAUTHORIZED_KEY","message":"bad key"}`), nil
			}
			if req.Header.Get("Idempotency-Key") != "order-1" {
				return httpmock.NewStringResponse(http.StatusBadRequest, `{"code":"MISSING_KEY"}`), nil
			}
			var body confirmRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
				"paymentKey":  body.PaymentKey,
				"orderId":     body.OrderID,
				"status":      "DONE",
				"method":      "CARD",
				"totalAmount": body.Amount,
				"approvedAt":  "2026-03-02T10:00:00+09:00",
			})
		})

	receipt, err := newTestClient().Confirm(context.Background(), "pk_1", "order-1", 50000)
	require.NoError(t, err)
	assert.Equal(t, "pk_1", receipt.PaymentKey)
	assert.Equal(t, "order-1", receipt.OrderID)
	assert.Equal(t, int64(50000), receipt.TotalAmount)
	assert.Equal(t, "CARD", receipt.Method)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestConfirmDeclined(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/v1/payments/confirm",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"code":"REJECT_CARD_PAYMENT","message":"limit exceeded"}`))

	_, err := newTestClient().Confirm(context.Background(), "pk_1", "order-1", 50000)
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, OpConfirm, gwErr.Op)
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	assert.Equal(t, "REJECT_CARD_PAYMENT", gwErr.Code)
}

func TestConfirmServerErrorIsNotRetried(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/v1/payments/confirm",
		httpmock.NewStringResponder(http.StatusBadGateway, `{"code":"PROVIDER_ERROR","message":"upstream"}`))

	_, err := newTestClient().Confirm(context.Background(), "pk_1", "order-1", 50000)
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadGateway, gwErr.StatusCode)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestCancel(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var reason string
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/v1/payments/pk_9/cancel",
		func(req *http.Request) (*http.Response, error) {
			var body cancelRequest
			_ = json.NewDecoder(req.Body).Decode(&body)
			reason = body.CancelReason
			return httpmock.NewStringResponse(http.StatusOK, `{"status":"CANCELED"}`), nil
		})

	require.NoError(t, newTestClient().Cancel(context.Background(), "pk_9", "customer request"))
	assert.Equal(t, "customer request", reason)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/v1/payments/pk_9/cancel",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	client := newTestClient()
	for i := 0; i < 5; i++ {
		assert.Error(t, client.Cancel(context.Background(), "pk_9", "r"))
	}
	calls := httpmock.GetTotalCallCount()

	err := client.Cancel(context.Background(), "pk_9", "r")
	assert.Error(t, err)
	assert.Equal(t, calls, httpmock.GetTotalCallCount())
}
