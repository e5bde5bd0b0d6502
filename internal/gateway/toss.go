// Package gateway talks to the card payment gateway. Every call is a single
// synchronous request bounded by a timeout; nothing is retried here.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"counseling-service/internal/util"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	OpConfirm = "confirm"
	OpCancel  = "cancel"
)

// Receipt is the gateway's view of a confirmed payment.
type Receipt struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	Method      string `json:"method"`
	TotalAmount int64  `json:"totalAmount"`
	ApprovedAt  string `json:"approvedAt"`
}

// Error is returned for every failed gateway call.
type Error struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s failed: status %d: %s %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Config struct {
	BaseURL     string
	SecretKey   string
	ConfirmPath string
	// CancelPath is a format string taking the payment key.
	CancelPath string
	Timeout    time.Duration
}

// TossClient is a REST client for a Toss-style payment gateway.
type TossClient struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewTossClient creates a new gateway client
func NewTossClient(cfg Config) *TossClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger := util.GetLogger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "toss-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Gateway circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &TossClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		logger:     logger,
	}
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type cancelRequest struct {
	CancelReason string `json:"cancelReason"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type response struct {
	status int
	body   []byte
}

// Confirm approves a payment the customer authorised in the gateway widget.
func (c *TossClient) Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (*Receipt, error) {
	ctx, span := util.StartSpan(ctx, "TossClient.Confirm")
	defer span.End()

	resp, err := c.call(ctx, OpConfirm, c.cfg.ConfirmPath, orderID, confirmRequest{
		PaymentKey: paymentKey,
		OrderID:    orderID,
		Amount:     amount,
	})
	if err != nil {
		return nil, err
	}

	var receipt Receipt
	if err := json.Unmarshal(resp.body, &receipt); err != nil {
		return nil, &Error{Op: OpConfirm, Err: fmt.Errorf("decode receipt: %w", err)}
	}
	if receipt.PaymentKey == "" {
		receipt.PaymentKey = paymentKey
	}
	return &receipt, nil
}

// Cancel voids or refunds a confirmed payment in full.
func (c *TossClient) Cancel(ctx context.Context, paymentKey, reason string) error {
	ctx, span := util.StartSpan(ctx, "TossClient.Cancel")
	defer span.End()

	path := fmt.Sprintf(c.cfg.CancelPath, url.PathEscape(paymentKey))
	_, err := c.call(ctx, OpCancel, path, "", cancelRequest{CancelReason: reason})
	return err
}

// call performs one request through the circuit breaker. Only transport
// errors and 5xx responses count against the breaker.
func (c *TossClient) call(ctx context.Context, op, path, idempotencyKey string, payload interface{}) (*response, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		util.GatewayLatency.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, path, idempotencyKey, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "rejected"
		}
		c.logger.Warn("Gateway call failed", zap.String("operation", op), zap.Error(err))
		var gwErr *Error
		if errors.As(err, &gwErr) {
			gwErr.Op = op
			return nil, gwErr
		}
		return nil, &Error{Op: op, Err: err}
	}

	resp := result.(*response)
	if resp.status >= 300 {
		outcome = "declined"
		gwErr := &Error{Op: op, StatusCode: resp.status}
		var eb errorBody
		if json.Unmarshal(resp.body, &eb) == nil {
			gwErr.Code = eb.Code
			gwErr.Message = eb.Message
		}
		c.logger.Warn("Gateway declined request",
			zap.String("operation", op),
			zap.Int("status", resp.status),
			zap.String("code", gwErr.Code))
		return nil, gwErr
	}

	outcome = "ok"
	return resp, nil
}

func (c *TossClient) do(ctx context.Context, path, idempotencyKey string, body []byte) (*response, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.SecretKey, "")
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode >= 500 {
		gwErr := &Error{StatusCode: httpResp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			gwErr.Code = eb.Code
			gwErr.Message = eb.Message
		}
		return nil, gwErr
	}
	return &response{status: httpResp.StatusCode, body: data}, nil
}
