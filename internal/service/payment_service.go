package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"counseling-service/internal/apperror"
	"counseling-service/internal/models"
	"counseling-service/internal/store"
	"counseling-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentConfig holds the values handed to the gateway checkout widget.
type PaymentConfig struct {
	ClientKey      string
	SuccessURL     string
	FailURL        string
	GatewayTimeout time.Duration
}

// PaymentService drives the payment state machine PENDING -> PAID -> REFUND.
type PaymentService struct {
	repo    store.Repository
	gateway Gateway
	ledger  *SlotLedger
	notify  *notifier
	cfg     PaymentConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo store.Repository, gw Gateway, ledger *SlotLedger, emitter Emitter, cfg PaymentConfig) *PaymentService {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	logger := util.GetLogger()
	return &PaymentService{
		repo:    repo,
		gateway: gw,
		ledger:  ledger,
		notify:  newNotifier(emitter, logger),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// PaymentRequest represents a request to start a payment
type PaymentRequest struct {
	ReservationID int64 `json:"reservationId" binding:"required"`
	Amount        int64 `json:"amount" binding:"required"`
}

// PaymentRequestResponse is the payload the client passes to the gateway widget
type PaymentRequestResponse struct {
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
	OrderName  string `json:"orderName"`
	ClientKey  string `json:"clientKey"`
	SuccessURL string `json:"successUrl"`
	FailURL    string `json:"failUrl"`
}

// RefundRequest represents a customer refund
type RefundRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	Reason        string `json:"reason"`
}

// CreatePaymentRequest registers a PENDING payment for a reservation. No
// gateway call is made. A repeated request for the same amount returns the
// existing pending payment.
func (s *PaymentService) CreatePaymentRequest(ctx context.Context, caller models.Caller, req *PaymentRequest) (*PaymentRequestResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePaymentRequest")
	defer span.End()

	if req.Amount <= 0 {
		return nil, apperror.BadRequest("amount must be positive")
	}

	var (
		payment   *models.Payment
		orderName string
	)
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		r, err := tx.LockReservation(ctx, req.ReservationID)
		if err != nil {
			return err
		}
		if !caller.IsAdmin() && caller.UserID != r.UserID {
			return apperror.AccessDenied("reservation %d belongs to another user", r.ID)
		}
		if r.Status.Terminal() {
			return apperror.Conflict("reservation %d is already %s", r.ID, r.Status)
		}

		item, err := tx.GetServiceItem(ctx, r.ServiceItemID)
		if err != nil {
			return err
		}
		orderName = item.Name

		active, err := tx.GetActivePaymentByReservation(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("failed to load active payment: %w", err)
		}
		if active != nil {
			if active.Status == models.PaymentStatusPending && active.Amount == req.Amount {
				payment = active
				return nil
			}
			return apperror.Conflict("reservation %d already has a %s payment", r.ID, active.Status)
		}

		p := &models.Payment{
			ReservationID: r.ID,
			Amount:        req.Amount,
			Method:        models.PaymentMethodCard,
			Status:        models.PaymentStatusPending,
			TransactionID: uuid.New().String(),
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.PaymentRequestsTotal.Inc()
	s.logger.Info("Payment requested",
		zap.Int64("reservation_id", payment.ReservationID),
		zap.String("transaction_id", payment.TransactionID),
		zap.Int64("amount", payment.Amount))

	return &PaymentRequestResponse{
		OrderID:    payment.TransactionID,
		Amount:     payment.Amount,
		OrderName:  orderName,
		ClientKey:  s.cfg.ClientKey,
		SuccessURL: s.cfg.SuccessURL,
		FailURL:    s.cfg.FailURL,
	}, nil
}

// Confirm completes a payment after the gateway redirect. The payment row
// stays locked across the gateway call, and a failed call leaves it PENDING.
func (s *PaymentService) Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Confirm")
	defer span.End()

	if paymentKey == "" || orderID == "" {
		return nil, apperror.BadRequest("paymentKey and orderId are required")
	}
	if amount <= 0 {
		return nil, apperror.BadRequest("amount must be positive")
	}

	var (
		payment     *models.Payment
		reservation *models.Reservation
		repeated    bool
	)
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		p, err := tx.LockPaymentByTransactionID(ctx, orderID)
		if err != nil {
			return err
		}

		switch p.Status {
		case models.PaymentStatusPaid:
			if p.GatewayKey != nil && *p.GatewayKey == paymentKey {
				payment, repeated = p, true
				return nil
			}
			return apperror.Conflict("payment %s is already paid", orderID)
		case models.PaymentStatusRefund:
			return apperror.Conflict("payment %s has been refunded", orderID)
		}

		if p.Amount != amount {
			util.PaymentFailedTotal.WithLabelValues("amount_mismatch").Inc()
			return apperror.BadRequest("amount %d does not match payment %s", amount, orderID)
		}

		r, err := tx.LockReservation(ctx, p.ReservationID)
		if err != nil {
			return err
		}
		if r.Status != models.ReservationStatusReserved {
			return apperror.Conflict("reservation %d is %s", r.ID, r.Status)
		}

		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		receipt, err := s.gateway.Confirm(gctx, paymentKey, orderID, amount)
		cancel()
		if err != nil {
			util.PaymentFailedTotal.WithLabelValues("gateway").Inc()
			return apperror.PaymentFailed(err)
		}

		method := receipt.Method
		if method == "" {
			method = models.PaymentMethodCard
		}
		paidAt := s.now().UTC()
		if err := tx.MarkPaymentPaid(ctx, p.ID, paymentKey, method, paidAt); err != nil {
			return fmt.Errorf("failed to mark payment paid: %w", err)
		}
		if err := tx.UpdateReservationStatus(ctx, r.ID, models.ReservationStatusConfirmed); err != nil {
			return fmt.Errorf("failed to confirm reservation: %w", err)
		}

		key := paymentKey
		p.Status = models.PaymentStatusPaid
		p.GatewayKey = &key
		p.Method = method
		p.PaidAt = &paidAt
		r.Status = models.ReservationStatusConfirmed
		payment, reservation = p, r
		return nil
	})
	if err != nil {
		s.logger.Warn("Payment confirmation failed",
			zap.String("transaction_id", orderID),
			zap.Error(err))
		return nil, err
	}

	if repeated {
		s.logger.Info("Duplicate payment confirmation", zap.String("transaction_id", orderID))
		return payment, nil
	}

	util.PaymentsConfirmedTotal.Inc()
	s.logger.Info("Payment confirmed",
		zap.String("transaction_id", orderID),
		zap.Int64("reservation_id", reservation.ID))

	s.notify.emit(ctx, reservation.UserID, reservation.ProviderID, models.NotificationPayment,
		fmt.Sprintf("Your payment of %d has been completed.", payment.Amount))
	s.notify.emit(ctx, reservation.ProviderID, reservation.UserID, models.NotificationPayment,
		fmt.Sprintf("Payment received for the consultation on %s.", reservation.ReservationTime.Format(timeLayout)))

	return payment, nil
}

// Fail records a failure redirect from the gateway. The payment is left
// PENDING so the customer can retry.
func (s *PaymentService) Fail(ctx context.Context, orderID, code, message string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.Fail")
	defer span.End()

	util.PaymentFailedTotal.WithLabelValues("client").Inc()
	s.logger.Warn("Gateway reported payment failure",
		zap.String("transaction_id", orderID),
		zap.String("code", code),
		zap.String("message", message))

	if orderID != "" {
		if _, err := s.repo.GetPaymentByTransactionID(ctx, orderID); err != nil {
			return err
		}
	}
	return apperror.PaymentFailed(fmt.Errorf("%s: %s", code, message))
}

// Refund cancels a PAID payment at the gateway, then marks it REFUND and
// cancels its reservation. Nothing is written if the gateway call fails.
func (s *PaymentService) Refund(ctx context.Context, caller models.Caller, req *RefundRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Refund")
	defer span.End()

	reason := req.Reason
	if reason == "" {
		reason = "customer requested refund"
	}

	var (
		payment     *models.Payment
		reservation *models.Reservation
	)
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		p, err := tx.LockPaymentByTransactionID(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		r, err := tx.LockReservation(ctx, p.ReservationID)
		if err != nil {
			return err
		}
		if !caller.IsAdmin() && caller.UserID != r.UserID {
			return apperror.AccessDenied("payment %s belongs to another user", p.TransactionID)
		}
		if p.Status != models.PaymentStatusPaid {
			return apperror.Conflict("payment %s is %s, only PAID payments can be refunded", p.TransactionID, p.Status)
		}
		if p.GatewayKey == nil || *p.GatewayKey == "" {
			return apperror.Conflict("payment %s has no gateway key", p.TransactionID)
		}
		if r.Status == models.ReservationStatusCompleted {
			return apperror.Conflict("reservation %d is already completed", r.ID)
		}

		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		err = s.gateway.Cancel(gctx, *p.GatewayKey, reason)
		cancel()
		if err != nil {
			util.RefundFailedTotal.WithLabelValues("manual").Inc()
			return apperror.RefundFailed(err)
		}

		if err := applyRefund(ctx, tx, s.ledger, p, r); err != nil {
			return err
		}
		payment, reservation = p, r
		return nil
	})
	if err != nil {
		s.logger.Warn("Refund failed",
			zap.String("transaction_id", req.TransactionID),
			zap.Error(err))
		return nil, err
	}

	util.RefundsTotal.WithLabelValues("manual").Inc()
	s.logger.Info("Payment refunded",
		zap.String("transaction_id", payment.TransactionID),
		zap.Int64("reservation_id", reservation.ID))

	s.notify.emit(ctx, reservation.UserID, reservation.ProviderID, models.NotificationRefund,
		fmt.Sprintf("Your payment of %d has been refunded.", payment.Amount))

	return payment, nil
}

// ListMine lists payments for the caller's reservations
func (s *PaymentService) ListMine(ctx context.Context, caller models.Caller) ([]models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ListMine")
	defer span.End()

	payments, err := s.repo.ListPaymentsByUser(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// ListAll lists every payment for admins, optionally filtered by status.
func (s *PaymentService) ListAll(ctx context.Context, caller models.Caller, status string) ([]models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ListAll")
	defer span.End()

	if !caller.IsAdmin() {
		return nil, apperror.AccessDenied("only admins can list all payments")
	}

	var filter models.PaymentStatus
	if status != "" {
		filter = models.PaymentStatus(strings.ToUpper(strings.TrimSpace(status)))
		if !filter.Valid() {
			return nil, apperror.BadRequest("invalid payment status %q", status)
		}
	}

	payments, err := s.repo.ListPayments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// applyRefund writes the refund postconditions. The slot is released only
// while the reservation still holds it; a reservation cancelled earlier may
// have had its slot booked again.
func applyRefund(ctx context.Context, tx store.Repository, ledger *SlotLedger, p *models.Payment, r *models.Reservation) error {
	if err := tx.MarkPaymentRefunded(ctx, p.ID); err != nil {
		return fmt.Errorf("failed to mark payment refunded: %w", err)
	}
	p.Status = models.PaymentStatusRefund

	if !r.Status.Occupying() {
		return nil
	}
	if err := ledger.Release(ctx, tx, r.SlotID); err != nil {
		return err
	}
	if err := tx.UpdateReservationStatus(ctx, r.ID, models.ReservationStatusCancelled); err != nil {
		return fmt.Errorf("failed to cancel reservation: %w", err)
	}
	r.Status = models.ReservationStatusCancelled
	return nil
}
