package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"counseling-service/internal/apperror"
	"counseling-service/internal/models"
)

const paymentColumns = "id, reservation_id, amount, method, status, transaction_id, gateway_key, paid_at, created_at, updated_at"

// InsertPayment creates a new payment record
func (s *Store) InsertPayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (reservation_id, amount, method, status, transaction_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := s.q.GetContext(ctx, p, query,
		p.ReservationID, p.Amount, p.Method, p.Status, p.TransactionID)
	if err != nil {
		return uniqueError(err, "reservation already has an active payment")
	}
	return nil
}

// GetPaymentByTransactionID retrieves a payment by its transaction (order) id
func (s *Store) GetPaymentByTransactionID(ctx context.Context, txID string) (*models.Payment, error) {
	var p models.Payment
	err := s.q.GetContext(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE transaction_id = $1", txID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("payment %s not found", txID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// LockPaymentByTransactionID retrieves a payment under a row lock
func (s *Store) LockPaymentByTransactionID(ctx context.Context, txID string) (*models.Payment, error) {
	var p models.Payment
	err := s.q.GetContext(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE transaction_id = $1 FOR UPDATE", txID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("payment %s not found", txID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment: %w", lockError(err, "payment"))
	}
	return &p, nil
}

// GetActivePaymentByReservation returns the payment that is not refunded, or
// nil when the reservation has none.
func (s *Store) GetActivePaymentByReservation(ctx context.Context, reservationID int64) (*models.Payment, error) {
	var p models.Payment
	err := s.q.GetContext(ctx, &p,
		"SELECT "+paymentColumns+" FROM payments WHERE reservation_id = $1 AND status <> $2 ORDER BY created_at DESC LIMIT 1",
		reservationID, models.PaymentStatusRefund)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkPaymentPaid stores the gateway confirmation
func (s *Store) MarkPaymentPaid(ctx context.Context, id int64, gatewayKey, method string, paidAt time.Time) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE payments SET status = $1, gateway_key = $2, method = $3, paid_at = $4, updated_at = NOW() WHERE id = $5",
		models.PaymentStatusPaid, gatewayKey, method, paidAt, id)
	return err
}

// MarkPaymentRefunded moves a payment to REFUND
func (s *Store) MarkPaymentRefunded(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2",
		models.PaymentStatusRefund, id)
	return err
}

// ListExpiredPaidPayments returns PAID payments confirmed at or before cutoff
func (s *Store) ListExpiredPaidPayments(ctx context.Context, cutoff time.Time) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := s.q.SelectContext(ctx, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE status = $1 AND paid_at <= $2 ORDER BY paid_at",
		models.PaymentStatusPaid, cutoff)
	return payments, err
}

// ListPaymentsByUser retrieves the payments of a user's reservations
func (s *Store) ListPaymentsByUser(ctx context.Context, userID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := s.q.SelectContext(ctx, &payments, `
		SELECT p.id, p.reservation_id, p.amount, p.method, p.status, p.transaction_id, p.gateway_key, p.paid_at, p.created_at, p.updated_at
		FROM payments p JOIN reservations r ON r.id = p.reservation_id
		WHERE r.user_id = $1
		ORDER BY p.created_at DESC`, userID)
	return payments, err
}

// ListPayments lists every payment, newest first. An empty status lists all
// statuses.
func (s *Store) ListPayments(ctx context.Context, status models.PaymentStatus) ([]models.Payment, error) {
	payments := []models.Payment{}
	if status == "" {
		err := s.q.SelectContext(ctx, &payments,
			"SELECT "+paymentColumns+" FROM payments ORDER BY created_at DESC")
		return payments, err
	}
	err := s.q.SelectContext(ctx, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE status = $1 ORDER BY created_at DESC", status)
	return payments, err
}
