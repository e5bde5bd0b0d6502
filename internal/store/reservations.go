package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"counseling-service/internal/apperror"
	"counseling-service/internal/models"
)

const reservationColumns = "id, user_id, provider_id, service_item_id, slot_id, reservation_time, status, note, is_active, created_at, updated_at"

// InsertReservation creates a new reservation
func (s *Store) InsertReservation(ctx context.Context, r *models.Reservation) error {
	query := `
		INSERT INTO reservations (user_id, provider_id, service_item_id, slot_id, reservation_time, status, note, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := s.q.GetContext(ctx, r, query,
		r.UserID, r.ProviderID, r.ServiceItemID, r.SlotID, r.ReservationTime, r.Status, r.Note, r.IsActive)
	if err != nil {
		return uniqueError(err, "slot is already reserved")
	}
	return nil
}

// GetReservation retrieves a reservation by ID
func (s *Store) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	err := s.q.GetContext(ctx, &r, "SELECT "+reservationColumns+" FROM reservations WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("reservation %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LockReservation retrieves a reservation under a row lock
func (s *Store) LockReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	err := s.q.GetContext(ctx, &r, "SELECT "+reservationColumns+" FROM reservations WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("reservation %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock reservation: %w", lockError(err, "reservation"))
	}
	return &r, nil
}

// UpdateReservationStatus updates reservation status
func (s *Store) UpdateReservationStatus(ctx context.Context, id int64, status models.ReservationStatus) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE reservations SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	return err
}

// ListReservationsByUser retrieves reservations for a user, newest first
func (s *Store) ListReservationsByUser(ctx context.Context, userID int64) ([]models.Reservation, error) {
	reservations := []models.Reservation{}
	err := s.q.SelectContext(ctx, &reservations,
		"SELECT "+reservationColumns+" FROM reservations WHERE user_id = $1 ORDER BY reservation_time DESC", userID)
	return reservations, err
}

// ListReservationsByProvider retrieves the reservations booked with a
// provider, newest first
func (s *Store) ListReservationsByProvider(ctx context.Context, providerID int64) ([]models.Reservation, error) {
	reservations := []models.Reservation{}
	err := s.q.SelectContext(ctx, &reservations,
		"SELECT "+reservationColumns+" FROM reservations WHERE provider_id = $1 ORDER BY reservation_time DESC", providerID)
	return reservations, err
}
