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

const slotColumns = "id, provider_id, start_time, end_time, available, created_at, updated_at"

// InsertSlot creates an available slot
func (s *Store) InsertSlot(ctx context.Context, slot *models.Slot) error {
	query := `
		INSERT INTO slots (provider_id, start_time, end_time, available)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	if err := s.q.GetContext(ctx, slot, query, slot.ProviderID, slot.StartTime, slot.EndTime, slot.Available); err != nil {
		return fmt.Errorf("failed to create slot: %w", err)
	}
	return nil
}

// GetSlot reads a slot without locking it
func (s *Store) GetSlot(ctx context.Context, id int64) (*models.Slot, error) {
	var slot models.Slot
	err := s.q.GetContext(ctx, &slot, "SELECT "+slotColumns+" FROM slots WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("slot %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// LockSlot reads a slot under a row lock held until the transaction ends
func (s *Store) LockSlot(ctx context.Context, id int64) (*models.Slot, error) {
	var slot models.Slot
	err := s.q.GetContext(ctx, &slot, "SELECT "+slotColumns+" FROM slots WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("slot %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock slot: %w", lockError(err, "slot"))
	}
	return &slot, nil
}

// SetSlotAvailable flips the availability flag. Setting the current value
// again is not an error.
func (s *Store) SetSlotAvailable(ctx context.Context, id int64, available bool) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE slots SET available = $1, updated_at = NOW() WHERE id = $2",
		available, id)
	if err != nil {
		return fmt.Errorf("failed to update slot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("slot %d not found", id)
	}
	return nil
}

// HasOverlappingSlot reports whether the provider already has a slot that
// intersects [start, end). Back-to-back slots do not overlap.
func (s *Store) HasOverlappingSlot(ctx context.Context, providerID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := s.q.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM slots WHERE provider_id = $1 AND start_time < $2 AND end_time > $3)",
		providerID, end, start)
	if err != nil {
		return false, fmt.Errorf("failed to check slot overlap: %w", err)
	}
	return exists, nil
}

// ListSlotsByProvider lists a provider's slots in start order
func (s *Store) ListSlotsByProvider(ctx context.Context, providerID int64) ([]models.Slot, error) {
	slots := []models.Slot{}
	err := s.q.SelectContext(ctx, &slots,
		"SELECT "+slotColumns+" FROM slots WHERE provider_id = $1 ORDER BY start_time", providerID)
	return slots, err
}

// DeleteSlot removes a slot. A slot referenced by any reservation, even a
// cancelled one, is kept.
func (s *Store) DeleteSlot(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM slots WHERE id = $1", id)
	if err != nil {
		return referenceError(err, "slot is referenced by a reservation")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("slot %d not found", id)
	}
	return nil
}
