package service

import (
	"context"
	"fmt"
	"time"

	"counseling-service/internal/apperror"
	"counseling-service/internal/models"
	"counseling-service/internal/store"
	"counseling-service/internal/util"

	"go.uber.org/zap"
)

// SlotLedger guards slot occupancy. Both operations must run inside the
// transaction that also writes the reservation, so the row lock taken by
// Acquire is held until that transaction ends.
type SlotLedger struct {
	logger *zap.Logger
}

// NewSlotLedger creates a new slot ledger
func NewSlotLedger() *SlotLedger {
	return &SlotLedger{logger: util.GetLogger()}
}

// Acquire locks the slot row and marks it unavailable. providerID, when
// non-zero, must own the slot.
func (l *SlotLedger) Acquire(ctx context.Context, tx store.Repository, slotID, providerID int64) (*models.Slot, error) {
	ctx, span := util.StartSpan(ctx, "SlotLedger.Acquire")
	defer span.End()

	start := time.Now()
	slot, err := tx.LockSlot(ctx, slotID)
	util.SlotAcquireLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if providerID != 0 && slot.ProviderID != providerID {
		return nil, apperror.BadRequest("slot %d does not belong to provider %d", slotID, providerID)
	}

	if !slot.Available {
		util.SlotConflictsTotal.Inc()
		l.logger.Info("Slot already taken", zap.Int64("slot_id", slotID))
		return nil, apperror.Conflict("slot %d is already reserved", slotID)
	}

	if err := tx.SetSlotAvailable(ctx, slotID, false); err != nil {
		return nil, fmt.Errorf("failed to occupy slot: %w", err)
	}
	slot.Available = false

	return slot, nil
}

// Release marks the slot available again. Releasing a free slot is a no-op.
func (l *SlotLedger) Release(ctx context.Context, tx store.Repository, slotID int64) error {
	ctx, span := util.StartSpan(ctx, "SlotLedger.Release")
	defer span.End()

	if err := tx.SetSlotAvailable(ctx, slotID, true); err != nil {
		return fmt.Errorf("failed to release slot %d: %w", slotID, err)
	}
	return nil
}
