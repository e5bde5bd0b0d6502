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

// SlotService manages the bookable calendar of counselors. Occupancy is
// owned by SlotLedger; this service only creates, lists and removes slots.
type SlotService struct {
	repo   store.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewSlotService creates a new slot service
func NewSlotService(repo store.Repository) *SlotService {
	return &SlotService{repo: repo, logger: util.GetLogger(), now: time.Now}
}

// CreateSlotRequest represents a counselor opening a time slot
type CreateSlotRequest struct {
	StartTime time.Time `json:"startTime" binding:"required"`
	EndTime   time.Time `json:"endTime" binding:"required"`
}

// Create opens an available slot on the calling counselor's calendar.
func (s *SlotService) Create(ctx context.Context, caller models.Caller, req *CreateSlotRequest) (*models.Slot, error) {
	ctx, span := util.StartSpan(ctx, "SlotService.Create")
	defer span.End()

	if caller.Role != models.RoleCounselor {
		return nil, apperror.AccessDenied("only counselors can open slots")
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return nil, apperror.BadRequest("startTime and endTime are required")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, apperror.BadRequest("endTime must be after startTime")
	}
	if req.StartTime.Before(s.now()) {
		return nil, apperror.BadRequest("slot must start in the future")
	}

	slot := &models.Slot{
		ProviderID: caller.UserID,
		StartTime:  req.StartTime.UTC(),
		EndTime:    req.EndTime.UTC(),
		Available:  true,
	}
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		if _, err := tx.LockUser(ctx, caller.UserID); err != nil {
			return err
		}
		overlap, err := tx.HasOverlappingSlot(ctx, slot.ProviderID, slot.StartTime, slot.EndTime)
		if err != nil {
			return err
		}
		if overlap {
			return apperror.Conflict("slot overlaps an existing slot")
		}
		return tx.InsertSlot(ctx, slot)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Slot created",
		zap.Int64("slot_id", slot.ID),
		zap.Int64("provider_id", slot.ProviderID),
		zap.Time("start_time", slot.StartTime))
	return slot, nil
}

// Get returns one slot
func (s *SlotService) Get(ctx context.Context, id int64) (*models.Slot, error) {
	ctx, span := util.StartSpan(ctx, "SlotService.Get")
	defer span.End()

	return s.repo.GetSlot(ctx, id)
}

// ListByProvider lists a counselor's slots in start order. availableOnly
// drops booked slots.
func (s *SlotService) ListByProvider(ctx context.Context, providerID int64, availableOnly bool) ([]models.Slot, error) {
	ctx, span := util.StartSpan(ctx, "SlotService.ListByProvider")
	defer span.End()

	provider, err := s.repo.GetUser(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if provider.Role != models.RoleCounselor {
		return nil, apperror.NotFound("counselor %d not found", providerID)
	}

	slots, err := s.repo.ListSlotsByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	if !availableOnly {
		return slots, nil
	}

	open := make([]models.Slot, 0, len(slots))
	for _, slot := range slots {
		if slot.Available {
			open = append(open, slot)
		}
	}
	return open, nil
}

// Delete removes a free slot. Only its counselor or an admin may delete it,
// and a booked slot is refused.
func (s *SlotService) Delete(ctx context.Context, caller models.Caller, id int64) error {
	ctx, span := util.StartSpan(ctx, "SlotService.Delete")
	defer span.End()

	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		slot, err := tx.LockSlot(ctx, id)
		if err != nil {
			return err
		}
		if !caller.IsAdmin() && caller.UserID != slot.ProviderID {
			return apperror.AccessDenied("slot %d belongs to another counselor", id)
		}
		if !slot.Available {
			return apperror.Conflict("slot %d is booked", id)
		}
		return tx.DeleteSlot(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Slot deleted", zap.Int64("slot_id", id), zap.Int64("by_user_id", caller.UserID))
	return nil
}
