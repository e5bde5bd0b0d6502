package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"counseling-service/internal/apperror"
	"counseling-service/internal/models"
	"counseling-service/internal/store"
	"counseling-service/internal/util"

	"go.uber.org/zap"
)

// ReservationService drives the reservation state machine:
// RESERVED -> CONFIRMED -> COMPLETED, with CANCELLED reachable from either
// non-terminal state. CONFIRMED is only entered through payment
// confirmation.
type ReservationService struct {
	repo   store.Repository
	ledger *SlotLedger
	notify *notifier
	logger *zap.Logger
}

// NewReservationService creates a new reservation service
func NewReservationService(repo store.Repository, ledger *SlotLedger, emitter Emitter) *ReservationService {
	logger := util.GetLogger()
	return &ReservationService{
		repo:   repo,
		ledger: ledger,
		notify: newNotifier(emitter, logger),
		logger: logger,
	}
}

// CreateReservationRequest represents a request to book a slot
type CreateReservationRequest struct {
	ProviderID      int64     `json:"providerId" binding:"required"`
	ServiceItemID   int64     `json:"serviceItemId" binding:"required"`
	SlotID          int64     `json:"slotId" binding:"required"`
	ReservationTime time.Time `json:"reservationTime"`
	Note            string    `json:"note"`
}

var allowedTransitions = map[models.ReservationStatus][]models.ReservationStatus{
	models.ReservationStatusReserved: {
		models.ReservationStatusCancelled,
		models.ReservationStatusCompleted,
	},
	models.ReservationStatusConfirmed: {
		models.ReservationStatusCompleted,
		models.ReservationStatusCancelled,
	},
}

func canTransition(from, to models.ReservationStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseReservationStatus accepts a status name in any case.
func ParseReservationStatus(raw string) (models.ReservationStatus, error) {
	status := models.ReservationStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", apperror.BadRequest("invalid reservation status %q", raw)
	}
	return status, nil
}

// Create books a slot for the caller. The slot is occupied and the
// reservation inserted in one transaction.
func (s *ReservationService) Create(ctx context.Context, caller models.Caller, req *CreateReservationRequest) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Create")
	defer span.End()

	if caller.UserID == 0 {
		return nil, apperror.Unauthorized("authentication required")
	}
	if req.ProviderID == 0 || req.ServiceItemID == 0 || req.SlotID == 0 {
		return nil, apperror.BadRequest("providerId, serviceItemId and slotId are required")
	}

	if _, err := s.repo.GetUser(ctx, caller.UserID); err != nil {
		return nil, err
	}
	provider, err := s.repo.GetUser(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if provider.Role != models.RoleCounselor {
		return nil, apperror.NotFound("counselor %d not found", req.ProviderID)
	}
	item, err := s.repo.GetServiceItem(ctx, req.ServiceItemID)
	if err != nil {
		return nil, err
	}
	if item.ProviderID != req.ProviderID {
		return nil, apperror.BadRequest("service item %d is not offered by counselor %d", item.ID, req.ProviderID)
	}

	var reservation *models.Reservation
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		slot, err := s.ledger.Acquire(ctx, tx, req.SlotID, req.ProviderID)
		if err != nil {
			return err
		}

		at := req.ReservationTime
		if at.IsZero() {
			at = slot.StartTime
		}

		r := &models.Reservation{
			UserID:          caller.UserID,
			ProviderID:      req.ProviderID,
			ServiceItemID:   req.ServiceItemID,
			SlotID:          slot.ID,
			ReservationTime: at,
			Status:          models.ReservationStatusReserved,
			Note:            req.Note,
			IsActive:        true,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return fmt.Errorf("failed to create reservation: %w", err)
		}
		reservation = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.ReservationsCreatedTotal.Inc()
	s.logger.Info("Reservation created",
		zap.Int64("reservation_id", reservation.ID),
		zap.Int64("slot_id", reservation.SlotID),
		zap.Int64("user_id", reservation.UserID))

	when := reservation.ReservationTime.Format(timeLayout)
	s.notify.emit(ctx, reservation.UserID, reservation.ProviderID, models.NotificationReservation,
		fmt.Sprintf("Your consultation on %s has been reserved.", when))
	s.notify.emit(ctx, reservation.ProviderID, reservation.UserID, models.NotificationReservation,
		fmt.Sprintf("A new consultation has been booked for %s.", when))

	return reservation, nil
}

// Get returns a reservation visible to the caller
func (s *ReservationService) Get(ctx context.Context, caller models.Caller, id int64) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Get")
	defer span.End()

	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isParty(caller, r) {
		return nil, apperror.AccessDenied("reservation %d belongs to another user", id)
	}
	return r, nil
}

// ListMine lists the caller's reservations, optionally filtered by status.
// Counselors also see the reservations booked with them.
func (s *ReservationService) ListMine(ctx context.Context, caller models.Caller, status string) ([]models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.ListMine")
	defer span.End()

	filter, err := statusFilter(status)
	if err != nil {
		return nil, err
	}

	all, err := s.repo.ListReservationsByUser(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	if caller.Role == models.RoleCounselor {
		booked, err := s.repo.ListReservationsByProvider(ctx, caller.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to list reservations: %w", err)
		}
		all = mergeReservations(all, booked)
	}

	return filterReservations(all, func(r models.Reservation) bool {
		return filter == "" || r.Status == filter
	}), nil
}

// ListForProvider lists the reservations booked with a counselor, newest
// first. date, when set as YYYY-MM-DD, keeps only that UTC day. Only the
// counselor or an admin may list.
func (s *ReservationService) ListForProvider(ctx context.Context, caller models.Caller, providerID int64, date string) ([]models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.ListForProvider")
	defer span.End()

	if providerID == 0 {
		providerID = caller.UserID
	}
	if !caller.IsAdmin() && caller.UserID != providerID {
		return nil, apperror.AccessDenied("reservations of counselor %d are not visible", providerID)
	}

	var dayStart time.Time
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, apperror.BadRequest("invalid date %q, expected YYYY-MM-DD", date)
		}
		dayStart = parsed
	}

	all, err := s.repo.ListReservationsByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	if dayStart.IsZero() {
		return all, nil
	}

	dayEnd := dayStart.AddDate(0, 0, 1)
	return filterReservations(all, func(r models.Reservation) bool {
		at := r.ReservationTime.UTC()
		return !at.Before(dayStart) && at.Before(dayEnd)
	}), nil
}

func statusFilter(raw string) (models.ReservationStatus, error) {
	if raw == "" {
		return "", nil
	}
	return ParseReservationStatus(raw)
}

func filterReservations(in []models.Reservation, keep func(models.Reservation) bool) []models.Reservation {
	out := make([]models.Reservation, 0, len(in))
	for _, r := range in {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// mergeReservations joins two lists without duplicates, newest first.
func mergeReservations(a, b []models.Reservation) []models.Reservation {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]models.Reservation, 0, len(a)+len(b))
	for _, list := range [][]models.Reservation{a, b} {
		for _, r := range list {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReservationTime.After(out[j].ReservationTime)
	})
	return out
}

// Cancel cancels a non-terminal reservation and frees its slot. The booking
// user, the counselor and admins may cancel.
func (s *ReservationService) Cancel(ctx context.Context, caller models.Caller, id int64) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Cancel")
	defer span.End()

	var reservation *models.Reservation
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		r, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if !isParty(caller, r) {
			return apperror.AccessDenied("reservation %d belongs to another user", id)
		}
		if r.Status.Terminal() {
			return apperror.Conflict("reservation %d is already %s", id, r.Status)
		}

		if err := s.ledger.Release(ctx, tx, r.SlotID); err != nil {
			return err
		}
		if err := tx.UpdateReservationStatus(ctx, r.ID, models.ReservationStatusCancelled); err != nil {
			return fmt.Errorf("failed to cancel reservation: %w", err)
		}
		r.Status = models.ReservationStatusCancelled
		reservation = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.ReservationsCancelledTotal.WithLabelValues("manual").Inc()
	s.logger.Info("Reservation cancelled",
		zap.Int64("reservation_id", reservation.ID),
		zap.Int64("slot_id", reservation.SlotID),
		zap.Int64("by_user_id", caller.UserID))

	when := reservation.ReservationTime.Format(timeLayout)
	s.notify.emit(ctx, reservation.UserID, reservation.ProviderID, models.NotificationCancel,
		fmt.Sprintf("Your consultation on %s has been cancelled.", when))
	s.notify.emit(ctx, reservation.ProviderID, reservation.UserID, models.NotificationCancel,
		fmt.Sprintf("The consultation on %s has been cancelled.", when))

	return reservation, nil
}

// UpdateStatus moves a reservation to status. Only the counselor of the
// reservation or an admin may do so.
func (s *ReservationService) UpdateStatus(ctx context.Context, caller models.Caller, id int64, status string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.UpdateStatus")
	defer span.End()

	next, err := ParseReservationStatus(status)
	if err != nil {
		return nil, err
	}

	var reservation *models.Reservation
	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		r, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if !caller.IsAdmin() && caller.UserID != r.ProviderID {
			return apperror.AccessDenied("only the counselor can change reservation %d", id)
		}
		if r.Status.Terminal() {
			return apperror.Conflict("reservation %d is already %s", id, r.Status)
		}
		if !canTransition(r.Status, next) {
			return apperror.Conflict("cannot move reservation %d from %s to %s", id, r.Status, next)
		}

		if next == models.ReservationStatusCancelled {
			if err := s.ledger.Release(ctx, tx, r.SlotID); err != nil {
				return err
			}
		}
		if err := tx.UpdateReservationStatus(ctx, r.ID, next); err != nil {
			return fmt.Errorf("failed to update reservation status: %w", err)
		}
		r.Status = next
		reservation = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Reservation status updated",
		zap.Int64("reservation_id", reservation.ID),
		zap.String("status", string(next)))

	switch next {
	case models.ReservationStatusCancelled:
		util.ReservationsCancelledTotal.WithLabelValues("status_update").Inc()
	case models.ReservationStatusCompleted:
		util.ReservationsCompletedTotal.Inc()
		s.notify.emit(ctx, reservation.UserID, reservation.ProviderID, models.NotificationComplete,
			"Your consultation is complete. Please leave a review.")
		s.notify.emit(ctx, reservation.ProviderID, reservation.UserID, models.NotificationComplete,
			"The consultation has been marked as complete.")
	}

	return reservation, nil
}

func isParty(caller models.Caller, r *models.Reservation) bool {
	return caller.IsAdmin() || caller.UserID == r.UserID || caller.UserID == r.ProviderID
}
