package service

import (
	"context"
	"testing"
	"time"

	"counseling-service/internal/apperror"
	"counseling-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSlotService(f *fixture) *SlotService {
	s := NewSlotService(f.repo)
	s.now = func() time.Time { return slotStart.Add(-48 * time.Hour) }
	return s
}

func TestCreateSlot(t *testing.T) {
	f := newFixture()
	slots := newSlotService(f)
	start := slotStart.Add(-24 * time.Hour)

	slot, err := slots.Create(context.Background(), counselor, &CreateSlotRequest{StartTime: start, EndTime: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, counselorID, slot.ProviderID)
	assert.True(t, slot.Available)

	stored := f.repo.snapshot().slots[slot.ID]
	assert.True(t, stored.StartTime.Equal(start))
}

func TestCreateSlotRules(t *testing.T) {
	f := newFixture()
	slots := newSlotService(f)
	ctx := context.Background()

	_, err := slots.Create(ctx, client, &CreateSlotRequest{StartTime: slotStart.Add(2 * time.Hour), EndTime: slotStart.Add(3 * time.Hour)})
	assert.True(t, apperror.Is(err, apperror.KindAccessDenied))

	_, err = slots.Create(ctx, counselor, &CreateSlotRequest{StartTime: slotStart.Add(3 * time.Hour), EndTime: slotStart.Add(2 * time.Hour)})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))

	_, err = slots.Create(ctx, counselor, &CreateSlotRequest{StartTime: slotStart.Add(-72 * time.Hour), EndTime: slotStart.Add(-71 * time.Hour)})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))

	// the seeded slot covers 10:00-11:00
	_, err = slots.Create(ctx, counselor, &CreateSlotRequest{StartTime: slotStart.Add(30 * time.Minute), EndTime: slotStart.Add(90 * time.Minute)})
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	adjacent, err := slots.Create(ctx, counselor, &CreateSlotRequest{StartTime: slotStart.Add(time.Hour), EndTime: slotStart.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.NotZero(t, adjacent.ID)
}

func TestListSlotsByProvider(t *testing.T) {
	f := newFixture()
	slots := newSlotService(f)
	addSlot(f.repo.root.st, slotID+1, true)
	_, err := f.book(slotID)
	require.NoError(t, err)

	all, err := slots.ListByProvider(context.Background(), counselorID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, slotID, all[0].ID)

	open, err := slots.ListByProvider(context.Background(), counselorID, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, slotID+1, open[0].ID)

	_, err = slots.ListByProvider(context.Background(), clientID, false)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	got, err := slots.Get(context.Background(), slotID+1)
	require.NoError(t, err)
	assert.True(t, got.Available)
}

func TestDeleteSlot(t *testing.T) {
	f := newFixture()
	slots := newSlotService(f)
	ctx := context.Background()
	addSlot(f.repo.root.st, slotID+1, true)

	err := slots.Delete(ctx, stranger, slotID+1)
	assert.True(t, apperror.Is(err, apperror.KindAccessDenied))

	require.NoError(t, slots.Delete(ctx, counselor, slotID+1))
	_, ok := f.repo.snapshot().slots[slotID+1]
	assert.False(t, ok)

	err = slots.Delete(ctx, counselor, slotID+1)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestDeleteBookedSlotIsRefused(t *testing.T) {
	f := newFixture()
	slots := newSlotService(f)
	ctx := context.Background()

	r, err := f.book(slotID)
	require.NoError(t, err)

	err = slots.Delete(ctx, counselor, slotID)
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	_, err = f.reservations.Cancel(ctx, client, r.ID)
	require.NoError(t, err)

	// free again, but still referenced by the cancelled reservation
	err = slots.Delete(ctx, admin, slotID)
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	st := f.repo.snapshot()
	assert.Equal(t, models.ReservationStatusCancelled, st.reservations[r.ID].Status)
	_, ok := st.slots[slotID]
	assert.True(t, ok)
}
