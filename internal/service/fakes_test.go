package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"counseling-service/internal/apperror"
	"counseling-service/internal/gateway"
	"counseling-service/internal/models"
	"counseling-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type memState struct {
	nextID        int64
	users         map[int64]models.User
	items         map[int64]models.ServiceItem
	slots         map[int64]models.Slot
	reservations  map[int64]models.Reservation
	payments      map[int64]models.Payment
	notifications []models.Notification
}

func newMemState() *memState {
	return &memState{
		nextID:       1000,
		users:        map[int64]models.User{},
		items:        map[int64]models.ServiceItem{},
		slots:        map[int64]models.Slot{},
		reservations: map[int64]models.Reservation{},
		payments:     map[int64]models.Payment{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.nextID = s.nextID
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.notifications = append(c.notifications, s.notifications...)
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

type memRoot struct {
	mu sync.Mutex
	st *memState
}

// memRepo is an in-memory store.Repository. WithTx holds one mutex for the
// whole transaction, which serialises writers the way row locks do, and
// works on a copy that is only published on success.
type memRepo struct {
	root *memRoot
	st   *memState
	inTx bool
}

var _ store.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{root: &memRoot{st: newMemState()}}
}

func (r *memRepo) state() (*memState, func()) {
	if r.inTx {
		return r.st, func() {}
	}
	r.root.mu.Lock()
	return r.root.st, r.root.mu.Unlock
}

// snapshot returns a copy of the committed state for assertions.
func (r *memRepo) snapshot() *memState {
	r.root.mu.Lock()
	defer r.root.mu.Unlock()
	return r.root.st.clone()
}

func (r *memRepo) WithTx(ctx context.Context, fn func(tx store.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	r.root.mu.Lock()
	defer r.root.mu.Unlock()

	work := r.root.st.clone()
	if err := fn(&memRepo{root: r.root, st: work, inTx: true}); err != nil {
		return err
	}
	r.root.st = work
	return nil
}

func (r *memRepo) GetUser(_ context.Context, id int64) (*models.User, error) {
	st, done := r.state()
	defer done()
	u, ok := st.users[id]
	if !ok {
		return nil, apperror.NotFound("user %d not found", id)
	}
	return &u, nil
}

func (r *memRepo) LockUser(ctx context.Context, id int64) (*models.User, error) {
	return r.GetUser(ctx, id)
}

func (r *memRepo) GetServiceItem(_ context.Context, id int64) (*models.ServiceItem, error) {
	st, done := r.state()
	defer done()
	item, ok := st.items[id]
	if !ok {
		return nil, apperror.NotFound("service item %d not found", id)
	}
	return &item, nil
}

func (r *memRepo) InsertSlot(_ context.Context, slot *models.Slot) error {
	st, done := r.state()
	defer done()
	slot.ID = st.id()
	slot.CreatedAt = time.Now()
	slot.UpdatedAt = slot.CreatedAt
	st.slots[slot.ID] = *slot
	return nil
}

func (r *memRepo) HasOverlappingSlot(_ context.Context, providerID int64, start, end time.Time) (bool, error) {
	st, done := r.state()
	defer done()
	for _, slot := range st.slots {
		if slot.ProviderID == providerID && slot.StartTime.Before(end) && slot.EndTime.After(start) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ListSlotsByProvider(_ context.Context, providerID int64) ([]models.Slot, error) {
	st, done := r.state()
	defer done()
	out := []models.Slot{}
	for _, slot := range st.slots {
		if slot.ProviderID == providerID {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *memRepo) DeleteSlot(_ context.Context, id int64) error {
	st, done := r.state()
	defer done()
	if _, ok := st.slots[id]; !ok {
		return apperror.NotFound("slot %d not found", id)
	}
	for _, res := range st.reservations {
		if res.SlotID == id {
			return apperror.Conflict("slot is referenced by a reservation")
		}
	}
	delete(st.slots, id)
	return nil
}

func (r *memRepo) GetSlot(_ context.Context, id int64) (*models.Slot, error) {
	st, done := r.state()
	defer done()
	slot, ok := st.slots[id]
	if !ok {
		return nil, apperror.NotFound("slot %d not found", id)
	}
	return &slot, nil
}

func (r *memRepo) LockSlot(ctx context.Context, id int64) (*models.Slot, error) {
	return r.GetSlot(ctx, id)
}

func (r *memRepo) SetSlotAvailable(_ context.Context, id int64, available bool) error {
	st, done := r.state()
	defer done()
	slot, ok := st.slots[id]
	if !ok {
		return apperror.NotFound("slot %d not found", id)
	}
	slot.Available = available
	st.slots[id] = slot
	return nil
}

func (r *memRepo) InsertReservation(_ context.Context, res *models.Reservation) error {
	st, done := r.state()
	defer done()
	res.ID = st.id()
	res.CreatedAt = time.Now()
	res.UpdatedAt = res.CreatedAt
	st.reservations[res.ID] = *res
	return nil
}

func (r *memRepo) GetReservation(_ context.Context, id int64) (*models.Reservation, error) {
	st, done := r.state()
	defer done()
	res, ok := st.reservations[id]
	if !ok {
		return nil, apperror.NotFound("reservation %d not found", id)
	}
	return &res, nil
}

func (r *memRepo) LockReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return r.GetReservation(ctx, id)
}

func (r *memRepo) UpdateReservationStatus(_ context.Context, id int64, status models.ReservationStatus) error {
	st, done := r.state()
	defer done()
	res := st.reservations[id]
	res.Status = status
	st.reservations[id] = res
	return nil
}

func (r *memRepo) ListReservationsByUser(_ context.Context, userID int64) ([]models.Reservation, error) {
	st, done := r.state()
	defer done()
	out := []models.Reservation{}
	for _, res := range st.reservations {
		if res.UserID == userID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) ListReservationsByProvider(_ context.Context, providerID int64) ([]models.Reservation, error) {
	st, done := r.state()
	defer done()
	out := []models.Reservation{}
	for _, res := range st.reservations {
		if res.ProviderID == providerID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservationTime.After(out[j].ReservationTime) })
	return out, nil
}

func (r *memRepo) InsertPayment(_ context.Context, p *models.Payment) error {
	st, done := r.state()
	defer done()
	p.ID = st.id()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	st.payments[p.ID] = *p
	return nil
}

func (r *memRepo) findPayment(st *memState, txID string) (*models.Payment, error) {
	for _, p := range st.payments {
		if p.TransactionID == txID {
			found := p
			return &found, nil
		}
	}
	return nil, apperror.NotFound("payment %s not found", txID)
}

func (r *memRepo) GetPaymentByTransactionID(_ context.Context, txID string) (*models.Payment, error) {
	st, done := r.state()
	defer done()
	return r.findPayment(st, txID)
}

func (r *memRepo) LockPaymentByTransactionID(ctx context.Context, txID string) (*models.Payment, error) {
	return r.GetPaymentByTransactionID(ctx, txID)
}

func (r *memRepo) GetActivePaymentByReservation(_ context.Context, reservationID int64) (*models.Payment, error) {
	st, done := r.state()
	defer done()
	for _, p := range st.payments {
		if p.ReservationID == reservationID && p.Status != models.PaymentStatusRefund {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memRepo) MarkPaymentPaid(_ context.Context, id int64, gatewayKey, method string, paidAt time.Time) error {
	st, done := r.state()
	defer done()
	p := st.payments[id]
	p.Status = models.PaymentStatusPaid
	p.GatewayKey = &gatewayKey
	p.Method = method
	p.PaidAt = &paidAt
	st.payments[id] = p
	return nil
}

func (r *memRepo) MarkPaymentRefunded(_ context.Context, id int64) error {
	st, done := r.state()
	defer done()
	p := st.payments[id]
	p.Status = models.PaymentStatusRefund
	st.payments[id] = p
	return nil
}

func (r *memRepo) ListExpiredPaidPayments(_ context.Context, cutoff time.Time) ([]models.Payment, error) {
	st, done := r.state()
	defer done()
	out := []models.Payment{}
	for _, p := range st.payments {
		if p.Status == models.PaymentStatusPaid && p.PaidAt != nil && !p.PaidAt.After(cutoff) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaidAt.Before(*out[j].PaidAt) })
	return out, nil
}

func (r *memRepo) ListPaymentsByUser(_ context.Context, userID int64) ([]models.Payment, error) {
	st, done := r.state()
	defer done()
	out := []models.Payment{}
	for _, p := range st.payments {
		if res, ok := st.reservations[p.ReservationID]; ok && res.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) ListPayments(_ context.Context, status models.PaymentStatus) ([]models.Payment, error) {
	st, done := r.state()
	defer done()
	out := []models.Payment{}
	for _, p := range st.payments {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) InsertNotification(_ context.Context, n *models.Notification) error {
	st, done := r.state()
	defer done()
	st.notifications = append(st.notifications, *n)
	return nil
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (*gateway.Receipt, error) {
	args := m.Called(ctx, paymentKey, orderID, amount)
	if receipt := args.Get(0); receipt != nil {
		return receipt.(*gateway.Receipt), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) Cancel(ctx context.Context, paymentKey, reason string) error {
	args := m.Called(ctx, paymentKey, reason)
	return args.Error(0)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (e *recordingEmitter) Emit(_ context.Context, event models.NotificationEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) ofType(typ models.NotificationType) []models.NotificationEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.NotificationEvent
	for _, ev := range e.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

type fakeLocker struct {
	held     bool
	acquired int
}

func (l *fakeLocker) AcquireLock(_ context.Context, _ string, _ time.Duration) (string, bool, error) {
	if l.held {
		return "", false, nil
	}
	l.acquired++
	return "token", true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, _, _ string) error {
	return nil
}

const (
	clientID    int64 = 1
	counselorID int64 = 2
	otherUserID int64 = 3
	adminID     int64 = 9
	itemID      int64 = 10
	slotID      int64 = 100
	price       int64 = 50000
)

var (
	client    = models.Caller{UserID: clientID, Role: models.RoleUser}
	counselor = models.Caller{UserID: counselorID, Role: models.RoleCounselor}
	stranger  = models.Caller{UserID: otherUserID, Role: models.RoleUser}
	admin     = models.Caller{UserID: adminID, Role: models.RoleAdmin}

	slotStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	repo         *memRepo
	emitter      *recordingEmitter
	gateway      *MockGateway
	ledger       *SlotLedger
	reservations *ReservationService
	payments     *PaymentService
}

func newFixture() *fixture {
	repo := newMemRepo()
	st := repo.root.st
	st.users[clientID] = models.User{ID: clientID, Name: "client", Role: models.RoleUser}
	st.users[counselorID] = models.User{ID: counselorID, Name: "counselor", Role: models.RoleCounselor}
	st.users[otherUserID] = models.User{ID: otherUserID, Name: "other", Role: models.RoleUser}
	st.users[adminID] = models.User{ID: adminID, Name: "admin", Role: models.RoleAdmin}
	st.items[itemID] = models.ServiceItem{ID: itemID, ProviderID: counselorID, Name: "Tarot reading", Price: price}
	addSlot(st, slotID, true)

	emitter := &recordingEmitter{}
	gw := new(MockGateway)
	ledger := NewSlotLedger()
	return &fixture{
		repo:         repo,
		emitter:      emitter,
		gateway:      gw,
		ledger:       ledger,
		reservations: NewReservationService(repo, ledger, emitter),
		payments: NewPaymentService(repo, gw, ledger, emitter, PaymentConfig{
			ClientKey:  "test_ck",
			SuccessURL: "https://app.test/payments/success",
			FailURL:    "https://app.test/payments/fail",
		}),
	}
}

func addSlot(st *memState, id int64, available bool) {
	start := slotStart.Add(time.Duration(id-slotID) * time.Hour)
	st.slots[id] = models.Slot{ID: id, ProviderID: counselorID, StartTime: start, EndTime: start.Add(time.Hour), Available: available}
}

func (f *fixture) book(slot int64) (*models.Reservation, error) {
	return f.reservations.Create(context.Background(), client, &CreateReservationRequest{
		ProviderID:    counselorID,
		ServiceItemID: itemID,
		SlotID:        slot,
		Note:          "first session",
	})
}

// paidBooking seeds a CONFIRMED reservation on an occupied slot with a PAID
// payment confirmed at paidAt.
func (f *fixture) paidBooking(slot int64, paidAt time.Time) (models.Reservation, models.Payment) {
	st := f.repo.root.st
	addSlot(st, slot, false)
	res := models.Reservation{
		ID:              st.id(),
		UserID:          clientID,
		ProviderID:      counselorID,
		ServiceItemID:   itemID,
		SlotID:          slot,
		ReservationTime: st.slots[slot].StartTime,
		Status:          models.ReservationStatusConfirmed,
		IsActive:        true,
	}
	st.reservations[res.ID] = res

	key := fmt.Sprintf("pk_%d", slot)
	p := models.Payment{
		ID:            st.id(),
		ReservationID: res.ID,
		Amount:        price,
		Method:        models.PaymentMethodCard,
		Status:        models.PaymentStatusPaid,
		TransactionID: fmt.Sprintf("order-%d", slot),
		GatewayKey:    &key,
		PaidAt:        &paidAt,
	}
	st.payments[p.ID] = p
	return res, p
}

// assertSlotInvariant checks that a slot is unavailable exactly when an
// occupying reservation references it.
func assertSlotInvariant(t *testing.T, st *memState) {
	t.Helper()
	for id, slot := range st.slots {
		occupied := false
		for _, r := range st.reservations {
			if r.SlotID == id && r.Status.Occupying() {
				occupied = true
			}
		}
		assert.Equal(t, !occupied, slot.Available, "slot %d availability", id)
	}
}
