package models

import (
	"time"
)

// Roles carried by the caller identity.
const (
	RoleUser      = "USER"
	RoleCounselor = "COUNSELOR"
	RoleAdmin     = "ADMIN"
	RoleSystem    = "SYSTEM"
)

// Caller is the authenticated identity an operation runs on behalf of.
type Caller struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

// SystemCaller is used by background jobs.
var SystemCaller = Caller{Role: RoleSystem}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin || c.Role == RoleSystem
}

// User is a client or a counselor (provider).
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// ServiceItem is a consultation product offered by a counselor.
type ServiceItem struct {
	ID         int64     `db:"id" json:"id"`
	ProviderID int64     `db:"provider_id" json:"providerId"`
	Name       string    `db:"name" json:"name"`
	Price      int64     `db:"price" json:"price"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Slot is a bookable time interval of one provider.
type Slot struct {
	ID         int64     `db:"id" json:"id"`
	ProviderID int64     `db:"provider_id" json:"providerId"`
	StartTime  time.Time `db:"start_time" json:"startTime"`
	EndTime    time.Time `db:"end_time" json:"endTime"`
	Available  bool      `db:"available" json:"available"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusCompleted ReservationStatus = "COMPLETED"
)

func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusReserved, ReservationStatusConfirmed,
		ReservationStatusCancelled, ReservationStatusCompleted:
		return true
	}
	return false
}

func (s ReservationStatus) Terminal() bool {
	return s == ReservationStatusCancelled || s == ReservationStatusCompleted
}

// Occupying reports whether a reservation in this status holds its slot.
func (s ReservationStatus) Occupying() bool {
	return s == ReservationStatusReserved || s == ReservationStatusConfirmed
}

// Reservation links a user, a provider and a slot. Rows are never deleted.
type Reservation struct {
	ID              int64             `db:"id" json:"id"`
	UserID          int64             `db:"user_id" json:"userId"`
	ProviderID      int64             `db:"provider_id" json:"providerId"`
	ServiceItemID   int64             `db:"service_item_id" json:"serviceItemId"`
	SlotID          int64             `db:"slot_id" json:"slotId"`
	ReservationTime time.Time         `db:"reservation_time" json:"reservationTime"`
	Status          ReservationStatus `db:"status" json:"status"`
	Note            string            `db:"note" json:"note"`
	IsActive        bool              `db:"is_active" json:"isActive"`
	CreatedAt       time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updatedAt"`
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusRefund  PaymentStatus = "REFUND"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusRefund:
		return true
	}
	return false
}

const PaymentMethodCard = "CARD"

// Payment is the monetary record of a reservation. GatewayKey and PaidAt are
// set when the gateway confirms the payment.
type Payment struct {
	ID            int64         `db:"id" json:"id"`
	ReservationID int64         `db:"reservation_id" json:"reservationId"`
	Amount        int64         `db:"amount" json:"amount"`
	Method        string        `db:"method" json:"method"`
	Status        PaymentStatus `db:"status" json:"status"`
	TransactionID string        `db:"transaction_id" json:"transactionId"`
	GatewayKey    *string       `db:"gateway_key" json:"-"`
	PaidAt        *time.Time    `db:"paid_at" json:"paidAt,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updatedAt"`
}

// Notification is an in-app inbox entry written by the notification worker.
type Notification struct {
	ID                 int64     `db:"id" json:"id"`
	EventID            string    `db:"event_id" json:"eventId"`
	RecipientUserID    int64     `db:"recipient_user_id" json:"recipientUserId"`
	CounterpartyUserID int64     `db:"counterparty_user_id" json:"counterpartyUserId"`
	Type               string    `db:"type" json:"type"`
	Message            string    `db:"message" json:"message"`
	IsRead             bool      `db:"is_read" json:"isRead"`
	CreatedAt          time.Time `db:"created_at" json:"createdAt"`
}
