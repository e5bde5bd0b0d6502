package models

import "time"

type NotificationType string

const (
	NotificationReservation NotificationType = "RESERVATION"
	NotificationCancel      NotificationType = "CANCEL"
	NotificationComplete    NotificationType = "COMPLETE"
	NotificationPayment     NotificationType = "PAYMENT"
	NotificationRefund      NotificationType = "REFUND"
)

// NotificationEvent describes a state change for one recipient. The core
// produces it and hands it to the emitter; it is never mutated afterwards.
type NotificationEvent struct {
	EventID            string           `json:"eventId"`
	RecipientUserID    int64            `json:"recipientUserId"`
	CounterpartyUserID int64            `json:"counterpartyUserId"`
	Type               NotificationType `json:"type"`
	Message            string           `json:"message"`
	Timestamp          time.Time        `json:"timestamp"`
}
