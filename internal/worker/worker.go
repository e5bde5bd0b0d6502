package worker

import (
	"context"
	"fmt"

	"counseling-service/internal/broker"
	"counseling-service/internal/models"
	"counseling-service/internal/util"

	"go.uber.org/zap"
)

// InboxStore is the persistence the worker needs.
type InboxStore interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// NotificationWorker consumes notification events and stores them as unread
// inbox entries for their recipients.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        InboxStore
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, store InboxStore) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        store,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnNotification(w.HandleNotification)
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// HandleNotification writes one event to the inbox. Redelivered events are
// absorbed by the unique event id.
func (w *NotificationWorker) HandleNotification(ctx context.Context, event *models.NotificationEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationWorker.HandleNotification")
	defer span.End()

	n := &models.Notification{
		EventID:            event.EventID,
		RecipientUserID:    event.RecipientUserID,
		CounterpartyUserID: event.CounterpartyUserID,
		Type:               string(event.Type),
		Message:            event.Message,
	}
	if err := w.store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to store notification %s: %w", event.EventID, err)
	}

	w.logger.Debug("Stored notification",
		zap.String("event_id", event.EventID),
		zap.Int64("recipient_user_id", event.RecipientUserID),
		zap.String("type", string(event.Type)))
	return nil
}
