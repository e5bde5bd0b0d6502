package service

import (
	"context"
	"time"

	"counseling-service/internal/gateway"
	"counseling-service/internal/models"
	"counseling-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gateway is the outbound payment gateway. Both calls are synchronous and
// are never retried by the caller.
type Gateway interface {
	Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (*gateway.Receipt, error)
	Cancel(ctx context.Context, paymentKey, reason string) error
}

// Emitter hands notification events to the external notifier. Emit must
// return once the event is handed off, without waiting for delivery.
type Emitter interface {
	Emit(ctx context.Context, event models.NotificationEvent) error
}

// Locker is a cluster-wide mutex used by background jobs.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// notifier wraps an Emitter with fire-and-forget semantics: a failed
// hand-off is logged and counted, never returned.
type notifier struct {
	emitter Emitter
	logger  *zap.Logger
	now     func() time.Time
}

func newNotifier(emitter Emitter, logger *zap.Logger) *notifier {
	return &notifier{emitter: emitter, logger: logger, now: time.Now}
}

func (n *notifier) emit(ctx context.Context, recipient, counterparty int64, typ models.NotificationType, message string) {
	if n.emitter == nil {
		return
	}

	event := models.NotificationEvent{
		EventID:            uuid.New().String(),
		RecipientUserID:    recipient,
		CounterpartyUserID: counterparty,
		Type:               typ,
		Message:            message,
		Timestamp:          n.now().UTC(),
	}

	if err := n.emitter.Emit(ctx, event); err != nil {
		util.NotificationsEmittedTotal.WithLabelValues(string(typ), "error").Inc()
		n.logger.Warn("Failed to emit notification",
			zap.String("type", string(typ)),
			zap.Int64("recipient_user_id", recipient),
			zap.Error(err))
		return
	}
	util.NotificationsEmittedTotal.WithLabelValues(string(typ), "ok").Inc()
}

const timeLayout = "2006-01-02 15:04"
