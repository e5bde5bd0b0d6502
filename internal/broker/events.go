package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"counseling-service/internal/models"
	"counseling-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var (
	// ErrPublisherBusy is returned by Emit when the hand-off queue is full.
	ErrPublisherBusy = errors.New("notification queue is full")
	// ErrPublisherClosed is returned by Emit after Close.
	ErrPublisherClosed = errors.New("notification publisher is closed")
)

const (
	defaultQueueSize      = 1024
	defaultPublishTimeout = 10 * time.Second
)

// NotificationPublisher hands notification events to the notifications
// topic. Emit only enqueues; a background goroutine writes to Kafka so a
// slow or unreachable broker never holds up the caller. Events for one
// recipient share a partition key so they stay ordered.
type NotificationPublisher struct {
	producer       *Producer
	queue          chan models.NotificationEvent
	publishTimeout time.Duration
	logger         *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewNotificationPublisher starts a publisher with room for queueSize
// pending events. A non-positive size uses the default.
func NewNotificationPublisher(producer *Producer, queueSize int) *NotificationPublisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	np := &NotificationPublisher{
		producer:       producer,
		queue:          make(chan models.NotificationEvent, queueSize),
		publishTimeout: defaultPublishTimeout,
		logger:         util.GetLogger(),
		done:           make(chan struct{}),
	}
	go np.run()
	return np
}

// Emit queues one notification event without waiting for Kafka.
func (np *NotificationPublisher) Emit(_ context.Context, event models.NotificationEvent) error {
	np.mu.RLock()
	defer np.mu.RUnlock()
	if np.closed {
		return ErrPublisherClosed
	}

	select {
	case np.queue <- event:
		return nil
	default:
		return ErrPublisherBusy
	}
}

func (np *NotificationPublisher) run() {
	defer close(np.done)
	for event := range np.queue {
		np.publish(event)
	}
}

func (np *NotificationPublisher) publish(event models.NotificationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), np.publishTimeout)
	defer cancel()

	key := fmt.Sprintf("user-%d", event.RecipientUserID)
	if err := np.producer.PublishEvent(ctx, key, event); err != nil {
		util.NotificationsEmittedTotal.WithLabelValues(string(event.Type), "publish_error").Inc()
		np.logger.Warn("Failed to publish notification",
			zap.String("event_id", event.EventID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// Close stops accepting events and waits for the queued ones to be
// written, or for ctx to end.
func (np *NotificationPublisher) Close(ctx context.Context) error {
	np.mu.Lock()
	if !np.closed {
		np.closed = true
		close(np.queue)
	}
	np.mu.Unlock()

	select {
	case <-np.done:
		return nil
	case <-ctx.Done():
		np.logger.Warn("Notification queue not drained before shutdown", zap.Int("pending", len(np.queue)))
		return ctx.Err()
	}
}

// EventHandler decodes incoming notification events
type EventHandler struct {
	onNotification func(context.Context, *models.NotificationEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnNotification registers the handler for notification events
func (eh *EventHandler) OnNotification(handler func(context.Context, *models.NotificationEvent) error) {
	eh.onNotification = handler
}

// HandleMessage decodes msg and passes it to the registered handler
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal notification event: %w", err)
	}

	if event.EventID == "" || event.RecipientUserID == 0 {
		eh.logger.Warn("Dropping malformed notification event",
			zap.ByteString("key", msg.Key),
			zap.Int64("offset", msg.Offset))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", string(event.Type)),
		zap.String("event_id", event.EventID))

	if eh.onNotification == nil {
		return nil
	}
	return eh.onNotification(ctx, &event)
}
