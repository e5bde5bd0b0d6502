package store

import (
	"context"

	"counseling-service/internal/models"
)

// InsertNotification stores an inbox entry. Redelivered events are ignored.
func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO notifications (event_id, recipient_user_id, counterparty_user_id, type, message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`,
		n.EventID, n.RecipientUserID, n.CounterpartyUserID, n.Type, n.Message)
	return err
}
