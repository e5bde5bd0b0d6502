package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"counseling-service/internal/apperror"
	"counseling-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// Repository is the persistence surface of the booking core. Methods named
// Lock* take a row lock and are only meaningful inside WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	GetUser(ctx context.Context, id int64) (*models.User, error)
	LockUser(ctx context.Context, id int64) (*models.User, error)
	GetServiceItem(ctx context.Context, id int64) (*models.ServiceItem, error)

	InsertSlot(ctx context.Context, slot *models.Slot) error
	GetSlot(ctx context.Context, id int64) (*models.Slot, error)
	LockSlot(ctx context.Context, id int64) (*models.Slot, error)
	SetSlotAvailable(ctx context.Context, id int64, available bool) error
	HasOverlappingSlot(ctx context.Context, providerID int64, start, end time.Time) (bool, error)
	ListSlotsByProvider(ctx context.Context, providerID int64) ([]models.Slot, error)
	DeleteSlot(ctx context.Context, id int64) error

	InsertReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	LockReservation(ctx context.Context, id int64) (*models.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id int64, status models.ReservationStatus) error
	ListReservationsByUser(ctx context.Context, userID int64) ([]models.Reservation, error)
	ListReservationsByProvider(ctx context.Context, providerID int64) ([]models.Reservation, error)

	InsertPayment(ctx context.Context, p *models.Payment) error
	GetPaymentByTransactionID(ctx context.Context, txID string) (*models.Payment, error)
	LockPaymentByTransactionID(ctx context.Context, txID string) (*models.Payment, error)
	GetActivePaymentByReservation(ctx context.Context, reservationID int64) (*models.Payment, error)
	MarkPaymentPaid(ctx context.Context, id int64, gatewayKey, method string, paidAt time.Time) error
	MarkPaymentRefunded(ctx context.Context, id int64) error
	ListExpiredPaidPayments(ctx context.Context, cutoff time.Time) ([]models.Payment, error)
	ListPaymentsByUser(ctx context.Context, userID int64) ([]models.Payment, error)
	ListPayments(ctx context.Context, status models.PaymentStatus) ([]models.Payment, error)

	InsertNotification(ctx context.Context, n *models.Notification) error
}

// dbtx is satisfied by both *sqlx.DB and *sqlx.Tx.
type dbtx interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type Store struct {
	db          *sqlx.DB
	q           dbtx
	inTx        bool
	lockTimeout time.Duration
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(db)
	s.lockTimeout = 5 * time.Second
	return s, nil
}

// New wraps an existing connection. Row locks wait without a timeout.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn against a transaction-bound Store. The transaction commits
// when fn returns nil and rolls back otherwise. Calls on a Store that is
// already inside a transaction reuse it.
func (s *Store) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(&Store{db: s.db, q: tx, inTx: true, lockTimeout: s.lockTimeout}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.q.GetContext(ctx, &user,
		"SELECT id, name, email, role, created_at FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// LockUser retrieves a user under a row lock. Slot creation uses it to
// serialise writes to one provider's calendar.
func (s *Store) LockUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.q.GetContext(ctx, &user,
		"SELECT id, name, email, role, created_at FROM users WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", lockError(err, "user"))
	}
	return &user, nil
}

// GetServiceItem retrieves a service item by ID
func (s *Store) GetServiceItem(ctx context.Context, id int64) (*models.ServiceItem, error) {
	var item models.ServiceItem
	err := s.q.GetContext(ctx, &item,
		"SELECT id, provider_id, name, price, created_at FROM service_items WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("service item %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// uniqueError maps a unique violation on one of the partial indexes to a
// conflict.
func uniqueError(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperror.Conflict("%s", msg)
	}
	return err
}

// referenceError maps a foreign key violation to a conflict.
func referenceError(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return apperror.Conflict("%s", msg)
	}
	return err
}

// lockError turns a Postgres lock_timeout into a retryable conflict.
func lockError(err error, what string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
		return apperror.Conflict("%s is locked by another request, retry later", what)
	}
	return err
}
