package service

import (
	"context"
	"fmt"
	"time"

	"counseling-service/internal/apperror"
	"counseling-service/internal/models"
	"counseling-service/internal/store"
	"counseling-service/internal/util"

	"go.uber.org/zap"
)

const (
	outcomeRefunded         = "refunded"
	outcomeSkippedSettled   = "skipped_settled"
	outcomeSkippedCompleted = "skipped_completed"
	outcomeSkippedMissing   = "skipped_missing"
	outcomeFailed           = "failed"
)

type SweeperConfig struct {
	// Cutoff is how long a payment may stay PAID without the consultation
	// being completed.
	Cutoff         time.Duration
	GatewayCancel  bool
	LockKey        string
	LockTTL        time.Duration
	GatewayTimeout time.Duration
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Scanned  int
	Refunded int
	Skipped  int
	Failed   int
}

// RefundSweeper refunds payments that stayed PAID past the cutoff while
// their consultation was never completed.
type RefundSweeper struct {
	repo    store.Repository
	gateway Gateway
	ledger  *SlotLedger
	locker  Locker
	notify  *notifier
	cfg     SweeperConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewRefundSweeper creates a new refund sweeper. locker may be nil when a
// single replica runs the job.
func NewRefundSweeper(repo store.Repository, gw Gateway, ledger *SlotLedger, locker Locker, emitter Emitter, cfg SweeperConfig) *RefundSweeper {
	if cfg.Cutoff <= 0 {
		cfg.Cutoff = 24 * time.Hour
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "refund-sweeper"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	logger := util.GetLogger()
	return &RefundSweeper{
		repo:    repo,
		gateway: gw,
		ledger:  ledger,
		locker:  locker,
		notify:  newNotifier(emitter, logger),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run adapts Sweep to the scheduler task signature.
func (s *RefundSweeper) Run(ctx context.Context) error {
	s.Sweep(ctx)
	return nil
}

// Sweep processes every expired PAID payment in its own transaction. A
// failing payment is logged and left for the next run.
func (s *RefundSweeper) Sweep(ctx context.Context) SweepResult {
	ctx, span := util.StartSpan(ctx, "RefundSweeper.Sweep")
	defer span.End()

	var result SweepResult

	if s.locker != nil {
		token, ok, err := s.locker.AcquireLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			// row locks still keep concurrent sweeps correct
			s.logger.Warn("Sweeper lock unavailable, sweeping without it", zap.Error(err))
		case !ok:
			s.logger.Debug("Another replica is sweeping")
			return result
		default:
			defer func() {
				if err := s.locker.ReleaseLock(context.Background(), s.cfg.LockKey, token); err != nil {
					s.logger.Warn("Failed to release sweeper lock", zap.Error(err))
				}
			}()
		}
	}

	util.SweeperRunsTotal.Inc()
	cutoff := s.now().Add(-s.cfg.Cutoff)

	payments, err := s.repo.ListExpiredPaidPayments(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to list expired payments", zap.Error(err))
		return result
	}
	result.Scanned = len(payments)

	for _, p := range payments {
		outcome, err := s.sweepOne(ctx, p.TransactionID)
		util.SweeperItemsTotal.WithLabelValues(outcome).Inc()

		switch outcome {
		case outcomeRefunded:
			result.Refunded++
		case outcomeFailed:
			result.Failed++
			s.logger.Error("Failed to sweep payment",
				zap.String("transaction_id", p.TransactionID),
				zap.Int64("reservation_id", p.ReservationID),
				zap.Error(err))
		default:
			result.Skipped++
			s.logger.Debug("Skipped payment",
				zap.String("transaction_id", p.TransactionID),
				zap.String("outcome", outcome))
		}
	}

	s.logger.Info("Refund sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int("scanned", result.Scanned),
		zap.Int("refunded", result.Refunded),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))

	return result
}

func (s *RefundSweeper) sweepOne(ctx context.Context, transactionID string) (string, error) {
	outcome := outcomeFailed
	var (
		payment     *models.Payment
		reservation *models.Reservation
	)

	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		p, err := tx.LockPaymentByTransactionID(ctx, transactionID)
		if err != nil {
			return err
		}
		// a manual refund may have won the race since the listing
		if p.Status != models.PaymentStatusPaid {
			outcome = outcomeSkippedSettled
			return nil
		}

		r, err := tx.LockReservation(ctx, p.ReservationID)
		if apperror.Is(err, apperror.KindNotFound) {
			outcome = outcomeSkippedMissing
			return nil
		}
		if err != nil {
			return err
		}
		if r.Status == models.ReservationStatusCompleted {
			outcome = outcomeSkippedCompleted
			return nil
		}

		if s.cfg.GatewayCancel && s.gateway != nil && p.GatewayKey != nil {
			gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
			err := s.gateway.Cancel(gctx, *p.GatewayKey, fmt.Sprintf("consultation not completed within %s of payment", s.cfg.Cutoff))
			cancel()
			if err != nil {
				util.RefundFailedTotal.WithLabelValues("sweeper").Inc()
				return apperror.RefundFailed(err)
			}
		}

		if err := applyRefund(ctx, tx, s.ledger, p, r); err != nil {
			return err
		}
		payment, reservation = p, r
		outcome = outcomeRefunded
		return nil
	})
	if err != nil {
		return outcomeFailed, err
	}

	if outcome == outcomeRefunded {
		util.RefundsTotal.WithLabelValues("sweeper").Inc()
		util.ReservationsCancelledTotal.WithLabelValues("sweeper").Inc()
		s.logger.Info("Expired payment refunded",
			zap.String("transaction_id", payment.TransactionID),
			zap.Int64("reservation_id", reservation.ID))
		s.notify.emit(ctx, reservation.UserID, reservation.ProviderID, models.NotificationRefund,
			fmt.Sprintf("Your payment of %d was refunded because the consultation did not take place.", payment.Amount))
	}
	return outcome, nil
}
