package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of reservations created",
	})

	ReservationsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_cancelled_total",
		Help: "Total number of cancelled reservations",
	}, []string{"source"})

	ReservationsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_completed_total",
		Help: "Total number of completed consultations",
	})

	SlotConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slot_conflicts_total",
		Help: "Total number of reservation attempts on an occupied slot",
	})

	SlotAcquireLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slot_acquire_latency_seconds",
		Help:    "Latency of slot lock acquisition",
		Buckets: prometheus.DefBuckets,
	})

	PaymentRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_requests_total",
		Help: "Total number of payment requests created",
	})

	PaymentsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_confirmed_total",
		Help: "Total number of payments confirmed by the gateway",
	})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payment confirmations",
	}, []string{"reason"})

	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Total number of refunded payments",
	}, []string{"source"})

	RefundFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refund_failed_total",
		Help: "Total number of failed refunds",
	}, []string{"source"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	SweeperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refund_sweeper_runs_total",
		Help: "Total number of refund sweeper runs",
	})

	SweeperItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refund_sweeper_items_total",
		Help: "Payments visited by the refund sweeper, by outcome",
	}, []string{"outcome"})

	NotificationsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_emitted_total",
		Help: "Notification events handed to the transport",
	}, []string{"type", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
