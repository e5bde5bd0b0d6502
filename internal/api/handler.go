package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"counseling-service/internal/auth"
	"counseling-service/internal/models"
	"counseling-service/internal/service"
	"counseling-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReservationAPI is the reservation surface used by the handlers.
type ReservationAPI interface {
	Create(ctx context.Context, caller models.Caller, req *service.CreateReservationRequest) (*models.Reservation, error)
	Get(ctx context.Context, caller models.Caller, id int64) (*models.Reservation, error)
	ListMine(ctx context.Context, caller models.Caller, status string) ([]models.Reservation, error)
	ListForProvider(ctx context.Context, caller models.Caller, providerID int64, date string) ([]models.Reservation, error)
	Cancel(ctx context.Context, caller models.Caller, id int64) (*models.Reservation, error)
	UpdateStatus(ctx context.Context, caller models.Caller, id int64, status string) (*models.Reservation, error)
}

// PaymentAPI is the payment surface used by the handlers.
type PaymentAPI interface {
	CreatePaymentRequest(ctx context.Context, caller models.Caller, req *service.PaymentRequest) (*service.PaymentRequestResponse, error)
	Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (*models.Payment, error)
	Fail(ctx context.Context, orderID, code, message string) error
	Refund(ctx context.Context, caller models.Caller, req *service.RefundRequest) (*models.Payment, error)
	ListMine(ctx context.Context, caller models.Caller) ([]models.Payment, error)
	ListAll(ctx context.Context, caller models.Caller, status string) ([]models.Payment, error)
}

// SlotAPI is the counselor calendar surface used by the handlers.
type SlotAPI interface {
	Create(ctx context.Context, caller models.Caller, req *service.CreateSlotRequest) (*models.Slot, error)
	Get(ctx context.Context, id int64) (*models.Slot, error)
	ListByProvider(ctx context.Context, providerID int64, availableOnly bool) ([]models.Slot, error)
	Delete(ctx context.Context, caller models.Caller, id int64) error
}

// ReadinessCheck is a dependency probed by /ready.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	reservations ReservationAPI
	payments     PaymentAPI
	slots        SlotAPI
	jwtSecret    string
	checks       []ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(reservations ReservationAPI, payments PaymentAPI, slots SlotAPI, jwtSecret string, checks ...ReadinessCheck) *Handler {
	return &Handler{
		reservations: reservations,
		payments:     payments,
		slots:        slots,
		jwtSecret:    jwtSecret,
		checks:       checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(errorMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// gateway redirects carry no bearer token
	v1.POST("/payments/success", h.confirmPayment)
	v1.GET("/payments/fail", h.failPayment)

	secured := v1.Group("", auth.JWT(h.jwtSecret))
	{
		secured.POST("/slots", auth.RequireRole(models.RoleCounselor), h.createSlot)
		secured.GET("/slots/:id", h.getSlot)
		secured.DELETE("/slots/:id",
			auth.RequireRole(models.RoleCounselor, models.RoleAdmin), h.deleteSlot)
		secured.GET("/counselors/:id/slots", h.listCounselorSlots)

		secured.POST("/reservations", h.createReservation)
		secured.GET("/reservations/my", h.listMyReservations)
		secured.GET("/reservations/counselor",
			auth.RequireRole(models.RoleCounselor, models.RoleAdmin), h.listCounselorReservations)
		secured.GET("/reservations/:id", h.getReservation)
		secured.PUT("/reservations/:id/cancel", h.cancelReservation)
		secured.PUT("/reservations/:id/status",
			auth.RequireRole(models.RoleCounselor, models.RoleAdmin), h.updateReservationStatus)

		secured.POST("/payments/request", h.requestPayment)
		secured.POST("/payments/refund", h.refundPayment)
		secured.GET("/payments/my", h.listMyPayments)

		secured.GET("/admin/payments", auth.RequireRole(models.RoleAdmin), h.listAllPayments)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[check.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
