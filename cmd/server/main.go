package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"counseling-service/config"
	"counseling-service/internal/api"
	"counseling-service/internal/broker"
	"counseling-service/internal/gateway"
	"counseling-service/internal/redisclient"
	"counseling-service/internal/scheduler"
	"counseling-service/internal/service"
	"counseling-service/internal/store"
	"counseling-service/internal/util"
	"counseling-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting counseling service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer producer.Close()
	publisher := broker.NewNotificationPublisher(producer, cfg.Kafka.QueueSize)
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicNotifications))

	gatewayTimeout := time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second
	tossClient := gateway.NewTossClient(gateway.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		SecretKey:   cfg.Gateway.SecretKey,
		ConfirmPath: cfg.Gateway.ConfirmPath,
		CancelPath:  cfg.Gateway.CancelPath,
		Timeout:     gatewayTimeout,
	})

	ledger := service.NewSlotLedger()
	slotService := service.NewSlotService(db)
	reservationService := service.NewReservationService(db, ledger, publisher)
	paymentService := service.NewPaymentService(db, tossClient, ledger, publisher, service.PaymentConfig{
		ClientKey:      cfg.Gateway.ClientKey,
		SuccessURL:     cfg.Gateway.SuccessURL,
		FailURL:        cfg.Gateway.FailURL,
		GatewayTimeout: gatewayTimeout,
	})
	sweeper := service.NewRefundSweeper(db, tossClient, ledger, redisClient, publisher, service.SweeperConfig{
		Cutoff:         time.Duration(cfg.Sweeper.CutoffHours) * time.Hour,
		GatewayCancel:  cfg.Sweeper.GatewayCancel,
		LockTTL:        time.Duration(cfg.Sweeper.LockTTLSeconds) * time.Second,
		GatewayTimeout: gatewayTimeout,
	})

	jobs := scheduler.New(logger)
	if err := jobs.Register("refund-sweeper", cfg.Sweeper.Schedule, sweeper.Run); err != nil {
		logger.Fatal("Failed to schedule refund sweeper", zap.Error(err))
	}
	jobs.Start()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var inbox *worker.NotificationWorker
	if cfg.Kafka.InboxEnabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
		inbox = worker.NewNotificationWorker(consumer, db)
		go func() {
			if err := inbox.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(reservationService, paymentService, slotService, cfg.Auth.JWTSecret,
		api.ReadinessCheck{Name: "postgres", Ping: db.Ping},
		api.ReadinessCheck{Name: "redis", Ping: redisClient.Ping},
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	if err := jobs.Stop(shutdownCtx); err != nil {
		logger.Warn("Scheduler did not stop in time", zap.Error(err))
	}

	workerCancel()
	if inbox != nil {
		if err := inbox.Stop(); err != nil {
			logger.Warn("Error stopping notification worker", zap.Error(err))
		}
	}

	if err := publisher.Close(shutdownCtx); err != nil {
		logger.Warn("Notification publisher did not drain", zap.Error(err))
	}

	logger.Info("Server exited")
}
