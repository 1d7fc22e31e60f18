package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tool-rental-service/config"
	"tool-rental-service/internal/api"
	"tool-rental-service/internal/auth"
	"tool-rental-service/internal/broker"
	"tool-rental-service/internal/lockvendor"
	"tool-rental-service/internal/notify"
	"tool-rental-service/internal/payment"
	"tool-rental-service/internal/redisclient"
	"tool-rental-service/internal/service"
	"tool-rental-service/internal/store"
	"tool-rental-service/internal/util"
	"tool-rental-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting tool rental service", zap.String("payments", cfg.Payments.Mode))

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	var publisher service.EventPublisher = broker.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicBooking))
	}

	var payments payment.Strategy
	if cfg.MockPayments() {
		payments = payment.NewBypassGateway()
		logger.Warn("Payments are bypassed, bookings confirm without charge")
	} else {
		payments = payment.NewStripeGateway(cfg.Payments.StripeSecretKey, cfg.Payments.StripeWebhookSecret, nil)
	}

	var issuer lockvendor.Issuer
	if cfg.LockVendor.BaseURL != "" {
		issuer = lockvendor.NewHTTPIssuer(cfg.LockVendor.BaseURL, cfg.LockVendor.APIKey,
			time.Duration(cfg.LockVendor.TimeoutSeconds)*time.Second)
	} else {
		issuer = lockvendor.NewMockIssuer()
		logger.Warn("Lock vendor not configured, using mock access codes")
	}

	var notifier notify.Notifier
	if cfg.Email.SendGridAPIKey != "" {
		notifier = notify.NewSendGridNotifier(cfg.Email.SendGridAPIKey, cfg.Email.FromAddress, cfg.Email.FromName)
	} else {
		notifier = notify.NewLogNotifier()
	}

	availabilityService := service.NewAvailabilityService(db, redisClient)
	catalogService := service.NewCatalogService(db)
	bookingService := service.NewBookingService(service.BookingDeps{
		Store:          db,
		Payments:       payments,
		Issuer:         issuer,
		Notifier:       notifier,
		Publisher:      publisher,
		Locker:         service.NewRedisLocker(redisClient, time.Duration(cfg.Business.BookingLockTTLSeconds)*time.Second),
		Idempotency:    redisClient,
		Ranges:         redisClient,
		Currency:       cfg.Business.Currency,
		AbandonedAfter: time.Duration(cfg.Business.AbandonedPendingMinutes) * time.Minute,
	})

	scheduler, err := worker.NewScheduler(bookingService, cfg.Business.ReaperSchedule)
	if err != nil {
		logger.Fatal("Failed to schedule reaper", zap.Error(err))
	}
	scheduler.Start()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var revocationWorker *worker.RevocationWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking, cfg.Kafka.ConsumerGroup,
			cfg.Kafka.TopicDeadLetter)
		revocationWorker = worker.NewRevocationWorker(consumer, issuer)
		go func() {
			if err := revocationWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Revocation worker error", zap.Error(err))
			}
		}()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(
		bookingService,
		availabilityService,
		catalogService,
		auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		api.ReadinessCheck{Name: "postgres", Ping: db.Ping},
		api.ReadinessCheck{Name: "redis", Ping: redisClient.Ping},
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
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

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	scheduler.Stop()
	workerCancel()
	if revocationWorker != nil {
		revocationWorker.Stop()
	}

	logger.Info("Server exited")
}
