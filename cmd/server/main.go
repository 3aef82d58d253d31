package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/breaker"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/channel"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/config"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/handlers"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/queue"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/repository"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/routes"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/pkg/logger"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/pkg/metrics"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/pkg/rabbitmq"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFormat)

	// Initialize status store (optional)
	var statusStore *repository.StatusStore
	if cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			logr.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		statusStore = repository.NewStatusStore(db)
	} else {
		logr.Warn("DATABASE_URL not set; message statuses will not be persisted")
	}

	// Initialize Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})

	// Initialize RabbitMQ (optional; push channel is disabled without it)
	var mqManager *rabbitmq.Manager
	if cfg.RabbitMQURL != "" {
		mqManager, err = rabbitmq.NewManager(cfg.RabbitMQURL, logr)
		if err != nil {
			logr.Error("failed to connect to RabbitMQ", slog.Any("error", err))
			os.Exit(1)
		}
		defer mqManager.Close()
	} else {
		logr.Warn("RABBITMQ_URL not set; push channel will be disabled")
	}

	metricsCollector := metrics.New()

	// Initialize channels
	var pushBroker channel.Broker
	if mqManager != nil {
		pushBroker = mqManager
	}
	channelManager := channel.NewManager(logr,
		channel.NewWhatsApp(cfg.WhatsApp, logr),
		channel.NewEmail(cfg.SMTP, logr),
		channel.NewPush(pushBroker, logr),
	)
	if err := channelManager.Initialize(context.Background()); err != nil {
		logr.Error("failed to initialize channels", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize circuit breaker
	cb := breaker.New(breaker.Options{
		FailureThreshold:         cfg.Breaker.FailureThreshold,
		ResetTimeout:             cfg.Breaker.ResetTimeout,
		HalfOpenSuccessThreshold: cfg.Breaker.HalfOpenSuccessThreshold,
	})

	// Initialize the message queue
	q, err := queue.New(cfg.Queue, queue.Dependencies{
		Store:    queue.NewRedisStore(redisClient),
		Sender:   channelManager,
		Breaker:  cb,
		Statuses: statusStore,
		Metrics:  metricsCollector,
		Logger:   logr,
	})
	if err != nil {
		logr.Error("failed to build queue", slog.Any("error", err))
		os.Exit(1)
	}
	q.Start(context.Background())

	// Initialize handlers
	messageHandler := handlers.NewMessageHandler(q, statusStore)
	statsHandler := handlers.NewStatsHandler(q, channelManager, cb)
	deadLetterHandler := handlers.NewDeadLetterHandler(q)
	healthHandler := handlers.NewHealthHandler(channelManager)

	// Initialize router
	router := gin.Default()
	router.Use(metricsCollector.GinMiddleware())
	router.GET("/metrics", gin.WrapH(metricsCollector.Handler()))

	// Setup routes
	routes.SetupRoutes(router, messageHandler, statsHandler, deadLetterHandler, healthHandler, cb)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("server listen failed", slog.Any("error", err))
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down")

	// Stop the queue loops before the HTTP surface goes away
	if err := q.Close(); err != nil {
		logr.Error("queue shutdown failed", slog.Any("error", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("server forced to shutdown", slog.Any("error", err))
	}

	logr.Info("server exiting")
}
