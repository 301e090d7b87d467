package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/qopy/kiosk/internal/cart"
	"github.com/qopy/kiosk/internal/config"
	"github.com/qopy/kiosk/internal/consumer"
	"github.com/qopy/kiosk/internal/gateway"
	h "github.com/qopy/kiosk/internal/http"
	"github.com/qopy/kiosk/internal/pricing"
	"github.com/qopy/kiosk/internal/publisher"
	"github.com/qopy/kiosk/internal/queue"
	"github.com/qopy/kiosk/internal/repository"
	"github.com/qopy/kiosk/internal/service"
	"github.com/qopy/kiosk/pkg/logger"
)

const outboxTick = time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	l, err := logger.New(logger.Options{Service: "kiosk-api", Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer l.Sync() //nolint:errcheck

	if err := run(cfg, l); err != nil {
		l.Fatal("api stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, l *zap.Logger) error {
	var wg sync.WaitGroup

	// Database setup
	creds := &repository.Credentials{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		User:              cfg.Database.User,
		Password:          cfg.Database.Password,
		DBName:            cfg.Database.Name,
		MigrationsDirPath: cfg.Database.MigrationsDirPath,
	}
	repo, err := repository.NewRepository(creds)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(creds); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	l.Info("database migrations completed")

	// Cart store
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer startupCancel()

	mongoDB, err := cart.ConnectMongoDB(startupCtx, cfg.Mongo.URI, cfg.Mongo.DBName)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoDB.Client().Disconnect(ctx); err != nil {
			l.Warn("mongo disconnect failed", zap.Error(err))
		}
	}()

	cartRepo := cart.NewMongoRepository(mongoDB)
	if err := cartRepo.CreateIndexes(startupCtx); err != nil {
		return fmt.Errorf("create cart indexes: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(startupCtx).Err(); err != nil {
		l.Warn("redis unavailable, carts will be read from mongo", zap.Error(err))
	}

	cartService := cart.NewService(cartRepo, cart.NewRedisCache(redisClient), l)

	// Payments and queue
	gw := gateway.NewClient(gateway.Config{
		KeyID:       cfg.Gateway.KeyID,
		KeySecret:   cfg.Gateway.KeySecret,
		BaseURL:     cfg.Gateway.BaseURL,
		Timeout:     cfg.Gateway.Timeout,
		MaxAttempts: cfg.Gateway.MaxAttempts,
	}, l)

	jobs := queue.New(repo, queue.Config{
		MaxAttempts:       cfg.Queue.MaxAttempts,
		BaseDelay:         cfg.Queue.BaseDelay,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		OpTimeout:         cfg.Queue.OpTimeout,
	}, l)

	engine := pricing.NewEngine(pricing.Rates{
		SheetPrice:      cfg.Pricing.SheetPrice,
		BindingKitPrice: cfg.Pricing.BindingKitPrice,
	})
	orders := service.NewOrderService(repo, gw, cartService, engine, service.OrderConfig{
		Currency:            cfg.Pricing.Currency,
		MinorUnitMultiplier: cfg.Pricing.MinorUnitMultiplier,
	}, l)
	reconciler := service.NewReconciler(repo, jobs, cfg.Gateway.WebhookSecret, l)
	sweeper := service.NewSweeper(repo, jobs, cfg.PendingOrderTTL, cfg.SweepInterval, l)

	// Background loops
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	writer := publisher.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
	defer writer.Close()
	outbox := publisher.NewOutboxPublisher(repo, writer, outboxTick, l)

	cleanup := consumer.NewCartCleanup(
		consumer.NewReader(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, consumer.CartCleanupGroup),
		cartService, l)

	for _, loop := range []func(context.Context){sweeper.Run, outbox.Run, cleanup.Run} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(bgCtx)
		}()
	}

	// HTTP server
	router := h.NewRouter(h.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		OpsToken:       cfg.OpsToken,
	}, h.Handlers{
		Orders:  h.NewOrdersHandler(orders, cfg.Pricing.Currency, cfg.RequestTimeout, l),
		Webhook: h.NewWebhookHandler(reconciler, cfg.MaxBodyBytes, cfg.RequestTimeout, l),
		Cart:    h.NewCartHandler(cartService, cfg.RequestTimeout, l),
		Ops:     h.NewOpsHandler(jobs, cfg.RequestTimeout, l),
		DB:      repo,
	}, l)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		l.Info("kiosk api starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		l.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		l.Error("server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Warn("server forced to shutdown", zap.Error(err))
	}

	bgCancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.Info("background loops stopped cleanly")
	case <-shutdownCtx.Done():
		l.Warn("background loops did not stop in time")
	}
	cleanup.Close()

	l.Info("kiosk api exited")
	return nil
}
