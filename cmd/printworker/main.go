package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/qopy/kiosk/internal/config"
	"github.com/qopy/kiosk/internal/queue"
	"github.com/qopy/kiosk/internal/repository"
	"github.com/qopy/kiosk/internal/spool"
	"github.com/qopy/kiosk/internal/worker"
	"github.com/qopy/kiosk/pkg/logger"
)

const (
	healthService  = "qopy.kiosk.PrintWorker"
	healthInterval = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	l, err := logger.New(logger.Options{Service: "kiosk-printworker", Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer l.Sync() //nolint:errcheck

	if err := run(cfg, l.With(zap.String("worker", cfg.Worker.ID))); err != nil {
		l.Fatal("print worker stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, l *zap.Logger) error {
	var wg sync.WaitGroup

	// Queue database
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

	jobs := queue.New(repo, queue.Config{
		MaxAttempts:       cfg.Queue.MaxAttempts,
		BaseDelay:         cfg.Queue.BaseDelay,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		OpTimeout:         cfg.Queue.OpTimeout,
	}, l)

	// Local print ledger and printer
	ledger, err := spool.OpenLedger(cfg.Worker.LedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()
	if err := ledger.RunMigrations(cfg.Worker.LedgerMigrations); err != nil {
		return fmt.Errorf("ledger migrations: %w", err)
	}

	printer, err := spool.NewHotFolder(cfg.Worker.HotFolder, cfg.Worker.PrinterID)
	if err != nil {
		return err
	}

	pool := worker.NewPool(jobs, printer, ledger, worker.Config{
		ID:           cfg.Worker.ID,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
	}, l)

	// gRPC health endpoint
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Worker.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	go func() {
		l.Info("print worker health listening", zap.String("port", cfg.Worker.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			l.Error("grpc serve failed", zap.Error(err))
		}
	}()

	// Worker loops
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg.Add(3)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		jobs.RunReaper(ctx, cfg.SweepInterval)
	}()
	go func() {
		defer wg.Done()
		watchHealth(ctx, repo, healthServer, l)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	l.Info("shutting down print worker", zap.String("signal", sig.String()))

	healthServer.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.Info("workers stopped cleanly")
	case <-shutdownCtx.Done():
		l.Warn("workers did not stop in time, unfinished jobs will be reclaimed after their lease")
	}

	grpcServer.GracefulStop()
	l.Info("print worker stopped")
	return nil
}

// watchHealth reports SERVING while the queue database answers.
func watchHealth(ctx context.Context, db interface{ Ping(context.Context) error }, hs *health.Server, l *zap.Logger) {
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := db.Ping(pingCtx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			l.Warn("queue database unreachable", zap.Error(err))
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(healthService, status)
	}

	check()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
