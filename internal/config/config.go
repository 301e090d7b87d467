// Package config reads the environment for both binaries. Values may also come
// from a .env file in the working directory; real environment variables win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Database struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	MigrationsDirPath string
}

type Gateway struct {
	KeyID         string
	KeySecret     string
	BaseURL       string
	WebhookSecret string
	Timeout       time.Duration
	MaxAttempts   int
}

type Pricing struct {
	Currency            string
	MinorUnitMultiplier int64
	SheetPrice          int64
	BindingKitPrice     int64
}

type Redis struct {
	Host     string
	Port     int
	Password string
}

func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type Mongo struct {
	URI    string
	DBName string
}

type Kafka struct {
	Brokers     []string
	EventsTopic string
}

type Queue struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	VisibilityTimeout time.Duration
	OpTimeout         time.Duration
}

type Worker struct {
	ID               string
	Concurrency      int
	PollInterval     time.Duration
	GRPCPort         string
	PrinterID        string
	HotFolder        string
	LedgerPath       string
	LedgerMigrations string
}

type Config struct {
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	OpsToken        string
	PendingOrderTTL time.Duration
	SweepInterval   time.Duration
	LogLevel        string
	LogFormat       string

	Database Database
	Gateway  Gateway
	Pricing  Pricing
	Redis    Redis
	Mongo    Mongo
	Kafka    Kafka
	Queue    Queue
	Worker   Worker
}

// Load reads an optional .env file and then the environment. Malformed numeric
// or duration values are reported together.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	r := &reader{}
	hostname, _ := os.Hostname()

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "3001"),
		RequestTimeout:  r.duration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxBodyBytes:    r.int64("MAX_REQUEST_BODY_BYTES", 1<<20),
		OpsToken:        getEnv("OPS_TOKEN", ""),
		PendingOrderTTL: r.duration("ORDER_PENDING_TTL", 30*time.Minute),
		SweepInterval:   r.duration("SWEEP_INTERVAL", 30*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		Database: Database{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              r.int("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			Name:              getEnv("DB_NAME", "qopy"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},
		Gateway: Gateway{
			KeyID:         getEnv("RAZORPAY_KEY_ID", ""),
			KeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
			BaseURL:       getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
			WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			Timeout:       r.duration("GATEWAY_TIMEOUT", 10*time.Second),
			MaxAttempts:   r.int("GATEWAY_MAX_ATTEMPTS", 2),
		},
		Pricing: Pricing{
			Currency:            getEnv("CURRENCY", "INR"),
			MinorUnitMultiplier: r.int64("MINOR_UNIT_MULTIPLIER", 100),
			SheetPrice:          r.int64("PRICE_PER_SHEET", 2),
			BindingKitPrice:     r.int64("PRICE_PER_BINDING_KIT", 15),
		},
		Redis: Redis{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     r.int("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Mongo: Mongo{
			URI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
			DBName: getEnv("MONGO_DB_NAME", "qopy"),
		},
		Kafka: Kafka{
			Brokers:     splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "qopy-events"),
		},
		Queue: Queue{
			MaxAttempts:       r.int("QUEUE_MAX_ATTEMPTS", 3),
			BaseDelay:         r.duration("QUEUE_BASE_DELAY", time.Second),
			VisibilityTimeout: r.duration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
			OpTimeout:         r.duration("QUEUE_OP_TIMEOUT", 10*time.Second),
		},
		Worker: Worker{
			ID:               getEnv("WORKER_ID", hostname),
			Concurrency:      r.int("WORKER_CONCURRENCY", 2),
			PollInterval:     r.duration("WORKER_POLL_INTERVAL", time.Second),
			GRPCPort:         getEnv("WORKER_GRPC_PORT", "50061"),
			PrinterID:        getEnv("PRINTER_ID", ""),
			HotFolder:        getEnv("PRINTER_HOT_FOLDER", "./spool/outgoing"),
			LedgerPath:       getEnv("PRINT_LEDGER_PATH", "./spool/ledger.db"),
			LedgerMigrations: getEnv("LEDGER_MIGRATIONS_PATH", "./internal/spool/migrations"),
		},
	}

	if err := r.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// reader collects parse errors so Load can report every bad variable at once.
type reader struct {
	errs []error
}

func (r *reader) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return v
}

func (r *reader) int64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return v
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return def
	}
	return v
}

func (r *reader) err() error {
	return errors.Join(r.errs...)
}
