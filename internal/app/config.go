package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

// Драйверы хранилища журнала сверок, outbox и timeline.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Хранилища черновиков заказа.
const (
	PendingStoreMemory   = "memory"
	PendingStoreRedis    = "redis"
	PendingStorePostgres = "postgres"
)

// Config описывает настройки запуска сервиса оформления.
type Config struct {
	HTTPAddr       string
	MetricsAddr    string
	RequestTimeout time.Duration
	SecureCookies  bool
	// OperatorToken открывает API сверок; пустой токен закрывает его.
	OperatorToken string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// PostgresMaxOpenConns и PostgresMaxIdleConns: 0 оставляет размеры пула по умолчанию.
	PostgresMaxOpenConns int
	PostgresMaxIdleConns int

	// PendingStore по умолчанию совпадает с StorageDriver.
	PendingStore  string
	PendingTTL    time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BackendURL          string
	BackendTimeout      time.Duration
	BackendServiceToken string
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	VNPayHashSecret string
	AmountTolerance int64
	OutcomeTTL      time.Duration
	StaleAfter      time.Duration

	KafkaBrokers          []string
	KafkaClientID         string
	EscalationGroupID     string
	EscalationMaxAttempts int
	EscalationDelay       time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	LedgerCleanupInterval  time.Duration
	LedgerCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска без внешних хранилищ.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:       ":8080",
		MetricsAddr:    ":9090",
		RequestTimeout: 30 * time.Second,

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		PendingTTL: 24 * time.Hour,
		RedisAddr:  "localhost:6379",

		BackendURL:          "http://localhost:3000/api/v1",
		BackendTimeout:      10 * time.Second,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,

		OutcomeTTL: 30 * 24 * time.Hour,
		StaleAfter: 5 * time.Minute,

		KafkaClientID:         "checkout-service",
		EscalationGroupID:     "checkout-escalations",
		EscalationMaxAttempts: 3,
		EscalationDelay:       30 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		LedgerCleanupInterval:  10 * time.Minute,
		LedgerCleanupBatchSize: 500,
	}
}

// pendingStore возвращает выбранное хранилище черновиков.
func (c Config) pendingStore() string {
	if c.PendingStore != "" {
		return c.PendingStore
	}
	return c.StorageDriver
}

// postgresOptions переводит настройки пула в опции postgres.Open.
func (c Config) postgresOptions() []postgres.Option {
	var opts []postgres.Option
	if c.PostgresMaxOpenConns > 0 {
		opts = append(opts, postgres.WithMaxOpenConns(c.PostgresMaxOpenConns))
	}
	if c.PostgresMaxIdleConns > 0 {
		opts = append(opts, postgres.WithMaxIdleConns(c.PostgresMaxIdleConns))
	}
	return opts
}

// Validate проверяет согласованность настроек до открытия соединений.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires CHECKOUT_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.pendingStore() {
	case PendingStoreMemory:
	case PendingStoreRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis pending store requires CHECKOUT_REDIS_ADDR"))
		}
	case PendingStorePostgres:
		if c.StorageDriver != StorageDriverPostgres && strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres pending store requires CHECKOUT_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported pending store %q", c.pendingStore()))
	}

	if strings.TrimSpace(c.BackendURL) == "" {
		errs = append(errs, errors.New("CHECKOUT_BACKEND_URL is required"))
	}
	if c.PostgresMaxOpenConns < 0 || c.PostgresMaxIdleConns < 0 {
		errs = append(errs, errors.New("postgres pool sizes must not be negative"))
	}
	if c.AmountTolerance < 0 {
		errs = append(errs, errors.New("amount tolerance must not be negative"))
	}
	return errors.Join(errs...)
}
