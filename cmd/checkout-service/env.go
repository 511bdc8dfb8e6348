package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/app"
)

const (
	envHTTPAddr       = "CHECKOUT_HTTP_ADDR"
	envMetricsAddr    = "CHECKOUT_METRICS_ADDR"
	envRequestTimeout = "CHECKOUT_REQUEST_TIMEOUT"
	envSecureCookies  = "CHECKOUT_SECURE_COOKIES"
	envOperatorToken  = "CHECKOUT_OPERATOR_TOKEN"

	envStorageDriver       = "CHECKOUT_STORAGE_DRIVER"
	envPostgresDSN         = "CHECKOUT_POSTGRES_DSN"
	envPostgresAutoMigrate = "CHECKOUT_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxOpen     = "CHECKOUT_POSTGRES_MAX_OPEN_CONNS"
	envPostgresMaxIdle     = "CHECKOUT_POSTGRES_MAX_IDLE_CONNS"

	envPendingStore  = "CHECKOUT_PENDING_STORE"
	envPendingTTL    = "CHECKOUT_PENDING_TTL"
	envRedisAddr     = "CHECKOUT_REDIS_ADDR"
	envRedisPassword = "CHECKOUT_REDIS_PASSWORD"
	envRedisDB       = "CHECKOUT_REDIS_DB"

	envBackendURL          = "CHECKOUT_BACKEND_URL"
	envBackendTimeout      = "CHECKOUT_BACKEND_TIMEOUT"
	envBackendServiceToken = "CHECKOUT_BACKEND_SERVICE_TOKEN"
	envBreakerMaxFailures  = "CHECKOUT_BREAKER_MAX_FAILURES"
	envBreakerResetTimeout = "CHECKOUT_BREAKER_RESET_TIMEOUT"

	envVNPayHashSecret = "CHECKOUT_VNPAY_HASH_SECRET"
	envAmountTolerance = "CHECKOUT_AMOUNT_TOLERANCE"
	envOutcomeTTL      = "CHECKOUT_OUTCOME_TTL"
	envStaleAfter      = "CHECKOUT_STALE_AFTER"

	envKafkaBrokers          = "KAFKA_BROKERS"
	envKafkaClientID         = "CHECKOUT_KAFKA_CLIENT_ID"
	envEscalationGroupID     = "CHECKOUT_ESCALATION_GROUP_ID"
	envEscalationMaxAttempts = "CHECKOUT_ESCALATION_MAX_ATTEMPTS"
	envEscalationDelay       = "CHECKOUT_ESCALATION_DELAY"

	envOutboxPollInterval = "CHECKOUT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "CHECKOUT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "CHECKOUT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "CHECKOUT_OUTBOX_RETRY_DELAY"

	envLedgerCleanupInterval  = "CHECKOUT_LEDGER_CLEANUP_INTERVAL"
	envLedgerCleanupBatchSize = "CHECKOUT_LEDGER_CLEANUP_BATCH_SIZE"
)

type envLookup func(key string) (string, bool)

func positiveInt(v int) bool                { return v > 0 }
func nonNegativeInt(v int) bool             { return v >= 0 }
func positiveDuration(v time.Duration) bool { return v > 0 }
func nonNegativeDuration(v time.Duration) bool {
	return v >= 0
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию, а в warnings попадает причина.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")
	boolean(envSecureCookies, &cfg.SecureCookies)
	if v, ok := lookup(envOperatorToken); ok {
		cfg.OperatorToken = strings.TrimSpace(v)
	}

	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	integer(envPostgresMaxOpen, &cfg.PostgresMaxOpenConns, nonNegativeInt, "must be >= 0")
	integer(envPostgresMaxIdle, &cfg.PostgresMaxIdleConns, nonNegativeInt, "must be >= 0")

	str(envPendingStore, &cfg.PendingStore)
	cfg.PendingStore = strings.ToLower(cfg.PendingStore)
	duration(envPendingTTL, &cfg.PendingTTL, positiveDuration, "must be > 0")
	str(envRedisAddr, &cfg.RedisAddr)
	if v, ok := lookup(envRedisPassword); ok {
		cfg.RedisPassword = v
	}
	integer(envRedisDB, &cfg.RedisDB, nonNegativeInt, "must be >= 0")

	str(envBackendURL, &cfg.BackendURL)
	duration(envBackendTimeout, &cfg.BackendTimeout, positiveDuration, "must be > 0")
	if v, ok := lookup(envBackendServiceToken); ok {
		cfg.BackendServiceToken = strings.TrimSpace(v)
	}
	integer(envBreakerMaxFailures, &cfg.BreakerMaxFailures, positiveInt, "must be > 0")
	duration(envBreakerResetTimeout, &cfg.BreakerResetTimeout, positiveDuration, "must be > 0")

	if v, ok := lookup(envVNPayHashSecret); ok {
		cfg.VNPayHashSecret = strings.TrimSpace(v)
	}
	if v, ok := lookup(envAmountTolerance); ok {
		tolerance, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || tolerance < 0 {
			warnings = append(warnings, fmt.Sprintf("%s: must be a non-negative integer", envAmountTolerance))
		} else {
			cfg.AmountTolerance = tolerance
		}
	}
	duration(envOutcomeTTL, &cfg.OutcomeTTL, positiveDuration, "must be > 0")
	duration(envStaleAfter, &cfg.StaleAfter, positiveDuration, "must be > 0")

	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	str(envKafkaClientID, &cfg.KafkaClientID)
	str(envEscalationGroupID, &cfg.EscalationGroupID)
	integer(envEscalationMaxAttempts, &cfg.EscalationMaxAttempts, positiveInt, "must be > 0")
	duration(envEscalationDelay, &cfg.EscalationDelay, nonNegativeDuration, "must be >= 0")

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	duration(envLedgerCleanupInterval, &cfg.LedgerCleanupInterval, positiveDuration, "must be > 0")
	integer(envLedgerCleanupBatchSize, &cfg.LedgerCleanupBatchSize, positiveInt, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
