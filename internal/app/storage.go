package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/checkout/internal/storage/redis"
)

const storageOpenTimeout = 10 * time.Second

// runtimeDependencies хранит выбранные конфигурацией хранилища.
type runtimeDependencies struct {
	drafts   domain.PendingOrderStore
	outcomes domain.OutcomeRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	checkers map[string]healthcheck.Checker
	closers  []func() error
}

func (d *runtimeDependencies) Close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("close storage failed")
		}
	}
	d.closers = nil
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	var store *postgres.Store
	if cfg.StorageDriver == StorageDriverPostgres || cfg.pendingStore() == PendingStorePostgres {
		openCtx, cancel := context.WithTimeout(ctx, storageOpenTimeout)
		defer cancel()

		var err error
		store, err = postgres.Open(openCtx, cfg.PostgresDSN, cfg.postgresOptions()...)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)
		deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(openCtx); err != nil {
				deps.Close(logger)
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		deps.outcomes = postgres.NewOutcomeRepository(store)
		deps.outbox = postgres.NewOutboxRepository(store)
		deps.timeline = postgres.NewTimelineRepository(store)
	default:
		deps.outcomes = memory.NewOutcomeRepository()
		deps.outbox = memory.NewOutboxRepository()
		deps.timeline = memory.NewTimelineRepository()
	}

	switch cfg.pendingStore() {
	case PendingStoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		drafts := redisstore.NewPendingOrderStore(client, cfg.PendingTTL)

		pingCtx, cancel := context.WithTimeout(ctx, storageOpenTimeout)
		err := drafts.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = client.Close()
			deps.Close(logger)
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		deps.closers = append(deps.closers, client.Close)
		deps.checkers["redis"] = healthcheck.NewPingChecker("redis", drafts)
		deps.drafts = drafts
	case PendingStorePostgres:
		deps.drafts = postgres.NewPendingOrderStore(store, cfg.PendingTTL)
	default:
		deps.drafts = memory.NewPendingOrderStore(cfg.PendingTTL)
	}

	logger.WithFields(log.Fields{
		"storage":       cfg.StorageDriver,
		"pending_store": cfg.pendingStore(),
	}).Info("storage initialized")
	return deps, nil
}
