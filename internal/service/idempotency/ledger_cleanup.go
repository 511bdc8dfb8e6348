package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_ledger_cleanup_runs_total",
		Help: "Reconciliation ledger cleanup runs grouped by result.",
	}, []string{"result"})
	cleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_ledger_cleanup_deleted_total",
		Help: "Expired reconciliation outcomes removed from the ledger.",
	})
	cleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_ledger_cleanup_last_deleted",
		Help: "Outcomes removed during the last cleanup run.",
	})
)

// ExpiredOutcomes — часть журнала сверок, нужная для очистки.
// Реализации не трогают эскалированные записи.
type ExpiredOutcomes interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// CleanupOptions задаёт параметры LedgerCleaner.
type CleanupOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
}

// CleanupOption настраивает LedgerCleaner.
type CleanupOption func(*CleanupOptions)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) { opts.Logger = logger }
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Interval = interval }
}

// WithBatchSize ограничивает число записей, удаляемых одним запросом.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) { opts.BatchSize = batchSize }
}

func WithClock(now func() time.Time) CleanupOption {
	return func(opts *CleanupOptions) { opts.Clock = now }
}

// LedgerCleaner периодически удаляет финальные записи журнала сверок с истёкшим ttl.
// Пока запись жива, повторный колбэк по тому же TxnRef отвечает сохранённым результатом.
type LedgerCleaner struct {
	repo      ExpiredOutcomes
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewLedgerCleaner создаёт воркер очистки журнала сверок.
func NewLedgerCleaner(repo ExpiredOutcomes, options ...CleanupOption) *LedgerCleaner {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "ledger-cleanup")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &LedgerCleaner{
		repo:      repo,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       opts.Clock,
	}
}

// Run чистит журнал сразу и затем каждые interval до отмены ctx.
func (c *LedgerCleaner) Run(ctx context.Context) {
	if c.repo == nil {
		c.logger.Warn("ledger cleanup disabled: outcome repository is not configured")
		return
	}

	c.runOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

func (c *LedgerCleaner) runOnce(ctx context.Context) {
	deleted, err := c.Sweep(ctx, c.now().UTC())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cleanupRunsTotal.WithLabelValues("error").Inc()
		c.logger.WithError(err).WithField("deleted", deleted).Warn("ledger cleanup run failed")
		return
	}

	cleanupRunsTotal.WithLabelValues("ok").Inc()
	cleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		c.logger.WithField("deleted", deleted).Info("expired reconciliation outcomes removed")
	}
}

// Sweep удаляет все записи с ttl <= before порциями batchSize.
func (c *LedgerCleaner) Sweep(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = c.now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := c.repo.DeleteExpired(ctx, before, c.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted > 0 {
			cleanupDeletedTotal.Add(float64(deleted))
		}
		if deleted < c.batchSize {
			return total, nil
		}
	}
}
