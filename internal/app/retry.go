package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

// RetryOptions управляет разовым повтором эскалированных сверок.
type RetryOptions struct {
	Limit   int
	DryRun  bool
	TxnRefs []string
}

// RetryReport — итог прохода по эскалациям.
type RetryReport struct {
	Scanned   int
	Recovered []string
	Failed    map[string]domain.FailureKind
	Skipped   []string
	Errors    map[string]error
}

type escalationRetrier interface {
	Get(ctx context.Context, txnRef string) (domain.ReconcileOutcome, error)
	ListEscalated(ctx context.Context, limit int) ([]domain.ReconcileOutcome, error)
	Retry(ctx context.Context, txnRef string) (reconcile.Result, error)
}

// RetryEscalated поднимает хранилища и клиентов из cfg и повторяет сверки, ожидающие ручного разбора.
// Журнал должен быть общим с работающим сервисом, поэтому память как хранилище не подходит.
func RetryEscalated(ctx context.Context, cfg Config, opts RetryOptions) (RetryReport, error) {
	if cfg.StorageDriver != StorageDriverPostgres {
		return RetryReport{}, fmt.Errorf("reconcile retry requires %s storage, got %q", StorageDriverPostgres, cfg.StorageDriver)
	}
	logger := log.WithField("component", "reconcile-retry")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return RetryReport{}, err
	}
	defer deps.Close(logger)

	m := metrics.NewReconcileMetricsWithRegisterer(prometheus.NewRegistry())
	svc := buildServices(cfg, deps, m, logger)
	return retryEscalated(ctx, svc.reconciler, opts, logger)
}

func retryEscalated(ctx context.Context, retrier escalationRetrier, opts RetryOptions, logger *log.Entry) (RetryReport, error) {
	report := RetryReport{
		Failed: make(map[string]domain.FailureKind),
		Errors: make(map[string]error),
	}

	outcomes, err := selectEscalated(ctx, retrier, opts)
	if err != nil {
		return report, err
	}

	for _, outcome := range outcomes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		entry := logger.WithFields(log.Fields{
			"txn_ref":      outcome.TxnRef,
			"failure_kind": outcome.FailureKind,
			"attempts":     outcome.Attempts,
		})

		if !outcome.Escalated() {
			entry.Info("outcome is not escalated, skipping")
			report.Skipped = append(report.Skipped, outcome.TxnRef)
			continue
		}
		if opts.DryRun {
			entry.Info("retry candidate")
			report.Skipped = append(report.Skipped, outcome.TxnRef)
			continue
		}

		res, err := retrier.Retry(ctx, outcome.TxnRef)
		switch {
		case err == nil:
			entry.WithField("order_id", res.OrderID).Info("escalated reconciliation recovered")
			report.Recovered = append(report.Recovered, outcome.TxnRef)
		case domain.KindOf(err) != domain.FailureKindNone:
			entry.WithError(err).Warn("retry failed again")
			report.Failed[outcome.TxnRef] = domain.KindOf(err)
		case errors.Is(err, domain.ErrOutcomeNotRetryable), errors.Is(err, domain.ErrReconcileInProgress):
			entry.WithError(err).Info("outcome cannot be retried now")
			report.Skipped = append(report.Skipped, outcome.TxnRef)
		default:
			entry.WithError(err).Error("retry aborted")
			report.Errors[outcome.TxnRef] = err
		}
	}
	return report, nil
}

func selectEscalated(ctx context.Context, retrier escalationRetrier, opts RetryOptions) ([]domain.ReconcileOutcome, error) {
	if len(opts.TxnRefs) == 0 {
		outcomes, err := retrier.ListEscalated(ctx, opts.Limit)
		if err != nil {
			return nil, fmt.Errorf("list escalated outcomes: %w", err)
		}
		return outcomes, nil
	}

	outcomes := make([]domain.ReconcileOutcome, 0, len(opts.TxnRefs))
	for _, txnRef := range opts.TxnRefs {
		outcome, err := retrier.Get(ctx, txnRef)
		if err != nil {
			return nil, fmt.Errorf("load outcome %s: %w", txnRef, err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
