package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	transporthttp "github.com/vladislavdragonenkov/checkout/internal/transport/http"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает API оформления, метрики и фоновые воркеры и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(logger)

	reconcileMetrics := metrics.NewReconcileMetrics()
	svc := buildServices(cfg, deps, reconcileMetrics, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	healthHandler.RegisterChecker("backend", healthcheck.NewBreakerChecker(svc.breaker))

	producer, err := initKafkaProducer(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("kafka unavailable, events stay in outbox")
	}

	if cfg.OperatorToken == "" {
		logger.Warn("CHECKOUT_OPERATOR_TOKEN is empty, reconciliation API is closed")
	}
	handler := transporthttp.NewHandler(svc.checkout, svc.reconciler, cfg.BackendTimeout, logger.WithField("component", "http"))
	router := transporthttp.NewRouter(handler, transporthttp.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		SecureCookies:  cfg.SecureCookies,
		OperatorToken:  cfg.OperatorToken,
	}, logger.WithField("component", "http"))

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		closeKafka(producer, nil, logger)
		return err
	}
	apiSrv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	metricsSrv := newMetricsServer(cfg.MetricsAddr, healthHandler)

	group, gctx := errgroup.WithContext(ctx)

	var consumer *kafka.Consumer
	if producer != nil {
		relay := outbox.NewRelay(deps.outbox, kafka.NewOutboxPublisher(producer, kafka.TopicReconciliationEvents),
			outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer)),
			outbox.WithLogger(logger.WithField("component", "outbox-relay")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		group.Go(func() error {
			relay.Run(gctx)
			return nil
		})

		consumer, err = startEscalationConsumer(gctx, cfg, svc.reconciler, producer, logger)
		if err != nil {
			logger.WithError(err).Warn("escalation consumer not started, escalations wait for manual retry")
		}
	}
	defer closeKafka(producer, consumer, logger)

	cleaner := idempotency.NewLedgerCleaner(deps.outcomes,
		idempotency.WithLogger(logger.WithField("component", "ledger-cleanup")),
		idempotency.WithInterval(cfg.LedgerCleanupInterval),
		idempotency.WithBatchSize(cfg.LedgerCleanupBatchSize),
	)
	group.Go(func() error {
		cleaner.Run(gctx)
		return nil
	})

	group.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("HTTP API слушает %s", lis.Addr())
		if err := apiSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("останавливаем HTTP серверы")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// newMetricsServer отдаёт /metrics и health-пробы на отдельном адресе.
func newMetricsServer(addr string, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
