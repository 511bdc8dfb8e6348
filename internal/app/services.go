package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
	"github.com/vladislavdragonenkov/checkout/internal/commerce"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

type services struct {
	breaker    *backend.CircuitBreaker
	reconciler *reconcile.Reconciler
	checkout   *checkout.Service
}

// buildServices связывает клиентов backend магазина, шлюз и хранилища.
func buildServices(cfg Config, deps *runtimeDependencies, m *metrics.ReconcileMetrics, logger *log.Entry) *services {
	breaker := backend.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger.WithField("component", "circuit-breaker"))
	client := backend.NewClient(backend.Config{
		BaseURL:      cfg.BackendURL,
		Timeout:      cfg.BackendTimeout,
		ServiceToken: cfg.BackendServiceToken,
		Breaker:      breaker,
	}, logger.WithField("component", "backend-client"))

	var signer *vnpay.Signer
	if cfg.VNPayHashSecret != "" {
		signer = vnpay.NewSigner(cfg.VNPayHashSecret)
	} else {
		logger.Warn("CHECKOUT_VNPAY_HASH_SECRET is empty, gateway callbacks are not signature-checked")
	}
	gateway := vnpay.New(client, signer, logger.WithField("component", "vnpay-gateway"))

	retry := backend.DefaultRetryConfig()
	orders := commerce.NewOrderClient(client)
	cart := commerce.NewCartClient(client)
	materializer := reconcile.NewOrderMaterializer(orders, retry, logger.WithField("component", "order-materializer"))
	clearer := reconcile.NewCartClearer(cart, retry, logger.WithField("component", "cart-clearer"))

	reconciler := reconcile.NewReconciler(reconcile.Dependencies{
		Drafts:       deps.drafts,
		Gateway:      gateway,
		Materializer: materializer,
		Cart:         clearer,
		Outcomes:     deps.outcomes,
		Outbox:       deps.outbox,
		Timeline:     deps.timeline,
	},
		reconcile.WithLogger(logger.WithField("component", "reconciler")),
		reconcile.WithMetrics(m),
		reconcile.WithAmountTolerance(cfg.AmountTolerance),
		reconcile.WithOutcomeTTL(cfg.OutcomeTTL),
		reconcile.WithStaleAfter(cfg.StaleAfter),
	)

	checkoutSvc := checkout.NewService(checkout.Dependencies{
		Cart:         cart,
		Gateway:      gateway,
		Drafts:       deps.drafts,
		Materializer: materializer,
		CartClearer:  clearer,
		Outbox:       deps.outbox,
		Timeline:     deps.timeline,
	}, m, logger.WithField("component", "checkout"))

	return &services{breaker: breaker, reconciler: reconciler, checkout: checkoutSvc}
}
