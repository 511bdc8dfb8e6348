package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RouterConfig задаёт параметры HTTP роутера.
type RouterConfig struct {
	RequestTimeout time.Duration
	// SecureCookies выставляет Secure у cookie сессии (за TLS).
	SecureCookies bool
	// OperatorToken сверяется с заголовком X-Operator-Token на маршрутах сверок.
	OperatorToken string
}

// NewRouter собирает chi роутер с API оформления и сверки.
func NewRouter(h *Handler, cfg RouterConfig, logger *log.Entry) http.Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/checkout", func(r chi.Router) {
			r.Use(AuthMiddleware)
			r.Use(SessionMiddleware(cfg.SecureCookies))
			r.Post("/steps/{step}/validate", h.ValidateStep)
			r.Post("/", h.Submit)
			r.Get("/pending", h.Pending)
			r.Get("/vnpay-return", h.GatewayReturn)
			r.Get("/confirmation/{txnRef}", h.Confirmation)
		})

		// Повторы оператора идут под сервисным токеном бэкенда.
		r.Route("/reconciliations", func(r chi.Router) {
			r.Use(OperatorAuth(cfg.OperatorToken))
			r.Get("/", h.ListReconciliations)
			r.Get("/{txnRef}", h.GetReconciliation)
			r.Get("/{txnRef}/timeline", h.Timeline)
			r.Post("/{txnRef}/retry", h.RetryReconciliation)
		})
	})

	return otelhttp.NewHandler(r, "checkout-http")
}
