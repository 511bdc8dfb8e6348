package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics содержит метрики оформления заказа и сверки колбэков шлюза.
type ReconcileMetrics struct {
	// Счётчики запросов на оплату
	paymentRequests *prometheus.CounterVec

	// Исходы сверки
	reconcileStarted   prometheus.Counter
	reconcileCompleted prometheus.Counter
	reconcileFailed    *prometheus.CounterVec
	reconcileReplayed  prometheus.Counter
	reconcileRetried   prometheus.Counter
	responseCodes      *prometheus.CounterVec

	// Побочные шаги
	cartClearFailed prometheus.Counter
	directOrders    prometheus.Counter

	// Гистограммы времени выполнения
	reconcileDuration prometheus.Histogram
	stepDuration      *prometheus.HistogramVec

	// Счётчики событий timeline
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge для активных сверок
	activeReconciles prometheus.Gauge
}

// NewReconcileMetrics создаёт метрики в реестре по умолчанию.
func NewReconcileMetrics() *ReconcileMetrics {
	return NewReconcileMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReconcileMetricsWithRegisterer создаёт метрики в заданном реестре (в тестах изолированном).
func NewReconcileMetricsWithRegisterer(registerer prometheus.Registerer) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReconcileMetrics{
		paymentRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_payment_requests_total",
			Help: "Total number of gateway payment requests by result",
		}, []string{"result"}),
		reconcileStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_reconcile_started_total",
			Help: "Total number of gateway callbacks taken into reconciliation",
		}),
		reconcileCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_reconcile_completed_total",
			Help: "Total number of reconciliations that materialized an order",
		}),
		reconcileFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_reconcile_failed_total",
			Help: "Total number of failed reconciliations by failure kind",
		}, []string{"kind"}),
		reconcileReplayed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_reconcile_replayed_total",
			Help: "Total number of duplicate callbacks answered from the outcome ledger",
		}),
		reconcileRetried: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_reconcile_retried_total",
			Help: "Total number of manual reconciliation retries",
		}),
		responseCodes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_gateway_response_codes_total",
			Help: "Gateway response codes seen in callbacks",
		}, []string{"code"}),
		cartClearFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_cart_clear_failed_total",
			Help: "Total number of carts left uncleared after a materialized order",
		}),
		directOrders: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_direct_orders_total",
			Help: "Total number of orders created without a gateway redirect",
		}),
		reconcileDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_reconcile_duration_seconds",
			Help:    "Duration of callback reconciliation in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "checkout_reconcile_step_duration_seconds",
			Help:    "Duration of individual reconciliation steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		activeReconciles: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_active_reconciles",
			Help: "Number of reconciliations currently in progress",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordPaymentRequest учитывает запрос на оплату: result = "ok" или "failed".
func (m *ReconcileMetrics) RecordPaymentRequest(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.paymentRequests.WithLabelValues(result).Inc()
}

// RecordReconcileStarted увеличивает счётчик начатых сверок.
func (m *ReconcileMetrics) RecordReconcileStarted() {
	m.reconcileStarted.Inc()
	m.activeReconciles.Inc()
}

// RecordReconcileFinished уменьшает количество активных сверок.
func (m *ReconcileMetrics) RecordReconcileFinished() {
	m.activeReconciles.Dec()
}

// RecordReconcileCompleted увеличивает счётчик успешных сверок.
func (m *ReconcileMetrics) RecordReconcileCompleted() {
	m.reconcileCompleted.Inc()
}

// RecordReconcileFailed учитывает неудачную сверку по виду отказа.
func (m *ReconcileMetrics) RecordReconcileFailed(kind string) {
	m.reconcileFailed.WithLabelValues(kind).Inc()
}

func (m *ReconcileMetrics) RecordReconcileReplayed() {
	m.reconcileReplayed.Inc()
}

func (m *ReconcileMetrics) RecordReconcileRetried() {
	m.reconcileRetried.Inc()
}

// RecordResponseCode учитывает код ответа шлюза.
func (m *ReconcileMetrics) RecordResponseCode(code string) {
	m.responseCodes.WithLabelValues(code).Inc()
}

func (m *ReconcileMetrics) RecordCartClearFailed() {
	m.cartClearFailed.Inc()
}

func (m *ReconcileMetrics) RecordDirectOrder() {
	m.directOrders.Inc()
}

// RecordReconcileDuration записывает время сверки.
func (m *ReconcileMetrics) RecordReconcileDuration(duration time.Duration) {
	m.reconcileDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага сверки.
func (m *ReconcileMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ReconcileMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ReconcileMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
