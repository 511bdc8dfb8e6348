package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outbox_publish_attempts_total",
		Help: "Outbox publish attempts grouped by event type and result.",
	}, []string{"event_type", "result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_pending_records",
		Help: "Pending reconciliation events in the outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox event.",
	})
)

// Options задаёт параметры Relay.
type Options struct {
	Logger         *log.Entry
	DLQPublisher   domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Clock          func() time.Time
}

// Option настраивает Relay.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithDLQPublisher задаёт получателя событий, которые не удалось опубликовать.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(o *Options) { o.DLQPublisher = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(o *Options) { o.PollInterval = interval }
}

func WithBatchSize(n int) Option {
	return func(o *Options) { o.BatchSize = n }
}

func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithRetryBaseDelay задаёт первую паузу экспоненциального backoff (0 отключает паузы).
func WithRetryBaseDelay(d time.Duration) Option {
	return func(o *Options) { o.RetryBaseDelay = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Clock = now }
}

// Relay переносит события сверок и оформления из outbox в брокер.
type Relay struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	opts      Options
}

// NewRelay создаёт relay; нулевые и отрицательные параметры заменяются значениями по умолчанию.
func NewRelay(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Relay {
	opts := Options{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, apply := range options {
		apply(&opts)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-relay")
	}

	return &Relay{
		repo:      repo,
		publisher: publisher,
		dlq:       opts.DLQPublisher,
		logger:    logger,
		opts:      opts,
	}
}

// Run опрашивает outbox до отмены ctx.
func (r *Relay) Run(ctx context.Context) {
	if r.repo == nil || r.publisher == nil {
		r.logger.Warn("outbox relay disabled: repository or publisher is not configured")
		return
	}

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	r.Flush(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// Flush публикует одну пачку pending-событий и возвращает число опубликованных.
func (r *Relay) Flush(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer r.observeBacklog(ctx)

	batch, err := r.repo.PullPending(ctx, r.opts.BatchSize)
	if err != nil {
		r.logger.WithError(err).Warn("pull pending outbox events failed")
		return 0
	}

	sent := 0
	for _, event := range batch {
		if ctx.Err() != nil {
			break
		}
		entry := r.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"event_type": event.EventType,
			"txn_ref":    event.AggregateID,
		})

		if err := r.publish(ctx, event); err != nil {
			if ctx.Err() != nil {
				// Событие не подтверждено и будет опубликовано повторно.
				break
			}
			entry.WithError(err).Error("outbox event not delivered")
			publishAttempts.WithLabelValues(event.EventType, "failed").Inc()
			r.deadLetter(ctx, entry, event, err)
			if err := r.repo.MarkFailed(ctx, event.ID); err != nil {
				entry.WithError(err).Warn("mark outbox event failed")
			}
			continue
		}

		if err := r.repo.MarkSent(ctx, event.ID); err != nil {
			entry.WithError(err).Warn("mark outbox event sent failed")
			continue
		}
		sent++
	}
	return sent
}

func (r *Relay) publish(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if lastErr = r.publisher.Publish(ctx, event); lastErr == nil {
			publishAttempts.WithLabelValues(event.EventType, "sent").Inc()
			return nil
		}
		publishAttempts.WithLabelValues(event.EventType, "retry").Inc()
		if attempt == r.opts.MaxAttempts {
			break
		}
		if delay := r.backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("publish %s after %d attempts: %w", event.EventType, r.opts.MaxAttempts, lastErr)
}

func (r *Relay) backoff(attempt int) time.Duration {
	delay := r.opts.RetryBaseDelay
	for i := 1; i < attempt && delay > 0; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// deadLetter оборачивает исходное событие вместе с причиной и отправляет в DLQ.
func (r *Relay) deadLetter(ctx context.Context, entry *log.Entry, event domain.OutboxMessage, cause error) {
	if r.dlq == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"outbox_id":      event.ID,
		"aggregate_type": event.AggregateType,
		"txn_ref":        event.AggregateID,
		"event_type":     event.EventType,
		"payload":        json.RawMessage(event.Payload),
		"publish_error":  cause.Error(),
		"failed_at":      r.opts.Clock().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		entry.WithError(err).Warn("marshal dead letter failed")
		return
	}
	letter := event
	letter.Payload = payload
	if err := r.dlq.Publish(ctx, letter); err != nil {
		entry.WithError(err).Warn("dead letter publish failed")
		publishAttempts.WithLabelValues(event.EventType, "dlq_failed").Inc()
		return
	}
	publishAttempts.WithLabelValues(event.EventType, "dead_lettered").Inc()
}

func (r *Relay) observeBacklog(ctx context.Context) {
	stats, err := r.repo.Stats(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("outbox backlog stats failed")
		return
	}
	pendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}
	age := r.opts.Clock().Sub(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	oldestPendingAge.Set(age)
}
