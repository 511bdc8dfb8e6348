package domain

import (
	"context"
	"net/url"
	"time"
)

// PendingOrderStore хранит единственный черновик заказа на сессию между редиректами.
type PendingOrderStore interface {
	// Save перезаписывает черновик сессии.
	Save(ctx context.Context, sessionID string, draft DraftOrder) error
	// Load возвращает черновик или ErrDraftNotFound.
	Load(ctx context.Context, sessionID string) (DraftOrder, error)
	// Clear удаляет черновик; отсутствие черновика ошибкой не считается.
	Clear(ctx context.Context, sessionID string) error
}

// PaymentGateway описывает взаимодействие с внешним платёжным шлюзом.
type PaymentGateway interface {
	// CreatePaymentRequest создаёт платёж и возвращает ссылку для редиректа.
	CreatePaymentRequest(ctx context.Context, amount int64, bankCode string) (PaymentRequest, error)
	// ParseCallback разбирает параметры возврата со шлюза.
	ParseCallback(params url.Values) (PaymentCallbackResult, error)
}

// OrderService — клиент внешнего сервиса заказов.
type OrderService interface {
	Create(ctx context.Context, req OrderRequest) (MaterializedOrder, error)
	// FindByTransaction ищет заказ, уже созданный по транзакции шлюза.
	FindByTransaction(ctx context.Context, txnRef string) (MaterializedOrder, error)
}

type CartService interface {
	Snapshot(ctx context.Context) (CartSnapshot, error)
	Clear(ctx context.Context) error
}

// OutcomeRepository — журнал сверок по TxnRef, обеспечивающий идемпотентность колбэков.
type OutcomeRepository interface {
	// Begin создаёт запись в состоянии reconciling.
	// Если запись уже есть, возвращает её вместе с ErrOutcomeAlreadyExists.
	Begin(ctx context.Context, txnRef, sessionID string, ttlAt time.Time) (ReconcileOutcome, error)
	Get(ctx context.Context, txnRef string) (ReconcileOutcome, error)
	// Finish фиксирует финальный результат сверки.
	Finish(ctx context.Context, txnRef string, update OutcomeUpdate) error
	// Resume переводит эскалированную или зависшую (updated_at < staleBefore) запись обратно в reconciling.
	Resume(ctx context.Context, txnRef string, staleBefore time.Time) (ReconcileOutcome, error)
	ListEscalated(ctx context.Context, limit int) ([]ReconcileOutcome, error)
	// DeleteExpired удаляет финальные неэскалированные записи с ttl <= before.
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла транзакции.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, txnRef string) ([]TimelineEvent, error)
}

// ReconcileStep задаёт константы шагов для метрик/логов.
type ReconcileStep string

const (
	ReconcileStepParse       ReconcileStep = "parse"
	ReconcileStepLoadDraft   ReconcileStep = "load_draft"
	ReconcileStepMaterialize ReconcileStep = "materialize"
	ReconcileStepClearCart   ReconcileStep = "clear_cart"
	ReconcileStepClearDraft  ReconcileStep = "clear_draft"
	ReconcileStepPayRequest  ReconcileStep = "payment_request"
)

// Типы агрегатов и событий outbox.
const (
	AggregateReconciliation = "reconciliation"
	AggregateCheckout       = "checkout"

	EventReconciliationCompleted = "ReconciliationCompleted"
	EventReconciliationFailed    = "ReconciliationFailed"
	EventReconciliationEscalated = "ReconciliationEscalated"
	EventCheckoutOrderCreated    = "CheckoutOrderCreated"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
