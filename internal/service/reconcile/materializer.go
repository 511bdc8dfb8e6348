package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// OrderMaterializer создаёт заказ в сервисе заказов ровно один раз на транзакцию шлюза.
type OrderMaterializer struct {
	orders domain.OrderService
	retry  backend.RetryConfig
	logger *log.Entry
}

// NewOrderMaterializer создаёт материализатор; retry применяется только к временным ошибкам.
func NewOrderMaterializer(orders domain.OrderService, retry backend.RetryConfig, logger *log.Entry) *OrderMaterializer {
	if logger == nil {
		logger = log.New().WithField("component", "order-materializer")
	}
	return &OrderMaterializer{orders: orders, retry: retry, logger: logger}
}

// Create возвращает уже существующий заказ по transactionId или создаёт новый.
// Поиск и создание повторяются вместе: если первая попытка создала заказ, но ответ потерялся,
// следующая найдёт его и не создаст дубль.
func (m *OrderMaterializer) Create(ctx context.Context, draft domain.DraftOrder, callback domain.PaymentCallbackResult) (domain.MaterializedOrder, error) {
	txnRef := strings.TrimSpace(callback.TransactionID)
	if txnRef == "" {
		return domain.MaterializedOrder{}, domain.ErrTxnRefRequired
	}
	entry := m.logger.WithField("txn_ref", txnRef)

	var order domain.MaterializedOrder
	err := backend.Retry(ctx, m.retry, entry, "materialize-order", func(ctx context.Context) error {
		existing, err := m.orders.FindByTransaction(ctx, txnRef)
		switch {
		case err == nil:
			entry.WithField("order_id", existing.ID).Info("Order already exists for transaction")
			order = existing
			return nil
		case !errors.Is(err, domain.ErrOrderNotFound):
			return fmt.Errorf("find order by transaction: %w", err)
		}

		created, err := m.orders.Create(ctx, domain.NewOrderRequest(draft, &callback))
		if err != nil {
			return err
		}
		order = created
		return nil
	})
	if err != nil {
		return domain.MaterializedOrder{}, err
	}
	return order, nil
}

// CreateDirect создаёт заказ без платёжного шлюза (оплата при получении и т.п.).
// Ключа транзакции нет, поэтому повтор не делается.
func (m *OrderMaterializer) CreateDirect(ctx context.Context, draft domain.DraftOrder) (domain.MaterializedOrder, error) {
	if draft.PaymentMethod.UsesGateway() {
		return domain.MaterializedOrder{}, fmt.Errorf("payment method %s requires gateway callback", draft.PaymentMethod)
	}
	return m.orders.Create(ctx, domain.NewOrderRequest(draft, nil))
}

// Existing ищет заказ, уже созданный по транзакции шлюза.
func (m *OrderMaterializer) Existing(ctx context.Context, txnRef string) (domain.MaterializedOrder, error) {
	return m.orders.FindByTransaction(ctx, txnRef)
}
