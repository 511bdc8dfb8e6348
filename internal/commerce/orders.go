package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// OrderClient — клиент сервиса заказов backend.
type OrderClient struct {
	client *backend.Client
}

// NewOrderClient создаёт клиента заказов.
func NewOrderClient(client *backend.Client) *OrderClient {
	return &OrderClient{client: client}
}

// id в ответе backend приходит числом.
type orderDTO struct {
	ID             json.Number            `json:"id"`
	Status         domain.OrderStatus     `json:"status"`
	TotalAmount    float64                `json:"totalAmount"`
	PaymentMethod  domain.PaymentMethod   `json:"paymentMethod"`
	PaymentDetails *domain.PaymentDetails `json:"paymentDetails,omitempty"`
	CreatedAt      string                 `json:"createdAt"`
}

// backend отдаёт LocalDateTime без зоны, поэтому пробуем оба формата.
var createdAtLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"}

func parseCreatedAt(raw string) time.Time {
	for _, layout := range createdAtLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func (o orderDTO) toDomain() domain.MaterializedOrder {
	return domain.MaterializedOrder{
		ID:             o.ID.String(),
		Status:         o.Status,
		TotalAmount:    int64(o.TotalAmount),
		PaymentMethod:  o.PaymentMethod,
		PaymentDetails: o.PaymentDetails,
		CreatedAt:      parseCreatedAt(o.CreatedAt),
	}
}

// Create отправляет POST /orders.
func (c *OrderClient) Create(ctx context.Context, req domain.OrderRequest) (domain.MaterializedOrder, error) {
	var out orderDTO
	if err := c.client.Do(ctx, http.MethodPost, "/orders", req, &out); err != nil {
		return domain.MaterializedOrder{}, fmt.Errorf("create order: %w", err)
	}
	if strings.TrimSpace(out.ID.String()) == "" {
		return domain.MaterializedOrder{}, fmt.Errorf("create order: empty order id: %w", domain.ErrUpstreamTemporary)
	}
	return out.toDomain(), nil
}

// Get возвращает заказ по идентификатору.
func (c *OrderClient) Get(ctx context.Context, orderID string) (domain.MaterializedOrder, error) {
	if _, err := strconv.ParseInt(orderID, 10, 64); err != nil {
		return domain.MaterializedOrder{}, domain.ErrOrderNotFound
	}
	var out orderDTO
	if err := c.client.Do(ctx, http.MethodGet, "/orders/"+orderID, nil, &out); err != nil {
		return domain.MaterializedOrder{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return out.toDomain(), nil
}

// FindByTransaction ищет заказ с paymentDetails.transactionId == txnRef.
// Backend не поддерживает ключ идемпотентности, поэтому проверка идёт по списку заказов:
// с токеном покупателя это /orders/my-orders, под сервисным токеном полный список /orders,
// в котором виден и заказ, созданный от имени покупателя.
func (c *OrderClient) FindByTransaction(ctx context.Context, txnRef string) (domain.MaterializedOrder, error) {
	txnRef = strings.TrimSpace(txnRef)
	if txnRef == "" {
		return domain.MaterializedOrder{}, domain.ErrTxnRefRequired
	}

	path := "/orders"
	if _, ok := backend.AuthToken(ctx); ok {
		path = "/orders/my-orders"
	}

	var orders []orderDTO
	if err := c.client.Do(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return domain.MaterializedOrder{}, fmt.Errorf("list orders: %w", err)
	}
	for _, o := range orders {
		if o.PaymentDetails != nil && o.PaymentDetails.TransactionID == txnRef {
			return o.toDomain(), nil
		}
	}
	return domain.MaterializedOrder{}, domain.ErrOrderNotFound
}
