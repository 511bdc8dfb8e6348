package commerce

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// CartClient — клиент корзины текущего пользователя.
type CartClient struct {
	client *backend.Client
	now    func() time.Time
}

// NewCartClient создаёт клиента корзины.
func NewCartClient(client *backend.Client) *CartClient {
	return &CartClient{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type cartDTO struct {
	Items []struct {
		ProductID    int64   `json:"productId"`
		ProductName  string  `json:"productName"`
		ProductPrice float64 `json:"productPrice"`
		Quantity     int32   `json:"quantity"`
	} `json:"items"`
	TotalAmount float64 `json:"totalAmount"`
}

// Snapshot читает GET /cart и фиксирует момент снятия снимка.
func (c *CartClient) Snapshot(ctx context.Context) (domain.CartSnapshot, error) {
	var out cartDTO
	if err := c.client.Do(ctx, http.MethodGet, "/cart", nil, &out); err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("get cart: %w", err)
	}

	snapshot := domain.CartSnapshot{
		Items:       make([]domain.CartItem, 0, len(out.Items)),
		TotalAmount: int64(out.TotalAmount),
		CapturedAt:  c.now(),
	}
	for _, item := range out.Items {
		snapshot.Items = append(snapshot.Items, domain.CartItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   int64(item.ProductPrice),
		})
	}
	return snapshot, nil
}

// Clear отправляет DELETE /cart.
func (c *CartClient) Clear(ctx context.Context) error {
	if err := c.client.Do(ctx, http.MethodDelete, "/cart", nil, nil); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
