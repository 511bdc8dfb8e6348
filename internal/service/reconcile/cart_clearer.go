package reconcile

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// CartClearer очищает корзину после того, как заказ создан.
// Ошибка очистки не откатывает заказ: вызывающий код только логирует её.
type CartClearer struct {
	cart   domain.CartService
	retry  backend.RetryConfig
	logger *log.Entry
}

func NewCartClearer(cart domain.CartService, retry backend.RetryConfig, logger *log.Entry) *CartClearer {
	if logger == nil {
		logger = log.New().WithField("component", "cart-clearer")
	}
	return &CartClearer{cart: cart, retry: retry, logger: logger}
}

// Clear удаляет содержимое корзины с ограниченным числом повторов.
func (c *CartClearer) Clear(ctx context.Context) error {
	return backend.Retry(ctx, c.retry, c.logger, "clear-cart", c.cart.Clear)
}
