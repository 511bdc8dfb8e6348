package domain

import "time"

// CartItem представляет одну позицию корзины в момент оформления.
type CartItem struct {
	// Идентификатор товара в каталоге.
	ProductID int64 `json:"productId"`
	// ProductName используется только для отображения.
	ProductName string `json:"productName,omitempty"`
	// Количество единиц товара.
	Quantity int32 `json:"quantity"`
	// UnitPrice — цена за единицу в VND.
	UnitPrice int64 `json:"productPrice"`
}

// LineTotal возвращает стоимость позиции: quantity * price.
func (i CartItem) LineTotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// CartSnapshot фиксирует содержимое корзины на момент отправки формы.
type CartSnapshot struct {
	Items       []CartItem `json:"items"`
	TotalAmount int64      `json:"totalAmount"`
	CapturedAt  time.Time  `json:"capturedAt"`
}

// IsEmpty сообщает, что в корзине нет позиций.
func (c CartSnapshot) IsEmpty() bool {
	return len(c.Items) == 0
}

// ComputedTotal пересчитывает сумму по позициям.
func (c CartSnapshot) ComputedTotal() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.LineTotal()
	}
	return total
}

// ValidateInvariants проверяет инварианты снимка корзины и возвращает список замечаний.
func (c CartSnapshot) ValidateInvariants() []error {
	var errs []error

	if len(c.Items) == 0 {
		errs = append(errs, ErrCartEmpty)
	}
	if c.TotalAmount < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	for _, item := range c.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	// Итог корзины должен совпадать с суммой позиций, иначе черновик разойдётся с платежом.
	if c.ComputedTotal() != c.TotalAmount {
		errs = append(errs, ErrCartTotalMismatch)
	}

	return errs
}

// DraftItems превращает позиции корзины в позиции черновика заказа.
func (c CartSnapshot) DraftItems() []DraftItem {
	items := make([]DraftItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, DraftItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
		})
	}
	return items
}
