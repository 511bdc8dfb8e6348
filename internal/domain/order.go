package domain

import "time"

// OrderStatus описывает статус заказа во внешнем сервисе заказов.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusReturned   OrderStatus = "RETURNED"
	OrderStatusReceived   OrderStatus = "RECEIVED"
)

// PaymentStatusPaid — статус оплаты, с которым создаётся заказ после успешного колбэка.
const PaymentStatusPaid = "PAID"

// MaterializedOrder — заказ, созданный в сервисе заказов.
// После создания им владеет сервис заказов; здесь хранится только ссылка.
type MaterializedOrder struct {
	ID             string          `json:"id"`
	Status         OrderStatus     `json:"status"`
	TotalAmount    int64           `json:"totalAmount"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod"`
	PaymentDetails *PaymentDetails `json:"paymentDetails,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// OrderRequest — тело запроса на создание заказа.
type OrderRequest struct {
	ShippingAddress string          `json:"shippingAddress"`
	ContactPhone    string          `json:"contactPhone"`
	ContactEmail    string          `json:"email,omitempty"`
	FullName        string          `json:"fullName,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	PaymentStatus   string          `json:"paymentStatus,omitempty"`
	Items           []DraftItem     `json:"items"`
	PaymentDetails  *PaymentDetails `json:"paymentDetails,omitempty"`
}

// NewOrderRequest собирает запрос на создание заказа из черновика.
// callback == nil означает оплату без внешнего шлюза.
func NewOrderRequest(draft DraftOrder, callback *PaymentCallbackResult) OrderRequest {
	req := OrderRequest{
		ShippingAddress: draft.ShippingAddress,
		ContactPhone:    draft.ContactPhone,
		ContactEmail:    draft.ContactEmail,
		FullName:        draft.FullName,
		Notes:           draft.Notes,
		PaymentMethod:   draft.PaymentMethod,
		Items:           append([]DraftItem(nil), draft.Items...),
	}
	if callback != nil {
		details := callback.Details()
		req.PaymentDetails = &details
		req.PaymentStatus = PaymentStatusPaid
	}
	return req
}
