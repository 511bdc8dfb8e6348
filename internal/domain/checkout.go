package domain

import (
	"fmt"
	"strings"
	"time"
)

// PaymentMethod — способ оплаты, выбранный на третьем шаге оформления.
type PaymentMethod string

const (
	PaymentMethodCreditCard     PaymentMethod = "CREDIT_CARD"
	PaymentMethodDebitCard      PaymentMethod = "DEBIT_CARD"
	PaymentMethodBankTransfer   PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
	PaymentMethodEWallet        PaymentMethod = "E_WALLET"
	PaymentMethodVNPay          PaymentMethod = "VNPAY"
)

// Valid проверяет, что способ оплаты относится к поддерживаемым значениям.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodBankTransfer,
		PaymentMethodCashOnDelivery, PaymentMethodEWallet, PaymentMethodVNPay:
		return true
	default:
		return false
	}
}

// UsesGateway сообщает, требует ли способ оплаты редиректа на внешний шлюз.
func (m PaymentMethod) UsesGateway() bool {
	return m == PaymentMethodVNPay
}

// CheckoutForm — данные трёхшаговой формы оформления заказа.
type CheckoutForm struct {
	// Шаг 1: контактные данные.
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`

	// Шаг 2: адрес доставки.
	Address  string `json:"address"`
	Province string `json:"provinceName"`
	District string `json:"districtName"`
	Ward     string `json:"wardName"`
	Notes    string `json:"notes,omitempty"`

	// Шаг 3: оплата.
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	BankCode      string        `json:"bankCode,omitempty"`
}

// ShippingAddress склеивает адрес в формате "улица, район, округ, провинция".
func (f CheckoutForm) ShippingAddress() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{f.Address, f.Ward, f.District, f.Province} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// DraftItem — позиция черновика заказа в формате сервиса заказов.
type DraftItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int32 `json:"quantity"`
	Price     int64 `json:"price"`
}

// DraftOrder — черновик заказа, сохраняемый перед редиректом на платёжный шлюз.
type DraftOrder struct {
	CheckoutID      string        `json:"checkoutId"`
	SessionID       string        `json:"sessionId"`
	ShippingAddress string        `json:"shippingAddress"`
	ContactPhone    string        `json:"contactPhone"`
	ContactEmail    string        `json:"contactEmail"`
	FullName        string        `json:"fullName"`
	Notes           string        `json:"notes,omitempty"`
	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	BankCode        string        `json:"bankCode,omitempty"`
	Items           []DraftItem   `json:"items"`
	TotalAmount     int64         `json:"totalAmount"`
	// TxnRef связывает черновик с транзакцией шлюза; пустой, пока запрос на оплату не создан.
	TxnRef    string    `json:"txnRef,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// ItemsTotal возвращает сумму позиций черновика.
func (d DraftOrder) ItemsTotal() int64 {
	var total int64
	for _, item := range d.Items {
		total += int64(item.Quantity) * item.Price
	}
	return total
}

// CheckAmount сверяет оплаченную сумму с суммой позиций черновика с допуском tolerance.
func (d DraftOrder) CheckAmount(paid, tolerance int64) error {
	expected := d.ItemsTotal()
	if diff := paid - expected; diff > tolerance || -diff > tolerance {
		return fmt.Errorf("%w: paid %d, draft total %d", ErrAmountMismatch, paid, expected)
	}
	return nil
}

// Expired сообщает, что черновик старше ttl относительно now.
func (d DraftOrder) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || d.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(d.CreatedAt) > ttl
}

// ValidateInvariants проверяет черновик перед сохранением.
func (d DraftOrder) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(d.SessionID) == "" {
		errs = append(errs, ErrSessionRequired)
	}
	if len(d.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range d.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if d.ItemsTotal() != d.TotalAmount {
		errs = append(errs, ErrCartTotalMismatch)
	}

	return errs
}
