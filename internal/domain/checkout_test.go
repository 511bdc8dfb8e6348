package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestPaymentMethod(t *testing.T) {
	for _, m := range []domain.PaymentMethod{
		domain.PaymentMethodCreditCard,
		domain.PaymentMethodDebitCard,
		domain.PaymentMethodBankTransfer,
		domain.PaymentMethodCashOnDelivery,
		domain.PaymentMethodEWallet,
		domain.PaymentMethodVNPay,
	} {
		assert.True(t, m.Valid(), m)
		assert.Equal(t, m == domain.PaymentMethodVNPay, m.UsesGateway(), m)
	}
	assert.False(t, domain.PaymentMethod("PAYPAL").Valid())
}

func TestCheckoutFormShippingAddress(t *testing.T) {
	form := domain.CheckoutForm{
		Address:  "12 Lê Lợi",
		Ward:     "Phường Bến Nghé",
		District: "Quận 1",
		Province: "TP Hồ Chí Minh",
	}
	assert.Equal(t, "12 Lê Lợi, Phường Bến Nghé, Quận 1, TP Hồ Chí Minh", form.ShippingAddress())

	form.Ward = "  "
	assert.Equal(t, "12 Lê Lợi, Quận 1, TP Hồ Chí Minh", form.ShippingAddress())
}

func TestDraftOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	draft := domain.DraftOrder{
		SessionID: "sess-1",
		Items: []domain.DraftItem{
			{ProductID: 1, Quantity: 3, Price: 50000},
			{ProductID: 2, Quantity: 1, Price: 100000},
		},
		TotalAmount: 250000,
		CreatedAt:   now,
	}

	require.Empty(t, draft.ValidateInvariants())
	assert.EqualValues(t, 250000, draft.ItemsTotal())

	assert.False(t, draft.Expired(now.Add(time.Hour), 24*time.Hour))
	assert.True(t, draft.Expired(now.Add(25*time.Hour), 24*time.Hour))
	assert.False(t, draft.Expired(now.Add(1000*time.Hour), 0), "zero ttl disables expiry")

	draft.TotalAmount = 1
	draft.SessionID = ""
	errs := draft.ValidateInvariants()
	assert.Contains(t, errs, domain.ErrCartTotalMismatch)
	assert.Contains(t, errs, domain.ErrSessionRequired)
}

func TestNewOrderRequest(t *testing.T) {
	draft := domain.DraftOrder{
		ShippingAddress: "1 Nguyễn Huệ, Quận 1",
		ContactPhone:    "0901234567",
		PaymentMethod:   domain.PaymentMethodVNPay,
		Items:           []domain.DraftItem{{ProductID: 7, Quantity: 1, Price: 150000}},
		TotalAmount:     150000,
	}

	direct := domain.NewOrderRequest(draft, nil)
	assert.Nil(t, direct.PaymentDetails)
	assert.Empty(t, direct.PaymentStatus)

	cb := &domain.PaymentCallbackResult{
		Success:       true,
		TransactionID: "TX1",
		ResponseCode:  "00",
		BankCode:      "NCB",
	}
	paid := domain.NewOrderRequest(draft, cb)
	require.NotNil(t, paid.PaymentDetails)
	assert.Equal(t, "TX1", paid.PaymentDetails.TransactionID)
	assert.Equal(t, domain.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, draft.Items, paid.Items)
}
