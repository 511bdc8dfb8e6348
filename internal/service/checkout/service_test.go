package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type stubCart struct {
	snapshot    domain.CartSnapshot
	snapshotErr error
	clears      int
}

func (c *stubCart) Snapshot(context.Context) (domain.CartSnapshot, error) {
	return c.snapshot, c.snapshotErr
}

func (c *stubCart) Clear(context.Context) error {
	c.clears++
	return nil
}

type stubGateway struct {
	req     domain.PaymentRequest
	err     error
	amounts []int64
	banks   []string
}

func (g *stubGateway) CreatePaymentRequest(_ context.Context, amount int64, bankCode string) (domain.PaymentRequest, error) {
	g.amounts = append(g.amounts, amount)
	g.banks = append(g.banks, bankCode)
	return g.req, g.err
}

func (g *stubGateway) ParseCallback(url.Values) (domain.PaymentCallbackResult, error) {
	return domain.PaymentCallbackResult{}, errors.New("not used")
}

type stubOrders struct {
	requests []domain.OrderRequest
	err      error
}

func (o *stubOrders) Create(_ context.Context, req domain.OrderRequest) (domain.MaterializedOrder, error) {
	if o.err != nil {
		return domain.MaterializedOrder{}, o.err
	}
	o.requests = append(o.requests, req)
	return domain.MaterializedOrder{ID: "42", Status: domain.OrderStatusPending, PaymentMethod: req.PaymentMethod, TotalAmount: 250000}, nil
}

func (o *stubOrders) FindByTransaction(context.Context, string) (domain.MaterializedOrder, error) {
	return domain.MaterializedOrder{}, domain.ErrOrderNotFound
}

type serviceFixture struct {
	svc      *Service
	cart     *stubCart
	gateway  *stubGateway
	orders   *stubOrders
	drafts   domain.PendingOrderStore
	outbox   *memory.OutboxRepository
	timeline domain.TimelineRepository
	registry *prometheus.Registry
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	retry := backend.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond}
	f := &serviceFixture{
		cart: &stubCart{snapshot: domain.CartSnapshot{
			Items: []domain.CartItem{
				{ProductID: 1, ProductName: "Áo thun", Quantity: 3, UnitPrice: 50000},
				{ProductID: 2, ProductName: "Mũ", Quantity: 1, UnitPrice: 100000},
			},
			TotalAmount: 250000,
		}},
		gateway: &stubGateway{req: domain.PaymentRequest{
			PaymentURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?vnp_TxnRef=TX1",
			TxnRef:     "TX1",
		}},
		orders:   &stubOrders{},
		drafts:   memory.NewPendingOrderStore(time.Hour),
		outbox:   memory.NewOutboxRepository(),
		timeline: memory.NewTimelineRepository(),
		registry: prometheus.NewRegistry(),
	}
	f.svc = NewService(Dependencies{
		Cart:         f.cart,
		Gateway:      f.gateway,
		Drafts:       f.drafts,
		Materializer: reconcile.NewOrderMaterializer(f.orders, retry, nil),
		CartClearer:  reconcile.NewCartClearer(f.cart, retry, nil),
		Outbox:       f.outbox,
		Timeline:     f.timeline,
	}, metrics.NewReconcileMetricsWithRegisterer(f.registry), nil)
	return f
}

// counterValue возвращает значение счётчика name; label фильтрует по значению единственной метки.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if label != "" && (len(m.GetLabel()) == 0 || m.GetLabel()[0].GetValue() != label) {
				continue
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func validForm(method domain.PaymentMethod) domain.CheckoutForm {
	return domain.CheckoutForm{
		FullName:      "Nguyễn Văn A",
		Email:         "a@example.com",
		Phone:         "0901234567",
		Address:       "12 Lê Lợi",
		Province:      "TP Hồ Chí Minh",
		District:      "Quận 1",
		Ward:          "Phường Bến Nghé",
		PaymentMethod: method,
	}
}

func TestSubmit_VNPaySavesDraftAndRedirects(t *testing.T) {
	f := newServiceFixture(t)
	form := validForm(domain.PaymentMethodVNPay)
	form.BankCode = "NCB"

	res, err := f.svc.Submit(context.Background(), "sess-1", form)
	require.NoError(t, err)

	assert.Equal(t, f.gateway.req.PaymentURL, res.RedirectURL)
	assert.Equal(t, "TX1", res.TxnRef)
	assert.NotEmpty(t, res.CheckoutID)
	assert.Nil(t, res.Order)
	assert.Equal(t, []int64{250000}, f.gateway.amounts)
	assert.Equal(t, []string{"NCB"}, f.gateway.banks)

	draft, err := f.svc.Pending(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "TX1", draft.TxnRef)
	assert.Equal(t, "12 Lê Lợi, Phường Bến Nghé, Quận 1, TP Hồ Chí Minh", draft.ShippingAddress)
	assert.EqualValues(t, 250000, draft.ItemsTotal())
	assert.Len(t, draft.Items, 2)

	assert.Zero(t, f.cart.clears, "cart stays until payment is reconciled")
	assert.Empty(t, f.orders.requests)

	events, err := f.timeline.List(context.Background(), "TX1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TimelineCheckoutSubmitted, events[0].Type)

	assert.Equal(t, 1.0, counterValue(t, f.registry, "checkout_payment_requests_total", "ok"))
}

func TestSubmit_PaymentRequestFailureLeavesStateUntouched(t *testing.T) {
	f := newServiceFixture(t)
	previous := domain.DraftOrder{
		PaymentMethod: domain.PaymentMethodVNPay,
		Items:         []domain.DraftItem{{ProductID: 9, Quantity: 1, Price: 1000}},
		TotalAmount:   1000,
		TxnRef:        "TX0",
	}
	require.NoError(t, f.drafts.Save(context.Background(), "sess-1", previous))
	f.gateway.err = domain.NewReconcileError(domain.FailureKindPaymentRequestFailed, "", "Số tiền không hợp lệ", domain.ErrUpstreamRejected)

	_, err := f.svc.Submit(context.Background(), "sess-1", validForm(domain.PaymentMethodVNPay))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPaymentRequestFailed)
	assert.True(t, domain.KindOf(err).Recoverable())

	draft, err := f.drafts.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "TX0", draft.TxnRef)
	assert.Zero(t, f.cart.clears)
	assert.Equal(t, 1.0, counterValue(t, f.registry, "checkout_payment_requests_total", "failed"))
}

func TestSubmit_NewDraftOverwritesPrevious(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Submit(context.Background(), "sess-1", validForm(domain.PaymentMethodVNPay))
	require.NoError(t, err)

	f.gateway.req = domain.PaymentRequest{PaymentURL: "https://pay/?vnp_TxnRef=TX2", TxnRef: "TX2"}
	_, err = f.svc.Submit(context.Background(), "sess-1", validForm(domain.PaymentMethodVNPay))
	require.NoError(t, err)

	draft, err := f.drafts.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "TX2", draft.TxnRef)
}

func TestSubmit_DirectOrder(t *testing.T) {
	f := newServiceFixture(t)

	res, err := f.svc.Submit(context.Background(), "sess-1", validForm(domain.PaymentMethodCashOnDelivery))
	require.NoError(t, err)

	require.NotNil(t, res.Order)
	assert.Equal(t, "42", res.Order.ID)
	assert.Empty(t, res.RedirectURL)
	assert.Empty(t, f.gateway.amounts)
	assert.Equal(t, 1, f.cart.clears)

	require.Len(t, f.orders.requests, 1)
	req := f.orders.requests[0]
	assert.Equal(t, domain.PaymentMethodCashOnDelivery, req.PaymentMethod)
	assert.Equal(t, "0901234567", req.ContactPhone)
	assert.Equal(t, "a@example.com", req.ContactEmail)
	assert.Nil(t, req.PaymentDetails)

	_, err = f.drafts.Load(context.Background(), "sess-1")
	assert.ErrorIs(t, err, domain.ErrDraftNotFound)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventCheckoutOrderCreated, pending[0].EventType)
	assert.Equal(t, 1.0, counterValue(t, f.registry, "checkout_direct_orders_total", ""))
}

func TestSubmit_DirectOrderFailureKeepsCart(t *testing.T) {
	f := newServiceFixture(t)
	f.orders.err = fmt.Errorf("400: %w", domain.ErrUpstreamRejected)

	_, err := f.svc.Submit(context.Background(), "sess-1", validForm(domain.PaymentMethodBankTransfer))
	assert.ErrorIs(t, err, domain.ErrUpstreamRejected)
	assert.Zero(t, f.cart.clears)
	assert.Empty(t, f.outbox.AllPending())
}

func TestSubmit_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		session string
		form    domain.CheckoutForm
		mutate  func(*serviceFixture)
		wantErr error
	}{
		{
			name:    "no session",
			session: " ",
			form:    validForm(domain.PaymentMethodVNPay),
			wantErr: domain.ErrSessionRequired,
		},
		{
			name:    "invalid form",
			session: "sess-1",
			form:    domain.CheckoutForm{PaymentMethod: domain.PaymentMethodVNPay},
			wantErr: ErrInvalidForm,
		},
		{
			name:    "empty cart",
			session: "sess-1",
			form:    validForm(domain.PaymentMethodVNPay),
			mutate:  func(f *serviceFixture) { f.cart.snapshot = domain.CartSnapshot{} },
			wantErr: domain.ErrCartEmpty,
		},
		{
			name:    "inconsistent cart total",
			session: "sess-1",
			form:    validForm(domain.PaymentMethodVNPay),
			mutate:  func(f *serviceFixture) { f.cart.snapshot.TotalAmount = 1 },
			wantErr: domain.ErrCartTotalMismatch,
		},
		{
			name:    "cart unavailable",
			session: "sess-1",
			form:    validForm(domain.PaymentMethodVNPay),
			mutate:  func(f *serviceFixture) { f.cart.snapshotErr = domain.ErrUpstreamTemporary },
			wantErr: domain.ErrUpstreamTemporary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			if tt.mutate != nil {
				tt.mutate(f)
			}

			_, err := f.svc.Submit(context.Background(), tt.session, tt.form)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.gateway.amounts)
			assert.Empty(t, f.orders.requests)
		})
	}
}
