package commerce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func newBackend(t *testing.T, mux *http.ServeMux) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return backend.NewClient(backend.Config{BaseURL: srv.URL}, nil)
}

func TestOrderClient_Create(t *testing.T) {
	var got domain.OrderRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":101,"status":"PENDING","totalAmount":250000,"paymentMethod":"VNPAY",
			"paymentDetails":{"transactionId":"TX1","responseCode":"00"},"createdAt":"2025-01-01T10:00:00Z"}`))
	})
	orders := NewOrderClient(newBackend(t, mux))

	draft := domain.DraftOrder{
		ShippingAddress: "1 Lê Lợi, Quận 1",
		ContactPhone:    "0901234567",
		PaymentMethod:   domain.PaymentMethodVNPay,
		Items:           []domain.DraftItem{{ProductID: 1, Quantity: 2, Price: 125000}},
		TotalAmount:     250000,
	}
	cb := domain.PaymentCallbackResult{TransactionID: "TX1", ResponseCode: "00", Amount: 250000}

	order, err := orders.Create(context.Background(), domain.NewOrderRequest(draft, &cb))
	require.NoError(t, err)

	assert.Equal(t, "101", order.ID)
	assert.EqualValues(t, 250000, order.TotalAmount)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	require.NotNil(t, got.PaymentDetails)
	assert.Equal(t, "TX1", got.PaymentDetails.TransactionID)
	assert.Equal(t, draft.Items, got.Items)
}

func TestOrderClient_CreateServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	orders := NewOrderClient(newBackend(t, mux))

	_, err := orders.Create(context.Background(), domain.OrderRequest{})
	assert.True(t, domain.IsTemporary(err))
}

func TestOrderClient_FindByTransaction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/my-orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer shopper", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"id":1,"status":"DELIVERED","totalAmount":1000,"paymentMethod":"CASH_ON_DELIVERY"},
			{"id":2,"status":"PENDING","totalAmount":250000,"paymentMethod":"VNPAY","paymentDetails":{"transactionId":"TX1"}}
		]`))
	})
	orders := NewOrderClient(newBackend(t, mux))
	ctx := backend.WithAuthToken(context.Background(), "shopper")

	order, err := orders.FindByTransaction(ctx, "TX1")
	require.NoError(t, err)
	assert.Equal(t, "2", order.ID)

	_, err = orders.FindByTransaction(ctx, "TX9")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = orders.FindByTransaction(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrTxnRefRequired)
}

func TestOrderClient_FindByTransactionWithServiceToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer svc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"id":7,"status":"PENDING","totalAmount":250000,"paymentMethod":"VNPAY","paymentDetails":{"transactionId":"TX1"}}
		]`))
	})
	mux.HandleFunc("GET /orders/my-orders", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	orders := NewOrderClient(backend.NewClient(backend.Config{BaseURL: srv.URL, ServiceToken: "svc"}, nil))

	order, err := orders.FindByTransaction(context.Background(), "TX1")
	require.NoError(t, err)
	assert.Equal(t, "7", order.ID)
}

func TestOrderClient_Get(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "7" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id":7,"status":"SHIPPED","totalAmount":5000}`))
	})
	orders := NewOrderClient(newBackend(t, mux))

	order, err := orders.Get(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, order.Status)

	_, err = orders.Get(context.Background(), "8")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = orders.Get(context.Background(), "../cart")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCartClient_SnapshotAndClear(t *testing.T) {
	cleared := false
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cart", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[
			{"productId":1,"productName":"Áo thun","productPrice":125000,"quantity":2},
			{"productId":2,"productName":"Mũ","productPrice":50000,"quantity":1}
		],"totalAmount":300000}`))
	})
	mux.HandleFunc("DELETE /cart", func(w http.ResponseWriter, r *http.Request) {
		cleared = true
		w.WriteHeader(http.StatusOK)
	})
	carts := NewCartClient(newBackend(t, mux))

	snapshot, err := carts.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Items, 2)
	assert.EqualValues(t, 300000, snapshot.TotalAmount)
	assert.EqualValues(t, 300000, snapshot.ComputedTotal())
	assert.Empty(t, snapshot.ValidateInvariants())
	assert.False(t, snapshot.CapturedAt.IsZero())

	require.NoError(t, carts.Clear(context.Background()))
	assert.True(t, cleared)
}

func TestParseCreatedAt(t *testing.T) {
	assert.Equal(t, 2025, parseCreatedAt("2025-03-01T08:30:00").Year())
	assert.Equal(t, 2025, parseCreatedAt("2025-03-01T08:30:00.123456").Year())
	assert.Equal(t, 2025, parseCreatedAt("2025-03-01T08:30:00+07:00").Year())
	assert.True(t, parseCreatedAt("").IsZero())
}
