package vnpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(backend.NewClient(backend.Config{BaseURL: srv.URL}, nil), nil, nil)
}

func TestCreatePaymentRequest_SendsAmountInVND(t *testing.T) {
	var body map[string]any
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment/withdraw", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"paymentUrl":"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?vnp_Amount=15000000&vnp_TxnRef=1700000000000"}`))
	})

	req, err := gw.CreatePaymentRequest(context.Background(), 150000, "NCB")
	require.NoError(t, err)

	assert.EqualValues(t, 150000, body["amount"])
	assert.Equal(t, "NCB", body["bankCode"])
	assert.Equal(t, "1700000000000", req.TxnRef)
	assert.Contains(t, req.PaymentURL, "vnp_Amount=15000000")
}

func TestCreatePaymentRequest_OmitsEmptyBankCode(t *testing.T) {
	var body map[string]any
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"paymentUrl":"https://pay.example/"}`))
	})

	req, err := gw.CreatePaymentRequest(context.Background(), 1000, "")
	require.NoError(t, err)
	_, has := body["bankCode"]
	assert.False(t, has)
	assert.Empty(t, req.TxnRef)
}

func TestCreatePaymentRequest_UpstreamRejection(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Insufficient funds"}`))
	})

	_, err := gw.CreatePaymentRequest(context.Background(), 1000, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPaymentRequestFailed)
	assert.ErrorIs(t, err, domain.ErrUpstreamRejected)

	var rerr *domain.ReconcileError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "Insufficient funds", rerr.Message)
}

func TestCreatePaymentRequest_EmptyURL(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := gw.CreatePaymentRequest(context.Background(), 1000, "")
	assert.ErrorIs(t, err, domain.ErrPaymentRequestFailed)
}

func TestCreatePaymentRequest_RejectsNonPositiveAmount(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend must not be called")
	})

	_, err := gw.CreatePaymentRequest(context.Background(), 0, "")
	assert.ErrorIs(t, err, domain.ErrPaymentRequestFailed)
}

func TestParseCallback_Success(t *testing.T) {
	params := url.Values{
		ParamResponseCode:  {"00"},
		ParamTxnRef:        {"TX1"},
		ParamAmount:        {"15000000"},
		ParamBankCode:      {"NCB"},
		ParamBankTranNo:    {"VNP14226112"},
		ParamCardType:      {"ATM"},
		ParamPayDate:       {"20250101120000"},
		ParamTransactionNo: {"14226112"},
		ParamOrderInfo:     {"Thanh toan don hang"},
	}

	res, err := ParseCallback(params, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "TX1", res.TransactionID)
	assert.EqualValues(t, 150000, res.Amount)
	assert.EqualValues(t, 15000000, res.GatewayAmount)
	assert.Equal(t, "NCB", res.BankCode)
	assert.Equal(t, "VNP14226112", res.BankTransactionNo)
	assert.Equal(t, "14226112", res.GatewayTransactionNo)
	assert.Equal(t, "Giao dịch thành công", res.Message)
}

func TestParseCallback_UserCancelled(t *testing.T) {
	res, err := ParseCallback(url.Values{ParamResponseCode: {"24"}, ParamTxnRef: {"TX2"}}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "24", res.ResponseCode)
	assert.Equal(t, "Giao dịch không thành công do: Khách hàng hủy giao dịch", res.Message)
	assert.Zero(t, res.Amount)
}

func TestParseCallback_UnknownCode(t *testing.T) {
	res, err := ParseCallback(url.Values{ParamResponseCode: {"42"}, ParamTxnRef: {"TX3"}}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Thanh toán thất bại. Mã lỗi: 42", res.Message)
}

func TestParseCallback_MissingMandatoryFields(t *testing.T) {
	_, err := ParseCallback(url.Values{ParamResponseCode: {"00"}}, nil)
	assert.ErrorIs(t, err, domain.ErrMalformedCallback)

	_, err = ParseCallback(url.Values{ParamTxnRef: {"TX1"}}, nil)
	assert.ErrorIs(t, err, domain.ErrMalformedCallback)
	assert.Equal(t, domain.FailureKindMalformedCallback, domain.KindOf(err))
}

func TestParseCallback_NonNumericAmount(t *testing.T) {
	res, err := ParseCallback(url.Values{ParamResponseCode: {"00"}, ParamTxnRef: {"TX1"}, ParamAmount: {"abc"}}, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Amount)
}

func TestParseCallback_Signature(t *testing.T) {
	signer := NewSigner("s3cr3t")
	params := PaymentParams("TMN01", "TX1", 250000, "NCB", "http://localhost/return",
		time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))
	params.Set(ParamResponseCode, "00")

	signed, err := url.Parse(signer.BuildPaymentURL("https://pay.example/", params))
	require.NoError(t, err)

	res, err := ParseCallback(signed.Query(), signer)
	require.NoError(t, err)
	assert.EqualValues(t, 250000, res.Amount)

	tampered := signed.Query()
	tampered.Set(ParamAmount, "100")
	_, err = ParseCallback(tampered, signer)
	assert.ErrorIs(t, err, domain.ErrMalformedCallback)

	unsigned := signed.Query()
	unsigned.Del("vnp_SecureHash")
	_, err = ParseCallback(unsigned, signer)
	assert.ErrorIs(t, err, domain.ErrMalformedCallback)
}

func TestIsCallback(t *testing.T) {
	assert.True(t, IsCallback(url.Values{ParamResponseCode: {"00"}}))
	assert.False(t, IsCallback(url.Values{"foo": {"bar"}}))
}
