package vnpay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const withdrawPath = "/payment/withdraw"

// Параметры возврата со шлюза.
const (
	ParamResponseCode  = "vnp_ResponseCode"
	ParamTxnRef        = "vnp_TxnRef"
	ParamAmount        = "vnp_Amount"
	ParamBankCode      = "vnp_BankCode"
	ParamBankTranNo    = "vnp_BankTranNo"
	ParamCardType      = "vnp_CardType"
	ParamPayDate       = "vnp_PayDate"
	ParamTransactionNo = "vnp_TransactionNo"
	ParamOrderInfo     = "vnp_OrderInfo"
)

// Gateway — адаптер VNPay: запрос на оплату через backend и разбор возврата.
type Gateway struct {
	client *backend.Client
	signer *Signer
	logger *log.Entry
}

// New создаёт адаптер. signer может быть nil: тогда подпись колбэка не проверяется.
func New(client *backend.Client, signer *Signer, logger *log.Entry) *Gateway {
	if logger == nil {
		logger = log.New().WithField("component", "vnpay-gateway")
	}
	return &Gateway{client: client, signer: signer, logger: logger}
}

type withdrawRequest struct {
	Amount   int64  `json:"amount"`
	BankCode string `json:"bankCode,omitempty"`
}

type withdrawResponse struct {
	PaymentURL string `json:"paymentUrl"`
}

// CreatePaymentRequest просит backend создать платёж на amount VND.
// Перевод в единицы шлюза (x100) делает backend при сборке ссылки.
func (g *Gateway) CreatePaymentRequest(ctx context.Context, amount int64, bankCode string) (domain.PaymentRequest, error) {
	if amount <= 0 {
		return domain.PaymentRequest{}, domain.NewReconcileError(
			domain.FailureKindPaymentRequestFailed, "", "amount must be positive", domain.ErrAmountNegative)
	}

	var resp withdrawResponse
	err := g.client.Do(ctx, http.MethodPost, withdrawPath, withdrawRequest{
		Amount:   amount,
		BankCode: strings.TrimSpace(bankCode),
	}, &resp)
	if err != nil {
		g.logger.WithFields(log.Fields{
			"amount":    amount,
			"bank_code": bankCode,
			"error":     err,
		}).Warn("Payment request failed")
		return domain.PaymentRequest{}, domain.NewReconcileError(
			domain.FailureKindPaymentRequestFailed, "", backend.UpstreamMessage(err), err)
	}
	if strings.TrimSpace(resp.PaymentURL) == "" {
		return domain.PaymentRequest{}, domain.NewReconcileError(
			domain.FailureKindPaymentRequestFailed, "", "backend returned empty payment url", nil)
	}

	return domain.PaymentRequest{
		PaymentURL: resp.PaymentURL,
		TxnRef:     txnRefFromURL(resp.PaymentURL),
	}, nil
}

// ParseCallback разбирает параметры возврата. Обязательны только код ответа и TxnRef.
func (g *Gateway) ParseCallback(params url.Values) (domain.PaymentCallbackResult, error) {
	return ParseCallback(params, g.signer)
}

// ParseCallback — чистая функция разбора колбэка; при signer != nil с секретом проверяет подпись.
func ParseCallback(params url.Values, signer *Signer) (domain.PaymentCallbackResult, error) {
	code := strings.TrimSpace(params.Get(ParamResponseCode))
	txnRef := strings.TrimSpace(params.Get(ParamTxnRef))

	if code == "" || txnRef == "" {
		var missing []string
		if code == "" {
			missing = append(missing, ParamResponseCode)
		}
		if txnRef == "" {
			missing = append(missing, ParamTxnRef)
		}
		return domain.PaymentCallbackResult{}, domain.NewReconcileError(
			domain.FailureKindMalformedCallback, txnRef,
			"Có lỗi xảy ra khi xử lý thanh toán",
			fmt.Errorf("missing parameters: %s", strings.Join(missing, ", ")))
	}

	amount, gatewayAmount := FromGatewayAmount(params.Get(ParamAmount))
	result := domain.PaymentCallbackResult{
		Success:              IsSuccess(code),
		TransactionID:        txnRef,
		Amount:               amount,
		GatewayAmount:        gatewayAmount,
		BankCode:             params.Get(ParamBankCode),
		BankTransactionNo:    params.Get(ParamBankTranNo),
		CardType:             params.Get(ParamCardType),
		PayDate:              params.Get(ParamPayDate),
		GatewayTransactionNo: params.Get(ParamTransactionNo),
		ResponseCode:         code,
		RawOrderInfo:         params.Get(ParamOrderInfo),
		Message:              ResponseMessage(code),
		SecureHash:           params.Get(paramSecureHash),
	}

	if signer.Enabled() && !signer.Verify(params) {
		rerr := domain.NewReconcileError(
			domain.FailureKindMalformedCallback, txnRef,
			"Có lỗi xảy ra khi xử lý thanh toán",
			fmt.Errorf("invalid %s", paramSecureHash))
		rerr.ResponseCode = code
		return result, rerr
	}
	return result, nil
}

// IsCallback сообщает, пришёл ли запрос с параметрами возврата со шлюза.
func IsCallback(params url.Values) bool {
	return params.Has(ParamResponseCode)
}

func txnRefFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get(ParamTxnRef)
}
