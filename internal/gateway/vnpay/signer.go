package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"
)

// Signer подписывает и проверяет параметры VNPay через HMAC-SHA512.
type Signer struct {
	secret []byte
}

// NewSigner создаёт подписчика. Пустой секрет означает, что проверка подписи отключена.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Enabled сообщает, задан ли секрет.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Sign считает подпись по отсортированным параметрам vnp_*, кроме самой подписи.
func (s *Signer) Sign(params url.Values) string {
	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(hashData(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify проверяет vnp_SecureHash в параметрах колбэка.
func (s *Signer) Verify(params url.Values) bool {
	got := strings.ToLower(strings.TrimSpace(params.Get(paramSecureHash)))
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(got), []byte(s.Sign(params)))
}

// BuildPaymentURL добавляет к базовому адресу подписанные параметры.
func (s *Signer) BuildPaymentURL(base string, params url.Values) string {
	signed := url.Values{}
	for k, v := range params {
		if k == paramSecureHash || k == paramSecureHashType {
			continue
		}
		signed[k] = v
	}
	query := signed.Encode()
	return base + "?" + query + "&" + paramSecureHash + "=" + s.Sign(signed)
}

func hashData(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == paramSecureHash || k == paramSecureHashType || !strings.HasPrefix(k, "vnp_") {
			continue
		}
		if params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

// PaymentParams собирает параметры ссылки на оплату в формате VNPay 2.1.0.
func PaymentParams(tmnCode, txnRef string, amount int64, bankCode, returnURL string, createdAt time.Time) url.Values {
	params := url.Values{}
	params.Set("vnp_Version", "2.1.0")
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", tmnCode)
	params.Set(ParamAmount, strconv.FormatInt(ToGatewayAmount(amount), 10))
	params.Set("vnp_CurrCode", "VND")
	if bankCode != "" {
		params.Set(ParamBankCode, bankCode)
	}
	params.Set(ParamTxnRef, txnRef)
	params.Set(ParamOrderInfo, "Thanh toan don hang "+txnRef)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", returnURL)
	params.Set("vnp_CreateDate", createdAt.In(vietnamZone).Format("20060102150405"))
	return params
}

// vietnamZone — VNPay ожидает время в GMT+7.
var vietnamZone = time.FixedZone("ICT", 7*60*60)
