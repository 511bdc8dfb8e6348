package domain

// ResponseCodeSuccess — единственный код ответа шлюза, означающий успешную оплату.
const ResponseCodeSuccess = "00"

// PaymentRequest — результат создания запроса на оплату во внешнем шлюзе.
type PaymentRequest struct {
	PaymentURL string `json:"paymentUrl"`
	// TxnRef извлекается из параметра vnp_TxnRef ссылки, если шлюз его вернул.
	TxnRef string `json:"txnRef,omitempty"`
}

// PaymentCallbackResult — разобранные параметры возврата со шлюза.
// Значения получены от клиента и не являются доверенными: сумма сверяется с черновиком.
type PaymentCallbackResult struct {
	Success              bool   `json:"success"`
	TransactionID        string `json:"transactionId"`
	Amount               int64  `json:"amount"`
	GatewayAmount        int64  `json:"gatewayAmount"`
	BankCode             string `json:"bankCode,omitempty"`
	BankTransactionNo    string `json:"bankTransactionNo,omitempty"`
	CardType             string `json:"cardType,omitempty"`
	PayDate              string `json:"payDate,omitempty"`
	GatewayTransactionNo string `json:"gatewayTransactionNo,omitempty"`
	ResponseCode         string `json:"responseCode"`
	RawOrderInfo         string `json:"rawOrderInfo,omitempty"`
	// Message — текст для пользователя из таблицы кодов ответа.
	Message string `json:"message"`
	// SecureHash — подпись шлюза, если она была передана.
	SecureHash string `json:"secureHash,omitempty"`
}

// PaymentDetails — подмножество результата оплаты, передаваемое в сервис заказов.
type PaymentDetails struct {
	TransactionID        string `json:"transactionId"`
	BankCode             string `json:"bankCode,omitempty"`
	BankTransactionNo    string `json:"bankTransactionNo,omitempty"`
	CardType             string `json:"cardType,omitempty"`
	PayDate              string `json:"payDate,omitempty"`
	GatewayTransactionNo string `json:"vnpayTransactionNo,omitempty"`
	ResponseCode         string `json:"responseCode"`
}

// Details возвращает платёжные реквизиты для сохранения в заказе.
func (r PaymentCallbackResult) Details() PaymentDetails {
	return PaymentDetails{
		TransactionID:        r.TransactionID,
		BankCode:             r.BankCode,
		BankTransactionNo:    r.BankTransactionNo,
		CardType:             r.CardType,
		PayDate:              r.PayDate,
		GatewayTransactionNo: r.GatewayTransactionNo,
		ResponseCode:         r.ResponseCode,
	}
}
