package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка пустой корзины при оформлении.
	ErrCartEmpty = errors.New("cart is empty")
	// Ошибка отсутствия хотя бы одной позиции в черновике.
	ErrItemsRequired = errors.New("draft must contain at least one item")
	// Ошибка отрицательной суммы.
	ErrAmountNegative = errors.New("amount must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия итога корзины и суммы позиций.
	ErrCartTotalMismatch = errors.New("cart total does not match items sum")
	// Ошибка отсутствующего идентификатора сессии оформления.
	ErrSessionRequired = errors.New("checkout session is required")
	// Ошибка отсутствующего идентификатора транзакции шлюза.
	ErrTxnRefRequired = errors.New("transaction reference is required")

	// ErrDraftNotFound возвращается хранилищем, если черновика нет или он устарел.
	ErrDraftNotFound = errors.New("pending draft order not found")

	// ErrOutcomeNotFound возвращается, если в журнале сверок нет записи по TxnRef.
	ErrOutcomeNotFound = errors.New("reconcile outcome not found")
	// ErrOutcomeAlreadyExists возвращается, если сверка по TxnRef уже начата или завершена.
	ErrOutcomeAlreadyExists = errors.New("reconcile outcome already exists")
	// Ошибка повтора сверки, которая не ждёт ручного разбора.
	ErrOutcomeNotRetryable = errors.New("reconcile outcome is not retryable")
	// Ошибка отсутствия сохранённого колбэка в записи журнала.
	ErrOutcomeCallbackMissing = errors.New("reconcile outcome has no stored callback")
	// ErrReconcileInProgress возвращается, пока другая доставка того же колбэка ещё обрабатывается.
	ErrReconcileInProgress = errors.New("reconciliation already in progress")
	// Ошибка недопустимого перехода состояния сверки.
	ErrInvalidStateTransition = errors.New("invalid reconcile state transition")

	// ErrNotACallback означает, что в запросе нет параметров возврата со шлюза.
	ErrNotACallback = errors.New("request carries no gateway callback")

	// Ошибки, соответствующие видам FailureKind.
	ErrPaymentRequestFailed = errors.New("payment request failed")
	ErrMalformedCallback    = errors.New("malformed payment callback")
	ErrMissingDraftOrder    = errors.New("missing draft order")
	ErrPaymentDeclined      = errors.New("payment declined")
	ErrAmountMismatch       = errors.New("payment amount does not match draft total")
	// Деньги списаны, а заказ создать не удалось.
	ErrPostPaymentOrderCreationFailed = errors.New("order creation failed after successful payment")

	// ErrOrderNotFound возвращается, если заказ по транзакции не найден.
	ErrOrderNotFound = errors.New("order not found")
	// Временная ошибка внешнего сервиса, попытку можно повторить.
	ErrUpstreamTemporary = errors.New("upstream temporary error")
	// Внешний сервис отклонил запрос (4xx), повтор не поможет.
	ErrUpstreamRejected = errors.New("upstream rejected request")

	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ReconcileError описывает отказ конвейера с видом из таксономии FailureKind.
type ReconcileError struct {
	Kind         FailureKind
	TxnRef       string
	ResponseCode string
	// Текст для пользователя.
	Message string
	Err     error
}

// NewReconcileError создаёт ошибку заданного вида.
func NewReconcileError(kind FailureKind, txnRef, message string, cause error) *ReconcileError {
	return &ReconcileError{Kind: kind, TxnRef: txnRef, Message: message, Err: cause}
}

func (e *ReconcileError) Error() string {
	msg := string(e.Kind)
	if e.TxnRef != "" {
		msg += " txn_ref=" + e.TxnRef
	}
	if e.ResponseCode != "" {
		msg += " code=" + e.ResponseCode
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap позволяет сопоставлять ошибку и с sentinel вида, и с исходной причиной.
func (e *ReconcileError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf возвращает вид отказа, если err содержит ReconcileError.
func KindOf(err error) FailureKind {
	var rerr *ReconcileError
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return FailureKindNone
}

// IsTemporary проверяет, стоит ли повторять вызов внешнего сервиса.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrUpstreamTemporary)
}
