package domain

import (
	"encoding/json"
	"time"
)

// ReconcileState описывает жизненный цикл сверки колбэка шлюза.
type ReconcileState string

// Idle: черновика нет. AwaitingCallback: черновик сохранён, браузер ушёл на шлюз.
// Reconciling: колбэк обрабатывается. Completed и Failed финальные.
const (
	ReconcileStateIdle             ReconcileState = "idle"
	ReconcileStateAwaitingCallback ReconcileState = "awaiting_callback"
	ReconcileStateReconciling      ReconcileState = "reconciling"
	ReconcileStateCompleted        ReconcileState = "completed"
	ReconcileStateFailed           ReconcileState = "failed"
)

// Valid проверяет, что состояние относится к поддерживаемым значениям.
func (s ReconcileState) Valid() bool {
	switch s {
	case ReconcileStateIdle, ReconcileStateAwaitingCallback, ReconcileStateReconciling,
		ReconcileStateCompleted, ReconcileStateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что состояние финальное.
func (s ReconcileState) IsTerminal() bool {
	return s == ReconcileStateCompleted || s == ReconcileStateFailed
}

// CanTransitionTo проверяет допустимость перехода.
// failed -> reconciling разрешён только для ручной повторной сверки.
func (s ReconcileState) CanTransitionTo(next ReconcileState) bool {
	allowed := map[ReconcileState][]ReconcileState{
		ReconcileStateIdle:             {ReconcileStateAwaitingCallback, ReconcileStateFailed},
		ReconcileStateAwaitingCallback: {ReconcileStateReconciling, ReconcileStateAwaitingCallback, ReconcileStateFailed},
		ReconcileStateReconciling:      {ReconcileStateCompleted, ReconcileStateFailed},
		ReconcileStateFailed:           {ReconcileStateReconciling},
		ReconcileStateCompleted:        {},
	}
	for _, candidate := range allowed[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// FailureKind — таксономия ошибок конвейера оформления и сверки.
type FailureKind string

const (
	FailureKindNone                           FailureKind = ""
	FailureKindPaymentRequestFailed           FailureKind = "payment_request_failed"
	FailureKindMalformedCallback              FailureKind = "malformed_callback"
	FailureKindMissingDraftOrder              FailureKind = "missing_draft_order"
	FailureKindPaymentDeclined                FailureKind = "payment_declined"
	FailureKindAmountMismatch                 FailureKind = "amount_mismatch"
	FailureKindPostPaymentOrderCreationFailed FailureKind = "post_payment_order_creation_failed"
)

// Recoverable сообщает, может ли пользователь сам повторить оформление.
func (k FailureKind) Recoverable() bool {
	return k == FailureKindPaymentRequestFailed || k == FailureKindPaymentDeclined
}

// Escalate сообщает, что деньги списаны без заказа и нужна ручная сверка.
func (k FailureKind) Escalate() bool {
	return k == FailureKindPostPaymentOrderCreationFailed
}

// Sentinel возвращает sentinel-ошибку, соответствующую виду отказа.
func (k FailureKind) Sentinel() error {
	switch k {
	case FailureKindPaymentRequestFailed:
		return ErrPaymentRequestFailed
	case FailureKindMalformedCallback:
		return ErrMalformedCallback
	case FailureKindMissingDraftOrder:
		return ErrMissingDraftOrder
	case FailureKindPaymentDeclined:
		return ErrPaymentDeclined
	case FailureKindAmountMismatch:
		return ErrAmountMismatch
	case FailureKindPostPaymentOrderCreationFailed:
		return ErrPostPaymentOrderCreationFailed
	default:
		return nil
	}
}

// ReconcileOutcome — запись журнала сверок, ключом служит TxnRef транзакции шлюза.
// Повторный колбэк с тем же TxnRef получает сохранённый результат вместо новой обработки.
type ReconcileOutcome struct {
	TxnRef       string
	SessionID    string
	State        ReconcileState
	FailureKind  FailureKind
	ResponseCode string
	Message      string
	OrderID      string
	// Callback — сериализованный PaymentCallbackResult для повторной сверки.
	Callback []byte
	// Draft хранит копию черновика эскалированной сверки: черновик сессии может истечь или смениться.
	Draft     []byte
	Attempts  int
	TTLAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Escalated сообщает, что запись ждёт ручной сверки.
func (o ReconcileOutcome) Escalated() bool {
	return o.State == ReconcileStateFailed && o.FailureKind.Escalate()
}

// DecodeCallback восстанавливает сохранённый результат колбэка.
func (o ReconcileOutcome) DecodeCallback() (PaymentCallbackResult, error) {
	var cb PaymentCallbackResult
	if len(o.Callback) == 0 {
		return cb, ErrOutcomeCallbackMissing
	}
	if err := json.Unmarshal(o.Callback, &cb); err != nil {
		return cb, err
	}
	return cb, nil
}

// DecodeDraft восстанавливает сохранённую копию черновика.
func (o ReconcileOutcome) DecodeDraft() (DraftOrder, error) {
	var draft DraftOrder
	if len(o.Draft) == 0 {
		return draft, ErrDraftNotFound
	}
	if err := json.Unmarshal(o.Draft, &draft); err != nil {
		return draft, err
	}
	return draft, nil
}

// OutcomeUpdate описывает финальный результат сверки для сохранения.
// Пустые Callback и Draft не затирают ранее сохранённые значения.
type OutcomeUpdate struct {
	State        ReconcileState
	FailureKind  FailureKind
	ResponseCode string
	Message      string
	OrderID      string
	Callback     []byte
	Draft        []byte
}
