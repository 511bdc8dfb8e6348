package domain

import "time"

// Типы событий журнала сверки.
const (
	TimelineCheckoutSubmitted   = "checkout_submitted"
	TimelineCallbackReceived    = "callback_received"
	TimelinePaymentDeclined     = "payment_declined"
	TimelineAmountMismatch      = "amount_mismatch"
	TimelineOrderMaterialized   = "order_materialized"
	TimelineOrderCreationFailed = "order_creation_failed"
	TimelineCartCleared         = "cart_cleared"
	TimelineCartClearFailed     = "cart_clear_failed"
	TimelineReconcileRetried    = "reconcile_retried"
)

// TimelineEvent описывает событие в жизни одной транзакции шлюза.
type TimelineEvent struct {
	TxnRef   string
	Type     string
	Reason   string
	Occurred time.Time
}

// MaxTimelineReason — максимальная длина причины события в рунах.
const MaxTimelineReason = 512

// Normalize проверяет событие и приводит его к виду для хранения.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	if e.TxnRef == "" {
		return TimelineEvent{}, ErrTxnRefRequired
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	if runes := []rune(e.Reason); len(runes) > MaxTimelineReason {
		e.Reason = string(runes[:MaxTimelineReason])
	}
	return e, nil
}
