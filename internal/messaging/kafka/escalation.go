package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

const defaultAutoRetryAttempts = 3

// EscalationRetrier — часть сверки, которую вызывает обработчик эскалаций.
type EscalationRetrier interface {
	Get(ctx context.Context, txnRef string) (domain.ReconcileOutcome, error)
	Retry(ctx context.Context, txnRef string) (reconcile.Result, error)
}

// EscalationOptions задаёт автоматический повтор эскалаций.
type EscalationOptions struct {
	// MaxAttempts ограничивает число попыток сверки по записи, после него остаётся ручной разбор.
	MaxAttempts int
	// Delay выдерживается перед повтором, чтобы сервис заказов успел восстановиться.
	Delay  time.Duration
	Logger *log.Entry
}

// NewEscalationHandler повторяет создание заказа для оплаченных транзакций,
// по которым не удалось создать заказ. Новая неудача даёт новое событие эскалации,
// поэтому число повторов ограничено счётчиком попыток в журнале.
func NewEscalationHandler(retrier EscalationRetrier, opts EscalationOptions) MessageHandler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultAutoRetryAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "escalation-consumer")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseEscalation(message.Value)
		if err != nil {
			return Permanent(err)
		}
		entry := logger.WithFields(log.Fields{"txn_ref": event.TxnRef, "failure_kind": event.FailureKind})

		outcome, err := retrier.Get(ctx, event.TxnRef)
		if errors.Is(err, domain.ErrOutcomeNotFound) {
			entry.Warn("escalated outcome not found in ledger, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		if !outcome.Escalated() {
			entry.WithField("state", outcome.State).Debug("outcome already resolved")
			return nil
		}
		if outcome.Attempts >= opts.MaxAttempts {
			entry.WithField("attempts", outcome.Attempts).Warn("automatic retries exhausted, manual reconciliation required")
			return nil
		}

		if opts.Delay > 0 {
			timer := time.NewTimer(opts.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		res, err := retrier.Retry(ctx, event.TxnRef)
		switch {
		case err == nil:
			entry.WithField("order_id", res.OrderID).Info("escalated reconciliation recovered")
			return nil
		case domain.KindOf(err) != domain.FailureKindNone:
			// Неудачная попытка уже записана в журнал и породила новое событие.
			entry.WithError(err).Warn("escalated reconciliation failed again")
			return nil
		case errors.Is(err, domain.ErrOutcomeNotRetryable):
			return nil
		default:
			return err
		}
	}
}
