package backend

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// RetryConfig задаёт повторы вызовов backend при временных ошибках.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// delay возвращает паузу перед попыткой attempt+1.
// Retry-After из ответа backend важнее расчётной паузы, но не больше MaxDelay.
func (c RetryConfig) delay(attempt int, err error) time.Duration {
	d := c.InitialDelay
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
	}

	var berr *Error
	if errors.As(err, &berr) && berr.RetryAfter > d {
		d = berr.RetryAfter
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// Retry вызывает fn, пока ошибка временная и попытки не исчерпаны.
// Отказы backend (4xx) и отмена контекста возвращаются сразу.
func Retry(ctx context.Context, cfg RetryConfig, logger *log.Entry, operation string, fn func(context.Context) error) error {
	attempts := max(cfg.MaxAttempts, 1)
	if logger == nil {
		logger = log.New().WithField("component", "retry")
	}
	entry := logger.WithField("operation", operation)

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		switch {
		case err == nil:
			if attempt > 1 {
				entry.WithField("attempt", attempt).Info("Backend call succeeded after retry")
			}
			return nil
		case !shouldRetry(err):
			return err
		case attempt == attempts:
			entry.WithError(err).WithField("attempts", attempts).Error("Backend call failed after all retry attempts")
			return err
		}

		wait := cfg.delay(attempt, err)
		entry.WithError(err).WithFields(log.Fields{"attempt": attempt, "delay": wait}).Warn("Backend call failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return domain.IsTemporary(err)
}
