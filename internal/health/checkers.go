package health

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
)

// Pinger — хранилище с проверкой соединения (postgres.Store, redis.PendingOrderStore).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker считает зависимость недоступной, если Ping вернул ошибку.
type PingChecker struct {
	name   string
	pinger Pinger
}

func NewPingChecker(name string, pinger Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: pinger}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.pinger.Ping(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// FuncChecker оборачивает произвольную функцию проверки.
type FuncChecker struct {
	name    string
	checkFn func(ctx context.Context) error
}

func NewFuncChecker(name string, checkFn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, checkFn: checkFn}
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.checkFn(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// BreakerChecker отражает состояние circuit breaker к backend магазина.
// Разомкнутая цепь даёт degraded: колбэки принимаются, эскалации разбираются позже.
type BreakerChecker struct {
	breaker *backend.CircuitBreaker
}

func NewBreakerChecker(breaker *backend.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{breaker: breaker}
}

func (c *BreakerChecker) Check(context.Context) Check {
	state := c.breaker.State()
	check := Check{Name: "backend", Status: StatusHealthy, Message: "circuit " + state.String()}
	if state != backend.CircuitClosed {
		check.Status = StatusDegraded
	}
	return check
}
