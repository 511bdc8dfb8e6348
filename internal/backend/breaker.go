package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// ErrCircuitOpen возвращается, пока breaker не пропускает вызовы.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker размыкает цепь после maxFailures подряд временных ошибок.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	probing     bool
	logger      *log.Entry
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker.
// Отказы backend (4xx) не считаются сбоем: сервис отвечает, просто не принимает запрос.
// В half-open пропускается один пробный вызов, остальные получают ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	probe, err := cb.admit(operation)
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}

	if domain.IsTemporary(err) || errors.Is(err, context.DeadlineExceeded) {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("Circuit breaker opened")
		}
		return err
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("Circuit breaker closed")
	}
	cb.failures = 0
	return err
}

// admit решает, можно ли выполнить вызов; probe означает пробный вызов в half-open.
func (cb *CircuitBreaker) admit(operation string) (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("Circuit breaker half-open")
	case CircuitHalfOpen:
		if cb.probing {
			return false, ErrCircuitOpen
		}
	default:
		return false, nil
	}
	cb.probing = true
	return true, nil
}
