package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/backend"
	redisstore "github.com/vladislavdragonenkov/checkout/internal/storage/redis"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func serve(t *testing.T, h http.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var resp Response
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	}
	return rec, resp
}

func TestHandler_Healthy(t *testing.T) {
	h := NewHandler("v1.2.0")
	h.RegisterChecker("postgres", NewPingChecker("postgres", pingFunc(func(context.Context) error { return nil })))

	rec, resp := serve(t, h.ServeHTTP)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.2.0", resp.Version)
	assert.Equal(t, StatusHealthy, resp.Checks["postgres"].Status)
}

func TestHandler_UnhealthyDependency(t *testing.T) {
	h := NewHandler("dev")
	h.RegisterChecker("postgres", NewPingChecker("postgres", pingFunc(func(context.Context) error {
		return errors.New("connection refused")
	})))
	h.RegisterChecker("kafka", NewFuncChecker("kafka", func(context.Context) error { return nil }))

	rec, resp := serve(t, h.ServeHTTP)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["postgres"].Message)
	assert.Equal(t, StatusHealthy, resp.Checks["kafka"].Status)

	ready := httptest.NewRecorder()
	h.ReadinessHandler(ready, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, ready.Code)
}

func TestHandler_TimeoutAppliesToChecks(t *testing.T) {
	h := NewHandler("dev")
	h.SetTimeout(20 * time.Millisecond)
	h.RegisterChecker("slow", NewFuncChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	status, checks := h.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, status)
	assert.Contains(t, checks["slow"].Message, "deadline exceeded")
}

func TestBreakerChecker_DegradedWhenOpen(t *testing.T) {
	breaker := backend.NewCircuitBreaker(1, time.Hour, nil)
	h := NewHandler("dev")
	h.RegisterChecker("backend", NewBreakerChecker(breaker))

	status, _ := h.Run(context.Background())
	assert.Equal(t, StatusHealthy, status)

	_ = breaker.Execute("GET /cart", func() error { return &backend.Error{Method: "GET", Path: "/cart", Status: http.StatusServiceUnavailable} })

	status, checks := h.Run(context.Background())
	assert.Equal(t, StatusDegraded, status)
	assert.Equal(t, "circuit open", checks["backend"].Message)

	ready := httptest.NewRecorder()
	h.ReadinessHandler(ready, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, ready.Code)
}

func TestPingChecker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	checker := NewPingChecker("redis", redisstore.NewPendingOrderStore(client, time.Hour))
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	mr.Close()
	assert.Equal(t, StatusUnhealthy, checker.Check(context.Background()).Status)
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
