package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// Config описывает подключение к backend магазина.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// ServiceToken используется, когда в контексте нет токена пользователя
	// (ручная сверка, consumer эскалаций, CLI).
	ServiceToken string
	Breaker      *CircuitBreaker
	// Transport позволяет подменить транспорт в тестах; по умолчанию http.DefaultTransport.
	Transport http.RoundTripper
}

// Client — общий JSON-клиент к REST API backend (/api/v1).
type Client struct {
	baseURL      string
	serviceToken string
	http         *http.Client
	breaker      *CircuitBreaker
	logger       *log.Entry
}

// NewClient создаёт клиента; исходящие запросы трассируются через otelhttp.
func NewClient(cfg Config, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.New().WithField("component", "backend-client")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		serviceToken: strings.TrimSpace(cfg.ServiceToken),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
		breaker: cfg.Breaker,
		logger:  logger,
	}
}

// Error — ответ backend с кодом не 2xx.
type Error struct {
	Method  string
	Path    string
	Status  int
	Message string
	// RetryAfter берётся из заголовка Retry-After ответов 429 и 503.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// Unwrap относит ответ к временной ошибке (5xx, 429) или к отказу (прочие 4xx).
func (e *Error) Unwrap() error {
	if e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests {
		return domain.ErrUpstreamTemporary
	}
	if e.Status == http.StatusNotFound {
		return errors.Join(domain.ErrUpstreamRejected, domain.ErrOrderNotFound)
	}
	return domain.ErrUpstreamRejected
}

// UpstreamMessage достаёт текст ошибки backend, если он есть.
func UpstreamMessage(err error) string {
	var berr *Error
	if errors.As(err, &berr) && berr.Message != "" {
		return berr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Do выполняет запрос: body кодируется в JSON, ответ декодируется в out (если out != nil).
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	call := func() error {
		return c.do(ctx, method, path, body, out)
	}
	if c.breaker == nil {
		return call()
	}
	err := c.breaker.Execute(method+" "+path, call)
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%s %s: %w: %w", method, path, err, domain.ErrUpstreamTemporary)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := AuthToken(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, domain.ErrUpstreamTemporary, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.WithFields(log.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(started),
	}).Debug("Backend call finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{
			Method:     method,
			Path:       path,
			Status:     resp.StatusCode,
			Message:    errorMessage(raw),
			RetryAfter: retryAfter(resp),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// retryAfter понимает только число секунд; дата в заголовке игнорируется.
func retryAfter(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// errorMessage вытаскивает поле message или error из тела ответа.
func errorMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
