package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

const defaultEscalatedLimit = 100

type CheckoutService interface {
	Submit(ctx context.Context, sessionID string, form domain.CheckoutForm) (checkout.SubmitResult, error)
	Pending(ctx context.Context, sessionID string) (domain.DraftOrder, error)
}

// Reconciler — сверка колбэков и ручной разбор эскалаций.
type Reconciler interface {
	Process(ctx context.Context, sessionID string, params url.Values) (reconcile.Result, error)
	Retry(ctx context.Context, txnRef string) (reconcile.Result, error)
	Get(ctx context.Context, txnRef string) (domain.ReconcileOutcome, error)
	ListEscalated(ctx context.Context, limit int) ([]domain.ReconcileOutcome, error)
	Timeline(ctx context.Context, txnRef string) ([]domain.TimelineEvent, error)
}

// Handler обслуживает HTTP API оформления и сверки.
type Handler struct {
	checkout   CheckoutService
	reconciler Reconciler
	timeout    time.Duration
	logger     *log.Entry
}

// NewHandler создаёт обработчики; timeout ограничивает каждый запрос к внешним сервисам.
func NewHandler(checkoutSvc CheckoutService, reconciler Reconciler, timeout time.Duration, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Handler{checkout: checkoutSvc, reconciler: reconciler, timeout: timeout, logger: logger}
}

// ReconcileResponse — результат сверки для браузера.
type ReconcileResponse struct {
	Status       string `json:"status"`
	Code         string `json:"code,omitempty"`
	ResponseCode string `json:"responseCode,omitempty"`
	Message      string `json:"message,omitempty"`
	TxnRef       string `json:"txnRef,omitempty"`
	OrderID      string `json:"orderId,omitempty"`
	Replayed     bool   `json:"replayed,omitempty"`
}

func reconcileResponse(res reconcile.Result) ReconcileResponse {
	return ReconcileResponse{
		Status:       string(res.State),
		Code:         string(res.FailureKind),
		ResponseCode: res.ResponseCode,
		Message:      res.Message,
		TxnRef:       res.TxnRef,
		OrderID:      res.OrderID,
		Replayed:     res.Replayed,
	}
}

// OutcomeResponse отдаёт операторам запись журнала сверок.
type OutcomeResponse struct {
	TxnRef       string    `json:"txnRef"`
	State        string    `json:"state"`
	FailureKind  string    `json:"failureKind,omitempty"`
	ResponseCode string    `json:"responseCode,omitempty"`
	Message      string    `json:"message,omitempty"`
	OrderID      string    `json:"orderId,omitempty"`
	Escalated    bool      `json:"escalated"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func outcomeResponse(o domain.ReconcileOutcome) OutcomeResponse {
	return OutcomeResponse{
		TxnRef:       o.TxnRef,
		State:        string(o.State),
		FailureKind:  string(o.FailureKind),
		ResponseCode: o.ResponseCode,
		Message:      o.Message,
		OrderID:      o.OrderID,
		Escalated:    o.Escalated(),
		Attempts:     o.Attempts,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

// POST /api/v1/checkout/steps/{step}/validate
func (h *Handler) ValidateStep(w http.ResponseWriter, r *http.Request) {
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil || !checkout.Step(step).Valid() {
		respondError(w, http.StatusBadRequest, "invalid_step", "step must be 1, 2 or 3")
		return
	}

	var form domain.CheckoutForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := checkout.ValidateStep(form, checkout.Step(step)); err != nil {
		handleError(w, h.logger, err)
		return
	}

	next := step
	if step < checkout.TotalSteps {
		next++
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "step": step, "nextStep": next})
}

// POST /api/v1/checkout
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var form domain.CheckoutForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	res, err := h.checkout.Submit(ctx, SessionFromContext(r.Context()), form)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	if res.RedirectURL != "" {
		respondJSON(w, http.StatusAccepted, res)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// GET /api/v1/checkout/pending
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	draft, err := h.checkout.Pending(ctx, SessionFromContext(r.Context()))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, draft)
}

// GET /api/v1/checkout/vnpay-return
// Без параметров шлюза это обычная загрузка страницы оформления.
func (h *Handler) GatewayReturn(w http.ResponseWriter, r *http.Request) {
	h.processCallback(w, r, r.URL.Query())
}

// GET /api/v1/checkout/confirmation/{txnRef}
// С параметрами шлюза сверяет колбэк, без них показывает сохранённый результат сессии.
func (h *Handler) Confirmation(w http.ResponseWriter, r *http.Request) {
	txnRef := strings.TrimSpace(chi.URLParam(r, "txnRef"))
	params := r.URL.Query()

	if !vnpay.IsCallback(params) {
		h.showOutcome(w, r, txnRef)
		return
	}
	if got := params.Get(vnpay.ParamTxnRef); got != "" && got != txnRef {
		respondError(w, http.StatusBadRequest, string(domain.FailureKindMalformedCallback), "transaction reference mismatch")
		return
	}
	if !params.Has(vnpay.ParamTxnRef) {
		params.Set(vnpay.ParamTxnRef, txnRef)
	}
	h.processCallback(w, r, params)
}

func (h *Handler) processCallback(w http.ResponseWriter, r *http.Request, params url.Values) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.reconciler.Process(ctx, SessionFromContext(r.Context()), params)
	if errors.Is(err, domain.ErrNotACallback) {
		respondJSON(w, http.StatusOK, ReconcileResponse{Status: string(domain.ReconcileStateIdle)})
		return
	}
	if err != nil && domain.KindOf(err) == domain.FailureKindNone {
		handleError(w, h.logger, err)
		return
	}

	body := reconcileResponse(res)
	status := http.StatusOK
	if err != nil {
		status, _ = statusForError(err)
	}
	respondJSON(w, status, body)
}

func (h *Handler) showOutcome(w http.ResponseWriter, r *http.Request, txnRef string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	outcome, err := h.reconciler.Get(ctx, txnRef)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	// Результат чужой сессии не раскрывается.
	if outcome.SessionID != SessionFromContext(r.Context()) {
		respondError(w, http.StatusNotFound, "not_found", domain.ErrOutcomeNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, ReconcileResponse{
		Status:       string(outcome.State),
		Code:         string(outcome.FailureKind),
		ResponseCode: outcome.ResponseCode,
		Message:      outcome.Message,
		TxnRef:       outcome.TxnRef,
		OrderID:      outcome.OrderID,
		Replayed:     true,
	})
}

// GET /api/v1/reconciliations?state=escalated&limit=N
func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if state := r.URL.Query().Get("state"); state != "" && state != "escalated" {
		respondError(w, http.StatusBadRequest, "invalid_state", "only state=escalated is supported")
		return
	}
	limit := defaultEscalatedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	outcomes, err := h.reconciler.ListEscalated(ctx, limit)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	items := make([]OutcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		items = append(items, outcomeResponse(o))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items, "count": len(items)})
}

// GET /api/v1/reconciliations/{txnRef}
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	outcome, err := h.reconciler.Get(ctx, chi.URLParam(r, "txnRef"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, outcomeResponse(outcome))
}

// GET /api/v1/reconciliations/{txnRef}/timeline
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	events, err := h.reconciler.Timeline(ctx, chi.URLParam(r, "txnRef"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	type eventDTO struct {
		Type     string    `json:"type"`
		Reason   string    `json:"reason,omitempty"`
		Occurred time.Time `json:"occurred"`
	}
	items := make([]eventDTO, 0, len(events))
	for _, e := range events {
		items = append(items, eventDTO{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"txnRef": chi.URLParam(r, "txnRef"), "events": items})
}

// POST /api/v1/reconciliations/{txnRef}/retry
func (h *Handler) RetryReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.reconciler.Retry(ctx, chi.URLParam(r, "txnRef"))
	if err != nil {
		if domain.KindOf(err) != domain.FailureKindNone {
			status, _ := statusForError(err)
			respondJSON(w, status, reconcileResponse(res))
			return
		}
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, reconcileResponse(res))
}
