package http

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Message string   `json:"message,omitempty"`
	TxnRef  string   `json:"txnRef,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: http.StatusText(status), Code: code, Message: message})
}

// statusForError сопоставляет ошибку с HTTP статусом и машинным кодом.
// Виды отказа сверки проверяются первыми: ReconcileError может оборачивать ошибки backend.
func statusForError(err error) (int, string) {
	switch domain.KindOf(err) {
	case domain.FailureKindMalformedCallback:
		return http.StatusBadRequest, string(domain.FailureKindMalformedCallback)
	case domain.FailureKindMissingDraftOrder:
		return http.StatusConflict, string(domain.FailureKindMissingDraftOrder)
	case domain.FailureKindPaymentDeclined:
		return http.StatusPaymentRequired, string(domain.FailureKindPaymentDeclined)
	case domain.FailureKindAmountMismatch:
		return http.StatusUnprocessableEntity, string(domain.FailureKindAmountMismatch)
	case domain.FailureKindPostPaymentOrderCreationFailed:
		return http.StatusBadGateway, string(domain.FailureKindPostPaymentOrderCreationFailed)
	case domain.FailureKindPaymentRequestFailed:
		return http.StatusBadGateway, string(domain.FailureKindPaymentRequestFailed)
	}

	switch {
	case errors.Is(err, checkout.ErrInvalidForm), errors.Is(err, checkout.ErrUnknownStep):
		return http.StatusBadRequest, "invalid_form"
	case errors.Is(err, domain.ErrCartEmpty),
		errors.Is(err, domain.ErrCartTotalMismatch),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrAmountNegative):
		return http.StatusBadRequest, "invalid_cart"
	case errors.Is(err, domain.ErrSessionRequired):
		return http.StatusBadRequest, "session_required"
	case errors.Is(err, domain.ErrTxnRefRequired):
		return http.StatusBadRequest, "txn_ref_required"
	case errors.Is(err, domain.ErrNotACallback):
		return http.StatusBadRequest, "not_a_callback"
	case errors.Is(err, domain.ErrReconcileInProgress):
		return http.StatusConflict, "reconcile_in_progress"
	case errors.Is(err, domain.ErrOutcomeNotRetryable):
		return http.StatusConflict, "not_retryable"
	case errors.Is(err, domain.ErrOutcomeNotFound),
		errors.Is(err, domain.ErrDraftNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "not_found"
	case domain.IsTemporary(err):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, domain.ErrUpstreamRejected):
		return http.StatusBadGateway, "upstream_rejected"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// handleError пишет ошибку; текст для пользователя берётся из ReconcileError, если он есть.
func handleError(w http.ResponseWriter, logger *log.Entry, err error) {
	status, code := statusForError(err)
	resp := ErrorResponse{Error: http.StatusText(status), Code: code}

	var rerr *domain.ReconcileError
	var verr *checkout.ValidationError
	switch {
	case errors.As(err, &rerr):
		resp.Message = rerr.Message
		resp.TxnRef = rerr.TxnRef
	case errors.As(err, &verr):
		resp.Message = verr.Error()
		resp.Fields = verr.Fields
	case status < http.StatusInternalServerError:
		resp.Message = err.Error()
	}

	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("status", status).Error("request failed")
	}
	respondJSON(w, status, resp)
}
