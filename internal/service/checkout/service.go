package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

// Dependencies содержит компоненты, нужные для отправки формы.
type Dependencies struct {
	Cart         domain.CartService
	Gateway      domain.PaymentGateway
	Drafts       domain.PendingOrderStore
	Materializer *reconcile.OrderMaterializer
	CartClearer  *reconcile.CartClearer
	Outbox       domain.OutboxRepository
	Timeline     domain.TimelineRepository
}

// SubmitResult — итог отправки формы.
// Для VNPAY заполнены RedirectURL и TxnRef, для остальных способов заполнен Order.
type SubmitResult struct {
	CheckoutID  string                    `json:"checkoutId"`
	RedirectURL string                    `json:"redirectUrl,omitempty"`
	TxnRef      string                    `json:"txnRef,omitempty"`
	Order       *domain.MaterializedOrder `json:"order,omitempty"`
}

// Service оформляет заказ из текущей корзины.
type Service struct {
	deps    Dependencies
	logger  *log.Entry
	metrics *metrics.ReconcileMetrics
	now     func() time.Time
}

// NewService создаёт сервис оформления. m может быть nil.
func NewService(deps Dependencies, m *metrics.ReconcileMetrics, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &Service{
		deps:    deps,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit проверяет форму, снимает корзину и либо готовит редирект на шлюз, либо создаёт заказ сразу.
func (s *Service) Submit(ctx context.Context, sessionID string, form domain.CheckoutForm) (SubmitResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SubmitResult{}, domain.ErrSessionRequired
	}
	if err := ValidateForm(form); err != nil {
		return SubmitResult{}, err
	}

	snapshot, err := s.deps.Cart.Snapshot(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	if errs := snapshot.ValidateInvariants(); len(errs) > 0 {
		return SubmitResult{}, fmt.Errorf("cart snapshot rejected: %w", errors.Join(errs...))
	}

	draft := domain.DraftOrder{
		CheckoutID:      uuid.NewString(),
		SessionID:       sessionID,
		ShippingAddress: form.ShippingAddress(),
		ContactPhone:    strings.TrimSpace(form.Phone),
		ContactEmail:    strings.TrimSpace(form.Email),
		FullName:        strings.TrimSpace(form.FullName),
		Notes:           form.Notes,
		PaymentMethod:   form.PaymentMethod,
		BankCode:        strings.TrimSpace(form.BankCode),
		Items:           snapshot.DraftItems(),
		TotalAmount:     snapshot.TotalAmount,
		CreatedAt:       s.now(),
	}
	entry := s.logger.WithFields(log.Fields{
		"checkout_id":    draft.CheckoutID,
		"session_id":     sessionID,
		"payment_method": draft.PaymentMethod,
		"amount":         draft.TotalAmount,
	})

	if draft.PaymentMethod.UsesGateway() {
		return s.submitGateway(ctx, entry, draft)
	}
	return s.submitDirect(ctx, entry, draft)
}

// submitGateway сначала создаёт платёж и только потом сохраняет черновик:
// при отказе шлюза прежний черновик сессии и корзина остаются нетронутыми.
func (s *Service) submitGateway(ctx context.Context, entry *log.Entry, draft domain.DraftOrder) (SubmitResult, error) {
	start := s.now()
	req, err := s.deps.Gateway.CreatePaymentRequest(ctx, draft.ItemsTotal(), draft.BankCode)
	if s.metrics != nil {
		s.metrics.RecordPaymentRequest(err == nil)
		s.metrics.RecordStepDuration(string(domain.ReconcileStepPayRequest), s.now().Sub(start))
	}
	if err != nil {
		entry.WithError(err).Warn("Payment request failed")
		return SubmitResult{CheckoutID: draft.CheckoutID}, err
	}

	draft.TxnRef = req.TxnRef
	if err := s.deps.Drafts.Save(ctx, draft.SessionID, draft); err != nil {
		entry.WithError(err).Error("Failed to save draft order")
		return SubmitResult{CheckoutID: draft.CheckoutID}, fmt.Errorf("save draft: %w", err)
	}

	if req.TxnRef != "" && s.deps.Timeline != nil {
		if err := s.deps.Timeline.Append(ctx, domain.TimelineEvent{
			TxnRef:   req.TxnRef,
			Type:     domain.TimelineCheckoutSubmitted,
			Reason:   fmt.Sprintf("checkout=%s amount=%d", draft.CheckoutID, draft.TotalAmount),
			Occurred: s.now(),
		}); err != nil {
			entry.WithError(err).Warn("append timeline event failed")
		}
	}

	entry.WithField("txn_ref", req.TxnRef).Info("Draft saved, redirecting to payment gateway")
	return SubmitResult{
		CheckoutID:  draft.CheckoutID,
		RedirectURL: req.PaymentURL,
		TxnRef:      req.TxnRef,
	}, nil
}

func (s *Service) submitDirect(ctx context.Context, entry *log.Entry, draft domain.DraftOrder) (SubmitResult, error) {
	order, err := s.deps.Materializer.CreateDirect(ctx, draft)
	if err != nil {
		entry.WithError(err).Warn("Direct order creation failed")
		return SubmitResult{CheckoutID: draft.CheckoutID}, fmt.Errorf("create order: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordDirectOrder()
	}

	if err := s.deps.CartClearer.Clear(ctx); err != nil {
		entry.WithError(err).WithField("order_id", order.ID).Warn("Cart clear failed after order creation")
		if s.metrics != nil {
			s.metrics.RecordCartClearFailed()
		}
	}

	s.emitOrderCreated(ctx, entry, draft, order)
	entry.WithField("order_id", order.ID).Info("Order created without payment gateway")
	return SubmitResult{CheckoutID: draft.CheckoutID, Order: &order}, nil
}

func (s *Service) emitOrderCreated(ctx context.Context, entry *log.Entry, draft domain.DraftOrder, order domain.MaterializedOrder) {
	if s.deps.Outbox == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"checkout_id":    draft.CheckoutID,
		"order_id":       order.ID,
		"payment_method": string(draft.PaymentMethod),
		"total_amount":   draft.TotalAmount,
		"ts":             s.now().Format(time.RFC3339Nano),
	})
	if err != nil {
		entry.WithError(err).Error("marshal event failed")
		return
	}
	if _, err := s.deps.Outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateCheckout,
		AggregateID:   draft.CheckoutID,
		EventType:     domain.EventCheckoutOrderCreated,
		Payload:       payload,
	}); err != nil {
		entry.WithError(err).Error("enqueue event failed")
	} else if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

// Pending возвращает сохранённый черновик сессии.
func (s *Service) Pending(ctx context.Context, sessionID string) (domain.DraftOrder, error) {
	return s.deps.Drafts.Load(ctx, sessionID)
}
