package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const (
	defaultOutcomeTTL  = 30 * 24 * time.Hour
	defaultStaleAfter  = 5 * time.Minute
	defaultCallTimeout = time.Minute
)

// Тексты для пользователя, которых нет в словаре кодов шлюза.
const (
	messageMalformed       = "Có lỗi xảy ra khi xử lý thanh toán"
	messageMissingDraft    = "Không tìm thấy thông tin đơn hàng. Vui lòng liên hệ bộ phận hỗ trợ để kiểm tra giao dịch."
	messageAmountMismatch  = "Số tiền thanh toán không khớp với giá trị đơn hàng. Đơn hàng không được tạo."
	messageOrderCreateFail = "Thanh toán thành công nhưng không thể tạo đơn hàng. Chúng tôi sẽ liên hệ để xử lý."
	messageOrderCreated    = "Đặt hàng thành công"
)

// Dependencies перечисляет внешние компоненты Reconciler.
type Dependencies struct {
	Drafts       domain.PendingOrderStore
	Gateway      domain.PaymentGateway
	Materializer *OrderMaterializer
	Cart         *CartClearer
	Outcomes     domain.OutcomeRepository
	Outbox       domain.OutboxRepository
	Timeline     domain.TimelineRepository
}

// Options задаёт параметры Reconciler.
type Options struct {
	Logger          *log.Entry
	Metrics         *metrics.ReconcileMetrics
	AmountTolerance int64
	OutcomeTTL      time.Duration
	StaleAfter      time.Duration
	// CallTimeout ограничивает общую сверку, которая не отменяется вместе с запросом.
	CallTimeout time.Duration
	Now         func() time.Time
}

// Option настраивает Reconciler.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithAmountTolerance задаёт допустимое расхождение суммы колбэка и черновика в VND.
func WithAmountTolerance(tolerance int64) Option {
	return func(opts *Options) { opts.AmountTolerance = tolerance }
}

// WithOutcomeTTL задаёт срок хранения финальных записей журнала сверок.
func WithOutcomeTTL(ttl time.Duration) Option {
	return func(opts *Options) { opts.OutcomeTTL = ttl }
}

// WithStaleAfter задаёт, через сколько запись в reconciling считается зависшей.
func WithStaleAfter(d time.Duration) Option {
	return func(opts *Options) { opts.StaleAfter = d }
}

// WithCallTimeout задаёт предельную длительность одной сверки.
func WithCallTimeout(d time.Duration) Option {
	return func(opts *Options) { opts.CallTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// Result — итог обработки колбэка для отображения пользователю.
type Result struct {
	State        domain.ReconcileState `json:"state"`
	TxnRef       string                `json:"txnRef,omitempty"`
	OrderID      string                `json:"orderId,omitempty"`
	FailureKind  domain.FailureKind    `json:"failureKind,omitempty"`
	ResponseCode string                `json:"responseCode,omitempty"`
	Message      string                `json:"message"`
	// Replayed — результат взят из журнала, повторная доставка ничего не изменила.
	Replayed bool `json:"replayed"`
}

// Reconciler — единая точка сверки колбэка шлюза с черновиком заказа.
type Reconciler struct {
	deps       Dependencies
	logger     *log.Entry
	metrics    *metrics.ReconcileMetrics
	tolerance   int64
	outcomeTTL  time.Duration
	staleAfter  time.Duration
	callTimeout time.Duration
	now         func() time.Time
	inflight    singleflight.Group
}

// NewReconciler создаёт сверщик колбэков.
func NewReconciler(deps Dependencies, options ...Option) *Reconciler {
	opts := Options{
		OutcomeTTL:  defaultOutcomeTTL,
		StaleAfter:  defaultStaleAfter,
		CallTimeout: defaultCallTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reconciler")
	}
	if opts.OutcomeTTL <= 0 {
		opts.OutcomeTTL = defaultOutcomeTTL
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.AmountTolerance < 0 {
		opts.AmountTolerance = 0
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Reconciler{
		deps:        deps,
		logger:      logger,
		metrics:     opts.Metrics,
		tolerance:   opts.AmountTolerance,
		outcomeTTL:  opts.OutcomeTTL,
		staleAfter:  opts.StaleAfter,
		callTimeout: opts.CallTimeout,
		now:         opts.Now,
	}
}

// Process обрабатывает возврат браузера со шлюза.
// Без vnp_ResponseCode возвращает ErrNotACallback: это обычная загрузка страницы.
func (r *Reconciler) Process(ctx context.Context, sessionID string, params url.Values) (Result, error) {
	if !vnpay.IsCallback(params) {
		return Result{State: domain.ReconcileStateIdle}, domain.ErrNotACallback
	}
	sessionID = strings.TrimSpace(sessionID)

	callback, err := r.deps.Gateway.ParseCallback(params)
	if err != nil {
		txnRef := callback.TransactionID
		r.logger.WithError(err).WithField("txn_ref", txnRef).Warn("Malformed payment callback")
		r.recordFailure(domain.FailureKindMalformedCallback)
		return Result{
			State:        domain.ReconcileStateFailed,
			TxnRef:       txnRef,
			FailureKind:  domain.FailureKindMalformedCallback,
			ResponseCode: callback.ResponseCode,
			Message:      messageMalformed,
		}, err
	}
	if sessionID == "" {
		// Без сессии черновик не найти, а колбэк нельзя привязать к пользователю.
		return r.missingDraft(callback, domain.ErrSessionRequired)
	}
	if r.metrics != nil {
		r.metrics.RecordResponseCode(callback.ResponseCode)
	}

	return r.shared(ctx, sessionID+"|"+callback.TransactionID, callback.TransactionID, func(ctx context.Context) (Result, error) {
		return r.reconcile(ctx, sessionID, callback)
	})
}

type sharedOutcome struct {
	result Result
	err    error
}

// shared выполняет fn один раз на key для всех одновременных вызовов.
// fn работает на контексте без отмены вызывающего, ограниченном callTimeout.
// Отменённый вызов получает ошибку контекста, а сверка продолжается в фоне.
func (r *Reconciler) shared(ctx context.Context, key, txnRef string, fn func(context.Context) (Result, error)) (Result, error) {
	ch := r.inflight.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.callTimeout)
		defer cancel()
		res, err := fn(callCtx)
		return sharedOutcome{result: res, err: err}, nil
	})

	select {
	case <-ctx.Done():
		return Result{State: domain.ReconcileStateReconciling, TxnRef: txnRef}, ctx.Err()
	case res := <-ch:
		out := res.Val.(sharedOutcome)
		return out.result, out.err
	}
}

func (r *Reconciler) reconcile(ctx context.Context, sessionID string, callback domain.PaymentCallbackResult) (Result, error) {
	txnRef := callback.TransactionID
	entry := r.logger.WithFields(log.Fields{"txn_ref": txnRef, "session_id": sessionID})

	existing, err := r.deps.Outcomes.Get(ctx, txnRef)
	switch {
	case err == nil:
		res, handled, herr := r.handleExisting(ctx, sessionID, existing, callback)
		if handled {
			return res, herr
		}
	case !errors.Is(err, domain.ErrOutcomeNotFound):
		return Result{}, fmt.Errorf("load reconcile outcome: %w", err)
	default:
		draft, ok, res, derr := r.loadDraft(ctx, sessionID, callback)
		if !ok {
			return res, derr
		}

		began, err := r.deps.Outcomes.Begin(ctx, txnRef, sessionID, r.now().Add(r.outcomeTTL))
		if errors.Is(err, domain.ErrOutcomeAlreadyExists) {
			// Параллельная доставка в другом процессе успела раньше.
			res, handled, herr := r.handleExisting(ctx, sessionID, began, callback)
			if handled {
				return res, herr
			}
		} else if err != nil {
			return Result{}, fmt.Errorf("begin reconcile outcome: %w", err)
		} else {
			return r.run(ctx, entry, draft, callback)
		}
	}

	// Зависшую запись этой же сессии подхватили через Resume: продолжаем сверку.
	draft, err := r.deps.Drafts.Load(ctx, sessionID)
	if errors.Is(err, domain.ErrDraftNotFound) {
		return r.resumeWithoutDraft(ctx, entry, callback, err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load draft: %w", err)
	}
	if draft.TxnRef != "" && draft.TxnRef != txnRef {
		return r.resumeWithoutDraft(ctx, entry, callback, fmt.Errorf("draft bound to transaction %s", draft.TxnRef))
	}
	return r.run(ctx, entry, draft, callback)
}

// resumeWithoutDraft завершает зависшую сверку, когда черновика уже нет.
// Прерванный запуск мог успеть создать заказ и удалить черновик, тогда сверка считается завершённой.
func (r *Reconciler) resumeWithoutDraft(ctx context.Context, entry *log.Entry, callback domain.PaymentCallbackResult, cause error) (Result, error) {
	if callback.Success {
		order, err := r.deps.Materializer.Existing(ctx, callback.TransactionID)
		if err == nil {
			return r.complete(ctx, entry, "", order, callback)
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			entry.WithError(err).Warn("Lookup of existing order failed")
		}
	}
	entry.WithError(cause).Error("Stale reconciliation has no draft order")
	return r.finishFailure(ctx, entry, callback, domain.FailureKindMissingDraftOrder, messageMissingDraft, cause, nil)
}

// handleExisting разбирает случай, когда запись по TxnRef уже есть.
// handled == false означает, что запись переведена в reconciling и сверку надо продолжить.
func (r *Reconciler) handleExisting(ctx context.Context, sessionID string, existing domain.ReconcileOutcome, callback domain.PaymentCallbackResult) (Result, bool, error) {
	if existing.SessionID != sessionID {
		// Чужая сессия не получает ни результат, ни повторную обработку.
		res, err := r.missingDraft(callback, nil)
		return res, true, err
	}

	if existing.State.IsTerminal() {
		if r.metrics != nil {
			r.metrics.RecordReconcileReplayed()
		}
		r.logger.WithFields(log.Fields{
			"txn_ref": existing.TxnRef,
			"state":   existing.State,
		}).Info("Duplicate callback answered from outcome ledger")
		res := resultFromOutcome(existing)
		res.Replayed = true
		return res, true, outcomeError(existing)
	}

	if existing.UpdatedAt.After(r.now().Add(-r.staleAfter)) {
		return Result{State: domain.ReconcileStateReconciling, TxnRef: existing.TxnRef}, true, domain.ErrReconcileInProgress
	}

	if _, err := r.deps.Outcomes.Resume(ctx, existing.TxnRef, r.now().Add(-r.staleAfter)); err != nil {
		if errors.Is(err, domain.ErrOutcomeNotRetryable) {
			return Result{State: domain.ReconcileStateReconciling, TxnRef: existing.TxnRef}, true, domain.ErrReconcileInProgress
		}
		return Result{}, true, fmt.Errorf("resume reconcile outcome: %w", err)
	}
	r.logger.WithField("txn_ref", existing.TxnRef).Warn("Resuming stale reconciliation")
	return Result{}, false, nil
}

// loadDraft читает черновик сессии и проверяет, что он относится к этой транзакции.
func (r *Reconciler) loadDraft(ctx context.Context, sessionID string, callback domain.PaymentCallbackResult) (domain.DraftOrder, bool, Result, error) {
	draft, err := r.deps.Drafts.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrDraftNotFound) {
			res, merr := r.missingDraft(callback, err)
			return domain.DraftOrder{}, false, res, merr
		}
		return domain.DraftOrder{}, false, Result{}, fmt.Errorf("load draft: %w", err)
	}
	if draft.TxnRef != "" && draft.TxnRef != callback.TransactionID {
		res, merr := r.missingDraft(callback, fmt.Errorf("draft bound to transaction %s", draft.TxnRef))
		return domain.DraftOrder{}, false, res, merr
	}
	return draft, true, Result{}, nil
}

// missingDraft не пишет в журнал: колбэк без черновика не должен занимать TxnRef.
func (r *Reconciler) missingDraft(callback domain.PaymentCallbackResult, cause error) (Result, error) {
	r.logger.WithError(cause).WithFields(log.Fields{
		"txn_ref":       callback.TransactionID,
		"response_code": callback.ResponseCode,
	}).Error("Payment callback without matching draft order")
	r.recordFailure(domain.FailureKindMissingDraftOrder)

	rerr := domain.NewReconcileError(domain.FailureKindMissingDraftOrder, callback.TransactionID, messageMissingDraft, cause)
	rerr.ResponseCode = callback.ResponseCode
	return Result{
		State:        domain.ReconcileStateFailed,
		TxnRef:       callback.TransactionID,
		FailureKind:  domain.FailureKindMissingDraftOrder,
		ResponseCode: callback.ResponseCode,
		Message:      messageMissingDraft,
	}, rerr
}

// run выполняет шаги сверки для записи в состоянии reconciling.
func (r *Reconciler) run(ctx context.Context, entry *log.Entry, draft domain.DraftOrder, callback domain.PaymentCallbackResult) (Result, error) {
	start := r.now()
	if r.metrics != nil {
		r.metrics.RecordReconcileStarted()
		defer func() {
			r.metrics.RecordReconcileFinished()
			r.metrics.RecordReconcileDuration(r.now().Sub(start))
		}()
	}
	r.appendTimeline(ctx, callback.TransactionID, domain.TimelineCallbackReceived, callback.ResponseCode)

	if !callback.Success {
		entry.WithFields(log.Fields{
			"response_code": callback.ResponseCode,
			"message":       callback.Message,
		}).Info("Payment declined by gateway")
		r.clearDraft(ctx, entry, draft.SessionID, callback.TransactionID)
		r.appendTimeline(ctx, callback.TransactionID, domain.TimelinePaymentDeclined, callback.ResponseCode)
		return r.finishFailure(ctx, entry, callback, domain.FailureKindPaymentDeclined, callback.Message, nil, nil)
	}

	if err := r.checkAmount(ctx, entry, draft, callback); err != nil {
		r.clearDraft(ctx, entry, draft.SessionID, callback.TransactionID)
		return r.finishFailure(ctx, entry, callback, domain.FailureKindAmountMismatch, messageAmountMismatch, err, nil)
	}

	return r.materialize(ctx, entry, draft, callback, true)
}

// checkAmount сверяет сумму колбэка с черновиком; заказ создаётся только после успешной проверки.
func (r *Reconciler) checkAmount(ctx context.Context, entry *log.Entry, draft domain.DraftOrder, callback domain.PaymentCallbackResult) error {
	err := draft.CheckAmount(callback.Amount, r.tolerance)
	if err == nil {
		return nil
	}
	entry.WithFields(log.Fields{
		"callback_amount": callback.Amount,
		"gateway_amount":  callback.GatewayAmount,
		"draft_amount":    draft.ItemsTotal(),
	}).Error("Payment amount does not match draft total")
	r.appendTimeline(ctx, callback.TransactionID, domain.TimelineAmountMismatch,
		fmt.Sprintf("callback=%d draft=%d", callback.Amount, draft.ItemsTotal()))
	return err
}

// materialize создаёт заказ, чистит корзину и черновик. Общая часть для Process и Retry.
// Вызывается только после проверки суммы.
func (r *Reconciler) materialize(ctx context.Context, entry *log.Entry, draft domain.DraftOrder, callback domain.PaymentCallbackResult, withCart bool) (Result, error) {
	stepStart := r.now()
	order, err := r.deps.Materializer.Create(ctx, draft, callback)
	r.recordStep(domain.ReconcileStepMaterialize, stepStart)
	if err != nil {
		entry.WithError(err).WithField("amount", callback.Amount).
			Error("Order creation failed after successful payment, escalating")
		r.appendTimeline(ctx, callback.TransactionID, domain.TimelineOrderCreationFailed, err.Error())
		return r.finishFailure(ctx, entry, callback, domain.FailureKindPostPaymentOrderCreationFailed, messageOrderCreateFail, err, &draft)
	}
	r.appendTimeline(ctx, callback.TransactionID, domain.TimelineOrderMaterialized, order.ID)

	if withCart {
		r.clearCart(ctx, entry, order, callback)
	}
	return r.complete(ctx, entry, draft.SessionID, order, callback)
}

func (r *Reconciler) clearCart(ctx context.Context, entry *log.Entry, order domain.MaterializedOrder, callback domain.PaymentCallbackResult) {
	stepStart := r.now()
	if err := r.deps.Cart.Clear(ctx); err != nil {
		entry.WithError(err).WithField("order_id", order.ID).Warn("Cart clear failed after order creation")
		r.appendTimeline(ctx, callback.TransactionID, domain.TimelineCartClearFailed, err.Error())
		if r.metrics != nil {
			r.metrics.RecordCartClearFailed()
		}
	} else {
		r.appendTimeline(ctx, callback.TransactionID, domain.TimelineCartCleared, "")
	}
	r.recordStep(domain.ReconcileStepClearCart, stepStart)
}

// complete удаляет черновик и фиксирует успешный исход.
func (r *Reconciler) complete(ctx context.Context, entry *log.Entry, sessionID string, order domain.MaterializedOrder, callback domain.PaymentCallbackResult) (Result, error) {
	if sessionID != "" {
		stepStart := r.now()
		r.clearDraft(ctx, entry, sessionID, callback.TransactionID)
		r.recordStep(domain.ReconcileStepClearDraft, stepStart)
	}

	if err := r.deps.Outcomes.Finish(ctx, callback.TransactionID, domain.OutcomeUpdate{
		State:        domain.ReconcileStateCompleted,
		ResponseCode: callback.ResponseCode,
		Message:      messageOrderCreated,
		OrderID:      order.ID,
		Callback:     encodeCallback(callback),
	}); err != nil {
		// Заказ уже создан: повторная сверка найдёт его по transactionId.
		entry.WithError(err).WithField("order_id", order.ID).Error("Failed to persist completed outcome")
	}

	if r.metrics != nil {
		r.metrics.RecordReconcileCompleted()
	}
	r.emitEvent(ctx, entry, domain.EventReconciliationCompleted, callback, map[string]interface{}{
		"order_id":     order.ID,
		"total_amount": order.TotalAmount,
		"session_id":   sessionID,
	})
	entry.WithField("order_id", order.ID).Info("Payment reconciled, order created")

	return Result{
		State:        domain.ReconcileStateCompleted,
		TxnRef:       callback.TransactionID,
		OrderID:      order.ID,
		ResponseCode: callback.ResponseCode,
		Message:      messageOrderCreated,
	}, nil
}

// finishFailure фиксирует отказ в журнале и возвращает ошибку вида kind.
func (r *Reconciler) finishFailure(
	ctx context.Context,
	entry *log.Entry,
	callback domain.PaymentCallbackResult,
	kind domain.FailureKind,
	message string,
	cause error,
	draft *domain.DraftOrder,
) (Result, error) {
	update := domain.OutcomeUpdate{
		State:        domain.ReconcileStateFailed,
		FailureKind:  kind,
		ResponseCode: callback.ResponseCode,
		Message:      message,
	}
	if kind.Escalate() {
		update.Callback = encodeCallback(callback)
		if draft != nil {
			update.Draft = encodeDraft(*draft)
		}
	}
	if err := r.deps.Outcomes.Finish(ctx, callback.TransactionID, update); err != nil {
		entry.WithError(err).WithField("failure_kind", kind).Error("Failed to persist failed outcome")
	}

	r.recordFailure(kind)
	eventType := domain.EventReconciliationFailed
	if kind.Escalate() {
		eventType = domain.EventReconciliationEscalated
	}
	payload := map[string]interface{}{"failure_kind": string(kind)}
	if cause != nil {
		payload["reason"] = cause.Error()
	}
	r.emitEvent(ctx, entry, eventType, callback, payload)

	rerr := domain.NewReconcileError(kind, callback.TransactionID, message, cause)
	rerr.ResponseCode = callback.ResponseCode
	return Result{
		State:        domain.ReconcileStateFailed,
		TxnRef:       callback.TransactionID,
		FailureKind:  kind,
		ResponseCode: callback.ResponseCode,
		Message:      message,
	}, rerr
}

// Retry повторяет создание заказа для эскалированной или зависшей сверки.
func (r *Reconciler) Retry(ctx context.Context, txnRef string) (Result, error) {
	txnRef = strings.TrimSpace(txnRef)
	if txnRef == "" {
		return Result{}, domain.ErrTxnRefRequired
	}

	return r.shared(ctx, "retry|"+txnRef, txnRef, func(ctx context.Context) (Result, error) {
		return r.retry(ctx, txnRef)
	})
}

func (r *Reconciler) retry(ctx context.Context, txnRef string) (Result, error) {
	entry := r.logger.WithField("txn_ref", txnRef)

	current, err := r.deps.Outcomes.Get(ctx, txnRef)
	if err != nil {
		return Result{}, err
	}
	if len(current.Callback) == 0 {
		return resultFromOutcome(current), domain.ErrOutcomeNotRetryable
	}

	resumed, err := r.deps.Outcomes.Resume(ctx, txnRef, r.now().Add(-r.staleAfter))
	if err != nil {
		return resultFromOutcome(current), err
	}
	callback, err := resumed.DecodeCallback()
	if err != nil {
		// Сохранённый колбэк не перезаписываем: запись возвращается в эскалацию как есть.
		if ferr := r.deps.Outcomes.Finish(ctx, txnRef, domain.OutcomeUpdate{
			State:        domain.ReconcileStateFailed,
			FailureKind:  domain.FailureKindPostPaymentOrderCreationFailed,
			ResponseCode: resumed.ResponseCode,
			Message:      messageOrderCreateFail,
		}); ferr != nil {
			entry.WithError(ferr).Error("Failed to restore escalated outcome")
		}
		return resultFromOutcome(resumed), fmt.Errorf("decode stored callback: %w", err)
	}
	if callback.TransactionID == "" {
		callback.TransactionID = txnRef
	}

	if r.metrics != nil {
		r.metrics.RecordReconcileRetried()
	}
	r.appendTimeline(ctx, txnRef, domain.TimelineReconcileRetried, fmt.Sprintf("attempt=%d", resumed.Attempts))
	entry = entry.WithFields(log.Fields{"session_id": resumed.SessionID, "attempt": resumed.Attempts})
	entry.Info("Retrying escalated reconciliation")

	draft, err := r.retainedDraft(ctx, resumed)
	if err != nil {
		// Без черновика этой транзакции заказ не восстановить; запись остаётся эскалированной.
		entry.WithError(err).Error("Retained draft is gone, manual reconciliation required")
		return r.finishFailure(ctx, entry, callback, domain.FailureKindPostPaymentOrderCreationFailed, messageMissingDraft,
			errors.Join(domain.ErrMissingDraftOrder, err), nil)
	}
	if err := r.checkAmount(ctx, entry, draft, callback); err != nil {
		return r.finishFailure(ctx, entry, callback, domain.FailureKindPostPaymentOrderCreationFailed, messageAmountMismatch, err, &draft)
	}

	// Корзину чистим, только если покупатель не начал новое оформление.
	sessionDraft, err := r.deps.Drafts.Load(ctx, resumed.SessionID)
	withCart := err == nil && sessionDraft.TxnRef == txnRef
	draft.SessionID = resumed.SessionID
	return r.materialize(ctx, entry, draft, callback, withCart)
}

// retainedDraft возвращает копию черновика из записи журнала.
// Для записей без копии подходит только черновик сессии, привязанный к этой же транзакции.
func (r *Reconciler) retainedDraft(ctx context.Context, outcome domain.ReconcileOutcome) (domain.DraftOrder, error) {
	draft, err := outcome.DecodeDraft()
	if err == nil {
		return draft, nil
	}
	if !errors.Is(err, domain.ErrDraftNotFound) {
		return domain.DraftOrder{}, fmt.Errorf("decode retained draft: %w", err)
	}

	draft, err = r.deps.Drafts.Load(ctx, outcome.SessionID)
	if err != nil {
		return domain.DraftOrder{}, err
	}
	if draft.TxnRef != outcome.TxnRef {
		return domain.DraftOrder{}, fmt.Errorf("%w: session draft bound to transaction %q", domain.ErrDraftNotFound, draft.TxnRef)
	}
	return draft, nil
}

// Get возвращает запись журнала по TxnRef.
func (r *Reconciler) Get(ctx context.Context, txnRef string) (domain.ReconcileOutcome, error) {
	return r.deps.Outcomes.Get(ctx, strings.TrimSpace(txnRef))
}

// ListEscalated возвращает сверки, ожидающие ручного разбора.
func (r *Reconciler) ListEscalated(ctx context.Context, limit int) ([]domain.ReconcileOutcome, error) {
	return r.deps.Outcomes.ListEscalated(ctx, limit)
}

// Timeline возвращает события транзакции; без репозитория возвращает пустой список.
func (r *Reconciler) Timeline(ctx context.Context, txnRef string) ([]domain.TimelineEvent, error) {
	if r.deps.Timeline == nil {
		return nil, nil
	}
	return r.deps.Timeline.List(ctx, txnRef)
}

// clearDraft удаляет черновик сессии, если он не привязан к другой транзакции.
func (r *Reconciler) clearDraft(ctx context.Context, entry *log.Entry, sessionID, txnRef string) {
	current, err := r.deps.Drafts.Load(ctx, sessionID)
	switch {
	case errors.Is(err, domain.ErrDraftNotFound):
		return
	case err != nil:
		entry.WithError(err).Warn("Failed to load draft order before clearing")
		return
	case current.TxnRef != "" && current.TxnRef != txnRef:
		entry.WithField("draft_txn_ref", current.TxnRef).Info("Session draft belongs to another transaction, keeping it")
		return
	}
	if err := r.deps.Drafts.Clear(ctx, sessionID); err != nil {
		entry.WithError(err).Warn("Failed to clear draft order")
	}
}

func (r *Reconciler) recordFailure(kind domain.FailureKind) {
	if r.metrics != nil {
		r.metrics.RecordReconcileFailed(string(kind))
	}
}

func (r *Reconciler) recordStep(step domain.ReconcileStep, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordStepDuration(string(step), r.now().Sub(start))
	}
}

func (r *Reconciler) appendTimeline(ctx context.Context, txnRef, eventType, reason string) {
	if r.deps.Timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		TxnRef:   txnRef,
		Type:     eventType,
		Reason:   reason,
		Occurred: r.now(),
	}
	if err := r.deps.Timeline.Append(ctx, event); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"txn_ref": txnRef,
			"event":   eventType,
		}).Warn("append timeline event failed")
	} else if r.metrics != nil {
		r.metrics.RecordTimelineEvent()
	}
}

func (r *Reconciler) emitEvent(ctx context.Context, entry *log.Entry, eventType string, callback domain.PaymentCallbackResult, payload map[string]interface{}) {
	if r.deps.Outbox == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["txn_ref"] = callback.TransactionID
	payload["response_code"] = callback.ResponseCode
	payload["amount"] = callback.Amount
	payload["ts"] = r.now().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		entry.WithError(err).WithField("event", eventType).Error("marshal event failed")
		return
	}
	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateReconciliation,
		AggregateID:   callback.TransactionID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := r.deps.Outbox.Enqueue(ctx, msg); err != nil {
		entry.WithError(err).WithField("event", eventType).Error("enqueue event failed")
	} else if r.metrics != nil {
		r.metrics.RecordOutboxEvent()
	}
}

func encodeCallback(callback domain.PaymentCallbackResult) []byte {
	data, err := json.Marshal(callback)
	if err != nil {
		return nil
	}
	return data
}

func encodeDraft(draft domain.DraftOrder) []byte {
	data, err := json.Marshal(draft)
	if err != nil {
		return nil
	}
	return data
}

func resultFromOutcome(o domain.ReconcileOutcome) Result {
	return Result{
		State:        o.State,
		TxnRef:       o.TxnRef,
		OrderID:      o.OrderID,
		FailureKind:  o.FailureKind,
		ResponseCode: o.ResponseCode,
		Message:      o.Message,
	}
}

// outcomeError восстанавливает ошибку финального отказа из записи журнала.
func outcomeError(o domain.ReconcileOutcome) error {
	if o.State != domain.ReconcileStateFailed || o.FailureKind == domain.FailureKindNone {
		return nil
	}
	rerr := domain.NewReconcileError(o.FailureKind, o.TxnRef, o.Message, nil)
	rerr.ResponseCode = o.ResponseCode
	return rerr
}
