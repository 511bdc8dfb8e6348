package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/gateway/vnpay"
)

const (
	sessionHeader    = "X-Checkout-Session"
	scenarioEndpoint = "scenario"
)

type loadMode string

const (
	modeSubmit loadMode = "submit"
	modeStorm  loadMode = "storm"
)

// config: прогон ограничен числом сценариев, временем или и тем и другим.
type config struct {
	baseURL     string
	scenarios   int
	duration    time.Duration
	concurrency int
	duplicates  int
	timeout     time.Duration
	mode        loadMode
	bankCode    string
	hashSecret  string
	sessionTag  string
	outputPath  string
}

func parseConfig(fset *flag.FlagSet, args []string) (config, error) {
	var (
		cfg  config
		mode string
	)
	fset.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080/api/v1", "checkout API base URL")
	fset.IntVar(&cfg.scenarios, "scenarios", 100, "checkouts to run (0 = until -duration expires)")
	fset.DurationVar(&cfg.duration, "duration", 0, "stop starting new checkouts after this long")
	fset.IntVar(&cfg.concurrency, "concurrency", 10, "checkouts running at once")
	fset.IntVar(&cfg.duplicates, "duplicates", 5, "parallel deliveries of each gateway callback in storm mode")
	fset.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "per-request timeout")
	fset.StringVar(&mode, "mode", string(modeStorm), "submit | storm")
	fset.StringVar(&cfg.bankCode, "bank-code", "NCB", "VNPay bank code for submitted checkouts")
	fset.StringVar(&cfg.hashSecret, "hash-secret", os.Getenv("CHECKOUT_VNPAY_HASH_SECRET"), "VNPay hash secret used to sign callbacks")
	fset.StringVar(&cfg.sessionTag, "session-tag", "load", "checkout session id prefix")
	fset.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")
	if err := fset.Parse(args); err != nil {
		return config{}, err
	}

	cfg.mode = loadMode(strings.ToLower(strings.TrimSpace(mode)))
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	_, urlErr := url.ParseRequestURI(cfg.baseURL)

	switch {
	case cfg.mode != modeSubmit && cfg.mode != modeStorm:
		return config{}, fmt.Errorf("unsupported mode %q (use submit|storm)", mode)
	case urlErr != nil:
		return config{}, fmt.Errorf("invalid base-url %q", cfg.baseURL)
	case cfg.scenarios < 0 || cfg.duration < 0:
		return config{}, errors.New("scenarios and duration must not be negative")
	case cfg.scenarios == 0 && cfg.duration == 0:
		return config{}, errors.New("either -scenarios or -duration must bound the run")
	case cfg.concurrency <= 0 || cfg.duplicates <= 0:
		return config{}, errors.New("concurrency and duplicates must be > 0")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be > 0")
	case strings.TrimSpace(cfg.sessionTag) == "":
		return config{}, errors.New("session-tag is required")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fail("invalid config: %v", err)
	}

	result := newRunner(cfg, &http.Client{Timeout: cfg.timeout}).run(context.Background())
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeReport(cfg.outputPath, result); err != nil {
			fail("write report: %v", err)
		}
	}
	if result.FailedScenarios > 0 || result.DuplicateOrders > 0 {
		os.Exit(1)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type sample struct {
	ms   float64
	code string
	ok   bool
}

// collector копит замеры по каждому endpoint; сценарий целиком пишется как endpoint "scenario".
type collector struct {
	mu         sync.Mutex
	samples    map[string][]sample
	duplicates atomic.Int64
}

func newCollector() *collector {
	return &collector{samples: make(map[string][]sample)}
}

func (c *collector) record(endpoint string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[endpoint] = append(c.samples[endpoint], sample{
		ms:   float64(latency.Microseconds()) / 1000,
		code: code,
		ok:   ok,
	})
}

type latencyStats struct {
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P99  float64 `json:"p99"`
	Max  float64 `json:"max"`
}

type endpointReport struct {
	Calls     int            `json:"calls"`
	Failed    int            `json:"failed"`
	Codes     map[string]int `json:"codes"`
	LatencyMs latencyStats   `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time                 `json:"started_at"`
	ElapsedSeconds  float64                   `json:"elapsed_seconds"`
	Scenarios       int                       `json:"scenarios"`
	FailedScenarios int                       `json:"failed_scenarios"`
	DuplicateOrders int64                     `json:"duplicate_orders"`
	Throughput      float64                   `json:"scenarios_per_second"`
	Endpoints       map[string]endpointReport `json:"endpoints"`
}

func (c *collector) report(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := report{
		StartedAt:       startedAt.UTC(),
		ElapsedSeconds:  elapsed.Seconds(),
		DuplicateOrders: c.duplicates.Load(),
		Endpoints:       make(map[string]endpointReport, len(c.samples)),
	}
	for name, samples := range c.samples {
		ep := endpointReport{Calls: len(samples), Codes: make(map[string]int)}
		latencies := make([]float64, 0, len(samples))
		for _, s := range samples {
			if !s.ok {
				ep.Failed++
			}
			ep.Codes[s.code]++
			latencies = append(latencies, s.ms)
		}
		ep.LatencyMs = summarize(latencies)
		out.Endpoints[name] = ep
	}

	scenario := out.Endpoints[scenarioEndpoint]
	out.Scenarios, out.FailedScenarios = scenario.Calls, scenario.Failed
	if elapsed > 0 {
		out.Throughput = float64(out.Scenarios) / elapsed.Seconds()
	}
	return out
}

func summarize(ms []float64) latencyStats {
	if len(ms) == 0 {
		return latencyStats{}
	}
	sorted := slices.Clone(ms)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencyStats{
		Mean: sum / float64(len(sorted)),
		P50:  nearestRank(sorted, 50),
		P90:  nearestRank(sorted, 90),
		P99:  nearestRank(sorted, 99),
		Max:  sorted[len(sorted)-1],
	}
}

// nearestRank возвращает p-й перцентиль отсортированной выборки методом ближайшего ранга.
func nearestRank(sorted []float64, p int) float64 {
	idx := (p*len(sorted)+99)/100 - 1
	return sorted[max(idx, 0)]
}

type runner struct {
	cfg    config
	client *http.Client
	signer *vnpay.Signer
	col    *collector
	runID  string
}

func newRunner(cfg config, client *http.Client) *runner {
	r := &runner{
		cfg:    cfg,
		client: client,
		col:    newCollector(),
		runID:  strconv.FormatInt(time.Now().UnixNano(), 36),
	}
	if cfg.hashSecret != "" {
		r.signer = vnpay.NewSigner(cfg.hashSecret)
	}
	return r
}

// run раздаёт сценарии воркерам; начатые сценарии доигрываются и после истечения -duration.
func (r *runner) run(ctx context.Context) report {
	startedAt := time.Now()

	feedCtx := ctx
	if r.cfg.duration > 0 {
		var cancel context.CancelFunc
		feedCtx, cancel = context.WithTimeout(ctx, r.cfg.duration)
		defer cancel()
	}

	jobs := make(chan int)
	go feed(feedCtx, jobs, r.cfg.scenarios)

	var wg sync.WaitGroup
	for w := 0; w < r.cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = r.runScenario(ctx, id)
			}
		}()
	}
	wg.Wait()

	return r.col.report(startedAt, time.Since(startedAt))
}

// feed выдаёт номера сценариев, пока не исчерпан limit (0 = без лимита) или не отменён ctx.
func feed(ctx context.Context, jobs chan<- int, limit int) {
	defer close(jobs)
	for i := 0; limit == 0 || i < limit; i++ {
		select {
		case <-ctx.Done():
			return
		case jobs <- i:
		}
	}
}

// runScenario оформляет заказ в отдельной сессии и в режиме storm доставляет один колбэк несколько раз параллельно.
func (r *runner) runScenario(ctx context.Context, index int) (err error) {
	start := time.Now()
	defer func() {
		code := "ok"
		if err != nil {
			code = "failed"
		}
		r.col.record(scenarioEndpoint, time.Since(start), code, err == nil)
	}()

	session := fmt.Sprintf("%s-%s-%d", r.cfg.sessionTag, r.runID, index)

	var submitted struct {
		TxnRef string `json:"txnRef"`
	}
	if err := r.call(ctx, "submit", http.MethodPost, "/checkout", session, checkoutForm(r.cfg.bankCode), http.StatusAccepted, &submitted); err != nil {
		return err
	}
	if submitted.TxnRef == "" {
		return errors.New("submit response has no txnRef")
	}
	if r.cfg.mode == modeSubmit {
		return nil
	}

	var draft struct {
		TotalAmount int64 `json:"totalAmount"`
	}
	if err := r.call(ctx, "pending", http.MethodGet, "/checkout/pending", session, nil, http.StatusOK, &draft); err != nil {
		return err
	}

	return r.storm(ctx, session, submitted.TxnRef, draft.TotalAmount)
}

type callbackReply struct {
	Status   string `json:"status"`
	OrderID  string `json:"orderId"`
	Replayed bool   `json:"replayed"`
}

func (r *runner) storm(ctx context.Context, session, txnRef string, total int64) error {
	target := "/checkout/vnpay-return?" + r.callbackQuery(txnRef, total)

	replies := make([]callbackReply, r.cfg.duplicates)
	errs := make([]error, r.cfg.duplicates)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.duplicates; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.call(ctx, "callback", http.MethodGet, target, session, nil, http.StatusOK, &replies[i], http.StatusConflict)
		}(i)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	return r.checkSingleOrder(txnRef, replies)
}

// checkSingleOrder проверяет, что все доставки одного колбэка сошлись на одном заказе.
func (r *runner) checkSingleOrder(txnRef string, replies []callbackReply) error {
	orders := make(map[string]struct{})
	for _, reply := range replies {
		if reply.OrderID != "" {
			orders[reply.OrderID] = struct{}{}
		}
	}
	switch len(orders) {
	case 0:
		return fmt.Errorf("txn %s: no delivery reported an order", txnRef)
	case 1:
		return nil
	default:
		r.col.duplicates.Add(1)
		return fmt.Errorf("txn %s: %d different orders for one payment", txnRef, len(orders))
	}
}

func (r *runner) callbackQuery(txnRef string, total int64) string {
	params := url.Values{}
	params.Set(vnpay.ParamResponseCode, "00")
	params.Set(vnpay.ParamTxnRef, txnRef)
	params.Set(vnpay.ParamAmount, strconv.FormatInt(vnpay.ToGatewayAmount(total), 10))
	params.Set(vnpay.ParamBankCode, r.cfg.bankCode)
	params.Set(vnpay.ParamTransactionNo, "LT"+txnRef)
	if r.signer.Enabled() {
		params.Set("vnp_SecureHash", r.signer.Sign(params))
	}
	return params.Encode()
}

// call выполняет запрос и записывает задержку под именем endpoint.
// Ответ с кодом из tolerated считается успешным, но тело не разбирается.
func (r *runner) call(ctx context.Context, endpoint, method, path, session string, body any, want int, out any, tolerated ...int) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set(sessionHeader, session)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.col.record(endpoint, time.Since(start), "transport_error", false)
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	latency := time.Since(start)
	code := strconv.Itoa(resp.StatusCode)

	for _, status := range tolerated {
		if resp.StatusCode == status {
			r.col.record(endpoint, latency, code, true)
			return nil
		}
	}
	if resp.StatusCode != want {
		r.col.record(endpoint, latency, code, false)
		return fmt.Errorf("%s: unexpected status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	r.col.record(endpoint, latency, code, true)

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

func checkoutForm(bankCode string) map[string]string {
	return map[string]string{
		"fullName":      "Load Test",
		"email":         "load@example.com",
		"phone":         "0901234567",
		"address":       "1 Load Street",
		"provinceName":  "TP Hồ Chí Minh",
		"districtName":  "Quận 1",
		"wardName":      "Phường Bến Nghé",
		"paymentMethod": "VNPAY",
		"bankCode":      bankCode,
	}
}

// writeReport пишет JSON-отчёт; путь должен оставаться внутри рабочего каталога.
func writeReport(path string, result report) error {
	clean := filepath.Clean(path)
	if !filepath.IsLocal(clean) {
		return fmt.Errorf("report path must stay inside the working directory: %s", path)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(data, '\n'), 0o644)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintf(out, "mode=%s scenarios=%d failed=%d duplicate_orders=%d elapsed=%.2fs rate=%.2f/s\n",
		cfg.mode, result.Scenarios, result.FailedScenarios, result.DuplicateOrders, result.ElapsedSeconds, result.Throughput)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "endpoint\tcalls\tfailed\tmean_ms\tp50\tp90\tp99\tmax")
	for _, name := range slices.Sorted(maps.Keys(result.Endpoints)) {
		ep := result.Endpoints[name]
		l := ep.LatencyMs
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\n",
			name, ep.Calls, ep.Failed, l.Mean, l.P50, l.P90, l.P99, l.Max)
	}
	_ = tw.Flush()
}
