package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/app"
)

const (
	defaultLimit   = 50
	defaultTimeout = 5 * time.Minute
)

type options struct {
	retry   app.RetryOptions
	timeout time.Duration
}

// runRetry подменяется в тестах.
var runRetry = app.RetryEscalated

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fail("load .env: %v", err)
	}

	opts, err := readOptions(flag.CommandLine, os.Args[1:])
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed, err := run(ctx, configFromEnv(), opts, os.Stdout)
	if err != nil {
		fail("reconcile retry failed: %v", err)
	}
	if failed {
		os.Exit(2)
	}
}

func readOptions(fset *flag.FlagSet, args []string) (options, error) {
	var (
		opts    options
		txnRefs string
	)
	fset.IntVar(&opts.retry.Limit, "limit", defaultLimit, "max number of escalated reconciliations to process")
	fset.BoolVar(&opts.retry.DryRun, "dry-run", false, "list candidates without retrying")
	fset.StringVar(&txnRefs, "txn-refs", "", "comma-separated transaction references to retry instead of listing escalations")
	fset.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall timeout")
	if err := fset.Parse(args); err != nil {
		return options{}, err
	}

	for _, ref := range strings.Split(txnRefs, ",") {
		if ref = strings.TrimSpace(ref); ref != "" {
			opts.retry.TxnRefs = append(opts.retry.TxnRefs, ref)
		}
	}
	if opts.retry.Limit <= 0 {
		return options{}, fmt.Errorf("limit must be > 0")
	}
	if opts.timeout <= 0 {
		return options{}, fmt.Errorf("timeout must be > 0")
	}
	return opts, nil
}

// configFromEnv читает только то, что нужно для повтора: хранилище и backend магазина.
func configFromEnv() app.Config {
	cfg := app.DefaultConfig()
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set("CHECKOUT_STORAGE_DRIVER", &cfg.StorageDriver)
	set("CHECKOUT_POSTGRES_DSN", &cfg.PostgresDSN)
	set("CHECKOUT_PENDING_STORE", &cfg.PendingStore)
	set("CHECKOUT_REDIS_ADDR", &cfg.RedisAddr)
	set("CHECKOUT_BACKEND_URL", &cfg.BackendURL)
	set("CHECKOUT_BACKEND_SERVICE_TOKEN", &cfg.BackendServiceToken)
	set("CHECKOUT_VNPAY_HASH_SECRET", &cfg.VNPayHashSecret)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	cfg.PendingStore = strings.ToLower(cfg.PendingStore)
	// Миграции применяет сервис или cmd/migrate.
	cfg.PostgresAutoMigrate = false
	return cfg
}

// run возвращает true, если хотя бы одна сверка не восстановилась.
func run(ctx context.Context, cfg app.Config, opts options, out io.Writer) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	report, err := runRetry(ctx, cfg, opts.retry)
	if err != nil {
		return false, err
	}
	printReport(out, report, opts.retry.DryRun)
	return len(report.Failed) > 0 || len(report.Errors) > 0, nil
}

func printReport(out io.Writer, report app.RetryReport, dryRun bool) {
	mode := "execute"
	if dryRun {
		mode = "dry-run"
	}
	_, _ = fmt.Fprintf(out, "mode=%s scanned=%d recovered=%d failed=%d skipped=%d errors=%d\n",
		mode, report.Scanned, len(report.Recovered), len(report.Failed), len(report.Skipped), len(report.Errors))

	for _, ref := range report.Recovered {
		_, _ = fmt.Fprintf(out, "recovered %s\n", ref)
	}
	for _, ref := range sortedKeys(report.Failed) {
		_, _ = fmt.Fprintf(out, "failed    %s kind=%s\n", ref, report.Failed[ref])
	}
	for _, ref := range report.Skipped {
		_, _ = fmt.Fprintf(out, "skipped   %s\n", ref)
	}
	for _, ref := range sortedKeys(report.Errors) {
		_, _ = fmt.Fprintf(out, "error     %s: %v\n", ref, report.Errors[ref])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
