package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/app"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func newFlagSet() *flag.FlagSet {
	fset := flag.NewFlagSet("reconcile-retry", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	return fset
}

func TestReadOptions(t *testing.T) {
	opts, err := readOptions(newFlagSet(), []string{"-limit=5", "-dry-run", "-txn-refs= TXN-1, ,TXN-2", "-timeout=30s"})
	require.NoError(t, err)
	assert.Equal(t, 5, opts.retry.Limit)
	assert.True(t, opts.retry.DryRun)
	assert.Equal(t, []string{"TXN-1", "TXN-2"}, opts.retry.TxnRefs)
	assert.Equal(t, 30*time.Second, opts.timeout)

	opts, err = readOptions(newFlagSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, defaultLimit, opts.retry.Limit)
	assert.Empty(t, opts.retry.TxnRefs)
}

func TestReadOptions_Validation(t *testing.T) {
	_, err := readOptions(newFlagSet(), []string{"-limit=0"})
	assert.ErrorContains(t, err, "limit must be > 0")

	_, err = readOptions(newFlagSet(), []string{"-timeout=0s"})
	assert.ErrorContains(t, err, "timeout must be > 0")

	_, err = readOptions(newFlagSet(), []string{"-unknown"})
	assert.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CHECKOUT_STORAGE_DRIVER", " Postgres ")
	t.Setenv("CHECKOUT_POSTGRES_DSN", "postgres://checkout@db/checkout")
	t.Setenv("CHECKOUT_BACKEND_URL", "https://shop.example.vn/api/v1")

	cfg := configFromEnv()
	assert.Equal(t, app.StorageDriverPostgres, cfg.StorageDriver)
	assert.Equal(t, "postgres://checkout@db/checkout", cfg.PostgresDSN)
	assert.Equal(t, "https://shop.example.vn/api/v1", cfg.BackendURL)
	assert.False(t, cfg.PostgresAutoMigrate)
}

func TestRun_PrintsReport(t *testing.T) {
	old := runRetry
	t.Cleanup(func() { runRetry = old })

	var got app.RetryOptions
	runRetry = func(_ context.Context, _ app.Config, opts app.RetryOptions) (app.RetryReport, error) {
		got = opts
		return app.RetryReport{
			Scanned:   3,
			Recovered: []string{"TXN-1"},
			Failed:    map[string]domain.FailureKind{"TXN-2": domain.FailureKindPostPaymentOrderCreationFailed},
			Skipped:   []string{"TXN-3"},
			Errors:    map[string]error{},
		}, nil
	}

	var out bytes.Buffer
	failed, err := run(context.Background(), app.DefaultConfig(), options{retry: app.RetryOptions{Limit: 3}, timeout: time.Second}, &out)
	require.NoError(t, err)
	assert.True(t, failed)
	assert.Equal(t, 3, got.Limit)
	assert.Contains(t, out.String(), "mode=execute scanned=3 recovered=1 failed=1 skipped=1 errors=0")
	assert.Contains(t, out.String(), "recovered TXN-1")
	assert.Contains(t, out.String(), "failed    TXN-2 kind=post_payment_order_creation_failed")
}

func TestRun_PropagatesError(t *testing.T) {
	old := runRetry
	t.Cleanup(func() { runRetry = old })
	runRetry = func(context.Context, app.Config, app.RetryOptions) (app.RetryReport, error) {
		return app.RetryReport{}, errors.New("postgres down")
	}

	_, err := run(context.Background(), app.DefaultConfig(), options{timeout: time.Second}, io.Discard)
	assert.ErrorContains(t, err, "postgres down")
}

func TestFailExits(t *testing.T) {
	if os.Getenv("RETRY_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "RETRY_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.NotZero(t, exitErr.ExitCode())
}
