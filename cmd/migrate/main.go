package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

type command struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

// schemaMigrator — часть postgres.Store, которой пользуется утилита.
type schemaMigrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
}

// openStore подменяется в тестах.
var openStore = func(ctx context.Context, dsn string) (schemaMigrator, func() error, error) {
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fail("load .env: %v", err)
	}

	cmd, err := parseCommand(flag.CommandLine, os.Args[1:], os.Getenv("CHECKOUT_POSTGRES_DSN"))
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmd.timeout)
	defer cancel()

	if err := execute(ctx, cmd, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func parseCommand(fset *flag.FlagSet, args []string, envDSN string) (command, error) {
	var cmd command
	fset.StringVar(&cmd.direction, "direction", "up", "migration direction: up|down|status")
	fset.IntVar(&cmd.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fset.StringVar(&cmd.dsn, "dsn", "", "PostgreSQL DSN (fallback: CHECKOUT_POSTGRES_DSN)")
	fset.DurationVar(&cmd.timeout, "timeout", defaultTimeout, "overall timeout")
	if err := fset.Parse(args); err != nil {
		return command{}, err
	}

	cmd.direction = strings.ToLower(strings.TrimSpace(cmd.direction))
	cmd.dsn = strings.TrimSpace(cmd.dsn)
	if cmd.dsn == "" {
		cmd.dsn = strings.TrimSpace(envDSN)
	}

	switch {
	case cmd.dsn == "":
		return command{}, errors.New("CHECKOUT_POSTGRES_DSN (or -dsn) is required")
	case cmd.direction != "up" && cmd.direction != "down" && cmd.direction != "status":
		return command{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", cmd.direction)
	case cmd.steps < 0:
		return command{}, errors.New("steps must be >= 0")
	case cmd.timeout <= 0:
		return command{}, errors.New("timeout must be > 0")
	}
	if cmd.direction == "down" && cmd.steps == 0 {
		cmd.steps = 1
	}
	return cmd, nil
}

func execute(ctx context.Context, cmd command, out io.Writer) error {
	store, closeStore, err := openStore(ctx, cmd.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer func() { _ = closeStore() }()

	prefix := "migration status"
	switch cmd.direction {
	case "up":
		if err := store.MigrateUp(ctx, cmd.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		prefix = "migrate up ok"
	case "down":
		if err := store.MigrateDown(ctx, cmd.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		prefix = "migrate down ok"
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintln(out, formatState(prefix, state))
	return err
}

func formatState(prefix string, state postgres.MigrationState) string {
	return fmt.Sprintf("%s: version=%d applied=%d pending=%d", prefix, state.Version, state.Applied, state.Pending())
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
