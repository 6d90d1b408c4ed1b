package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/catalog/internal/storage/mysql"
	"github.com/vladislavdragonenkov/catalog/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

type options struct {
	driver    string
	direction string
	steps     int
	dsn       string
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.LookupEnv); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseOptions(args []string, lookup func(string) (string, bool)) (options, error) {
	var opts options

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.driver, "driver", "postgres", "storage driver: postgres|mysql")
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "DSN (fallback: CATALOG_POSTGRES_DSN / CATALOG_MYSQL_DSN)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.driver = strings.ToLower(strings.TrimSpace(opts.driver))
	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)

	envKey := ""
	switch opts.driver {
	case "postgres":
		envKey = "CATALOG_POSTGRES_DSN"
	case "mysql":
		envKey = "CATALOG_MYSQL_DSN"
		if opts.direction != "up" {
			return options{}, fmt.Errorf("mysql schema is idempotent and supports only -direction=up")
		}
	default:
		return options{}, fmt.Errorf("unsupported driver: %s (use postgres|mysql)", opts.driver)
	}

	switch opts.direction {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}
	if opts.steps < 0 {
		return options{}, errors.New("steps must be >= 0")
	}

	if opts.dsn == "" {
		if v, ok := lookup(envKey); ok {
			opts.dsn = strings.TrimSpace(v)
		}
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s (or -dsn) is required", envKey)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, out io.Writer, lookup func(string) (string, bool)) error {
	opts, err := parseOptions(args, lookup)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if opts.driver == "mysql" {
		return applyMySQLSchema(ctx, opts, out)
	}
	return migratePostgres(ctx, opts, out)
}

func applyMySQLSchema(ctx context.Context, opts options, out io.Writer) error {
	store, err := mysql.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open mysql store: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("apply mysql schema: %w", err)
	}
	_, _ = fmt.Fprintln(out, "mysql schema is up to date")
	return nil
}

func migratePostgres(ctx context.Context, opts options, out io.Writer) error {
	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		steps := opts.steps
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d pending=%d\n", opts.direction, state.Version, state.Applied, state.Pending())
	return nil
}
