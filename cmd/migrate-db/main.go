// Command migrate-db creates the transactions table used by the table sink,
// for deployments that run the server with STOREFRONT_SINK_TABLE_MIGRATE=false.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL); err != nil {
		lg.Fatal("Migration failed", zap.Error(err))
	}
	lg.Info("Migration completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL, 1)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	var rows int64
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM transactions`).Scan(&rows); err != nil {
		return errors.Wrap(err, "count transactions")
	}
	lg.Info("Transactions table ready", zap.Int64("rows", rows))
	return nil
}
