// Package bunstore implements the store with uptrace/bun over pgdriver. It
// shares the Postgres schema with the sqlx driver and takes the same row lock
// on the lot.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/config"
	"github.com/jensholdgaard/bidcore/internal/store"
	"github.com/jensholdgaard/bidcore/internal/store/schema"
)

func init() {
	store.Register("bun", openBun)
}

func openBun(ctx context.Context, cfg config.DatabaseConfig, opts store.Options) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := New(db, opts)
	return &store.Repositories{
		Ledger:  s,
		Reader:  s,
		Catalog: s,
		Events:  s,
		Closer:  db,
		Ping:    db.PingContext,
		Migrate: func(ctx context.Context) error { return Migrate(ctx, db) },
	}, nil
}

// Connect opens a bun.DB on pgdriver, instrumented with otelsql.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*bun.DB, error) {
	sqldb := otelsql.OpenDB(
		pgdriver.NewConnector(pgdriver.WithDSN(cfg.URL())),
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db *bun.DB) error {
	return schema.Apply(ctx, func(ctx context.Context, query string) error {
		_, err := db.ExecContext(ctx, query)
		return err
	})
}

func pgCode(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}

// mapError translates a driver error into the biderr taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch pgCode(err) {
	case "55P03", "40001", "40P01":
		return fmt.Errorf("%s: %w", op, biderr.ErrLotBusy)
	case "22P02":
		return fmt.Errorf("%s: %w", op, biderr.ErrNotFound)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, biderr.ErrNotFound)
	}
	return biderr.Persistence(op, err)
}

func mapWriteError(op string, err error) error {
	switch pgCode(err) {
	case "23503":
		return fmt.Errorf("%s: %w", op, biderr.ErrNotFound)
	case "23505", "23514":
		return fmt.Errorf("%s: %v: %w", op, err, biderr.ErrInvalidInput)
	}
	return mapError(op, err)
}
