// Package postgres implements the store with sqlx over lib/pq. The per-lot
// lock is a row lock on the lot taken at the start of a transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/bidcore/internal/biderr"
	"github.com/jensholdgaard/bidcore/internal/config"
	"github.com/jensholdgaard/bidcore/internal/store"
	"github.com/jensholdgaard/bidcore/internal/store/schema"
)

func init() {
	store.Register("postgres", openPostgres)
}

// openPostgres is the store.Driver for the "postgres" backend.
func openPostgres(ctx context.Context, cfg config.DatabaseConfig, opts store.Options) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &store.Repositories{
		Ledger:  NewLedger(db, opts.Clock, opts.LockTimeout),
		Reader:  NewReader(db),
		Catalog: NewCatalog(db, opts.Clock),
		Events:  NewEventStore(db),
		Closer:  store.CloserFunc(db.Close),
		Ping:    db.PingContext,
		Migrate: func(ctx context.Context) error { return Migrate(ctx, db) },
	}, nil
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN()

	// Register the OTel-instrumented driver wrapping lib/pq.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	return schema.Apply(ctx, func(ctx context.Context, query string) error {
		_, err := db.ExecContext(ctx, query)
		return err
	})
}

// Postgres error codes the store translates.
const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeInvalidText          = "22P02"
	codeForeignKeyViolation  = "23503"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// mapError translates a driver error into the biderr taxonomy. Context
// cancellation passes through unchanged.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch pqCode(err) {
	case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%s: %w", op, biderr.ErrLotBusy)
	case codeInvalidText:
		// A malformed UUID cannot name an existing row.
		return fmt.Errorf("%s: %w", op, biderr.ErrNotFound)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, biderr.ErrNotFound)
	}
	return biderr.Persistence(op, err)
}

// mapWriteError is mapError for catalog inserts, where constraint
// violations are caller errors.
func mapWriteError(op string, err error) error {
	switch pqCode(err) {
	case codeForeignKeyViolation:
		return fmt.Errorf("%s: %w", op, biderr.ErrNotFound)
	case codeUniqueViolation, codeCheckViolation:
		return fmt.Errorf("%s: %v: %w", op, err, biderr.ErrInvalidInput)
	}
	return mapError(op, err)
}
