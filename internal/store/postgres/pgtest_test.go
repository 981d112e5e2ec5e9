package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/store"
	"github.com/jensholdgaard/bidcore/internal/store/postgres"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// newTestDB starts a Postgres container, applies the schema, and returns
// a connected *sqlx.DB. The container is terminated when the test ends.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("bidcore_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("applying schema: %v", err)
	}
	return db
}

// seedLot creates an active auction around t0 with one lot (start 100, step 10).
func seedLot(t *testing.T, db *sqlx.DB) *store.Lot {
	t.Helper()
	ctx := context.Background()
	cat := postgres.NewCatalog(db, clock.NewMock(t0))

	a := &store.Auction{
		Title:     "Spring sale",
		StartTime: t0.Add(-time.Hour),
		EndTime:   t0.Add(time.Hour),
		Status:    store.AuctionActive,
	}
	if err := cat.CreateAuction(ctx, a); err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	l := &store.Lot{
		AuctionID:    a.ID,
		LotNumber:    1,
		Title:        "Clock",
		StartingBid:  decimal.NewFromInt(100),
		BidIncrement: decimal.NewFromInt(10),
	}
	if err := cat.CreateLot(ctx, l); err != nil {
		t.Fatalf("CreateLot: %v", err)
	}
	return l
}
