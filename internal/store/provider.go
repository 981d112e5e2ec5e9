package store

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/config"
	"github.com/jensholdgaard/bidcore/internal/event"
)

// Repositories groups all implementations returned by a store driver.
type Repositories struct {
	Ledger  Ledger
	Reader  Reader
	Catalog Catalog
	Events  event.Store
	// Closer is called to release underlying resources (e.g. DB connection).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
	// Migrate creates the schema if it does not exist.
	Migrate func(ctx context.Context) error
}

// Options carries the settings a driver needs beyond its connection config.
type Options struct {
	Clock clock.Clock
	// LockTimeout bounds the wait for a per-lot lock.
	LockTimeout time.Duration
}

// Driver is a function that opens a connection and returns Repositories.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, opts Options) (*Repositories, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns Repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts Options) (*Repositories, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return d(ctx, cfg, opts)
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// CloserFunc adapts a func() error into an io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }
