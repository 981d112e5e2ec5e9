package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/bidcore/internal/auction"
	"github.com/jensholdgaard/bidcore/internal/bot"
	"github.com/jensholdgaard/bidcore/internal/bot/commands"
	"github.com/jensholdgaard/bidcore/internal/broadcast"
	"github.com/jensholdgaard/bidcore/internal/clock"
	"github.com/jensholdgaard/bidcore/internal/config"
	"github.com/jensholdgaard/bidcore/internal/health"
	"github.com/jensholdgaard/bidcore/internal/httpapi"
	"github.com/jensholdgaard/bidcore/internal/idempotency"
	"github.com/jensholdgaard/bidcore/internal/leader"
	"github.com/jensholdgaard/bidcore/internal/lifecycle"
	"github.com/jensholdgaard/bidcore/internal/store"
	"github.com/jensholdgaard/bidcore/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/bidcore/internal/store/bunstore"
	_ "github.com/jensholdgaard/bidcore/internal/store/memstore"
	_ "github.com/jensholdgaard/bidcore/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	migrate := flag.Bool("migrate", false, "apply the database schema before serving")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath, *migrate); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string, migrate bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, store.Options{Clock: clk, LockTimeout: cfg.Bidding.LockTimeout})
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()
	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	if migrate {
		if err := repos.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
		logger.InfoContext(ctx, "schema applied")
	}

	hub, err := broadcast.NewHub(cfg.Broadcast.SubscriberBuffer, logger, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating broadcast hub: %w", err)
	}
	publishers := broadcast.Fanout{hub}

	var discordBot *bot.Bot
	if cfg.Discord.Enabled {
		if discordBot, err = bot.New(cfg.Discord, logger); err != nil {
			return fmt.Errorf("creating bot: %w", err)
		}
		if cfg.Discord.ChannelID != "" {
			publishers = append(publishers, broadcast.NewDiscordSink(discordBot.Session(), cfg.Discord.ChannelID))
		}
	}

	metrics, err := telemetry.NewBidMetrics(tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating bid metrics: %w", err)
	}
	idem, err := idempotency.New(cfg.Idempotency, clk)
	if err != nil {
		return fmt.Errorf("creating idempotency cache: %w", err)
	}

	// Bids and reversals share one sequencer so a lot's updates leave in commit order.
	updates := broadcast.NewSequencer(publishers)
	coord := auction.NewCoordinator(repos.Ledger, updates, metrics, cfg.Bidding, logger, tp.TracerProvider, clk)
	reversals := auction.NewReversalService(repos.Ledger, updates, metrics, cfg.Bidding, logger, tp.TracerProvider, clk)
	reader := auction.NewReader(repos.Reader, repos.Events, tp.TracerProvider)

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	g, gctx := errgroup.WithContext(ctx)

	router := httpapi.NewRouter(httpapi.Deps{
		Bids:        coord,
		Reversals:   reversals,
		Reader:      reader,
		Updates:     hub,
		Idempotency: idem,
		Health:      healthHandler,
		Logger:      logger,
		Tracer:      tp.TracerProvider,
		Done:        gctx.Done(),
	})
	server := httpapi.NewServer(cfg.Server, router, logger)
	g.Go(func() error { return server.Run(gctx) })

	if discordBot != nil {
		handlers := commands.NewHandlers(coord, reversals, reader, logger, tp.TracerProvider)
		if err := discordBot.Start(gctx, handlers); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("starting bot: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			if stopErr := discordBot.Stop(); stopErr != nil {
				return fmt.Errorf("stopping bot: %w", stopErr)
			}
			return nil
		})
	}

	if cfg.Lifecycle.Enabled {
		syncer := lifecycle.NewSyncer(repos.Catalog, cfg.Lifecycle.Interval, logger, tp.TracerProvider, clk)
		if cfg.LeaderElection.Enabled {
			logger.InfoContext(ctx, "leader election enabled, auction status syncer waits for leadership")
		}
		g.Go(func() error {
			return leader.Lead(gctx, cfg.LeaderElection, logger,
				func(ctx context.Context) {
					if runErr := syncer.Run(ctx); runErr != nil {
						logger.ErrorContext(ctx, "auction status syncer stopped", slog.Any("error", runErr))
					}
				},
				func(leading bool) {
					healthHandler.SetLeader(leading)
					logger.Info("leadership changed", slog.Bool("leader", leading))
				},
			)
		})
	}

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "bidcore is running", slog.String("version", version))

	<-gctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
