package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/bot"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/eligibility"
	"github.com/jensholdgaard/auctiond/internal/health"
	"github.com/jensholdgaard/auctiond/internal/httpapi"
	"github.com/jensholdgaard/auctiond/internal/keymap"
	"github.com/jensholdgaard/auctiond/internal/leader"
	"github.com/jensholdgaard/auctiond/internal/store"
	"github.com/jensholdgaard/auctiond/internal/store/memstore"
	"github.com/jensholdgaard/auctiond/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/auctiond/internal/store/entstore"
	_ "github.com/jensholdgaard/auctiond/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	importPath := flag.String("import", "", "import a YAML roster into the configured store and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath, *importPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath, importPath string) error {
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

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to store", slog.String("driver", cfg.Database.Driver))

	if importPath != "" {
		return importRoster(ctx, repos, importPath, logger)
	}

	bidLadder, err := cfg.Auction.BidLadder()
	if err != nil {
		return fmt.Errorf("building bid ladder: %w", err)
	}
	metrics, err := auction.NewMetrics(tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating auction metrics: %w", err)
	}
	auctionMgr := auction.NewManager(auction.SessionConfig{
		Name:   cfg.Auction.Name,
		Ladder: bidLadder,
		Policy: eligibility.Policy{SlotReserve: cfg.Auction.SlotReserve},
		Seed:   cfg.Auction.RandomSeed,
	}, repos.Events, repos.Roster, metrics, logger, tp.TracerProvider, clk)

	gate := leader.NewGate(!cfg.LeaderElection.Enabled)

	healthHandler := health.NewHandler(clk,
		health.Checker{Name: "store", Check: repos.Ping},
		health.Checker{Name: "leader", Check: gate.Check},
	)
	healthHandler.SetDetails(func() any {
		snap, err := auctionMgr.Snapshot()
		if err != nil {
			return nil
		}
		return map[string]any{
			"sessionId": snap.SessionID,
			"phase":     snap.Phase,
			"round":     snap.Round,
			"summary":   snap.Summary,
		}
	})

	// The HTTP server runs on all replicas; mutations are refused on standbys.
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: httpapi.NewRouter(httpapi.Deps{
			Auction:        auctionMgr,
			Keys:           keymap.New(clk, cfg.Keyboard.ChordWindow),
			Leader:         gate,
			Health:         healthHandler,
			Metrics:        tp.MetricsHandler(),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         logger,
			TracerProvider: tp.TracerProvider,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	// lead is the work only the leader runs. It blocks until ctx is done.
	lead := func(ctx context.Context) error {
		if err := startSession(ctx, auctionMgr, cfg.Auction.Resume); err != nil {
			return err
		}
		if cfg.Roster.ReloadInterval > 0 {
			go reloadRoster(ctx, auctionMgr, cfg.Roster.ReloadInterval, logger)
		}

		var discordBot *bot.Bot
		if cfg.Discord.Token != "" {
			discordBot, err = bot.New(cfg.Discord, auctionMgr, gate, logger, tp.TracerProvider)
			if err != nil {
				return fmt.Errorf("creating bot: %w", err)
			}
			if err := discordBot.Start(ctx); err != nil {
				return fmt.Errorf("starting bot: %w", err)
			}
		}

		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "auctiond is running", slog.String("version", version))

		<-ctx.Done()

		healthHandler.SetReady(false)
		if discordBot != nil {
			if stopErr := discordBot.Stop(); stopErr != nil {
				logger.Error("bot shutdown error", slog.Any("error", stopErr))
			}
		}
		return nil
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, gate, func(ctx context.Context) {
			if err := lead(ctx); err != nil {
				logger.ErrorContext(ctx, "leader startup failed", slog.Any("error", err))
				cancel()
			}
		}, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else if err := lead(ctx); err != nil {
		return err
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

// startSession recovers the latest journaled session when resume is set,
// and otherwise (or when there is nothing to recover) loads a fresh one.
func startSession(ctx context.Context, mgr *auction.Manager, resume bool) error {
	if resume {
		_, err := mgr.Recover(ctx, "")
		if err == nil {
			return nil
		}
		if !errors.Is(err, auction.ErrNothingToRecover) {
			return fmt.Errorf("recovering session: %w", err)
		}
	}
	if _, err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	return nil
}

func reloadRoster(ctx context.Context, mgr *auction.Manager, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := mgr.ReloadRoster(ctx); err != nil {
				logger.WarnContext(ctx, "roster reload failed", slog.Any("error", err))
			}
		}
	}
}

func importRoster(ctx context.Context, repos *store.Repositories, path string, logger *slog.Logger) error {
	players, teams, err := memstore.ReadRoster(path)
	if err != nil {
		return fmt.Errorf("reading roster: %w", err)
	}
	if err := repos.Roster.ImportRoster(ctx, players, teams); err != nil {
		return fmt.Errorf("importing roster: %w", err)
	}
	logger.InfoContext(ctx, "roster imported",
		slog.String("path", path),
		slog.Int("players", len(players)),
		slog.Int("teams", len(teams)),
	)
	return nil
}
