package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wakala/loanengine/internal/api"
	"github.com/wakala/loanengine/internal/config"
	"github.com/wakala/loanengine/internal/ingestion"
	"github.com/wakala/loanengine/internal/logging"
	"github.com/wakala/loanengine/internal/metrics"
	"github.com/wakala/loanengine/internal/oracle"
	"github.com/wakala/loanengine/internal/repository"
	"github.com/wakala/loanengine/internal/servicing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Output(cfg.LogFile), "loanengine", cfg.AppEnv, cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("initializing database", slog.String("path", cfg.DBPath))
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	defer db.Close()

	// Create repositories.
	loanRepo := repository.NewLoanRepo(db)
	repaymentRepo := repository.NewRepaymentRepo(db)
	intentRepo := repository.NewIntentRepo(db)
	snapshotRepo := repository.NewSnapshotRepo(db)

	// Create services.
	m := metrics.Engine()
	ingestionSvc := ingestion.NewService(snapshotRepo, logger, m)
	loanSvc := servicing.NewService(loanRepo, repaymentRepo, intentRepo,
		oracle.NewStore(snapshotRepo, cfg.SnapshotMaxAge),
		servicing.Options{
			Treasury:         cfg.TreasuryAddress,
			DefaultAfterDays: cfg.DefaultAfterDays,
			Logger:           logger,
			Metrics:          m,
		},
	)

	if cfg.SnapshotSeed != "" {
		if err := seedSnapshots(ctx, ingestionSvc, cfg.SnapshotSeed, logger); err != nil {
			logger.Warn("failed to seed collateral snapshots", slog.String("error", err.Error()))
		}
	}

	limiter := api.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)
	defer limiter.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(loanSvc, ingestionSvc, snapshotRepo, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("loan engine listening",
			slog.String("addr", "http://localhost:"+cfg.Port),
			slog.String("api", "/api/v1"),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("delinquency sweeper started",
			slog.Duration("interval", cfg.SweepInterval),
			slog.Int("default_after_days", cfg.DefaultAfterDays),
		)
		return loanSvc.RunSweeper(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func seedSnapshots(ctx context.Context, svc *ingestion.Service, path string, logger *slog.Logger) error {
	// Try the configured path, then relative to the executable.
	candidates := []string{path}
	if exe, err := os.Executable(); err == nil && !filepath.IsAbs(path) {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, path),
			filepath.Join(dir, "..", "..", path),
		)
	}

	var data []byte
	var loadErr error
	for _, p := range candidates {
		data, loadErr = os.ReadFile(p)
		if loadErr == nil {
			logger.Info("loaded collateral snapshots", slog.String("path", p))
			break
		}
	}
	if loadErr != nil {
		return fmt.Errorf("could not find %s in any candidate path: %w", path, loadErr)
	}

	format := ingestion.FormatJSON
	if filepath.Ext(path) == ".csv" {
		format = ingestion.FormatCSV
	}
	res, err := svc.IngestFeed(ctx, data, "seed", format)
	if err != nil {
		return fmt.Errorf("ingest seed: %w", err)
	}
	if res.AlreadyIngested {
		logger.Info("seed snapshots already ingested, skipping")
	}
	return nil
}
