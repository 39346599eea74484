// Package main запускает HTTP-сервер маркетплейса.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/marketplace/internal/config"
	"github.com/mmeshcher/marketplace/internal/genesis"
	"github.com/mmeshcher/marketplace/internal/handler"
	"github.com/mmeshcher/marketplace/internal/marketplace"
	"github.com/mmeshcher/marketplace/internal/metrics"
	"github.com/mmeshcher/marketplace/internal/middleware"
	"github.com/mmeshcher/marketplace/internal/model"
	"github.com/mmeshcher/marketplace/internal/repository"
)

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	alloc, err := genesis.Load(cfg.GenesisFile)
	if err != nil {
		sugar.Fatalw("genesis error", "error", err.Error())
	}

	opts := []marketplace.Option{
		marketplace.WithLogger(logger.Named("marketplace")),
		marketplace.WithSelfTransfer(cfg.AllowSelfTransfer),
	}

	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		defer repo.Close()

		snap, err := restoreState(repo, alloc)
		if err != nil {
			sugar.Fatalw("state restore error", "error", err.Error())
		}
		opts = append(opts, marketplace.WithSnapshot(snap), marketplace.WithStore(repo))
	} else {
		sugar.Warn("DATABASE_URI is empty, state is kept in memory only")
		opts = append(opts, marketplace.WithGenesis(alloc))
	}

	market, err := marketplace.New(opts...)
	if err != nil {
		sugar.Fatalw("marketplace initialization error", "error", err.Error())
	}

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, caller tokens are valid for this process only")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0)
	h := handler.NewHandler(market, logger, authMiddleware, metrics.New(market), limiter)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stats := market.Stats()
		sugar.Infow("starting marketplace server",
			"addr", cfg.RunAddress,
			"products", stats.Products,
			"users", stats.Users,
			"total_supply", stats.TotalSupply,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// restoreState записывает начальное распределение в пустую БД и читает сохранённое состояние.
func restoreState(repo *repository.PostgresRepository, alloc map[model.Identity]uint64) (model.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := repo.SeedBalances(ctx, alloc); err != nil {
		return model.Snapshot{}, fmt.Errorf("seed balances: %w", err)
	}

	snap, err := repo.Load(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("load state: %w", err)
	}
	return snap, nil
}
