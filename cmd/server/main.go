package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/aniemerg/yieldtoken/internal/config"
	"github.com/aniemerg/yieldtoken/internal/metrics"
	"github.com/aniemerg/yieldtoken/internal/store"
	"github.com/aniemerg/yieldtoken/internal/token"
	"github.com/aniemerg/yieldtoken/internal/treasury"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "treasurerd",
	Short: "treasurerd - collateralized fixed-maturity debt issuance service",
	Long: `treasurerd runs the treasurer: a vault of collateral backing
fixed-maturity debt-token series, with issuance, repayment, liquidation,
settlement, and redemption exposed over an HTTP API.`,
	Version: "0.1.0",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	params, err := cfg.Params()
	if err != nil {
		return err
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("invalid redis_url: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Position limits ---
	limiter, err := cfg.Limiter()
	if err != nil {
		return err
	}

	// --- WebSocket hub ---
	hub := treasury.NewHub()
	go hub.Run()

	// --- Treasury service ---
	// The in-process asset and token ledgers stand in for external
	// transfer infrastructure in single-node deployments.
	asset := token.NewMemoryAsset()
	svc := treasury.NewService(params, st, asset, token.MemoryFactory{}, nil, limiter, hub)
	if err := svc.Restore(context.Background()); err != nil {
		return fmt.Errorf("restore treasury: %w", err)
	}

	if ora, err := cfg.BuildOracle(); err != nil {
		return err
	} else if ora != nil {
		if err := svc.SetOracle(ora); err != nil {
			return err
		}
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"treasurer"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time protocol events.
		r.Get("/ws", hub.HandleWS)

		// Vault.
		r.Post("/vault/deposit", svc.HandleDeposit)
		r.Post("/vault/withdraw", svc.HandleWithdraw)
		r.Get("/vault/{account}", svc.HandleBalance)

		// Series registry and lifecycle.
		r.Get("/series", svc.HandleListSeries)
		r.Post("/series", svc.HandleCreateSeries)
		r.Get("/series/{seriesID}", svc.HandleGetSeries)
		r.Post("/series/{seriesID}/issue", svc.HandleIssue)
		r.Post("/series/{seriesID}/wipe", svc.HandleWipe)
		r.Post("/series/{seriesID}/liquidate", svc.HandleLiquidate)
		r.Post("/series/{seriesID}/settle", svc.HandleSettle)
		r.Post("/series/{seriesID}/redeem", svc.HandleRedeem)
		r.Post("/series/{seriesID}/close", svc.HandleClose)
		r.Get("/series/{seriesID}/repos/{account}", svc.HandleGetRepo)
		r.Get("/series/{seriesID}/token", svc.HandleGetToken)
		r.Get("/series/{seriesID}/price", svc.HandleSettledPrice)
		r.Get("/series/{seriesID}/journal", svc.HandleSeriesJournal)

		// Account queries.
		r.Get("/accounts/{account}/journal", svc.HandleAccountJournal)

		// One-time oracle configuration.
		r.Post("/oracle", svc.HandleSetOracle)
		r.Get("/oracle", svc.HandleGetOracle)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("treasurer listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down treasurer...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("treasurer stopped")
	return nil
}
