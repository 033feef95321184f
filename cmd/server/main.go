package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xtrntr/unifi/internal/api"
	"github.com/xtrntr/unifi/internal/auth"
	"github.com/xtrntr/unifi/internal/config"
	"github.com/xtrntr/unifi/internal/dashboard"
	"github.com/xtrntr/unifi/internal/db"
	"github.com/xtrntr/unifi/internal/ledger"
	"github.com/xtrntr/unifi/internal/logging"
	"github.com/xtrntr/unifi/internal/market"
	"github.com/xtrntr/unifi/internal/ratelimit"
	"github.com/xtrntr/unifi/internal/trading"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Log)
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	authService := auth.NewService(store, tokens)
	authService.InitialBalance = decimal.NewFromFloat(cfg.Trading.InitialBalance)
	authService.Logger = logger
	if cfg.Auth.TrustUnverifiedWalletSignatures {
		logger.Warn("wallet signatures are not verified, do not run this configuration in production")
		authService.Verifier = auth.TrustUnverified{Logger: logger}
	}

	l := ledger.New(store)
	tradingService := trading.NewService(store, l)
	tradingService.FeeRate = decimal.NewFromFloat(cfg.Trading.FeeRate)
	tradingService.Logger = logger
	dashboardService := dashboard.NewService(store, l)

	// Market data
	candles := market.NewCandles(market.NewBinanceSource(cfg.Market.BinanceURL))
	candles.Timeout = cfg.Market.Timeout
	candles.Logger = logger

	swaps := market.NewAggregator(cfg.Market.AggregatorURL, cfg.Market.AggregatorKey, cfg.Market.ChainID, cfg.Market.Timeout)
	swaps.Logger = logger
	if cfg.Market.AggregatorKey == "" {
		logger.Warn("swap aggregator key not set, quotes are disabled and the token list is static")
	}

	g, gctx := errgroup.WithContext(ctx)

	// open price streams end with the server
	streamer := market.NewStreamer(gctx, candles, cfg.Market.RefreshInterval, cfg.Server.AllowedOrigins)
	streamer.Logger = logger

	routerCfg := api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Streamer:       streamer,
		Metrics:        true,
		Logger:         logger,
	}
	if cfg.RateLimit.Enabled {
		limiter, closeLimiter := newLimiter(ctx, cfg.Redis, logger)
		defer closeLimiter()
		routerCfg.Limiter = limiter
		routerCfg.RateLimit = ratelimit.Limit{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window}
	}

	handler := api.NewHandler(store, authService, tradingService, dashboardService, candles, swaps)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(handler, routerCfg),
		// only the header read is bounded so upgraded websocket connections
		// keep an open read deadline
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		logger.Info("Server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Trading.Worker.Enabled {
		worker := trading.NewWorker(tradingService, candles, cfg.Trading.Worker.Interval)
		worker.Batch = cfg.Trading.Worker.Batch
		worker.Logger = logger
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (db.Store, error) {
	if cfg.Driver == "memory" {
		logger.Warn("using the in-memory store, data is lost on restart")
		return db.NewMemory(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := db.NewDB(connectCtx, cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")
	return store, nil
}

// newLimiter prefers shared Redis counters and falls back to per-process
// counters when Redis is not configured or unreachable.
func newLimiter(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (ratelimit.Limiter, func()) {
	if cfg.Addr == "" {
		return ratelimit.NewMemoryLimiter(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-process rate limit counters", "addr", cfg.Addr, "error", err)
		client.Close()
		return ratelimit.NewMemoryLimiter(), func() {}
	}

	logger.Info("rate limiting with redis", "addr", cfg.Addr)
	return ratelimit.NewRedisLimiter(client), func() { client.Close() }
}
