package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"runserver/database"
	"runserver/internal/config"
	"runserver/internal/microservices/admin"
	"runserver/internal/microservices/tcp"
	"runserver/internal/store"
)

func main() {
	// Load config (fallback to env/default)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	// Setup structured logging
	logger := newLogger(os.Stdout, cfg)
	slog.SetDefault(logger)
	logger.Info("starting_tcp_server", "config", cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	frameMode, err := tcp.ParseFrameMode(cfg.TCPFrameMode)
	if err != nil {
		return err
	}
	server := tcp.NewServer(st, tcp.Options{
		Table:             cfg.DBTable,
		MaxConnections:    cfg.TCPMaxConnections,
		FrameMode:         frameMode,
		MaxFrameBytes:     cfg.TCPMaxFrameBytes,
		IdleTimeout:       cfg.TCPIdleTimeout,
		ResponseDelimiter: cfg.TCPResponseDelimiter,
		RateLimit:         cfg.TCPRateLimit,
		RateBurst:         cfg.TCPRateBurst,
		StoreTimeout:      cfg.StoreTimeout,
		StrictLogin:       cfg.LoginStrict,
	}, logger)

	if err := server.Start(cfg.TCPHost, cfg.TCPPort); err != nil {
		return err
	}
	defer server.Stop()

	if cfg.AdminPort > 0 {
		auth, err := admin.NewAuth(cfg.AdminPasswordHash, cfg.AdminTokenSecret, cfg.AdminTokenTTL)
		if err != nil {
			return err
		}
		adminServer := admin.NewServer(admin.NewHandler(server, st, auth), logger)
		if err := adminServer.Start(cfg.AdminAddr()); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("admin_shutdown_failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("received_shutdown_signal")
	return nil
}

// openStore selects the record store from DB_DRIVER and puts the redis
// cache in front of it when REDIS_URL is set
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Client, func(), error) {
	var base store.Client
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.DBDriver {
	case "memory":
		logger.Warn("using_in_memory_store", "table", cfg.DBTable)
		base = store.NewMemoryStore(cfg.DBContentColumn)
	default:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := database.Connect(connectCtx, cfg.DSN(), database.DefaultPoolOptions(), logger)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := database.Close(db); err != nil {
				logger.Warn("database_close_failed", "error", err)
			}
		})
		if err := database.EnsureTable(connectCtx, db, cfg.DBTable, cfg.DBContentColumn); err != nil {
			cleanup()
			return nil, nil, err
		}
		base = store.NewGormStore(db, cfg.DBContentColumn, logger)
	}

	if cfg.RedisURL == "" {
		return base, cleanup, nil
	}
	rdb, err := store.NewRedisClient(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		// the cache is optional, serve uncached
		logger.Warn("redis_unavailable", "error", err)
		return base, cleanup, nil
	}
	cached := store.NewCachedStore(base, rdb, cfg.CacheTTLDuration(), logger)
	closers = append(closers, func() {
		if err := cached.Close(); err != nil {
			logger.Warn("redis_close_failed", "error", err)
		}
	})
	logger.Info("redis_cache_enabled", "ttl", cfg.CacheTTLDuration().String())
	return cached, cleanup, nil
}
