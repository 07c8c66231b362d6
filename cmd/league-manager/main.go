package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openleague/league-manager/internal/audit"
	"github.com/openleague/league-manager/internal/auth"
	"github.com/openleague/league-manager/internal/config"
	"github.com/openleague/league-manager/internal/league"
	"github.com/openleague/league-manager/internal/store"
	"github.com/openleague/league-manager/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Sugar().Fatalw("Failed to load configuration", "error", err)
	}
	logger := newLogger(cfg.Env)
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		sugar.Fatalw("Failed to open store", "driver", cfg.StoreDriver, "error", err)
	}
	defer st.Close()

	sink := buildAuditSink(ctx, cfg, logger, sugar)
	defer sink.Close()

	var mirror *league.Mirror
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			sugar.Fatalw("Invalid REDIS_URL", "error", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		mirror = league.NewMirror(rdb, logger)
		sugar.Infow("Redis live mirror enabled")
	}

	client := transport.NewClient(transport.ClientConfig{
		Timeout:     cfg.MatchJoinAck,
		MaxAttempts: cfg.RetryMaxAttempts,
		Backoff:     cfg.RetryBackoff,
		Audit:       sink,
		Logger:      logger,
	})

	manager := league.NewManager(league.Options{
		Store:  st,
		Auth:   auth.NewManager(),
		Client: client,
		Config: cfg,
		Mirror: mirror,
		Logger: logger,
	})
	if err := manager.Bootstrap(ctx); err != nil {
		sugar.Fatalw("Failed to bootstrap league", "error", err)
	}

	server := transport.NewServer(transport.ServerConfig{
		Dispatcher:     manager,
		Audit:          sink,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(gctx, cfg.Port) })
	g.Go(func() error { return manager.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Fatalw("League manager exited", "error", err)
	}
	sugar.Infow("League manager stopped")
}

func newLogger(env string) *zap.Logger {
	if env == "production" {
		logger, _ := zap.NewProduction()
		return logger
	}
	logger, _ := zap.NewDevelopment()
	return logger
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		return store.NewMemory(), nil
	}
	return store.NewPostgres(ctx, cfg.PostgresURL)
}

// buildAuditSink assembles the append-only trail: the JSONL file is always
// on, ClickHouse joins in when configured.
func buildAuditSink(ctx context.Context, cfg *config.Config, logger *zap.Logger, sugar *zap.SugaredLogger) audit.Sink {
	file, err := audit.NewFileSink(cfg.AuditPath)
	if err != nil {
		sugar.Fatalw("Failed to open audit log", "path", cfg.AuditPath, "error", err)
	}
	if cfg.ClickHouseURL == "" {
		return file
	}
	ch, err := audit.NewClickHouseSink(ctx, cfg.ClickHouseURL, logger)
	if err != nil {
		sugar.Warnw("ClickHouse audit sink unavailable, continuing with file only", "error", err)
		return file
	}
	sugar.Infow("ClickHouse audit sink enabled")
	return audit.MultiSink{file, ch}
}
