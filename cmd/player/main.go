package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openleague/league-manager/internal/audit"
	"github.com/openleague/league-manager/internal/config"
	"github.com/openleague/league-manager/internal/player"
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

	if cfg.AgentID == "" {
		sugar.Fatalw("AGENT_ID is required")
	}
	endpoint := cfg.SelfEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := audit.NewFileSink(cfg.AuditPath)
	if err != nil {
		sugar.Fatalw("Failed to open audit log", "path", cfg.AuditPath, "error", err)
	}
	defer sink.Close()

	client := transport.NewClient(transport.ClientConfig{
		Timeout:     cfg.RegistrationResponse,
		MaxAttempts: cfg.RetryMaxAttempts,
		Backoff:     cfg.RetryBackoff,
		Audit:       sink,
		Logger:      logger,
	})

	p := player.New(player.Options{
		ID:       cfg.AgentID,
		Endpoint: endpoint,
		LMURL:    cfg.LMURL,
		Client:   client,
		Strategy: player.NewRandomNumberStrategy(time.Now().UnixNano(), 100),
		Logger:   logger,
	})

	server := transport.NewServer(transport.ServerConfig{
		Dispatcher: p,
		Audit:      sink,
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(gctx, cfg.Port) })
	g.Go(func() error {
		if err := p.Enroll(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Fatalw("Player exited", "error", err)
	}
	sugar.Infow("Player stopped")
}

func newLogger(env string) *zap.Logger {
	if env == "production" {
		logger, _ := zap.NewProduction()
		return logger
	}
	logger, _ := zap.NewDevelopment()
	return logger
}
