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
	"github.com/openleague/league-manager/internal/game"
	"github.com/openleague/league-manager/internal/referee"
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
		Timeout:     cfg.MoveResponse,
		MaxAttempts: cfg.RetryMaxAttempts,
		Backoff:     cfg.RetryBackoff,
		Audit:       sink,
		Logger:      logger,
	})

	engines := game.NewRegistry()
	engines.Register(game.EvenOddType, game.NewEvenOdd)

	ref := referee.New(referee.Options{
		ID:       cfg.AgentID,
		Endpoint: endpoint,
		LMURL:    cfg.LMURL,
		Client:   client,
		Engines:  engines,
		Config:   cfg,
		Logger:   logger,
	})

	server := transport.NewServer(transport.ServerConfig{
		Dispatcher: ref,
		Audit:      sink,
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(gctx, cfg.Port) })
	g.Go(func() error {
		// The LM must be able to dial us back, so the server starts first and
		// enrollment follows.
		if err := ref.Enroll(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		// Let an accepted match finish before the process exits.
		if !ref.WaitIdle(30 * time.Second) {
			sugar.Warnw("Shutting down with a match still running")
		}
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Fatalw("Referee exited", "error", err)
	}
	sugar.Infow("Referee stopped")
}

func newLogger(env string) *zap.Logger {
	if env == "production" {
		logger, _ := zap.NewProduction()
		return logger
	}
	logger, _ := zap.NewDevelopment()
	return logger
}
