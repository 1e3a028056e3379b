package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"accessgate/internal/approval/worker"
	httpapi "accessgate/internal/http"
	"accessgate/internal/platform/config"
	"accessgate/internal/platform/httpserver"
	"accessgate/internal/platform/logger"
	platformmetrics "accessgate/internal/platform/metrics"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("accessgate stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("accessgate stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:     log,
		AdminToken: cfg.AdminAPIToken,
		Metrics:    platformmetrics.New(),
		Live:       app.hub,
		Features:   []httpapi.Registrar{app.approvals, app.privacy},
		Health:     app.health,
		Backends:   app.backends,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.dispatcher.Run(gctx)
	})
	if cfg.Approval.SweepInterval > 0 {
		sweeper := worker.NewSweeper(app.service, cfg.Approval.SweepInterval, cfg.Approval.SweepBatch, log)
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.ShutdownTimeout, log)
	})

	log.Info("starting accessgate",
		"addr", cfg.Addr,
		"postgres_store", cfg.DatabaseURL != "",
		"redis_sink", cfg.Redis.URL != "",
		"kafka_sink", len(cfg.Kafka.Brokers) > 0,
		"sweep_interval", cfg.Approval.SweepInterval.String(),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
