package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"cargolink/internal/app"
	"cargolink/internal/platform/alert"
	"cargolink/internal/platform/config"
	"cargolink/internal/platform/health"
	"cargolink/internal/platform/logger"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, warnings := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	for _, w := range warnings {
		log.Warn("config fallback", "detail", w)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	log.Info("initializing cargolink",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"cargotech_base_url", cfg.CargoTech.BaseURL,
	)

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close(log)

	healthHandler := health.New(cfg.Environment)
	infra.registerChecks(healthHandler)

	notifier := alert.Notifier(alert.NewLogNotifier(log))
	if infra.kafkaEnabled {
		notifier = alert.Multi{notifier, alert.NewKafkaNotifier(infra.publisher)}
	}

	service := app.New(cfg, app.Backends{
		CacheStore:   infra.cacheStore,
		BillingStore: infra.billingStore,
		Publisher:    infra.publisher,
		Notifier:     notifier,
		Health:       healthHandler,
	}, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           service.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	infra.startBackground(gctx, g)

	return g.Wait()
}
