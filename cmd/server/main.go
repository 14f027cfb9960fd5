package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"togoretrouve/internal/platform/config"
	"togoretrouve/internal/platform/httpserver"
	"togoretrouve/internal/platform/logger"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	if cfg.IsProduction() && cfg.JWTSigningKey == "dev-secret-key-change-in-production" {
		return errors.New("JWT_SIGNING_KEY must be set in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.close()

	app, err := wire(ctx, cfg, infra, log)
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg.Addr, otelhttp.NewHandler(app.router, "togoretrouve"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting togoretrouve", "addr", cfg.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	for _, w := range app.workers {
		g.Go(func() error { return w(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
