package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"mediagen/internal/app"
	httpapi "mediagen/internal/http"
	"mediagen/internal/http/handlers"
	"mediagen/internal/infra"
)

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return app.ExitCode(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("api: startup failed")
		return app.ExitCode(err)
	}
	defer rt.Close()

	if err := rt.Rebuild(ctx); err != nil {
		logger.Error().Err(err).Msg("api: startup failed")
		return app.ExitSoftware
	}
	pool, err := rt.Pool()
	if err != nil {
		logger.Error().Err(err).Msg("api: worker pool")
		return app.ExitSoftware
	}

	router := httpapi.NewRouter(handlers.NewApp(rt.Service(), &logger), httpapi.RouterOptions{
		Logger:          &logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(ctx, cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		return server.Start()
	})
	g.Go(func() error {
		return pool.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout+5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: stopped with error")
		return app.ExitSoftware
	}
	logger.Info().Msg("api: stopped")
	return app.ExitOK
}
