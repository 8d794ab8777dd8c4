package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mediagen/internal/app"
	"mediagen/internal/infra"
)

func main() {
	os.Exit(run())
}

func run() int {
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
		logger.Error().Err(err).Msg("worker: startup failed")
		return app.ExitCode(err)
	}
	defer rt.Close()

	if err := rt.Rebuild(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: startup failed")
		return app.ExitSoftware
	}
	pool, err := rt.Pool()
	if err != nil {
		logger.Error().Err(err).Msg("worker: pool")
		return app.ExitSoftware
	}

	logger.Info().Int("size", cfg.WorkerPoolSize).Msg("worker: started")
	if err := pool.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: stopped with error")
		return app.ExitSoftware
	}
	logger.Info().Msg("worker: stopped")
	return app.ExitOK
}
