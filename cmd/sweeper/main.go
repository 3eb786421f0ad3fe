package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"video-pipeline/internal/config"
	"video-pipeline/internal/jobs"
	"video-pipeline/internal/logging"
	"video-pipeline/internal/storage"
	"video-pipeline/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("component", "sweeper").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.StoreDriver,
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("open job store")
	}
	defer st.Close()

	layout, err := storage.NewLayout(cfg.OutputDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("prepare output dir")
	}

	sweeper := &jobs.Sweeper{Store: st, Layout: layout, Retention: cfg.JobRetention, Logger: logger}
	logger.Info().Dur("retention", cfg.JobRetention).Dur("interval", cfg.SweepInterval).Msg("sweeper started")
	if err := sweeper.Run(ctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("sweeper stopped")
	}
}
