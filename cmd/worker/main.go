// The worker runs the lifecycle reconciler on its own, for deployments that
// separate the HTTP tier from background processing. Running it alongside
// cmd/api is harmless: per-job updates are idempotent and guarded against
// moving a job backward.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"sorastudio/internal/adapter/cache"
	"sorastudio/internal/adapter/repo"
	"sorastudio/internal/infra"
	"sorastudio/internal/infra/credentials"
	"sorastudio/internal/providers/sora"
	"sorastudio/internal/service"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}

	apiKey := cfg.OpenAIAPIKey
	if apiKey == "" {
		if stored, err := credentials.NewStore(pool).OpenAIAPIKey(ctx); err != nil {
			logger.Warn().Err(err).Msg("worker: reading stored api key failed")
		} else {
			apiKey = stored
		}
	}

	upstream := sora.NewClient(sora.Options{
		APIKey:     apiKey,
		OrgID:      cfg.OpenAIOrgID,
		ProjectID:  cfg.OpenAIProjectID,
		BaseURL:    cfg.OpenAIBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.OpenAITimeout},
		Logger:     logger,
	})

	videoRepo := repo.NewVideoRepository(pool)
	quota := service.NewQuotaLedger(repo.NewQuotaRepository(pool), logger)
	events := service.NewEventLog(repo.NewEventRepository(pool), logger)
	videoCache := cache.NewVideoCache(redisClient, logger)
	videos := service.NewVideos(videoRepo, quota, events, videoCache, upstream, logger)

	reconciler := service.NewReconciler(videos, videoRepo, cfg.ReconcileInterval, logger)
	if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: reconciler failed")
	}
	logger.Info().Msg("worker stopped")
}
