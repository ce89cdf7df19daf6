package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sorastudio/internal/adapter/cache"
	"sorastudio/internal/adapter/repo"
	"sorastudio/internal/http/handlers"
	"sorastudio/internal/http/httpapi"
	"sorastudio/internal/infra"
	"sorastudio/internal/infra/credentials"
	"sorastudio/internal/infra/geoip"
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
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	if redisClient == nil {
		logger.Warn().Msg("REDIS_URL not set, running without cache")
	}

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open geoip database")
	}
	defer geo.Close()

	// The API key can live in the environment or in the database, for
	// deployments that rotate it at runtime.
	apiKey := cfg.OpenAIAPIKey
	if apiKey == "" {
		if stored, err := credentials.NewStore(pool).OpenAIAPIKey(ctx); err != nil {
			logger.Warn().Err(err).Msg("reading stored api key failed")
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
	quotaRepo := repo.NewQuotaRepository(pool)
	eventRepo := repo.NewEventRepository(pool)

	videoCache := cache.NewVideoCache(redisClient, logger)
	quota := service.NewQuotaLedger(quotaRepo, logger)
	events := service.NewEventLog(eventRepo, logger)
	videos := service.NewVideos(videoRepo, quota, events, videoCache, upstream, logger)

	reconciler := service.NewReconciler(videos, videoRepo, cfg.ReconcileInterval, logger)
	go func() {
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("reconciler exited")
		}
	}()

	app := &handlers.App{
		Videos:   videos,
		Quota:    quota,
		Events:   events,
		Geo:      geo,
		Logger:   logger,
		MockMode: upstream.MockMode(),
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:         logger,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: splitOrigins(cfg.FrontendURL),
		RateLimit:      cfg.RateLimitPerMin,
		RateWindow:     time.Minute,
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func splitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
