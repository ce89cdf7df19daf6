package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sorastudio/internal/domain"
)

const keyPrefix = "sora:video:"

// TTL policy by status: a completed video is immutable and cheap to serve
// stale, while pending/failed entries must expire quickly so clients never
// see outdated progress for long.
const (
	completedTTL = time.Hour
	defaultTTL   = 5 * time.Minute
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sora_cache_hits_total",
		Help: "Total number of video cache hits.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sora_cache_misses_total",
		Help: "Total number of video cache misses.",
	})
	cacheErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sora_cache_errors_total",
		Help: "Total number of cache operations that failed and were treated as misses.",
	})
)

// VideoCache is a weak, time-bounded copy of video records in redis. It is
// never the source of truth: every operation fails open, so a broken or
// absent redis only costs cache hits, never correctness.
type VideoCache struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewVideoCache wraps the given redis client. A nil client disables the
// cache entirely; every read becomes a miss and writes are dropped.
func NewVideoCache(client *redis.Client, logger zerolog.Logger) *VideoCache {
	return &VideoCache{client: client, logger: logger.With().Str("component", "cache").Logger()}
}

// Get returns the cached video and true on a hit. Errors are logged and
// reported as a miss.
func (c *VideoCache) Get(ctx context.Context, id string) (*domain.Video, bool) {
	if c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if err != redis.Nil {
			cacheErrorsTotal.Inc()
			c.logger.Warn().Err(err).Str("video_id", id).Msg("cache get failed")
		}
		cacheMissesTotal.Inc()
		return nil, false
	}

	var v domain.Video
	if err := json.Unmarshal(raw, &v); err != nil {
		cacheErrorsTotal.Inc()
		c.logger.Warn().Err(err).Str("video_id", id).Msg("cache entry corrupt, dropping")
		c.Invalidate(ctx, id)
		return nil, false
	}

	cacheHitsTotal.Inc()
	return &v, true
}

// Set stores the video with a TTL derived from its status.
func (c *VideoCache) Set(ctx context.Context, v *domain.Video) {
	if c.client == nil || v == nil {
		return
	}

	raw, err := json.Marshal(v)
	if err != nil {
		cacheErrorsTotal.Inc()
		c.logger.Warn().Err(err).Str("video_id", v.ID).Msg("cache marshal failed")
		return
	}

	if err := c.client.Set(ctx, keyPrefix+v.ID, raw, TTLForStatus(v.Status)).Err(); err != nil {
		cacheErrorsTotal.Inc()
		c.logger.Warn().Err(err).Str("video_id", v.ID).Msg("cache set failed")
	}
}

// Invalidate drops the cached entry, if any.
func (c *VideoCache) Invalidate(ctx context.Context, id string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		cacheErrorsTotal.Inc()
		c.logger.Warn().Err(err).Str("video_id", id).Msg("cache invalidate failed")
	}
}

// TTLForStatus returns the cache lifetime for a video in the given state.
func TTLForStatus(status domain.Status) time.Duration {
	if status == domain.StatusCompleted {
		return completedTTL
	}
	return defaultTTL
}
