package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"sorastudio/internal/domain"
)

// Per-second generation rates in USD by model.
var costPerSecond = map[string]float64{
	"sora-2":     0.10,
	"sora-2-pro": 0.20,
}

const defaultDurationSeconds = 5

// QuotaLedger tracks monthly video creation per owner. Usage accounting is
// delegated to the repository's conditional increment, so the limit holds
// even under concurrent creations.
type QuotaLedger struct {
	repo   domain.QuotaRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewQuotaLedger creates a ledger over the given repository.
func NewQuotaLedger(repo domain.QuotaRepository, logger zerolog.Logger) *QuotaLedger {
	return &QuotaLedger{
		repo:   repo,
		logger: logger.With().Str("component", "quota").Logger(),
		now:    time.Now,
	}
}

// Get returns the owner's quota record, creating a default one on first
// access and rolling the period over when reset_at has passed.
func (l *QuotaLedger) Get(ctx context.Context, owner string) (*domain.Quota, error) {
	q, err := l.repo.Get(ctx, owner)
	if err == domain.ErrNotFound {
		limit := domain.DefaultVideoLimit
		if owner == domain.AnonymousOwner {
			limit = domain.AnonymousVideoLimit
		}
		l.logger.Info().Str("owner", owner).Int("limit", limit).Msg("creating default quota")
		q, err = l.repo.CreateDefault(ctx, &domain.Quota{
			OwnerID:     owner,
			VideosLimit: limit,
			ResetAt:     NextMonthStart(l.now()),
		})
	}
	if err != nil {
		return nil, err
	}

	if l.now().After(q.ResetAt) {
		l.logger.Info().Str("owner", owner).Msg("monthly quota reset")
		return l.repo.Reset(ctx, owner, NextMonthStart(l.now()))
	}
	return q, nil
}

// Check evaluates whether the owner may create another video in the current
// period. The period is rolled over first, so the answer always reflects the
// current month.
func (l *QuotaLedger) Check(ctx context.Context, owner string) (*domain.QuotaCheck, error) {
	q, err := l.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	check := &domain.QuotaCheck{
		Allowed:   q.Remaining() > 0,
		Used:      q.VideosCreated,
		Limit:     q.VideosLimit,
		Remaining: q.Remaining(),
	}
	if !check.Allowed {
		check.Message = fmt.Sprintf("Quota exceeded. You have used %d of %d videos.", q.VideosCreated, q.VideosLimit)
	}
	return check, nil
}

// TrackUsage counts one creation against the owner. The increment is guarded
// by the limit in a single statement; ErrQuotaExceeded means the owner lost
// the race for the final slot.
func (l *QuotaLedger) TrackUsage(ctx context.Context, owner, videoID string, cost float64) (*domain.Quota, error) {
	// Ensure the record exists and the period is current before counting.
	if _, err := l.Get(ctx, owner); err != nil {
		return nil, err
	}

	q, err := l.repo.IncrementUsage(ctx, owner)
	if err != nil {
		return nil, err
	}
	l.logger.Info().
		Str("owner", owner).
		Str("video_id", videoID).
		Float64("cost", cost).
		Int("used", q.VideosCreated).
		Int("limit", q.VideosLimit).
		Msg("usage tracked")
	return q, nil
}

// Cost computes the generation cost for a model/duration pair. Two rate
// tiers exist; unknown models are billed at the base tier.
func (l *QuotaLedger) Cost(model, seconds string) float64 {
	duration := defaultDurationSeconds
	if s, err := strconv.Atoi(seconds); err == nil && s > 0 {
		duration = s
	}
	rate, ok := costPerSecond[model]
	if !ok {
		rate = costPerSecond["sora-2"]
	}
	return math.Round(rate*float64(duration)*100) / 100
}

// NextMonthStart returns the first instant of the month following t, in UTC.
func NextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
