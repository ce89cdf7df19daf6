package service

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"sorastudio/internal/domain"
)

var (
	reconcilerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sora_reconciler_ticks_total",
		Help: "Completed reconciliation passes.",
	})
	reconcilerUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sora_reconciler_updates_total",
		Help: "Jobs whose stored state changed during reconciliation.",
	})
	reconcilerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sora_reconciler_errors_total",
		Help: "Per-job reconciliation failures.",
	})
	reconcilerPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sora_reconciler_pending_jobs",
		Help: "Non-terminal jobs seen by the last reconciliation pass.",
	})
)

const defaultReconcileWorkers = 8

// Reconciler periodically sweeps all non-terminal jobs and refreshes them
// against the provider, so jobs nobody polls still reach a terminal state.
type Reconciler struct {
	videos   *Videos
	store    domain.VideoRepository
	interval time.Duration
	workers  int
	logger   zerolog.Logger

	mu sync.Mutex // held for the duration of a pass; slow passes skip ticks
}

// NewReconciler creates a reconciler sweeping at the given interval.
func NewReconciler(videos *Videos, store domain.VideoRepository, interval time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		videos:   videos,
		store:    store,
		interval: interval,
		workers:  defaultReconcileWorkers,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")
	r.Tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one reconciliation pass. If the previous pass is still
// running the tick is skipped, so passes never overlap.
func (r *Reconciler) Tick(ctx context.Context) {
	if !r.mu.TryLock() {
		r.logger.Debug().Msg("previous pass still running, skipping tick")
		return
	}
	defer r.mu.Unlock()

	start := time.Now()
	pending, err := r.store.ListPending(ctx)
	if err != nil {
		reconcilerErrors.Inc()
		r.logger.Error().Err(err).Msg("listing pending jobs failed")
		return
	}
	reconcilerPending.Set(float64(len(pending)))
	if len(pending) == 0 {
		reconcilerTicks.Inc()
		return
	}

	var (
		wg     sync.WaitGroup
		sem    = make(chan struct{}, r.workers)
		counts struct {
			mu       sync.Mutex
			updated  int
			failed   int
			terminal int
		}
	)

	for i := range pending {
		job := pending[i]
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			fresh, changed, err := r.videos.Refresh(ctx, &job)
			counts.mu.Lock()
			defer counts.mu.Unlock()
			if err != nil {
				counts.failed++
				reconcilerErrors.Inc()
				r.logger.Warn().Err(err).Str("video_id", job.ID).Msg("job refresh failed")
				return
			}
			if changed {
				counts.updated++
				reconcilerUpdates.Inc()
				if fresh.Status.Terminal() {
					counts.terminal++
				}
			}
		}()
	}
	wg.Wait()

	reconcilerTicks.Inc()
	r.logger.Info().
		Int("pending", len(pending)).
		Int("updated", counts.updated).
		Int("reached_terminal", counts.terminal).
		Int("errors", counts.failed).
		Dur("elapsed", time.Since(start)).
		Msg("reconciliation pass complete")
}
