package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"sorastudio/internal/domain"
	"sorastudio/internal/providers/sora"
)

// Upstream is the slice of the provider client the video service uses.
type Upstream interface {
	Create(ctx context.Context, req sora.CreateRequest) (*domain.Video, error)
	GetStatus(ctx context.Context, id string) (*domain.Video, error)
	Download(ctx context.Context, id string) (*sora.DownloadResult, error)
	Remix(ctx context.Context, sourceID string, req sora.CreateRequest) (*domain.Video, error)
}

// Cache is the read-through video cache. Implementations must fail open: a
// broken cache degrades to store reads, never to request failures.
type Cache interface {
	Get(ctx context.Context, id string) (*domain.Video, bool)
	Set(ctx context.Context, video *domain.Video)
	Invalidate(ctx context.Context, id string)
}

// CreateInput carries the caller-supplied generation parameters.
type CreateInput struct {
	Prompt  string `json:"prompt" validate:"required,max=1000"`
	Model   string `json:"model" validate:"omitempty,oneof=sora-2 sora-2-pro"`
	Size    string `json:"size" validate:"omitempty,oneof=1024x1808 1808x1024 1024x1024"`
	Seconds string `json:"seconds" validate:"omitempty,oneof=5 8 10"`
	Quality string `json:"quality" validate:"omitempty,oneof=standard high"`
}

// RemixInput carries the parameters for deriving a new job from a completed one.
type RemixInput struct {
	Prompt string `json:"prompt" validate:"required,max=1000"`
}

// CreateResult pairs a newly persisted job with the owner's quota after the
// creation was counted.
type CreateResult struct {
	Video *domain.Video
	Quota *domain.Quota
}

// DownloadMeta is the client context recorded with a download event.
type DownloadMeta struct {
	IP        string
	UserAgent string
	Country   string
}

// Videos orchestrates the job lifecycle: creation against the provider,
// local persistence, quota accounting, caching, and the audit trail.
type Videos struct {
	store    domain.VideoRepository
	quota    *QuotaLedger
	events   *EventLog
	cache    Cache
	upstream Upstream
	logger   zerolog.Logger
	validate *validator.Validate
}

// NewVideos wires the video service.
func NewVideos(store domain.VideoRepository, quota *QuotaLedger, events *EventLog, cache Cache, upstream Upstream, logger zerolog.Logger) *Videos {
	return &Videos{
		store:    store,
		quota:    quota,
		events:   events,
		cache:    cache,
		upstream: upstream,
		logger:   logger.With().Str("component", "videos").Logger(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Create validates input, checks quota, submits the job upstream, persists it
// and counts it against the owner. Validation and the quota check happen
// before any side effect.
func (s *Videos) Create(ctx context.Context, owner string, in CreateInput) (*CreateResult, error) {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if err := s.validate.Struct(in); err != nil {
		return nil, createValidationMessage(err)
	}

	check, err := s.quota.Check(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return nil, domain.ErrQuotaExceeded
	}

	video, err := s.upstream.Create(ctx, sora.CreateRequest{
		Prompt:  in.Prompt,
		Model:   in.Model,
		Size:    in.Size,
		Seconds: in.Seconds,
		Quality: in.Quality,
	})
	if err != nil {
		return nil, err
	}
	s.fillFromInput(video, owner, in)

	if err := s.store.Create(ctx, video); err != nil {
		return nil, err
	}

	quota, err := s.trackCreation(ctx, owner, video)
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, video)
	s.events.RecordCreated(ctx, video)
	s.logger.Info().Str("video_id", video.ID).Str("owner", owner).Str("model", video.Model).Msg("video created")
	return &CreateResult{Video: video, Quota: quota}, nil
}

// trackCreation counts the new job against the owner. Losing the race for
// the final quota slot soft-deletes the just-created row, so concurrent
// creations at the limit admit exactly one job.
func (s *Videos) trackCreation(ctx context.Context, owner string, video *domain.Video) (*domain.Quota, error) {
	cost := s.quota.Cost(video.Model, video.Seconds)
	quota, err := s.quota.TrackUsage(ctx, owner, video.ID, cost)
	if err == nil {
		return quota, nil
	}
	if errors.Is(err, domain.ErrQuotaExceeded) {
		s.logger.Warn().Str("video_id", video.ID).Str("owner", owner).Msg("lost quota race, rolling back creation")
		if _, delErr := s.store.SoftDelete(ctx, video.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("video_id", video.ID).Msg("rollback failed")
		}
		s.cache.Invalidate(ctx, video.ID)
	}
	return nil, err
}

func (s *Videos) fillFromInput(video *domain.Video, owner string, in CreateInput) {
	video.OwnerID = owner
	if video.Prompt == "" {
		video.Prompt = in.Prompt
	}
	if video.Size == "" {
		video.Size = in.Size
	}
	if video.Seconds == "" {
		video.Seconds = in.Seconds
	}
	if video.Quality == "" {
		video.Quality = in.Quality
	}
}

// Get returns the job by id, serving from cache when possible. Non-terminal
// cache misses trigger an opportunistic upstream refresh; if the provider is
// unreachable the stored row is served as-is.
func (s *Videos) Get(ctx context.Context, id string) (*domain.Video, bool, error) {
	if v, ok := s.cache.Get(ctx, id); ok {
		if v.Status == domain.StatusDeleted {
			return nil, false, domain.ErrNotFound
		}
		return v, true, nil
	}

	stored, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if stored.Status == domain.StatusDeleted {
		return nil, false, domain.ErrNotFound
	}

	if !stored.Status.Terminal() {
		fresh, _, err := s.Refresh(ctx, stored)
		if err != nil {
			s.logger.Warn().Err(err).Str("video_id", id).Msg("refresh failed, serving stored state")
		} else {
			stored = fresh
		}
	}

	s.cache.Set(ctx, stored)
	return stored, false, nil
}

// Refresh polls the provider for a non-terminal job and persists any change.
// It reports whether the stored row was updated. Status never moves backward
// and progress never decreases; stale upstream reads are ignored.
func (s *Videos) Refresh(ctx context.Context, stored *domain.Video) (*domain.Video, bool, error) {
	if stored.Status.Terminal() {
		return stored, false, nil
	}

	live, err := s.upstream.GetStatus(ctx, stored.ID)
	if err != nil {
		return stored, false, err
	}

	if !advances(stored, live) {
		return stored, false, nil
	}

	update := domain.StatusUpdate{Progress: &live.Progress}
	if live.FileURL != "" {
		update.FileURL = &live.FileURL
	}
	if live.ThumbnailURL != "" {
		update.ThumbnailURL = &live.ThumbnailURL
	}
	if live.ErrorMessage != "" {
		update.ErrorMessage = &live.ErrorMessage
	}
	update.CompletedAt = live.CompletedAt
	update.ExpiresAt = live.ExpiresAt

	if err := s.store.UpdateStatus(ctx, stored.ID, live.Status, update); err != nil {
		return stored, false, err
	}

	merged := *stored
	merged.Status = live.Status
	merged.Progress = live.Progress
	if live.FileURL != "" {
		merged.FileURL = live.FileURL
	}
	if live.ThumbnailURL != "" {
		merged.ThumbnailURL = live.ThumbnailURL
	}
	if live.ErrorMessage != "" {
		merged.ErrorMessage = live.ErrorMessage
	}
	if live.CompletedAt != nil {
		merged.CompletedAt = live.CompletedAt
	}
	if live.ExpiresAt != nil {
		merged.ExpiresAt = live.ExpiresAt
	}

	s.cache.Set(ctx, &merged)
	s.events.RecordStatusChanged(ctx, stored.ID, stored.Status, live.Status, live.Progress)
	if live.Status == domain.StatusFailed {
		s.events.RecordFailed(ctx, stored.ID, live.ErrorMessage)
	}
	s.logger.Debug().
		Str("video_id", stored.ID).
		Str("from", string(stored.Status)).
		Str("to", string(live.Status)).
		Int("progress", live.Progress).
		Msg("video refreshed")
	return &merged, true, nil
}

// advances reports whether the live state is strictly ahead of the stored
// one. Equal states and stale reads (an earlier status, or lower progress at
// the same status) are not persisted.
func advances(stored, live *domain.Video) bool {
	sr, lr := statusRank(stored.Status), statusRank(live.Status)
	if lr != sr {
		return lr > sr
	}
	return live.Progress > stored.Progress
}

func statusRank(s domain.Status) int {
	switch s {
	case domain.StatusQueued:
		return 0
	case domain.StatusInProgress:
		return 1
	default:
		return 2
	}
}

// List returns the owner's videos, newest first.
func (s *Videos) List(ctx context.Context, owner string, filter domain.VideoFilter) ([]domain.Video, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Validationf("invalid status filter %q", filter.Status)
	}
	return s.store.ListByOwner(ctx, owner, filter)
}

// Delete soft-deletes the job locally. The upstream copy is left alone; its
// asset expires on the provider's schedule.
func (s *Videos) Delete(ctx context.Context, id, owner string) error {
	ok, err := s.store.SoftDelete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	s.cache.Invalidate(ctx, id)
	s.events.RecordDeleted(ctx, id, owner)
	s.logger.Info().Str("video_id", id).Str("owner", owner).Msg("video deleted")
	return nil
}

// Remix submits a new job derived from a completed source. The completed
// precondition is checked locally before quota is consumed or the provider
// is contacted.
func (s *Videos) Remix(ctx context.Context, owner, sourceID string, in RemixInput) (*CreateResult, error) {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if err := s.validate.Struct(in); err != nil {
		return nil, createValidationMessage(err)
	}

	source, err := s.store.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source.Status == domain.StatusDeleted {
		return nil, domain.ErrNotFound
	}
	if source.Status != domain.StatusCompleted {
		return nil, domain.ErrSourceNotCompleted
	}

	check, err := s.quota.Check(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return nil, domain.ErrQuotaExceeded
	}

	video, err := s.upstream.Remix(ctx, sourceID, sora.CreateRequest{
		Prompt: in.Prompt,
		Model:  source.Model,
	})
	if err != nil {
		return nil, err
	}
	video.OwnerID = owner
	video.RemixedFromID = sourceID
	if video.Prompt == "" {
		video.Prompt = in.Prompt
	}

	if err := s.store.Create(ctx, video); err != nil {
		return nil, err
	}

	quota, err := s.trackCreation(ctx, owner, video)
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, video)
	s.events.RecordRemixed(ctx, video.ID, sourceID, len(in.Prompt))
	s.logger.Info().Str("video_id", video.ID).Str("source_id", sourceID).Str("owner", owner).Msg("remix created")
	return &CreateResult{Video: video, Quota: quota}, nil
}

// Download resolves a time-limited content URL for a completed job and logs
// the access.
func (s *Videos) Download(ctx context.Context, id string, meta DownloadMeta) (*sora.DownloadResult, error) {
	video, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if video.Status == domain.StatusDeleted {
		return nil, domain.ErrNotFound
	}
	if video.Status != domain.StatusCompleted {
		return nil, domain.ErrNotReady
	}

	res, err := s.upstream.Download(ctx, id)
	if err != nil {
		return nil, err
	}

	s.events.RecordDownloaded(ctx, id, meta.IP, meta.UserAgent, meta.Country)
	return res, nil
}

// Stats aggregates per-status counts for the owner's videos.
func (s *Videos) Stats(ctx context.Context, owner string) (*domain.VideoStats, error) {
	return s.store.Stats(ctx, owner)
}

// createValidationMessage translates validator failures into the messages the
// API exposes.
func createValidationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.Validationf("invalid request")
	}

	fe := verrs[0]
	switch fe.Field() {
	case "Prompt":
		if fe.Tag() == "max" {
			return domain.Validationf("prompt must be at most 1000 characters")
		}
		return domain.Validationf("prompt is required")
	case "Model":
		return domain.Validationf("model must be one of: sora-2, sora-2-pro")
	case "Size":
		return domain.Validationf("size must be one of: 1024x1808, 1808x1024, 1024x1024")
	case "Seconds":
		return domain.Validationf("seconds must be one of: 5, 8, 10")
	case "Quality":
		return domain.Validationf("quality must be one of: standard, high")
	}
	return domain.Validationf("invalid field %s", fe.Field())
}
