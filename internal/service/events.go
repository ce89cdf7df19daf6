package service

import (
	"context"

	"github.com/rs/zerolog"

	"sorastudio/internal/domain"
)

// EventLog appends lifecycle events. Writes are best-effort: a failed append
// is logged and swallowed so it never breaks the request that triggered it.
type EventLog struct {
	repo   domain.EventRepository
	logger zerolog.Logger
}

// NewEventLog creates a log over the given repository.
func NewEventLog(repo domain.EventRepository, logger zerolog.Logger) *EventLog {
	return &EventLog{
		repo:   repo,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

func (e *EventLog) record(ctx context.Context, videoID string, eventType domain.EventType, data map[string]any) {
	if err := e.repo.Append(ctx, videoID, eventType, data); err != nil {
		e.logger.Warn().Err(err).
			Str("video_id", videoID).
			Str("event_type", string(eventType)).
			Msg("event append failed")
	}
}

// RecordCreated logs a new generation job.
func (e *EventLog) RecordCreated(ctx context.Context, v *domain.Video) {
	e.record(ctx, v.ID, domain.EventCreated, map[string]any{
		"model":         v.Model,
		"size":          v.Size,
		"seconds":       v.Seconds,
		"prompt_length": len(v.Prompt),
	})
}

// RecordStatusChanged logs a transition observed during refresh.
func (e *EventLog) RecordStatusChanged(ctx context.Context, videoID string, from, to domain.Status, progress int) {
	e.record(ctx, videoID, domain.EventStatusChanged, map[string]any{
		"from":     string(from),
		"to":       string(to),
		"progress": progress,
	})
}

// RecordFailed logs the terminal failure of a job.
func (e *EventLog) RecordFailed(ctx context.Context, videoID, message string) {
	e.record(ctx, videoID, domain.EventFailed, map[string]any{
		"error": message,
	})
}

// RecordDeleted logs a soft delete.
func (e *EventLog) RecordDeleted(ctx context.Context, videoID, owner string) {
	e.record(ctx, videoID, domain.EventDeleted, map[string]any{
		"owner": owner,
	})
}

// RecordDownloaded logs a content URL request with client context.
func (e *EventLog) RecordDownloaded(ctx context.Context, videoID, ip, userAgent, country string) {
	data := map[string]any{
		"ip":         ip,
		"user_agent": userAgent,
	}
	if country != "" {
		data["country"] = country
	}
	e.record(ctx, videoID, domain.EventDownloaded, data)
}

// RecordRemixed logs a remix, attached to the new job.
func (e *EventLog) RecordRemixed(ctx context.Context, videoID, sourceID string, promptLength int) {
	e.record(ctx, videoID, domain.EventRemixed, map[string]any{
		"source_id":     sourceID,
		"prompt_length": promptLength,
	})
}

// ListByVideo returns the newest events for one video.
func (e *EventLog) ListByVideo(ctx context.Context, videoID string) ([]domain.Event, error) {
	return e.repo.ListByVideo(ctx, videoID)
}

// ListByOwner returns the newest events across all of an owner's videos.
func (e *EventLog) ListByOwner(ctx context.Context, owner string, limit int) ([]domain.Event, error) {
	return e.repo.ListByOwner(ctx, owner, limit)
}
