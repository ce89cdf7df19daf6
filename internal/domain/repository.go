package domain

import (
	"context"
	"time"
)

// VideoRepository defines persistence for video jobs.
type VideoRepository interface {
	Create(ctx context.Context, video *Video) error
	GetByID(ctx context.Context, id string) (*Video, error)
	// UpdateStatus is the sole mutation path for lifecycle fields. The
	// implementation must apply status plus all provided fields in a single
	// statement so concurrent readers never observe a partial update.
	UpdateStatus(ctx context.Context, id string, status Status, update StatusUpdate) error
	// SoftDelete marks the video deleted, preserving the row for audit
	// history. Returns false when the id is unknown.
	SoftDelete(ctx context.Context, id string) (bool, error)
	ListByOwner(ctx context.Context, owner string, filter VideoFilter) ([]Video, error)
	// ListPending returns all queued/in_progress jobs oldest-first so
	// long-waiting jobs are reconciled before recent ones.
	ListPending(ctx context.Context) ([]Video, error)
	Stats(ctx context.Context, owner string) (*VideoStats, error)
}

// QuotaRepository defines persistence for per-owner quota records.
type QuotaRepository interface {
	// Get returns ErrNotFound when the owner has no record yet.
	Get(ctx context.Context, owner string) (*Quota, error)
	CreateDefault(ctx context.Context, quota *Quota) (*Quota, error)
	// IncrementUsage bumps videos_created by one, but only while the counter
	// is below the limit; it returns ErrQuotaExceeded otherwise. The guard
	// and the increment run as one statement, so two racing creations at the
	// final slot cannot both pass.
	IncrementUsage(ctx context.Context, owner string) (*Quota, error)
	// Reset zeroes the counter and advances the period boundary.
	Reset(ctx context.Context, owner string, resetAt time.Time) (*Quota, error)
}

// EventRepository appends and reads the audit trail.
type EventRepository interface {
	Append(ctx context.Context, videoID string, eventType EventType, data map[string]any) error
	ListByVideo(ctx context.Context, videoID string) ([]Event, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]Event, error)
}
