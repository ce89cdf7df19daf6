package domain

import "time"

// Status enumerates video job lifecycle states.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeleted    Status = "deleted"
)

// Terminal reports whether the status admits no further upstream transitions.
// Terminal jobs are never polled again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeleted
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCompleted, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

// Video is one generation job: the upstream-assigned id plus the locally
// tracked lifecycle state. Generation parameters are captured at creation
// and never mutated afterward.
type Video struct {
	ID            string
	OwnerID       string
	Model         string
	Status        Status
	Progress      int
	Prompt        string
	Size          string
	Seconds       string
	Quality       string
	RemixedFromID string
	FileURL       string
	ThumbnailURL  string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	ExpiresAt     *time.Time
}

// StatusUpdate carries the optional fields persisted together with a status
// change. Nil fields are left untouched by the store.
type StatusUpdate struct {
	Progress     *int
	FileURL      *string
	ThumbnailURL *string
	ErrorMessage *string
	CompletedAt  *time.Time
	ExpiresAt    *time.Time
}

// VideoFilter narrows ListByOwner results.
type VideoFilter struct {
	Status Status
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// VideoStats aggregates per-status counts for an owner.
type VideoStats struct {
	Total      int `json:"total_videos"`
	Completed  int `json:"completed_videos"`
	Failed     int `json:"failed_videos"`
	InProgress int `json:"in_progress_videos"`
	Queued     int `json:"queued_videos"`
}
