package domain

import "time"

// EventType enumerates audit trail entries. The set is closed; the events
// table enforces it with a CHECK constraint.
type EventType string

const (
	EventCreated       EventType = "created"
	EventStatusChanged EventType = "status_changed"
	EventDownloaded    EventType = "downloaded"
	EventDeleted       EventType = "deleted"
	EventFailed        EventType = "failed"
	EventRemixed       EventType = "remixed"
)

// Event is one append-only audit row. Events are never updated or deleted.
type Event struct {
	ID        int64          `json:"id"`
	VideoID   string         `json:"video_id"`
	Type      EventType      `json:"event_type"`
	Data      map[string]any `json:"event_data"`
	CreatedAt time.Time      `json:"created_at"`
}
