package repo

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sorastudio/internal/domain"
)

// EventRepositoryPG implements domain.EventRepository backed by PostgreSQL.
// Rows are append-only; there is no update or delete path.
type EventRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new event repository backed by PostgreSQL.
func NewEventRepository(pool *pgxpool.Pool) *EventRepositoryPG {
	return &EventRepositoryPG{pool: pool}
}

// Append inserts one audit row.
func (r *EventRepositoryPG) Append(ctx context.Context, videoID string, eventType domain.EventType, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO video_events (video_id, event_type, event_data)
VALUES ($1, $2, $3);
`, videoID, eventType, raw)
	return err
}

// ListByVideo returns the video's events newest-first.
func (r *EventRepositoryPG) ListByVideo(ctx context.Context, videoID string) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, video_id, event_type, event_data, created_at
FROM video_events
WHERE video_id = $1
ORDER BY created_at DESC;
`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByOwner returns the most recent events across all of the owner's
// videos, newest-first.
func (r *EventRepositoryPG) ListByOwner(ctx context.Context, owner string, limit int) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, `
SELECT e.id, e.video_id, e.event_type, e.event_data, e.created_at
FROM video_events e
JOIN videos v ON e.video_id = v.id
WHERE v.owner_id = $1
ORDER BY e.created_at DESC
LIMIT $2;
`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var raw []byte
		if err := rows.Scan(&e.ID, &e.VideoID, &e.Type, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Data); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
