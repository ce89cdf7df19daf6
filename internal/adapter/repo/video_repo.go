package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sorastudio/internal/domain"
)

const videoColumns = `id, owner_id, model, status, progress, prompt, size, seconds, quality,
remixed_from_video_id, file_url, thumbnail_url, error_message, created_at, updated_at, completed_at, expires_at`

// VideoRepositoryPG implements domain.VideoRepository backed by PostgreSQL.
type VideoRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewVideoRepository creates a new video repository backed by PostgreSQL.
func NewVideoRepository(pool *pgxpool.Pool) *VideoRepositoryPG {
	return &VideoRepositoryPG{pool: pool}
}

// Create inserts a new video record.
func (r *VideoRepositoryPG) Create(ctx context.Context, v *domain.Video) error {
	query := `
INSERT INTO videos (id, owner_id, model, status, progress, prompt, size, seconds, quality, remixed_from_video_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err := r.pool.Exec(ctx, query,
		v.ID,
		v.OwnerID,
		v.Model,
		v.Status,
		v.Progress,
		v.Prompt,
		nullableString(v.Size),
		nullableString(v.Seconds),
		nullableString(v.Quality),
		nullableString(v.RemixedFromID),
	)
	return err
}

// GetByID fetches a video by its identifier.
func (r *VideoRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	return scanVideo(row)
}

// UpdateStatus applies a status transition together with any lifecycle
// fields the upstream response supplied. Everything goes through one UPDATE
// so concurrent readers never see a partial transition.
func (r *VideoRepositoryPG) UpdateStatus(ctx context.Context, id string, status domain.Status, u domain.StatusUpdate) error {
	query := `
UPDATE videos
SET status = $2,
    updated_at = NOW(),
    progress = COALESCE($3, progress),
    file_url = COALESCE($4, file_url),
    thumbnail_url = COALESCE($5, thumbnail_url),
    error_message = COALESCE($6, error_message),
    completed_at = COALESCE($7, completed_at),
    expires_at = COALESCE($8, expires_at)
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, status, u.Progress, u.FileURL, u.ThumbnailURL, u.ErrorMessage, u.CompletedAt, u.ExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SoftDelete marks the video deleted, keeping the row for the audit trail.
func (r *VideoRepositoryPG) SoftDelete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE videos
SET status = 'deleted', updated_at = NOW()
WHERE id = $1 AND status <> 'deleted';
`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListByOwner returns the owner's videos newest-first, narrowed by filter.
func (r *VideoRepositoryPG) ListByOwner(ctx context.Context, owner string, f domain.VideoFilter) ([]domain.Video, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + videoColumns + ` FROM videos WHERE owner_id = $1`)
	args := []any{owner}

	if f.Status != "" {
		args = append(args, f.Status)
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		fmt.Fprintf(&sb, " AND created_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		fmt.Fprintf(&sb, " AND created_at <= $%d", len(args))
	}

	sb.WriteString(" ORDER BY created_at DESC")

	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVideos(rows)
}

// ListPending returns every queued/in_progress video oldest-first, so jobs
// that have waited longest are reconciled first.
func (r *VideoRepositoryPG) ListPending(ctx context.Context) ([]domain.Video, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+videoColumns+`
FROM videos
WHERE status IN ('queued', 'in_progress')
ORDER BY created_at ASC;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVideos(rows)
}

// Stats aggregates per-status counts for an owner.
func (r *VideoRepositoryPG) Stats(ctx context.Context, owner string) (*domain.VideoStats, error) {
	row := r.pool.QueryRow(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE status = 'completed'),
       COUNT(*) FILTER (WHERE status = 'failed'),
       COUNT(*) FILTER (WHERE status = 'in_progress'),
       COUNT(*) FILTER (WHERE status = 'queued')
FROM videos
WHERE owner_id = $1;
`, owner)

	var s domain.VideoStats
	if err := row.Scan(&s.Total, &s.Completed, &s.Failed, &s.InProgress, &s.Queued); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanVideos(rows pgx.Rows) ([]domain.Video, error) {
	var videos []domain.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, *v)
	}
	return videos, rows.Err()
}

func scanVideo(row pgx.Row) (*domain.Video, error) {
	var v domain.Video
	var size, seconds, quality, remixedFrom, fileURL, thumbURL, errMsg *string
	if err := row.Scan(
		&v.ID,
		&v.OwnerID,
		&v.Model,
		&v.Status,
		&v.Progress,
		&v.Prompt,
		&size,
		&seconds,
		&quality,
		&remixedFrom,
		&fileURL,
		&thumbURL,
		&errMsg,
		&v.CreatedAt,
		&v.UpdatedAt,
		&v.CompletedAt,
		&v.ExpiresAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	v.Size = deref(size)
	v.Seconds = deref(seconds)
	v.Quality = deref(quality)
	v.RemixedFromID = deref(remixedFrom)
	v.FileURL = deref(fileURL)
	v.ThumbnailURL = deref(thumbURL)
	v.ErrorMessage = deref(errMsg)
	return &v, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
