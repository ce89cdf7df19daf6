package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sorastudio/internal/domain"
)

const quotaColumns = `owner_id, videos_created, videos_limit, reset_at, created_at, updated_at`

// QuotaRepositoryPG implements domain.QuotaRepository backed by PostgreSQL.
type QuotaRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewQuotaRepository creates a new quota repository backed by PostgreSQL.
func NewQuotaRepository(pool *pgxpool.Pool) *QuotaRepositoryPG {
	return &QuotaRepositoryPG{pool: pool}
}

// Get fetches the owner's quota record.
func (r *QuotaRepositoryPG) Get(ctx context.Context, owner string) (*domain.Quota, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+quotaColumns+` FROM user_quotas WHERE owner_id = $1`, owner)
	return scanQuota(row)
}

// CreateDefault inserts a fresh record for an owner seen for the first time.
// A concurrent insert for the same owner wins silently; the stored row is
// returned either way.
func (r *QuotaRepositoryPG) CreateDefault(ctx context.Context, q *domain.Quota) (*domain.Quota, error) {
	_, err := r.pool.Exec(ctx, `
INSERT INTO user_quotas (owner_id, videos_created, videos_limit, reset_at)
VALUES ($1, 0, $2, $3)
ON CONFLICT (owner_id) DO NOTHING;
`, q.OwnerID, q.VideosLimit, q.ResetAt)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, q.OwnerID)
}

// IncrementUsage bumps videos_created by one, guarded by the limit in the
// same statement. ErrQuotaExceeded means the owner is at the ceiling; exactly
// one of two racing increments at the final slot succeeds.
func (r *QuotaRepositoryPG) IncrementUsage(ctx context.Context, owner string) (*domain.Quota, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE user_quotas
SET videos_created = videos_created + 1,
    updated_at = NOW()
WHERE owner_id = $1 AND videos_created < videos_limit
RETURNING `+quotaColumns+`;
`, owner)

	q, err := scanQuota(row)
	if errors.Is(err, domain.ErrNotFound) {
		// No row changed: either the owner is unknown or the limit is hit.
		if _, getErr := r.Get(ctx, owner); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrQuotaExceeded
	}
	return q, err
}

// Reset zeroes the counter and advances the period boundary.
func (r *QuotaRepositoryPG) Reset(ctx context.Context, owner string, resetAt time.Time) (*domain.Quota, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE user_quotas
SET videos_created = 0,
    reset_at = $2,
    updated_at = NOW()
WHERE owner_id = $1
RETURNING `+quotaColumns+`;
`, owner, resetAt)
	return scanQuota(row)
}

func scanQuota(row pgx.Row) (*domain.Quota, error) {
	var q domain.Quota
	if err := row.Scan(&q.OwnerID, &q.VideosCreated, &q.VideosLimit, &q.ResetAt, &q.CreatedAt, &q.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}
