package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ProviderOpenAI = "openai"

// Store reads and writes provider API keys kept in the database, for
// deployments that rotate keys at runtime instead of via environment.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// OpenAIAPIKey returns the stored OpenAI key, or "" when none is configured.
func (s *Store) OpenAIAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderOpenAI)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.pool.QueryRow(ctx, `SELECT token FROM integration_tokens WHERE provider = $1`, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetOpenAIAPIKey stores or replaces the OpenAI key.
func (s *Store) SetOpenAIAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("openai api key is required")
	}
	return s.upsert(ctx, ProviderOpenAI, key, nil)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO integration_tokens (provider, token, properties, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (provider) DO UPDATE
SET token = EXCLUDED.token,
    properties = EXCLUDED.properties,
    updated_at = NOW();
`, provider, token, raw)
	return err
}
