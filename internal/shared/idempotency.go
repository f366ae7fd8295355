package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict is returned when a request key has already been claimed.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore claims client request keys so retried writes apply once. Keys are unique per scope.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store over idempotency_keys.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// Claim records key under scope. A second claim of the same pair fails with ErrIdempotencyConflict.
func (s *IdempotencyStore) Claim(ctx context.Context, scope, key string) error {
	if err := checkKey(scope, key); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO idempotency_keys (scope, key, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (scope, key) DO NOTHING`, scope, key, s.now())
	if err != nil {
		return fmt.Errorf("claim %s/%s: %w", scope, key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrIdempotencyConflict, key)
	}
	return nil
}

// Release drops a claim so the request can be retried after a failed write.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if err := checkKey(scope, key); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE scope = $1 AND key = $2`, scope, key)
	return err
}

// Purge deletes claims older than retention and reports how many went.
func (s *IdempotencyStore) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrValidation)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func checkKey(scope, key string) error {
	switch {
	case scope == "":
		return Invalid("scope", "required")
	case key == "":
		return Invalid("idempotency_key", "required")
	case len(key) > 128:
		return Invalid("idempotency_key", "must be at most 128 characters")
	}
	return nil
}
