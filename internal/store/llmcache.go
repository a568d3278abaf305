package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

// Get implements cache.Store, fetching a non-expired cache row and bumping
// its access bookkeeping (spec §4.3: expansion/rerank caches).
func (s *Store) Get(ctx context.Context, kind domain.LLMCacheKind, key string, now time.Time) (map[string]any, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT payload FROM llm_cache WHERE kind=$1 AND key=$2 AND expires_at > $3`,
		string(kind), key, now,
	)
	var payload []byte
	err := row.Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, apperr.Storage(err, "get llm cache row")
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE llm_cache SET last_accessed_at=$3, hit_count = hit_count + 1 WHERE kind=$1 AND key=$2`,
		string(kind), key, now,
	); err != nil {
		return nil, false, apperr.Storage(err, "touch llm cache row")
	}

	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, false, fmt.Errorf("unmarshal cache payload: %w", err)
	}
	return out, true, nil
}

// Put implements cache.Store, upserting a cache row with the given TTL.
func (s *Store) Put(ctx context.Context, kind domain.LLMCacheKind, key string, payload map[string]any, ttl time.Duration, now time.Time) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}
	expiresAt := now.Add(ttl)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO llm_cache (kind, key, payload, created_at, last_accessed_at, expires_at, hit_count)
		VALUES ($1,$2,$3,$4,$4,$5,0)
		ON CONFLICT (kind, key) DO UPDATE SET payload=EXCLUDED.payload, last_accessed_at=$4, expires_at=$5`,
		string(kind), key, b, now, expiresAt,
	)
	if err != nil {
		return apperr.Storage(err, "put llm cache row")
	}
	return nil
}

// PurgeExpiredCache deletes cache rows past expiry.
func (s *Store) PurgeExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM llm_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, apperr.Storage(err, "purge expired llm cache")
	}
	return tag.RowsAffected(), nil
}
