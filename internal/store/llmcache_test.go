package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/storetest"
)

var ctx = context.Background()

func TestStoreGetHit(t *testing.T) {
	pool, st := storetest.NewMockPool(t)
	now := time.Now().UTC()

	payload, err := json.Marshal(map[string]any{"queries": []string{"a", "b"}})
	require.NoError(t, err)

	pool.ExpectQuery(`SELECT payload FROM llm_cache WHERE kind=\$1 AND key=\$2 AND expires_at > \$3`).
		WithArgs(string(domain.LLMCacheKindExpansion), "k1", now).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))
	pool.ExpectExec(`UPDATE llm_cache SET last_accessed_at=\$3, hit_count = hit_count \+ 1 WHERE kind=\$1 AND key=\$2`).
		WithArgs(string(domain.LLMCacheKindExpansion), "k1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	out, ok, err := st.Get(ctx, domain.LLMCacheKindExpansion, "k1", now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []any{"a", "b"}, out["queries"])
}

func TestStoreGetMiss(t *testing.T) {
	pool, st := storetest.NewMockPool(t)
	now := time.Now().UTC()

	pool.ExpectQuery(`SELECT payload FROM llm_cache WHERE kind=\$1 AND key=\$2 AND expires_at > \$3`).
		WithArgs(string(domain.LLMCacheKindRerank), "missing", now).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}))

	out, ok, err := st.Get(ctx, domain.LLMCacheKindRerank, "missing", now)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, out)
}

func TestStorePutUpsert(t *testing.T) {
	pool, st := storetest.NewMockPool(t)
	now := time.Now().UTC()

	pool.ExpectExec(`INSERT INTO llm_cache \(kind, key, payload, created_at, last_accessed_at, expires_at, hit_count\)`).
		WithArgs(string(domain.LLMCacheKindRerank), "k2", pgxmock.AnyArg(), now, now.Add(time.Minute)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.Put(ctx, domain.LLMCacheKindRerank, "k2", map[string]any{"scores": []float64{0.1, 0.9}}, time.Minute, now)
	require.NoError(t, err)
}

func TestStorePurgeExpiredCache(t *testing.T) {
	pool, st := storetest.NewMockPool(t)
	now := time.Now().UTC()

	pool.ExpectExec(`DELETE FROM llm_cache WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := st.PurgeExpiredCache(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}
