// Package storetest provides pgxmock-backed fixtures for internal/store
// unit tests, so the relational query layer can be exercised without a live
// Postgres (SPEC_FULL §6 package layout: "storetest/ # pgxmock fixtures").
package storetest

import (
	"testing"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/elf-memory/elf/internal/store"
)

// DefaultVectorDim is the dimension fixture tests construct stores with;
// it only matters for EnsureSchema's pgvector column sizing, which these
// tests don't exercise.
const DefaultVectorDim = 1536

// NewMockPool builds a pgxmock pool and a *store.Store wired onto it via
// store.NewWithPool, skipping connection setup and EnsureSchema entirely.
// Callers set expectations on the returned pool before invoking Store
// methods, then call pool.ExpectationsWereMet() (registered via t.Cleanup).
func NewMockPool(t *testing.T) (pgxmock.PgxPoolIface, *store.Store) {
	t.Helper()

	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("create pgxmock pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := pool.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet pgxmock expectations: %v", err)
		}
	})

	return pool, store.NewWithPool(pool, DefaultVectorDim)
}
