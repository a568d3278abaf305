// Package store is ELF's relational store (R): the durable source of truth
// for notes, versions, chunks, outbox rows, sessions, traces, and grants
// (spec §3, §6). Grounded on the teacher's internal/db/pg.go connection
// pooling and internal/service/syncservice's pgx transaction style.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/elf-memory/elf/internal/obslog"
)

// DB is the narrow subset of *pgxpool.Pool (and pgx.Tx) this package
// depends on. Keeping it narrow lets internal/storetest substitute a
// pgxmock pool for unit tests without a live Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is a transaction handle; *pgxpool.Tx and pgxmock's tx both satisfy DB
// plus Commit/Rollback.
type Tx interface {
	DB
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner starts transactions; *pgxpool.Pool and pgxmock pools both
// implement it.
type Beginner interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store wraps a connection pool with every ELF relational query. Vector
// dimension is needed at schema-ensure time to size the pgvector columns.
type Store struct {
	pool      Beginner
	vectorDim int
	log       zerolog.Logger
}

// Open connects to Postgres with the pooling parameters the teacher's
// internal/db/pg.go applies (MaxConns/MinConns/lifetimes/health-check), then
// runs the schema-ensure step (spec §6: "A schema-ensure step at startup
// creates them").
func Open(ctx context.Context, dsn string, poolMaxConns int32, vectorDim int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	if poolMaxConns > 0 {
		cfg.MaxConns = poolMaxConns
	} else {
		cfg.MaxConns = 20
	}
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool, vectorDim: vectorDim, log: obslog.Component("store")}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.log.Info().Int32("max_conns", cfg.MaxConns).Msg("postgres connection pool created")
	return s, nil
}

// NewWithPool wraps an already-open pool (or a pgxmock pool in tests)
// without re-running connection setup.
func NewWithPool(pool Beginner, vectorDim int) *Store {
	return &Store{pool: pool, vectorDim: vectorDim, log: obslog.Component("store")}
}

// Close releases the pool if it supports it.
func (s *Store) Close() {
	if closer, ok := s.pool.(interface{ Close() }); ok {
		closer.Close()
	}
}

// begin starts a transaction on the underlying pool.
func (s *Store) begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// Pool exposes the underlying DB handle for callers (e.g. internal/sharing)
// that need to run a pool-bound write outside of any WithTx block.
func (s *Store) Pool() DB {
	return s.pool
}

// EnsureSchema creates every table named in spec §6 if missing, and the
// pgvector extension/columns sized to s.vectorDim.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS memory_notes (
			note_id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			type TEXT NOT NULL,
			key TEXT,
			text TEXT NOT NULL,
			importance REAL NOT NULL,
			confidence REAL NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			embedding_version TEXT NOT NULL,
			source_ref JSONB NOT NULL DEFAULT '{}',
			hit_count BIGINT NOT NULL DEFAULT 0,
			last_hit_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS memory_notes_lookup_idx ON memory_notes (tenant_id, project_id, agent_id, scope, type, key)`,
		`CREATE INDEX IF NOT EXISTS memory_notes_active_idx ON memory_notes (tenant_id, project_id, status)`,
		`CREATE TABLE IF NOT EXISTS memory_note_versions (
			version_id UUID PRIMARY KEY,
			note_id UUID NOT NULL,
			op TEXT NOT NULL,
			prev_snapshot JSONB,
			new_snapshot JSONB,
			reason TEXT NOT NULL,
			actor TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS memory_note_versions_note_idx ON memory_note_versions (note_id, ts)`,
		`CREATE TABLE IF NOT EXISTS memory_note_chunks (
			chunk_id UUID PRIMARY KEY,
			note_id UUID NOT NULL,
			chunk_index INT NOT NULL,
			start_offset INT NOT NULL,
			end_offset INT NOT NULL,
			text TEXT NOT NULL,
			embedding_version TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS memory_note_chunks_note_idx ON memory_note_chunks (note_id, chunk_index)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS note_embeddings (
			note_id UUID NOT NULL,
			embedding_version TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (note_id, embedding_version)
		)`, s.vectorDim),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS note_chunk_embeddings (
			chunk_id UUID NOT NULL,
			embedding_version TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (chunk_id, embedding_version)
		)`, s.vectorDim),
		`CREATE TABLE IF NOT EXISTS indexing_outbox (
			outbox_id UUID PRIMARY KEY,
			note_id UUID NOT NULL,
			op TEXT NOT NULL,
			embedding_version TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			available_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS indexing_outbox_claim_idx ON indexing_outbox (status, available_at)`,
		`CREATE TABLE IF NOT EXISTS search_trace_outbox (
			outbox_id UUID PRIMARY KEY,
			trace_id UUID NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			available_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS search_trace_outbox_claim_idx ON search_trace_outbox (status, available_at)`,
		`CREATE TABLE IF NOT EXISTS search_traces (
			trace_id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			read_profile TEXT NOT NULL,
			query TEXT NOT NULL,
			expansion_mode TEXT NOT NULL,
			expanded_queries JSONB NOT NULL,
			allowed_scopes JSONB NOT NULL,
			candidate_count INT NOT NULL,
			top_k INT NOT NULL,
			config_snapshot JSONB NOT NULL,
			trace_version INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS search_traces_expiry_idx ON search_traces (expires_at)`,
		`CREATE TABLE IF NOT EXISTS search_trace_items (
			item_id UUID PRIMARY KEY,
			trace_id UUID NOT NULL,
			note_id UUID NOT NULL,
			chunk_id UUID,
			rank INT NOT NULL,
			final_score REAL NOT NULL,
			explain JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS search_trace_items_trace_idx ON search_trace_items (trace_id)`,
		`CREATE TABLE IF NOT EXISTS search_trace_candidates (
			trace_id UUID NOT NULL,
			note_id UUID NOT NULL,
			chunk_id UUID NOT NULL,
			candidate_snapshot JSONB NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS search_trace_candidates_expiry_idx ON search_trace_candidates (expires_at)`,
		`CREATE TABLE IF NOT EXISTS search_sessions (
			search_session_id UUID PRIMARY KEY,
			trace_id UUID NOT NULL,
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			read_profile TEXT NOT NULL,
			query TEXT NOT NULL,
			items JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS search_sessions_expiry_idx ON search_sessions (expires_at)`,
		`CREATE TABLE IF NOT EXISTS memory_hits (
			hit_id UUID PRIMARY KEY,
			note_id UUID NOT NULL,
			chunk_id UUID NOT NULL,
			query_hash TEXT NOT NULL,
			rank INT NOT NULL,
			final_score REAL NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS memory_hits_note_idx ON memory_hits (note_id, ts)`,
		`CREATE TABLE IF NOT EXISTS memory_space_grants (
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			space_owner_agent_id TEXT NOT NULL,
			grantee_kind TEXT NOT NULL,
			grantee_agent_id TEXT,
			granted_by TEXT NOT NULL,
			granted_at TIMESTAMPTZ NOT NULL,
			revoked_at TIMESTAMPTZ,
			revoked_by TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS memory_space_grants_active_idx
			ON memory_space_grants (tenant_id, project_id, scope, space_owner_agent_id, grantee_kind, COALESCE(grantee_agent_id, ''))
			WHERE revoked_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS llm_cache (
			kind TEXT NOT NULL,
			key TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_accessed_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			hit_count BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (kind, key)
		)`,
		`CREATE INDEX IF NOT EXISTS llm_cache_expiry_idx ON llm_cache (expires_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
