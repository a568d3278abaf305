package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/elf-memory/elf/internal/apperr"
)

// SearchTrace is the persisted header row for one retrieval's explain
// record (spec §4.7: "search explain / regression gating").
type SearchTrace struct {
	TraceID         uuid.UUID
	TenantID        string
	ProjectID       string
	AgentID         string
	ReadProfile     string
	Query           string
	ExpansionMode   string
	ExpandedQueries []string
	AllowedScopes   []string
	CandidateCount  int
	TopK            int
	ConfigSnapshot  map[string]any
	TraceVersion    int
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// SearchTraceItem is one ranked result row within a trace, carrying its
// full score breakdown for debugging and regression comparisons.
type SearchTraceItem struct {
	ItemID     uuid.UUID
	TraceID    uuid.UUID
	NoteID     uuid.UUID
	ChunkID    *uuid.UUID
	Rank       int
	FinalScore float32
	Explain    map[string]any
}

// SearchTraceCandidate is a pre-rerank candidate snapshot, retained for a
// shorter window than the trace itself (spec §6: search.explain.capture_candidates).
type SearchTraceCandidate struct {
	TraceID           uuid.UUID
	NoteID            uuid.UUID
	ChunkID           uuid.UUID
	CandidateSnapshot map[string]any
	ExpiresAt         time.Time
}

// InsertSearchTrace writes a trace header plus its ranked items in one
// transaction.
func (s *Store) InsertSearchTrace(ctx context.Context, t *SearchTrace, items []*SearchTraceItem) error {
	expanded, err := json.Marshal(t.ExpandedQueries)
	if err != nil {
		return fmt.Errorf("marshal expanded_queries: %w", err)
	}
	allowed, err := json.Marshal(t.AllowedScopes)
	if err != nil {
		return fmt.Errorf("marshal allowed_scopes: %w", err)
	}
	cfgSnap, err := json.Marshal(t.ConfigSnapshot)
	if err != nil {
		return fmt.Errorf("marshal config_snapshot: %w", err)
	}

	return s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO search_traces
				(trace_id, tenant_id, project_id, agent_id, read_profile, query, expansion_mode,
				 expanded_queries, allowed_scopes, candidate_count, top_k, config_snapshot, trace_version, created_at, expires_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			t.TraceID, t.TenantID, t.ProjectID, t.AgentID, t.ReadProfile, t.Query, t.ExpansionMode,
			expanded, allowed, t.CandidateCount, t.TopK, cfgSnap, t.TraceVersion, t.CreatedAt, t.ExpiresAt,
		)
		if err != nil {
			return apperr.Storage(err, "insert search trace")
		}

		for _, item := range items {
			explain, err := json.Marshal(item.Explain)
			if err != nil {
				return fmt.Errorf("marshal trace item explain: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO search_trace_items (item_id, trace_id, note_id, chunk_id, rank, final_score, explain)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				item.ItemID, item.TraceID, item.NoteID, item.ChunkID, item.Rank, item.FinalScore, explain,
			)
			if err != nil {
				return apperr.Storage(err, "insert search trace item")
			}
		}
		return nil
	})
}

// InsertSearchTraceCandidates stores the pre-rerank candidate snapshots for
// a trace, subject to their own shorter retention window.
func (s *Store) InsertSearchTraceCandidates(ctx context.Context, candidates []*SearchTraceCandidate) error {
	if len(candidates) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		for _, c := range candidates {
			snap, err := json.Marshal(c.CandidateSnapshot)
			if err != nil {
				return fmt.Errorf("marshal candidate snapshot: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO search_trace_candidates (trace_id, note_id, chunk_id, candidate_snapshot, expires_at)
				VALUES ($1,$2,$3,$4,$5)`,
				c.TraceID, c.NoteID, c.ChunkID, snap, c.ExpiresAt,
			)
			if err != nil {
				return apperr.Storage(err, "insert search trace candidate")
			}
		}
		return nil
	})
}

// GetSearchTrace fetches a trace header by id.
func (s *Store) GetSearchTrace(ctx context.Context, traceID uuid.UUID) (*SearchTrace, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT trace_id, tenant_id, project_id, agent_id, read_profile, query, expansion_mode,
		       expanded_queries, allowed_scopes, candidate_count, top_k, config_snapshot, trace_version, created_at, expires_at
		FROM search_traces WHERE trace_id=$1`, traceID)

	var t SearchTrace
	var expanded, allowed, cfgSnap []byte
	err := row.Scan(&t.TraceID, &t.TenantID, &t.ProjectID, &t.AgentID, &t.ReadProfile, &t.Query, &t.ExpansionMode,
		&expanded, &allowed, &t.CandidateCount, &t.TopK, &cfgSnap, &t.TraceVersion, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperr.Storage(err, "get search trace")
	}
	if err := json.Unmarshal(expanded, &t.ExpandedQueries); err != nil {
		return nil, fmt.Errorf("unmarshal expanded_queries: %w", err)
	}
	if err := json.Unmarshal(allowed, &t.AllowedScopes); err != nil {
		return nil, fmt.Errorf("unmarshal allowed_scopes: %w", err)
	}
	if err := json.Unmarshal(cfgSnap, &t.ConfigSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshal config_snapshot: %w", err)
	}
	return &t, nil
}

// ListSearchTraceItems returns a trace's ranked items in rank order.
func (s *Store) ListSearchTraceItems(ctx context.Context, traceID uuid.UUID) ([]*SearchTraceItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT item_id, trace_id, note_id, chunk_id, rank, final_score, explain
		FROM search_trace_items WHERE trace_id=$1 ORDER BY rank`, traceID)
	if err != nil {
		return nil, apperr.Storage(err, "list search trace items")
	}
	defer rows.Close()

	var out []*SearchTraceItem
	for rows.Next() {
		var item SearchTraceItem
		var explain []byte
		if err := rows.Scan(&item.ItemID, &item.TraceID, &item.NoteID, &item.ChunkID, &item.Rank, &item.FinalScore, &explain); err != nil {
			return nil, apperr.Storage(err, "scan search trace item")
		}
		if err := json.Unmarshal(explain, &item.Explain); err != nil {
			return nil, fmt.Errorf("unmarshal trace item explain: %w", err)
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

// PurgeExpiredTraces deletes trace headers (and, via FK-less cascade
// emulation, their items) past retention. Items are deleted first since
// there is no ON DELETE CASCADE in the schema-ensure DDL.
func (s *Store) PurgeExpiredTraces(ctx context.Context, now time.Time) (int64, error) {
	return s.purgeExpired(ctx, "search_traces", "expires_at", now, func(tx pgx.Tx, traceID any) error {
		_, err := tx.Exec(ctx, `DELETE FROM search_trace_items WHERE trace_id=$1`, traceID)
		return err
	})
}

// PurgeExpiredTraceCandidates deletes candidate snapshots past their own
// (shorter) retention window.
func (s *Store) PurgeExpiredTraceCandidates(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM search_trace_candidates WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, apperr.Storage(err, "purge expired search trace candidates")
	}
	return tag.RowsAffected(), nil
}

// purgeExpired deletes rows from table where timestampCol <= now, invoking
// beforeDelete(tx, id) for each expiring row's primary key first (to clean
// up dependent rows in tables without a cascade).
func (s *Store) purgeExpired(ctx context.Context, table, timestampCol string, now time.Time, beforeDelete func(tx pgx.Tx, id any) error) (int64, error) {
	var deleted int64
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		idCol := "trace_id"
		rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE %s <= $1`, idCol, table, timestampCol), now)
		if err != nil {
			return apperr.Storage(err, "select expired rows")
		}
		var ids []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return apperr.Storage(err, "scan expired row id")
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return apperr.Storage(err, "iterate expired rows")
		}
		rows.Close()

		for _, id := range ids {
			if err := beforeDelete(tx, id); err != nil {
				return apperr.Storage(err, "delete dependent rows")
			}
		}
		tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s <= $1`, table, timestampCol), now)
		if err != nil {
			return apperr.Storage(err, "delete expired rows")
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}
