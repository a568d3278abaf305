package indexworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/store"
)

// tracePayload is the JSON shape internal/retrieval buffers into
// search_trace_outbox.payload (original_source worker.rs TracePayload);
// internal/retrieval's trace emission must produce this exact shape.
type tracePayload struct {
	Trace traceRecord       `json:"trace"`
	Items []traceItemRecord `json:"items"`
}

type traceRecord struct {
	TraceID         uuid.UUID      `json:"trace_id"`
	TenantID        string         `json:"tenant_id"`
	ProjectID       string         `json:"project_id"`
	AgentID         string         `json:"agent_id"`
	ReadProfile     string         `json:"read_profile"`
	Query           string         `json:"query"`
	ExpansionMode   string         `json:"expansion_mode"`
	ExpandedQueries []string       `json:"expanded_queries"`
	AllowedScopes   []string       `json:"allowed_scopes"`
	CandidateCount  int            `json:"candidate_count"`
	TopK            int            `json:"top_k"`
	ConfigSnapshot  map[string]any `json:"config_snapshot"`
	TraceVersion    int            `json:"trace_version"`
	CreatedAt       time.Time      `json:"created_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
}

type traceItemRecord struct {
	ItemID     uuid.UUID      `json:"item_id"`
	NoteID     uuid.UUID      `json:"note_id"`
	ChunkID    *uuid.UUID     `json:"chunk_id,omitempty"`
	Rank       int            `json:"rank"`
	FinalScore float32        `json:"final_score"`
	Explain    map[string]any `json:"explain"`
}

// handleTraceJob persists a buffered explain trace (original_source
// worker.rs handle_trace_job).
func (w *Worker) handleTraceJob(ctx context.Context, job *domain.TraceOutbox) error {
	raw, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal trace outbox payload: %w", err)
	}
	var payload tracePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("unmarshal trace outbox payload: %w", err)
	}

	t := &store.SearchTrace{
		TraceID:         payload.Trace.TraceID,
		TenantID:        payload.Trace.TenantID,
		ProjectID:       payload.Trace.ProjectID,
		AgentID:         payload.Trace.AgentID,
		ReadProfile:     payload.Trace.ReadProfile,
		Query:           payload.Trace.Query,
		ExpansionMode:   payload.Trace.ExpansionMode,
		ExpandedQueries: payload.Trace.ExpandedQueries,
		AllowedScopes:   payload.Trace.AllowedScopes,
		CandidateCount:  payload.Trace.CandidateCount,
		TopK:            payload.Trace.TopK,
		ConfigSnapshot:  payload.Trace.ConfigSnapshot,
		TraceVersion:    payload.Trace.TraceVersion,
		CreatedAt:       payload.Trace.CreatedAt,
		ExpiresAt:       payload.Trace.ExpiresAt,
	}

	items := make([]*store.SearchTraceItem, len(payload.Items))
	for i, it := range payload.Items {
		items[i] = &store.SearchTraceItem{
			ItemID:     it.ItemID,
			TraceID:    t.TraceID,
			NoteID:     it.NoteID,
			ChunkID:    it.ChunkID,
			Rank:       it.Rank,
			FinalScore: it.FinalScore,
			Explain:    it.Explain,
		}
	}

	return w.Store.InsertSearchTrace(ctx, t, items)
}
