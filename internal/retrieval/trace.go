package retrieval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/domain"
)

// tracePayload/traceRecord/traceItemRecord mirror the exact shape
// internal/indexworker's handleTraceJob unmarshals (spec §4.3 "Explain
// trace emission"): the search path only ever enqueues this payload, never
// writes the durable trace row itself.
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

// emitTrace builds and enqueues the explain trace (spec §4.3: "the request
// path never waits for trace persistence"). Failures are logged and
// swallowed; a search response is never held up or failed by trace
// bookkeeping.
func (s *Service) emitTrace(ctx context.Context, traceID uuid.UUID, req SearchRequest, expansionMode string, expandedQueries []string, allowedScopes []string, candidateCount int, items []SearchItem, policy resolvedPolicy, now time.Time) {
	retention := time.Duration(s.Cfg.Search.Explain.RetentionDays) * 24 * time.Hour

	record := traceRecord{
		TraceID: traceID, TenantID: req.TenantID, ProjectID: req.ProjectID, AgentID: req.AgentID,
		ReadProfile: string(req.ReadProfile), Query: req.Query, ExpansionMode: expansionMode,
		ExpandedQueries: expandedQueries, AllowedScopes: allowedScopes, CandidateCount: candidateCount,
		TopK: req.TopK, ConfigSnapshot: s.buildConfigSnapshot(policy), TraceVersion: traceVersion,
		CreatedAt: now, ExpiresAt: now.Add(retention),
	}

	itemRecords := make([]traceItemRecord, len(items))
	for i, item := range items {
		chunkID := item.ChunkID
		itemRecords[i] = traceItemRecord{
			ItemID: uuid.New(), NoteID: item.NoteID, ChunkID: &chunkID, Rank: i + 1, FinalScore: item.FinalScore,
			Explain: map[string]any{
				"retrieval_rank":    item.RetrievalRank,
				"retrieval_score":   item.RetrievalScore,
				"rerank_score":      item.RerankScore,
				"tie_breaker_score": item.TieBreakerScore,
				"matched_terms":     item.MatchedTerms,
				"matched_fields":    item.MatchedFields,
			},
		}
	}

	payload := tracePayload{Trace: record, Items: itemRecords}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("trace payload marshal failed, trace dropped")
		return
	}
	var payloadMap map[string]any
	if err := json.Unmarshal(raw, &payloadMap); err != nil {
		s.log.Warn().Err(err).Msg("trace payload re-decode failed, trace dropped")
		return
	}

	row := &domain.TraceOutbox{
		OutboxID: uuid.New(), TraceID: traceID, Payload: payloadMap,
		Status: domain.OutboxStatusPending, AvailableAt: now, CreatedAt: now,
	}
	if err := s.Store.EnqueueTraceOutbox(ctx, row); err != nil {
		s.log.Warn().Err(err).Msg("trace outbox enqueue failed")
	}
}

// buildConfigSnapshot records the resolved config (including any per-request
// ranking override) for reproducibility, per spec §5's grounding on
// policy.rs's build_config_snapshot. This deployment has no separate
// "deterministic" lexical/hits/decay scoring subsystem or structured-field
// context blocks (SPEC_FULL.md does not carry that scope forward), so those
// sections are omitted rather than faked.
func (s *Service) buildConfigSnapshot(policy resolvedPolicy) map[string]any {
	cfg := s.Cfg
	ranking := make(map[string]any, len(policy.snapshot)+1)
	for k, v := range policy.snapshot {
		ranking[k] = v
	}
	ranking["policy_id"] = policy.policyID
	if policy.override != nil {
		ranking["override"] = policy.override
	}

	return map[string]any{
		"search": map[string]any{
			"expansion": map[string]any{
				"mode": cfg.Search.Expansion.Mode, "max_queries": cfg.Search.Expansion.MaxQueries,
				"include_original": cfg.Search.Expansion.IncludeOriginal,
			},
			"dynamic":   map[string]any{"min_candidates": cfg.Search.Dynamic.MinCandidates, "min_top_score": cfg.Search.Dynamic.MinTopScore},
			"prefilter": map[string]any{"max_candidates": cfg.Search.Prefilter.MaxCandidates},
			"explain":   map[string]any{"retention_days": cfg.Search.Explain.RetentionDays},
		},
		"ranking": ranking,
		"providers": map[string]any{
			"embedding": map[string]any{
				"provider_id": cfg.Providers.Embedding.ProviderID, "model": cfg.Providers.Embedding.Model,
				"dimensions": cfg.Storage.Qdrant.VectorDim,
			},
			"rerank": map[string]any{"provider_id": cfg.Providers.Rerank.ProviderID, "model": cfg.Providers.Rerank.Model},
		},
		"storage": map[string]any{
			"qdrant": map[string]any{"vector_dim": cfg.Storage.Qdrant.VectorDim, "collection": cfg.Storage.Qdrant.Collection},
		},
	}
}
