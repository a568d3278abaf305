// Package session implements ELF's progressive search session: create a
// session from one retrieval run, then serve compact index rows, a
// date-grouped timeline, or full note details against the frozen result set
// without re-running the retrieval pipeline (spec §4.4). Grounded on
// original_source/packages/elf-service/src/progressive_search.rs, re-expressed
// as a Service composing internal/store, internal/retrieval, and
// internal/config the way internal/writepipeline composes its own
// dependencies.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/obslog"
	"github.com/elf-memory/elf/internal/retrieval"
	"github.com/elf-memory/elf/internal/store"
)

// Service composes everything the progressive search session needs.
type Service struct {
	Store     *store.Store
	Retrieval *retrieval.Service
	Cfg       *config.Config
	log       zerolog.Logger
}

// NewService builds a session.Service.
func NewService(st *store.Store, retr *retrieval.Service, cfg *config.Config) *Service {
	return &Service{Store: st, Retrieval: retr, Cfg: cfg, log: obslog.Component("session")}
}

// CreateRequest is search_progressive()'s session-creation request (spec
// §4.4 "Session creation").
type CreateRequest struct {
	TenantID        string
	ProjectID       string
	AgentID         string
	ReadProfile     domain.ReadProfile
	Query           string
	NoteType        *domain.NoteType
	TopK            int
	CandidateK      int
	RankingOverride *retrieval.RankingOverride
}

// CreateResult is search_progressive()'s session-creation response: the
// first top_k items, plus enough to page further with Get/Timeline/Details.
type CreateResult struct {
	TraceID         uuid.UUID
	SearchSessionID uuid.UUID
	ExpiresAt       time.Time
	Items           []domain.IndexItemRecord
}

// Create runs one retrieval pass, freezes up to candidate_k ranked items
// into a new session row, and returns the first top_k (spec §4.4: "compute
// a single ordered list of up to candidate_k items...return the first
// top_k").
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.AgentID) == "" {
		return nil, apperr.InvalidRequest("tenant_id, project_id, and agent_id are required")
	}
	now := time.Now().UTC()

	topK := req.TopK
	if topK < 1 {
		topK = s.Cfg.Memory.TopK
	}
	if topK < 1 {
		topK = 1
	}
	candidateK := req.CandidateK
	if candidateK < 1 {
		candidateK = s.Cfg.Memory.CandidateK
	}
	if candidateK < topK {
		candidateK = topK
	}

	result, err := s.Retrieval.Search(ctx, retrieval.SearchRequest{
		TenantID: req.TenantID, ProjectID: req.ProjectID, AgentID: req.AgentID,
		ReadProfile: req.ReadProfile, Query: req.Query, NoteType: req.NoteType,
		TopK: candidateK, CandidateK: candidateK, RecordHits: false,
		RankingOverride: req.RankingOverride,
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.IndexItemRecord, len(result.Items))
	for i, it := range result.Items {
		items[i] = domain.IndexItemRecord{
			NoteID: it.NoteID, ChunkID: it.ChunkID, Type: it.Type, Key: it.Key,
			Scope: it.Scope, AgentID: it.AgentID, Importance: it.Importance, Confidence: it.Confidence,
			UpdatedAt: it.UpdatedAt, ExpiresAt: it.ExpiresAt, FinalScore: it.FinalScore,
			Summary: buildSummary(it.Snippet, s.Cfg.Memory.MaxNoteChars), RetrievalRank: i + 1,
		}
	}

	expiresAt := now.Add(time.Duration(s.Cfg.Session.SlidingTTLHours) * time.Hour)
	sess := &domain.SearchSession{
		SearchSessionID: uuid.New(), TraceID: result.TraceID,
		TenantID: req.TenantID, ProjectID: req.ProjectID, AgentID: req.AgentID,
		ReadProfile: req.ReadProfile, Query: req.Query, Items: items,
		CreatedAt: now, ExpiresAt: expiresAt,
	}
	if err := s.Store.InsertSearchSession(ctx, sess); err != nil {
		return nil, err
	}

	returned := items
	if len(returned) > topK {
		returned = returned[:topK]
	}
	return &CreateResult{TraceID: result.TraceID, SearchSessionID: sess.SearchSessionID, ExpiresAt: expiresAt, Items: returned}, nil
}

// GetRequest is search_session_get()'s request (spec §4.4 "Sliding +
// absolute TTL").
type GetRequest struct {
	TenantID        string
	ProjectID       string
	AgentID         string
	SearchSessionID uuid.UUID
	TopK            int
}

// GetResult mirrors CreateResult's shape for a subsequent page read.
type GetResult struct {
	TraceID         uuid.UUID
	SearchSessionID uuid.UUID
	ExpiresAt       time.Time
	Items           []domain.IndexItemRecord
}

// Get re-serves a session's index rows, applying the sliding/absolute TTL
// touch on every read (spec §4.4).
func (s *Service) Get(ctx context.Context, req GetRequest) (*GetResult, error) {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.AgentID) == "" {
		return nil, apperr.InvalidRequest("tenant_id, project_id, and agent_id are required")
	}
	now := time.Now().UTC()
	sess, expiresAt, err := s.loadAndTouch(ctx, req.SearchSessionID, req.TenantID, req.ProjectID, req.AgentID, now)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK < 1 {
		topK = s.Cfg.Memory.TopK
	}
	if topK < 1 {
		topK = 1
	}
	items := sess.Items
	if len(items) > topK {
		items = items[:topK]
	}
	return &GetResult{TraceID: sess.TraceID, SearchSessionID: sess.SearchSessionID, ExpiresAt: expiresAt, Items: items}, nil
}

// buildSummary normalizes whitespace and truncates to max_chars, appending
// "..." when truncated (spec §4.4, grounded on progressive_search.rs's
// build_summary/normalize_whitespace/truncate_chars).
func buildSummary(raw string, maxChars int) string {
	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := false
	for _, r := range raw {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		b.WriteRune(r)
		prevSpace = false
	}
	normalized := strings.TrimSpace(b.String())
	if maxChars <= 0 {
		return normalized
	}
	runes := []rune(normalized)
	if len(runes) <= maxChars {
		return normalized
	}
	return string(runes[:maxChars]) + "..."
}
