// Package retrieval implements ELF's hybrid search core: scope filtering,
// query expansion, fusion query against the vector store, server-side ACL
// re-check, snippet stitching, reranking, score blending, diversity
// selection, hit recording, and explain-trace emission (spec §4.3).
// Grounded on original_source/packages/elf-service/src/search.rs, adapted
// to the teacher's Service-composes-Store/Vector/Providers shape already
// established in internal/writepipeline and internal/indexworker.
package retrieval

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/cache"
	"github.com/elf-memory/elf/internal/cjk"
	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/obslog"
	"github.com/elf-memory/elf/internal/providers"
	"github.com/elf-memory/elf/internal/store"
	"github.com/elf-memory/elf/internal/vectorstore"
)

// traceVersion is stamped on every emitted trace (spec §4.3: "trace_version
// = TRACE_VERSION"); bump it whenever the explain payload shape changes.
const traceVersion = 1

// maxMatchedTerms caps the matched-terms list (spec §4.3 "Matched terms").
const maxMatchedTerms = 8

// Service composes everything the retrieval core needs: the relational
// store, vector store, LLM cache, and provider capabilities.
type Service struct {
	Store    *store.Store
	Vector   *vectorstore.Store
	Cache    cache.Store
	Embedder providers.Embedder
	Reranker providers.Reranker
	Expander providers.Expander
	Cfg      *config.Config
	log      zerolog.Logger
}

// NewService builds a retrieval.Service.
func NewService(st *store.Store, vec *vectorstore.Store, llmCache cache.Store, embedder providers.Embedder, reranker providers.Reranker, expander providers.Expander, cfg *config.Config) *Service {
	return &Service{
		Store: st, Vector: vec, Cache: llmCache,
		Embedder: embedder, Reranker: reranker, Expander: expander,
		Cfg: cfg, log: obslog.Component("retrieval"),
	}
}

// SearchRequest is the search() operation's request (spec §4.3 public
// contract).
type SearchRequest struct {
	TenantID        string
	ProjectID       string
	AgentID         string
	ReadProfile     domain.ReadProfile
	Query           string
	NoteType        *domain.NoteType
	TopK            int
	CandidateK      int
	RecordHits      bool
	RankingOverride *RankingOverride
}

// SearchItem is one ranked result with its full explain breakdown.
type SearchItem struct {
	NoteID          uuid.UUID
	ChunkID         uuid.UUID
	Type            domain.NoteType
	Key             *string
	Scope           domain.Scope
	AgentID         string
	Importance      float32
	Confidence      float32
	UpdatedAt       time.Time
	ExpiresAt       *time.Time
	Snippet         string
	RetrievalRank   int
	RetrievalScore  float32
	RerankScore     float32
	TieBreakerScore float32
	FinalScore      float32
	MatchedTerms    []string
	MatchedFields   []string
	Boosts          []string
}

// SearchResult is search()'s full response.
type SearchResult struct {
	TraceID         uuid.UUID
	Items           []SearchItem
	CandidateCount  int
	ExpansionMode   string
	ExpandedQueries []string
}

// candidate threads one chunk through every pipeline stage so later stages
// (blend, diversity, trace emission) never need to re-derive earlier state.
type candidate struct {
	ChunkID         uuid.UUID
	NoteID          uuid.UUID
	ChunkIndex      int
	RetrievalRank   int
	RetrievalScore  float32
	Note            *domain.Note
	Snippet         string
	RerankScore     float32
	TieBreakerScore float32
	FinalScore      float32
}

// Search runs the full hybrid retrieval pipeline (spec §4.3).
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	now := time.Now().UTC()

	if err := s.validate(&req); err != nil {
		return nil, err
	}

	allowedScopes, ok := s.Cfg.Scopes.ReadProfiles.Scopes(string(req.ReadProfile))
	if !ok {
		return nil, apperr.InvalidRequestf("unknown read_profile %q", req.ReadProfile)
	}

	policy := resolvePolicy(s.Cfg, req.RankingOverride)

	if len(allowedScopes) == 0 {
		return s.emitEmptyResult(ctx, req, now, nil, "off", []string{req.Query}, policy)
	}
	allowedScopeSet := make(map[domain.Scope]bool, len(allowedScopes))
	allowedDomainScopes := make([]domain.Scope, len(allowedScopes))
	for i, sc := range allowedScopes {
		allowedDomainScopes[i] = domain.Scope(sc)
		allowedScopeSet[domain.Scope(sc)] = true
	}

	var noteTypePtr *domain.NoteType
	if req.NoteType != nil {
		noteTypePtr = req.NoteType
	}

	outcome, err := s.resolveExpansion(ctx, req, allowedDomainScopes, noteTypePtr, now)
	if err != nil {
		return nil, err
	}
	expandedQueries := outcome.queries
	expansionModeUsed := outcome.mode

	var scored []vectorstore.Candidate
	if outcome.scored != nil {
		// Dynamic mode already ran the one fusion query spec §4.3 calls for
		// and didn't need to escalate; reuse those results as-is.
		scored = outcome.scored
	} else {
		vectorsByQuery, err := s.embedQueries(ctx, expandedQueries, outcome.vectors)
		if err != nil {
			return nil, err
		}
		multiQueries := make([]vectorstore.MultiQuery, len(expandedQueries))
		for i, q := range expandedQueries {
			indices, values := vectorstore.HashedSparseVector(q)
			multiQueries[i] = vectorstore.MultiQuery{Dense: vectorsByQuery[q], SparseIndices: indices, SparseValues: values}
		}
		scored, err = s.Vector.FusionSearch(ctx, multiQueries, vectorstore.QueryParams{
			TenantID:      req.TenantID,
			ProjectID:     req.ProjectID,
			AgentID:       req.AgentID,
			AllowedScopes: allowedDomainScopes,
			NoteType:      noteTypePtr,
			Limit:         req.CandidateK,
		})
		if err != nil {
			return nil, err
		}
	}

	collected := collectCandidates(scored, req.CandidateK, s.Cfg.Search.Prefilter.MaxCandidates)

	survivors, err := s.aclFilter(ctx, collected, req, allowedScopeSet, now)
	if err != nil {
		return nil, err
	}

	stitched, err := s.stitchSnippets(ctx, survivors)
	if err != nil {
		return nil, err
	}

	if len(stitched) == 0 {
		return s.emitEmptyResult(ctx, req, now, expandedQueries, expansionModeUsed, expandedQueries, policy)
	}

	if err := s.rerank(ctx, req.Query, stitched, now); err != nil {
		return nil, err
	}

	s.blendScores(stitched, now, policy)

	final, err := s.selectFinal(ctx, stitched, req.TopK, policy)
	if err != nil {
		return nil, err
	}

	items := make([]SearchItem, len(final))
	for i, c := range final {
		terms, fields := matchedTermsAndFields(req.Query, c.Snippet, c.Note.Key)
		items[i] = SearchItem{
			NoteID: c.NoteID, ChunkID: c.ChunkID, Type: c.Note.Type, Key: c.Note.Key,
			Scope: c.Note.Scope, AgentID: c.Note.AgentID, Importance: c.Note.Importance,
			Confidence: c.Note.Confidence, UpdatedAt: c.Note.UpdatedAt, ExpiresAt: c.Note.ExpiresAt,
			Snippet: c.Snippet, RetrievalRank: c.RetrievalRank, RetrievalScore: c.RetrievalScore,
			RerankScore: c.RerankScore, TieBreakerScore: c.TieBreakerScore, FinalScore: c.FinalScore,
			MatchedTerms: terms, MatchedFields: fields,
		}
	}

	if req.RecordHits {
		if err := s.recordHits(ctx, items, req.Query, now); err != nil {
			s.log.Warn().Err(err).Msg("hit recording failed, results still returned")
		}
	}

	traceID := uuid.New()
	s.emitTrace(ctx, traceID, req, expansionModeUsed, expandedQueries, allowedScopes, len(collected), items, policy, now)

	return &SearchResult{
		TraceID: traceID, Items: items, CandidateCount: len(collected),
		ExpansionMode: expansionModeUsed, ExpandedQueries: expandedQueries,
	}, nil
}

// validate applies the pre-checks (spec §4.3 "Pre-checks").
func (s *Service) validate(req *SearchRequest) error {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.AgentID) == "" {
		return apperr.InvalidRequest("tenant_id, project_id, and agent_id are required")
	}
	if cjk.ContainsCJK(req.Query) {
		return apperr.NonEnglishInput("$.query", "query contains CJK characters")
	}
	if req.TopK < 1 {
		req.TopK = s.Cfg.Memory.TopK
	}
	if req.TopK < 1 {
		req.TopK = 1
	}
	if req.CandidateK < req.TopK {
		req.CandidateK = req.TopK
	}
	return validateRankingOverride(req.RankingOverride)
}

// emitEmptyResult short-circuits when no scope is readable, still writing
// an (empty) trace per spec §4.3's "vector-store filter" note.
func (s *Service) emitEmptyResult(ctx context.Context, req SearchRequest, now time.Time, expanded []string, expansionMode string, queriesUsed []string, policy resolvedPolicy) (*SearchResult, error) {
	traceID := uuid.New()
	s.emitTrace(ctx, traceID, req, expansionMode, queriesUsed, nil, 0, nil, policy, now)
	return &SearchResult{TraceID: traceID, Items: nil, CandidateCount: 0, ExpansionMode: expansionMode, ExpandedQueries: expanded}, nil
}

// embedQueries embeds every distinct query in one batch call, skipping any
// query already present in preComputed (dynamic-mode escalation reuses the
// baseline embedding for the original query rather than re-embedding it;
// spec §4.3 "Embedding pass").
func (s *Service) embedQueries(ctx context.Context, queries []string, preComputed map[string][]float32) (map[string][]float32, error) {
	distinct := make([]string, 0, len(queries))
	seen := make(map[string]bool, len(queries))
	out := make(map[string][]float32, len(queries))
	for _, q := range queries {
		if seen[q] {
			continue
		}
		seen[q] = true
		if v, ok := preComputed[q]; ok {
			out[q] = v
			continue
		}
		distinct = append(distinct, q)
	}
	if len(distinct) == 0 {
		return out, nil
	}

	vecs, err := s.Embedder.Embed(ctx, providers.EmbeddingConfig{
		ProviderID: s.Cfg.Providers.Embedding.ProviderID,
		Model:      s.Cfg.Providers.Embedding.Model,
		Dimensions: s.Cfg.Storage.Qdrant.VectorDim,
		TimeoutMs:  s.Cfg.Providers.Embedding.TimeoutMs,
	}, distinct)
	if err != nil {
		return nil, apperr.Provider(err, "embed search queries")
	}
	if len(vecs) != len(distinct) {
		return nil, apperr.Providerf(nil, "embedding provider returned %d vectors for %d queries", len(vecs), len(distinct))
	}
	for i, q := range distinct {
		if len(vecs[i]) != s.Cfg.Storage.Qdrant.VectorDim {
			return nil, apperr.Providerf(nil, "embedding dimension %d does not match configured vector_dim %d", len(vecs[i]), s.Cfg.Storage.Qdrant.VectorDim)
		}
		out[q] = vecs[i]
	}
	return out, nil
}

// collectCandidates dedupes scored points on chunk_id, keeping the
// best-ranked (first) occurrence, then caps to candidateK or
// search.prefilter.max_candidates (spec §4.3 "Candidate chunk collection").
func collectCandidates(scored []vectorstore.Candidate, candidateK, maxCandidates int) []*candidate {
	limit := candidateK
	if maxCandidates > 0 && maxCandidates < limit {
		limit = maxCandidates
	}

	seen := make(map[uuid.UUID]bool, len(scored))
	out := make([]*candidate, 0, len(scored))
	for i, sp := range scored {
		if seen[sp.ChunkID] {
			continue
		}
		seen[sp.ChunkID] = true
		out = append(out, &candidate{
			ChunkID: sp.ChunkID, NoteID: sp.NoteID, ChunkIndex: sp.ChunkIndex,
			RetrievalRank: i + 1, RetrievalScore: sp.Score,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// queryHash produces an fnv-style hex digest of a query string, used as
// memory_hits.query_hash (spec §4.3 "Hit recording").
func queryHash(query string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	return fmt.Sprintf("%016x", h.Sum64())
}
