package retrieval

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/cache"
	"github.com/elf-memory/elf/internal/cjk"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/providers"
	"github.com/elf-memory/elf/internal/vectorstore"
)

const (
	expansionModeOff     = "off"
	expansionModeAlways  = "always"
	expansionModeDynamic = "dynamic"
)

// expansionOutcome is what query resolution hands back to Search: the query
// list actually used, the mode actually exercised, and (for "dynamic" when
// it doesn't need to escalate) the baseline fusion-query results so Search
// never re-queries the vector store for the same query it already ran.
type expansionOutcome struct {
	queries []string
	mode    string
	scored  []vectorstore.Candidate // non-nil: reuse directly, skip re-querying
	vectors map[string][]float32    // query -> already-embedded vector, reusable by embedQueries
}

// resolveExpansion resolves the query list (and, for "dynamic", the
// baseline candidates) per the configured expansion mode (spec §4.3 "Query
// expansion").
func (s *Service) resolveExpansion(ctx context.Context, req SearchRequest, allowedDomainScopes []domain.Scope, noteTypePtr *domain.NoteType, now time.Time) (*expansionOutcome, error) {
	mode := s.Cfg.Search.Expansion.Mode
	switch mode {
	case "", expansionModeOff:
		return &expansionOutcome{queries: []string{req.Query}, mode: expansionModeOff}, nil

	case expansionModeAlways:
		queries, err := s.expandAlways(ctx, req.Query, now)
		if err != nil {
			return nil, err
		}
		return &expansionOutcome{queries: queries, mode: expansionModeAlways}, nil

	case expansionModeDynamic:
		return s.resolveDynamic(ctx, req, allowedDomainScopes, noteTypePtr, now)

	default:
		return nil, apperr.InvalidRequestf("unknown search.expansion.mode %q", mode)
	}
}

// resolveDynamic embeds the original query, runs one fusion query against
// it, and only escalates to expandAlways when the baseline candidates look
// thin (spec §4.3: "if candidate_count < min_candidates OR top_score <
// min_top_score then behave as always, reusing the baseline embedding for
// the original"). When it doesn't escalate, the baseline fusion results are
// returned directly so Search proceeds with them unchanged.
func (s *Service) resolveDynamic(ctx context.Context, req SearchRequest, allowedDomainScopes []domain.Scope, noteTypePtr *domain.NoteType, now time.Time) (*expansionOutcome, error) {
	trimmed := strings.TrimSpace(req.Query)

	baselineVecs, err := s.embedQueries(ctx, []string{trimmed}, nil)
	if err != nil {
		return nil, err
	}
	indices, values := vectorstore.HashedSparseVector(trimmed)
	baselineQuery := vectorstore.MultiQuery{Dense: baselineVecs[trimmed], SparseIndices: indices, SparseValues: values}

	scored, err := s.Vector.FusionSearch(ctx, []vectorstore.MultiQuery{baselineQuery}, vectorstore.QueryParams{
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

	dyn := s.Cfg.Search.Dynamic
	var topScore float32
	if len(scored) > 0 {
		topScore = scored[0].Score
	}
	if len(scored) >= dyn.MinCandidates && topScore >= dyn.MinTopScore {
		return &expansionOutcome{queries: []string{trimmed}, mode: expansionModeDynamic, scored: scored, vectors: baselineVecs}, nil
	}

	queries, err := s.expandAlways(ctx, trimmed, now)
	if err != nil {
		return nil, err
	}
	return &expansionOutcome{queries: queries, mode: expansionModeDynamic, vectors: baselineVecs}, nil
}

// expandAlways calls the LLM expander (with cache) and normalizes its
// output (spec §4.3 "always" mode + "Expansion cache").
func (s *Service) expandAlways(ctx context.Context, query string, now time.Time) ([]string, error) {
	trimmed := strings.TrimSpace(query)
	cfg := s.Cfg.Providers.Expand
	exp := s.Cfg.Search.Expansion

	keyInput := cache.ExpansionKeyInput{
		Query: trimmed, ProviderID: cfg.ProviderID, Model: cfg.Model,
		Temperature: cfg.Temperature, Version: expansionCacheVersion,
		MaxQueries: exp.MaxQueries, IncludeOriginal: exp.IncludeOriginal,
	}
	key := keyInput.Key()

	if s.Cfg.Search.Cache.Enabled && s.Cache != nil {
		if payload, ok, err := s.Cache.Get(ctx, domain.LLMCacheKindExpansion, key, now); err != nil {
			s.log.Warn().Err(err).Msg("expansion cache read failed, falling back to provider")
		} else if ok {
			if queries, ok := decodeExpansionPayload(payload); ok {
				return queries, nil
			}
		}
	}

	raw, err := s.Expander.Expand(ctx, providers.ExpandConfig{
		ProviderID: cfg.ProviderID, Model: cfg.Model, Temperature: cfg.Temperature, TimeoutMs: cfg.TimeoutMs,
	}, trimmed)
	if err != nil {
		s.log.Warn().Err(err).Msg("expansion provider failed, degrading to original query")
		return []string{trimmed}, nil
	}

	queries := normalizeExpansion(trimmed, raw, exp.MaxQueries, exp.IncludeOriginal)

	if s.Cfg.Search.Cache.Enabled && s.Cache != nil {
		payload := map[string]any{"queries": queries}
		if withinPayloadBudget(payload, s.Cfg.Search.Cache.MaxPayloadBytes) {
			ttl := time.Duration(s.Cfg.Search.Cache.ExpansionTTLDays) * 24 * time.Hour
			if err := s.Cache.Put(ctx, domain.LLMCacheKindExpansion, key, payload, ttl, now); err != nil {
				s.log.Warn().Err(err).Msg("expansion cache write failed")
			}
		}
	}

	return queries, nil
}

// normalizeExpansion trims, drops empty/CJK entries, case-insensitively
// dedups, truncates to maxQueries, and includes the original query when
// requested (spec §4.3 "always").
func normalizeExpansion(original string, raw []string, maxQueries int, includeOriginal bool) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(raw)+1)

	add := func(q string) bool {
		trimmed := strings.TrimSpace(q)
		if trimmed == "" || cjk.ContainsCJK(trimmed) {
			return false
		}
		lower := strings.ToLower(trimmed)
		if seen[lower] {
			return false
		}
		seen[lower] = true
		out = append(out, trimmed)
		return true
	}

	if includeOriginal {
		add(original)
	}
	for _, q := range raw {
		if maxQueries > 0 && len(out) >= maxQueries {
			break
		}
		add(q)
	}
	if maxQueries > 0 && len(out) > maxQueries {
		out = out[:maxQueries]
	}
	if len(out) == 0 {
		return []string{original}
	}
	return out
}

func decodeExpansionPayload(payload map[string]any) ([]string, bool) {
	raw, ok := payload["queries"]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// withinPayloadBudget reports whether a cache payload's serialized size
// fits the configured cap (spec §4.3: "store if serialized payload ≤
// max_payload_bytes").
func withinPayloadBudget(payload map[string]any, maxBytes int64) bool {
	if maxBytes <= 0 {
		return true
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return int64(len(raw)) <= maxBytes
}

const expansionCacheVersion = "v1"
