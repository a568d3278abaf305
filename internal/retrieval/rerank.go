package retrieval

import (
	"context"
	"time"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/cache"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/providers"
)

const rerankCacheVersion = "v1"

// rerank scores every surviving candidate against the query with the
// reranker provider, consulting the rerank cache first (spec §4.3 "Rerank
// pass (with cache)"). Scores are written back onto each candidate in
// place; the cache payload is keyed by chunk_id so scores stay aligned even
// though the cache key itself sorts candidates for hash stability.
func (s *Service) rerank(ctx context.Context, query string, candidates []*candidate, now time.Time) error {
	if len(candidates) == 0 {
		return nil
	}

	cfg := s.Cfg.Providers.Rerank
	keyCandidates := make([]cache.RerankCandidate, len(candidates))
	for i, c := range candidates {
		keyCandidates[i] = cache.RerankCandidate{ChunkID: c.ChunkID.String(), UpdatedAt: c.Note.UpdatedAt}
	}
	keyInput := cache.RerankKeyInput{
		Query: query, ProviderID: cfg.ProviderID, Model: cfg.Model,
		Version: rerankCacheVersion, Candidates: keyCandidates,
	}
	key := keyInput.Key()

	if s.Cfg.Search.Cache.Enabled && s.Cache != nil {
		if payload, ok, err := s.Cache.Get(ctx, domain.LLMCacheKindRerank, key, now); err != nil {
			s.log.Warn().Err(err).Msg("rerank cache read failed, falling back to provider")
		} else if ok {
			if applyRerankPayload(payload, candidates) {
				return nil
			}
		}
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Snippet
	}
	scores, err := s.Reranker.Rerank(ctx, providers.RerankConfig{
		ProviderID: cfg.ProviderID, Model: cfg.Model, TimeoutMs: cfg.TimeoutMs,
	}, query, docs)
	if err != nil {
		return apperr.Provider(err, "rerank search candidates")
	}
	if len(scores) != len(candidates) {
		return apperr.Providerf(nil, "reranker returned %d scores for %d candidates", len(scores), len(candidates))
	}
	for i, c := range candidates {
		c.RerankScore = scores[i]
	}

	if s.Cfg.Search.Cache.Enabled && s.Cache != nil {
		payload := rerankPayload(candidates)
		if withinPayloadBudget(payload, s.Cfg.Search.Cache.MaxPayloadBytes) {
			ttl := time.Duration(s.Cfg.Search.Cache.RerankTTLDays) * 24 * time.Hour
			if err := s.Cache.Put(ctx, domain.LLMCacheKindRerank, key, payload, ttl, now); err != nil {
				s.log.Warn().Err(err).Msg("rerank cache write failed")
			}
		}
	}
	return nil
}

// rerankPayload builds the cache payload, keyed by chunk_id so order never
// matters on read.
func rerankPayload(candidates []*candidate) map[string]any {
	scores := make(map[string]any, len(candidates))
	for _, c := range candidates {
		scores[c.ChunkID.String()] = c.RerankScore
	}
	return map[string]any{"scores": scores}
}

// applyRerankPayload assigns cached scores back onto candidates by
// chunk_id. Returns false (a cache miss in effect) if any candidate's score
// is absent, e.g. a stale payload shape from a prior cache version.
func applyRerankPayload(payload map[string]any, candidates []*candidate) bool {
	raw, ok := payload["scores"]
	if !ok {
		return false
	}
	scores, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	resolved := make([]float32, len(candidates))
	for i, c := range candidates {
		v, ok := scores[c.ChunkID.String()]
		if !ok {
			return false
		}
		f, ok := toFloat32(v)
		if !ok {
			return false
		}
		resolved[i] = f
	}
	for i, c := range candidates {
		c.RerankScore = resolved[i]
	}
	return true
}

func toFloat32(v any) (float32, bool) {
	switch n := v.(type) {
	case float64:
		return float32(n), true
	case float32:
		return n, true
	default:
		return 0, false
	}
}
