package writepipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/providers"
)

type decisionKind int

const (
	decisionAdd decisionKind = iota
	decisionUpdate
	decisionNone
)

type updateDecision struct {
	Kind   decisionKind
	NoteID uuid.UUID
}

// resolveUpdate decides whether an incoming (type, key, text) note should
// be added, merged into an existing note, or treated as a no-op duplicate
// (original_source lib.rs resolve_update):
//
//  1. If key is non-empty and an active note with the same
//     (tenant, project, agent, scope, type, key) exists, update it.
//  2. Otherwise, among active notes sharing (tenant, project, agent, scope,
//     type), embed the new text and cosine-compare against their stored
//     embeddings; the highest-similarity match decides:
//     >= dup_sim_threshold  -> none (duplicate, no write)
//     >= update_sim_threshold -> update that note
//     otherwise             -> add as new
func (s *Service) resolveUpdate(ctx context.Context, tx pgx.Tx, tenantID, projectID, agentID string, scope domain.Scope, noteType domain.NoteType, key *string, text, embedVersion string, now time.Time) (updateDecision, error) {
	if key != nil && *key != "" {
		existing, err := s.findActiveByTypeKeyTx(ctx, tx, tenantID, projectID, agentID, scope, noteType, *key, now)
		if err == nil {
			return updateDecision{Kind: decisionUpdate, NoteID: existing}, nil
		}
	}

	existingIDs, err := s.listActiveIDsBySameTypeScopeTx(ctx, tx, tenantID, projectID, agentID, scope, noteType, now)
	if err != nil {
		return updateDecision{}, err
	}
	if len(existingIDs) == 0 {
		return updateDecision{Kind: decisionAdd, NoteID: uuid.New()}, nil
	}

	vecs, err := s.Embedder.Embed(ctx, providers.EmbeddingConfig{
		ProviderID: s.Cfg.Providers.Embedding.ProviderID,
		Model:      s.Cfg.Providers.Embedding.Model,
		Dimensions: s.Cfg.Storage.Qdrant.VectorDim,
		TimeoutMs:  s.Cfg.Providers.Embedding.TimeoutMs,
	}, []string{text})
	if err != nil {
		return updateDecision{}, apperr.Provider(err, "embed note text")
	}
	if len(vecs) == 0 {
		return updateDecision{}, apperr.Provider(nil, "embedding provider returned no vectors")
	}
	vec := vecs[0]
	if len(vec) != s.Cfg.Storage.Qdrant.VectorDim {
		return updateDecision{}, apperr.Provider(nil, "embedding vector dimension mismatch")
	}

	similar, err := s.similarAmongTx(ctx, tx, existingIDs, embedVersion, vec)
	if err != nil {
		return updateDecision{}, err
	}
	if len(similar) == 0 {
		return updateDecision{Kind: decisionAdd, NoteID: uuid.New()}, nil
	}

	best := similar[0]
	for _, cand := range similar[1:] {
		if cand.Similarity > best.Similarity {
			best = cand
		}
	}

	switch {
	case best.Similarity >= s.Cfg.Memory.DupSimThreshold:
		return updateDecision{Kind: decisionNone, NoteID: best.NoteID}, nil
	case best.Similarity >= s.Cfg.Memory.UpdateSimThreshold:
		return updateDecision{Kind: decisionUpdate, NoteID: best.NoteID}, nil
	default:
		return updateDecision{Kind: decisionAdd, NoteID: uuid.New()}, nil
	}
}

// computeExpiresAt applies an explicit ttl_days override, falling back to
// the per-type default from config.Lifecycle.TTLDays; a zero/default of 0
// means "no expiry" (original_source ttl::compute_expires_at).
func computeExpiresAt(ttlDays *int, noteType domain.NoteType, cfg *config.Config, now time.Time) *time.Time {
	days := cfg.Lifecycle.TTLDays.Days(string(noteType))
	if ttlDays != nil {
		days = *ttlDays
	}
	if days <= 0 {
		return nil
	}
	t := now.Add(time.Duration(days) * 24 * time.Hour)
	return &t
}
