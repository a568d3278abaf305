package retrieval

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/store"
)

// aclFilter hydrates each candidate's note and drops anything the server-side
// re-check disallows: tenant/project mismatch, a private note owned by a
// different agent, a non-active status, expiry, or a scope outside what this
// read profile allows (spec §4.3 "Server-side ACL re-check"). The vector
// store's own filter already enforces most of this, but retrieval never
// trusts the index alone for access control.
func (s *Service) aclFilter(ctx context.Context, candidates []*candidate, req SearchRequest, allowedScopes map[domain.Scope]bool, now time.Time) ([]*candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	noteIDs := make([]uuid.UUID, 0, len(candidates))
	seen := make(map[uuid.UUID]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c.NoteID] {
			seen[c.NoteID] = true
			noteIDs = append(noteIDs, c.NoteID)
		}
	}
	notes, err := s.Store.ListByIDs(ctx, noteIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*domain.Note, len(notes))
	for _, n := range notes {
		byID[n.NoteID] = n
	}

	out := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		n, ok := byID[c.NoteID]
		if !ok {
			continue
		}
		if !CheckNoteAccess(n, req.TenantID, req.ProjectID, req.AgentID, allowedScopes, now) {
			continue
		}
		c.Note = n
		out = append(out, c)
	}
	return out, nil
}

// CheckNoteAccess applies the server-side ACL re-check a hydrated note must
// pass before it is ever returned to a caller: tenant/project match, a
// private note restricted to its owning agent, active status, non-expiry,
// and scope membership in the caller's read profile (spec §4.3 "Server-side
// ACL re-check", reused verbatim by the progressive search session's
// details view per spec §4.4).
func CheckNoteAccess(n *domain.Note, tenantID, projectID, agentID string, allowedScopes map[domain.Scope]bool, now time.Time) bool {
	if n.TenantID != tenantID || n.ProjectID != projectID {
		return false
	}
	if n.Scope == domain.ScopeAgentPrivate && n.AgentID != agentID {
		return false
	}
	if !n.Active(now) {
		return false
	}
	return allowedScopes[n.Scope]
}

// stitchSnippets fetches each surviving candidate's ±1 neighbor chunks and
// concatenates them in index order (spec §4.3 "Snippet stitching"). A
// candidate whose stitched text is empty after trimming is discarded.
func (s *Service) stitchSnippets(ctx context.Context, candidates []*candidate) ([]*candidate, error) {
	out := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		texts := make([]string, 0, 3)
		for _, idx := range []int{c.ChunkIndex - 1, c.ChunkIndex, c.ChunkIndex + 1} {
			chunk, err := s.Store.GetNeighborChunk(ctx, c.NoteID, idx)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return nil, err
			}
			texts = append(texts, chunk.Text)
		}
		snippet := strings.TrimSpace(strings.Join(texts, " "))
		if snippet == "" {
			continue
		}
		c.Snippet = snippet
		out = append(out, c)
	}
	return out, nil
}

// blendScores applies the exact scoring formula (spec §4.3 "Score
// blending"): age_days = (now - updated_at)/86400s, decay =
// exp(-age_days/recency_tau_days) (1.0 if recency_tau_days <= 0), base =
// (1 + 0.6*importance)*decay, tie_breaker_score = tie_breaker_weight*base,
// final_score = rerank_score + tie_breaker_score. Optional blend segments
// down-weight the tie-breaker by retrieval rank (spec §5 supplement).
func (s *Service) blendScores(candidates []*candidate, now time.Time, policy resolvedPolicy) {
	for _, c := range candidates {
		ageDays := now.Sub(c.Note.UpdatedAt).Seconds() / 86400
		decay := 1.0
		if policy.recencyTauDays > 0 {
			decay = math.Exp(-ageDays / policy.recencyTauDays)
		}
		base := (1 + 0.6*float64(c.Note.Importance)) * decay
		weight := float64(policy.tieBreakerWeight)
		if policy.blend.enabled {
			weight *= float64(retrievalWeightForRank(c.RetrievalRank, policy.blend.segments))
		}
		c.TieBreakerScore = float32(weight * base)
		c.FinalScore = c.RerankScore + c.TieBreakerScore
	}
}

// selectFinal dedupes to one chunk per note (keeping the best-scoring one),
// sorts by final_score desc (ties: lower retrieval_rank first, then
// chunk_id), applies diversity selection when enabled, and truncates to
// top_k (spec §4.3 "Score blending" + spec §5 "Diversity / MMR re-ranking").
func (s *Service) selectFinal(ctx context.Context, candidates []*candidate, topK int, policy resolvedPolicy) ([]*candidate, error) {
	bestByNote := make(map[uuid.UUID]*candidate, len(candidates))
	for _, c := range candidates {
		cur, ok := bestByNote[c.NoteID]
		if !ok || candidateBetter(c, cur) {
			bestByNote[c.NoteID] = c
		}
	}
	deduped := make([]*candidate, 0, len(bestByNote))
	for _, c := range bestByNote {
		deduped = append(deduped, c)
	}
	sort.Slice(deduped, func(i, j int) bool { return candidateBetter(deduped[i], deduped[j]) })

	if !policy.diversity.enabled {
		if topK > 0 && len(deduped) > topK {
			deduped = deduped[:topK]
		}
		return deduped, nil
	}
	return s.selectDiverse(ctx, deduped, topK, policy.diversity)
}

// candidateBetter reports whether a sorts before b: higher final_score
// wins, ties broken by lower retrieval_rank, then by chunk_id for a total
// order.
func candidateBetter(a, b *candidate) bool {
	if a.FinalScore != b.FinalScore {
		return a.FinalScore > b.FinalScore
	}
	if a.RetrievalRank != b.RetrievalRank {
		return a.RetrievalRank < b.RetrievalRank
	}
	return a.ChunkID.String() < b.ChunkID.String()
}
