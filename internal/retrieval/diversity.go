package retrieval

import (
	"context"
	"math"

	"github.com/google/uuid"
)

// selectDiverse greedily picks up to topK results, maximizing
// mmr_score = mmr_lambda*final_score - (1-mmr_lambda)*max_sim_to_selected
// at every step (spec §5 "MMR diversity selection", adapted from
// original_source/.../diversity.rs's pick_next_candidate to the simpler
// final_score-based relevance term SPEC_FULL.md documents in place of the
// original's rank-normalized relevance). Input candidates must already be
// sorted best-first by candidateBetter.
func (s *Service) selectDiverse(ctx context.Context, candidates []*candidate, topK int, policy resolvedDiversity) ([]*candidate, error) {
	if len(candidates) == 0 || topK <= 0 {
		return nil, nil
	}
	noteVectors, err := s.loadNoteVectors(ctx, candidates)
	if err != nil {
		return nil, err
	}

	remaining := append([]*candidate(nil), candidates...)
	selected := make([]*candidate, 0, topK)

	selected = append(selected, remaining[0])
	remaining = remaining[1:]

	for len(selected) < topK && len(remaining) > 0 {
		pos, ok := pickNextDiverse(remaining, selected, noteVectors, policy)
		if !ok {
			break
		}
		selected = append(selected, remaining[pos])
		remaining = append(remaining[:pos], remaining[pos+1:]...)
	}
	return selected, nil
}

// loadNoteVectors fetches mean-pooled note embeddings for every candidate,
// grouped by embedding_version since notes may span more than one (spec §5:
// "cosine similarity between mean-pooled note embeddings").
func (s *Service) loadNoteVectors(ctx context.Context, candidates []*candidate) (map[uuid.UUID][]float32, error) {
	byVersion := make(map[string][]uuid.UUID)
	for _, c := range candidates {
		byVersion[c.Note.EmbeddingVersion] = append(byVersion[c.Note.EmbeddingVersion], c.NoteID)
	}
	out := make(map[uuid.UUID][]float32, len(candidates))
	for version, ids := range byVersion {
		vecs, err := s.Store.GetNoteEmbeddings(ctx, ids, version)
		if err != nil {
			return nil, err
		}
		for id, v := range vecs {
			out[id] = v
		}
	}
	return out, nil
}

type diversityPick struct {
	pos           int
	mmrScore      float32
	retrievalRank int
}

// diversityPickBetter mirrors DiversityPick::better_than: higher mmr_score
// wins, ties broken by lower retrieval_rank.
func diversityPickBetter(a, b diversityPick) bool {
	return a.mmrScore > b.mmrScore || (a.mmrScore == b.mmrScore && a.retrievalRank < b.retrievalRank)
}

// pickNextDiverse runs one greedy MMR step over the remaining candidates:
// prefer the best candidate below the similarity threshold; if every
// candidate is too similar to something already selected, back off to the
// single best candidate overall once max_skips is exhausted, otherwise
// return the best over-threshold candidate anyway (spec §5's three-tier
// fallback, grounded on pick_next_candidate).
func pickNextDiverse(remaining []*candidate, selected []*candidate, vectors map[uuid.UUID][]float32, policy resolvedDiversity) (int, bool) {
	var bestNonFiltered, bestFiltered, bestAny *diversityPick
	filteredCount := 0

	for i, c := range remaining {
		sim := nearestSelectedSimilarity(c.NoteID, selected, vectors)
		mmrScore := policy.mmrLambda*c.FinalScore - (1-policy.mmrLambda)*sim
		highSimilarity := sim > policy.simThreshold
		pick := diversityPick{pos: i, mmrScore: mmrScore, retrievalRank: c.RetrievalRank}

		if bestAny == nil || diversityPickBetter(pick, *bestAny) {
			p := pick
			bestAny = &p
		}
		if highSimilarity {
			filteredCount++
			if bestFiltered == nil || diversityPickBetter(pick, *bestFiltered) {
				p := pick
				bestFiltered = &p
			}
			continue
		}
		if bestNonFiltered == nil || diversityPickBetter(pick, *bestNonFiltered) {
			p := pick
			bestNonFiltered = &p
		}
	}

	if bestNonFiltered != nil {
		return bestNonFiltered.pos, true
	}
	if filteredCount >= policy.maxSkips {
		if bestAny != nil {
			return bestAny.pos, true
		}
		return 0, false
	}
	if bestFiltered != nil {
		return bestFiltered.pos, true
	}
	return 0, false
}

// nearestSelectedSimilarity returns the highest cosine similarity between
// noteID's embedding and any already-selected note's embedding, or 0 when
// either side is missing an embedding (the original's redundancy-defaults-
// to-zero behavior).
func nearestSelectedSimilarity(noteID uuid.UUID, selected []*candidate, vectors map[uuid.UUID][]float32) float32 {
	v, ok := vectors[noteID]
	if !ok {
		return 0
	}
	var best float32
	found := false
	for _, sel := range selected {
		sv, ok := vectors[sel.NoteID]
		if !ok {
			continue
		}
		sim, ok := cosineSimilarity(v, sv)
		if !ok {
			continue
		}
		if !found || sim > best {
			best = sim
			found = true
		}
	}
	return best
}

// cosineSimilarity mirrors the original's epsilon-guarded, [-1,1]-clamped
// cosine similarity.
func cosineSimilarity(a, b []float32) (float32, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, aNorm, bNorm float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aNorm += float64(a[i]) * float64(a[i])
		bNorm += float64(b[i]) * float64(b[i])
	}
	const epsilon = 1e-12
	if aNorm <= epsilon || bNorm <= epsilon {
		return 0, false
	}
	v := dot / (math.Sqrt(aNorm) * math.Sqrt(bNorm))
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return float32(v), true
}
