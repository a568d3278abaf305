package retrieval

import (
	"context"
	"time"

	"github.com/elf-memory/elf/internal/store"
)

// recordHits persists one hit per returned item, ranked by display position
// (spec §4.3 "Hit recording"). Failures are the caller's concern to log,
// not to surface as a search failure — results were already computed.
func (s *Service) recordHits(ctx context.Context, items []SearchItem, query string, now time.Time) error {
	if len(items) == 0 {
		return nil
	}
	hits := make([]store.HitRecord, len(items))
	hash := queryHash(query)
	for i, item := range items {
		hits[i] = store.HitRecord{
			NoteID: item.NoteID, ChunkID: item.ChunkID, QueryHash: hash,
			Rank: i + 1, FinalScore: item.FinalScore,
		}
	}
	return s.Store.RecordHits(ctx, hits, now)
}
