package retrieval

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/vectorstore"
)

func TestCollectCandidatesDedupesAndCaps(t *testing.T) {
	chunkA := uuid.New()
	chunkB := uuid.New()
	scored := []vectorstore.Candidate{
		{ChunkID: chunkA, NoteID: uuid.New(), Score: 0.9},
		{ChunkID: chunkA, NoteID: uuid.New(), Score: 0.5}, // duplicate chunk, dropped
		{ChunkID: chunkB, NoteID: uuid.New(), Score: 0.8},
	}
	out := collectCandidates(scored, 10, 0)
	if len(out) != 2 {
		t.Fatalf("expected 2 deduped candidates, got %d", len(out))
	}
	if out[0].ChunkID != chunkA || out[0].RetrievalRank != 1 {
		t.Fatalf("expected first candidate to keep rank 1 for chunkA, got %+v", out[0])
	}
	if out[1].ChunkID != chunkB || out[1].RetrievalRank != 2 {
		t.Fatalf("expected second candidate chunkB at rank 2, got %+v", out[1])
	}
}

func TestCollectCandidatesCapsToPrefilterMax(t *testing.T) {
	scored := make([]vectorstore.Candidate, 5)
	for i := range scored {
		scored[i] = vectorstore.Candidate{ChunkID: uuid.New(), NoteID: uuid.New(), Score: float32(i)}
	}
	out := collectCandidates(scored, 10, 2)
	if len(out) != 2 {
		t.Fatalf("expected prefilter max_candidates=2 to win over candidateK=10, got %d", len(out))
	}
}

func TestCollectCandidatesCapsToCandidateKWhenSmaller(t *testing.T) {
	scored := make([]vectorstore.Candidate, 5)
	for i := range scored {
		scored[i] = vectorstore.Candidate{ChunkID: uuid.New(), NoteID: uuid.New(), Score: float32(i)}
	}
	out := collectCandidates(scored, 3, 10)
	if len(out) != 3 {
		t.Fatalf("expected candidateK=3 to win over max_candidates=10, got %d", len(out))
	}
}

func TestQueryHashIsDeterministicAndDistinguishesQueries(t *testing.T) {
	h1 := queryHash("what did we decide about auth")
	h2 := queryHash("what did we decide about auth")
	h3 := queryHash("something else entirely")
	if h1 != h2 {
		t.Fatalf("queryHash should be deterministic, got %q vs %q", h1, h2)
	}
	if h1 == h3 {
		t.Fatalf("queryHash should distinguish different queries")
	}
}

func TestCandidateBetterOrdersByFinalScoreThenRankThenChunkID(t *testing.T) {
	lowChunk := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	highChunk := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	a := &candidate{ChunkID: lowChunk, FinalScore: 0.9, RetrievalRank: 2}
	b := &candidate{ChunkID: highChunk, FinalScore: 0.5, RetrievalRank: 1}
	if !candidateBetter(a, b) {
		t.Fatal("higher final_score should win regardless of rank")
	}

	c := &candidate{ChunkID: lowChunk, FinalScore: 0.5, RetrievalRank: 1}
	d := &candidate{ChunkID: highChunk, FinalScore: 0.5, RetrievalRank: 2}
	if !candidateBetter(c, d) {
		t.Fatal("tied final_score should prefer lower retrieval_rank")
	}

	e := &candidate{ChunkID: lowChunk, FinalScore: 0.5, RetrievalRank: 1}
	f := &candidate{ChunkID: highChunk, FinalScore: 0.5, RetrievalRank: 1}
	if !candidateBetter(e, f) {
		t.Fatal("tied final_score and rank should fall back to lexicographic chunk_id")
	}
}

func TestBlendScoresAppliesRecencyDecayAndImportance(t *testing.T) {
	now := time.Now().UTC()
	fresh := &candidate{
		ChunkID: uuid.New(), RetrievalRank: 1, RerankScore: 1.0,
		Note: &domain.Note{UpdatedAt: now, Importance: 1.0},
	}
	stale := &candidate{
		ChunkID: uuid.New(), RetrievalRank: 1, RerankScore: 1.0,
		Note: &domain.Note{UpdatedAt: now.Add(-365 * 24 * time.Hour), Importance: 1.0},
	}
	policy := resolvedPolicy{recencyTauDays: 30, tieBreakerWeight: 1.0}
	svc := &Service{}
	svc.blendScores([]*candidate{fresh, stale}, now, policy)

	if fresh.FinalScore <= stale.FinalScore {
		t.Fatalf("fresher note should score higher: fresh=%v stale=%v", fresh.FinalScore, stale.FinalScore)
	}
	if fresh.TieBreakerScore <= 0 {
		t.Fatalf("expected positive tie_breaker_score for fresh note, got %v", fresh.TieBreakerScore)
	}
}

func TestBlendScoresZeroTauMeansNoDecay(t *testing.T) {
	now := time.Now().UTC()
	old := &candidate{
		ChunkID: uuid.New(), RetrievalRank: 1, RerankScore: 0,
		Note: &domain.Note{UpdatedAt: now.Add(-1000 * 24 * time.Hour), Importance: 0},
	}
	recent := &candidate{
		ChunkID: uuid.New(), RetrievalRank: 1, RerankScore: 0,
		Note: &domain.Note{UpdatedAt: now, Importance: 0},
	}
	policy := resolvedPolicy{recencyTauDays: 0, tieBreakerWeight: 1.0}
	svc := &Service{}
	svc.blendScores([]*candidate{old, recent}, now, policy)

	if old.TieBreakerScore != recent.TieBreakerScore {
		t.Fatalf("recency_tau_days<=0 should disable decay, got old=%v recent=%v", old.TieBreakerScore, recent.TieBreakerScore)
	}
}

func TestBlendScoresAppliesBlendSegmentDownweight(t *testing.T) {
	now := time.Now().UTC()
	rankOne := &candidate{ChunkID: uuid.New(), RetrievalRank: 1, RerankScore: 0, Note: &domain.Note{UpdatedAt: now}}
	rankTen := &candidate{ChunkID: uuid.New(), RetrievalRank: 10, RerankScore: 0, Note: &domain.Note{UpdatedAt: now}}
	policy := resolvedPolicy{
		tieBreakerWeight: 1.0,
		blend: resolvedBlend{enabled: true, segments: []config.RankingBlendSegment{
			{MaxRetrievalRank: 3, RetrievalWeight: 1.0},
			{MaxRetrievalRank: 100, RetrievalWeight: 0.1},
		}},
	}
	svc := &Service{}
	svc.blendScores([]*candidate{rankOne, rankTen}, now, policy)

	if rankOne.TieBreakerScore <= rankTen.TieBreakerScore {
		t.Fatalf("rank within first segment should outweigh a deep rank: rank1=%v rank10=%v", rankOne.TieBreakerScore, rankTen.TieBreakerScore)
	}
}

func TestRetrievalWeightForRank(t *testing.T) {
	segments := []config.RankingBlendSegment{
		{MaxRetrievalRank: 5, RetrievalWeight: 1.0},
		{MaxRetrievalRank: 20, RetrievalWeight: 0.5},
	}
	cases := []struct {
		rank int
		want float32
	}{
		{1, 1.0},
		{5, 1.0},
		{6, 0.5},
		{20, 0.5},
		{21, 0.5}, // falls past all segments, uses last segment's weight
	}
	for _, c := range cases {
		if got := retrievalWeightForRank(c.rank, segments); got != c.want {
			t.Errorf("retrievalWeightForRank(%d) = %v, want %v", c.rank, got, c.want)
		}
	}
	if got := retrievalWeightForRank(1, nil); got != 0.5 {
		t.Errorf("retrievalWeightForRank with no segments should default to 0.5, got %v", got)
	}
}

func TestValidateBlendSegmentsRejectsNonIncreasingRanks(t *testing.T) {
	segments := []config.RankingBlendSegment{
		{MaxRetrievalRank: 10, RetrievalWeight: 0.5},
		{MaxRetrievalRank: 10, RetrievalWeight: 0.3},
	}
	if err := validateBlendSegments(segments); err == nil {
		t.Fatal("expected error for non-strictly-increasing max_retrieval_rank")
	}
}

func TestValidateBlendSegmentsRejectsOutOfRangeWeight(t *testing.T) {
	segments := []config.RankingBlendSegment{{MaxRetrievalRank: 10, RetrievalWeight: 1.5}}
	if err := validateBlendSegments(segments); err == nil {
		t.Fatal("expected error for retrieval_weight outside 0.0-1.0")
	}
}

func TestValidateBlendSegmentsAcceptsValid(t *testing.T) {
	segments := []config.RankingBlendSegment{
		{MaxRetrievalRank: 5, RetrievalWeight: 1.0},
		{MaxRetrievalRank: 50, RetrievalWeight: 0.2},
	}
	if err := validateBlendSegments(segments); err != nil {
		t.Fatalf("expected valid segments to pass, got %v", err)
	}
}

func TestValidateRankingOverrideNilIsValid(t *testing.T) {
	if err := validateRankingOverride(nil); err != nil {
		t.Fatalf("nil override should always validate, got %v", err)
	}
}

func TestValidateRankingOverrideRejectsOutOfRangeSimThreshold(t *testing.T) {
	bad := float32(1.5)
	override := &RankingOverride{Diversity: &DiversityOverride{SimThreshold: &bad}}
	if err := validateRankingOverride(override); err == nil {
		t.Fatal("expected error for sim_threshold outside 0.0-1.0")
	}
}

func TestValidateRankingOverrideRejectsAllZeroRetrievalSourceWeights(t *testing.T) {
	zero := float32(0)
	override := &RankingOverride{RetrievalSources: &RetrievalSourcesOverride{FusionWeight: &zero, StructuredFieldWeight: &zero}}
	if err := validateRankingOverride(override); err == nil {
		t.Fatal("expected error when every retrieval source weight is zero")
	}
}

func TestValidateRankingOverrideAcceptsValid(t *testing.T) {
	sim := float32(0.8)
	lambda := float32(0.6)
	override := &RankingOverride{Diversity: &DiversityOverride{SimThreshold: &sim, MMRLambda: &lambda}}
	if err := validateRankingOverride(override); err != nil {
		t.Fatalf("expected valid override to pass, got %v", err)
	}
}

func TestResolvePolicyMergesOverrideAndHashesSnapshot(t *testing.T) {
	cfg := &config.Config{Ranking: config.Ranking{
		RecencyTauDays: 14, TieBreakerWeight: 0.3,
		Diversity: config.RankingDiversity{Enabled: true, SimThreshold: 0.9, MMRLambda: 0.5, MaxSkips: 3},
	}}
	base := resolvePolicy(cfg, nil)

	enabled := false
	override := &RankingOverride{Diversity: &DiversityOverride{Enabled: &enabled}}
	overridden := resolvePolicy(cfg, override)

	if base.diversity.enabled != true {
		t.Fatalf("expected base diversity enabled from config, got %v", base.diversity.enabled)
	}
	if overridden.diversity.enabled != false {
		t.Fatalf("expected override to disable diversity, got %v", overridden.diversity.enabled)
	}
	if base.policyID == overridden.policyID {
		t.Fatal("different resolved policies should hash to different policy_id")
	}
	// Hash is deterministic for the same input.
	again := resolvePolicy(cfg, nil)
	if base.policyID != again.policyID {
		t.Fatal("resolvePolicy should hash identically for identical input")
	}
}

func TestResolvePolicyEmptyOverrideSegmentsDisablesBlend(t *testing.T) {
	cfg := &config.Config{Ranking: config.Ranking{
		Blend: config.RankingBlend{Enabled: true, Segments: []config.RankingBlendSegment{{MaxRetrievalRank: 5, RetrievalWeight: 1}}},
	}}
	emptySegments := []config.RankingBlendSegment{}
	override := &RankingOverride{Blend: &BlendOverride{Segments: emptySegments}}
	resolved := resolvePolicy(cfg, override)
	if resolved.blend.enabled {
		t.Fatal("an override that empties segments should behave as disabled, not panic retrievalWeightForRank")
	}
}

func TestTokenizeQueryLowercasesDropsShortTokensAndCaps(t *testing.T) {
	tokens := tokenizeQuery("What's the Plan for Q3 2026, a b c?")
	for _, tok := range tokens {
		if tok != strings_ToLower(tok) {
			t.Fatalf("expected lowercase token, got %q", tok)
		}
		if len(tok) < 2 {
			t.Fatalf("expected single-char tokens dropped, got %q", tok)
		}
	}
	if len(tokens) > maxMatchedTerms {
		t.Fatalf("expected at most %d tokens, got %d", maxMatchedTerms, len(tokens))
	}
}

func strings_ToLower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func TestMatchedTermsAndFieldsFindsTextAndKeyMatches(t *testing.T) {
	key := "deploy-runbook"
	terms, fields := matchedTermsAndFields("deploy runbook steps", "here are the deploy steps to follow", &key)
	if len(terms) == 0 {
		t.Fatal("expected at least one matched term")
	}
	foundText, foundKey := false, false
	for _, f := range fields {
		if f == "text" {
			foundText = true
		}
		if f == "key" {
			foundKey = true
		}
	}
	if !foundText {
		t.Fatal("expected 'text' field match from snippet")
	}
	if !foundKey {
		t.Fatal("expected 'key' field match from note key")
	}
}

func TestMatchedTermsAndFieldsNoKeyNoPanic(t *testing.T) {
	terms, fields := matchedTermsAndFields("auth token rotation", "rotating the auth token weekly", nil)
	if len(terms) == 0 {
		t.Fatal("expected matched terms even without a key")
	}
	for _, f := range fields {
		if f == "key" {
			t.Fatal("should never report a key field match when key is nil")
		}
	}
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	sim, ok := cosineSimilarity(v, v)
	if !ok {
		t.Fatal("expected ok=true for non-zero vectors")
	}
	if sim < 0.999999 || sim > 1.000001 {
		t.Fatalf("expected cosine similarity ~1.0 for identical vectors, got %v", sim)
	}
}

func TestCosineSimilarityOrthogonalIsZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	sim, ok := cosineSimilarity(a, b)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if sim < -0.000001 || sim > 0.000001 {
		t.Fatalf("expected cosine similarity ~0 for orthogonal vectors, got %v", sim)
	}
}

func TestCosineSimilarityZeroVectorIsNotOK(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	if _, ok := cosineSimilarity(a, b); ok {
		t.Fatal("expected ok=false for a zero-norm vector")
	}
}

func TestCosineSimilarityMismatchedLengthIsNotOK(t *testing.T) {
	if _, ok := cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); ok {
		t.Fatal("expected ok=false for mismatched vector lengths")
	}
}

func TestDiversityPickBetterPrefersHigherScoreThenLowerRank(t *testing.T) {
	a := diversityPick{mmrScore: 0.8, retrievalRank: 5}
	b := diversityPick{mmrScore: 0.5, retrievalRank: 1}
	if !diversityPickBetter(a, b) {
		t.Fatal("higher mmr_score should win regardless of rank")
	}

	c := diversityPick{mmrScore: 0.5, retrievalRank: 1}
	d := diversityPick{mmrScore: 0.5, retrievalRank: 2}
	if !diversityPickBetter(c, d) {
		t.Fatal("tied mmr_score should prefer lower retrieval_rank")
	}
}

func TestPickNextDiverseFallsBackToBestOverallAfterMaxSkips(t *testing.T) {
	noteA := uuid.New()
	noteB := uuid.New()
	noteSelected := uuid.New()

	vectors := map[uuid.UUID][]float32{
		noteSelected: {1, 0},
		noteA:        {1, 0},       // identical to selected: high similarity
		noteB:        {0.99, 0.01}, // also highly similar
	}
	remaining := []*candidate{
		{NoteID: noteA, FinalScore: 0.9, RetrievalRank: 1},
		{NoteID: noteB, FinalScore: 0.5, RetrievalRank: 2},
	}
	selected := []*candidate{{NoteID: noteSelected, FinalScore: 1.0, RetrievalRank: 1}}

	policy := resolvedDiversity{simThreshold: 0.5, mmrLambda: 0.5, maxSkips: 1}
	pos, ok := pickNextDiverse(remaining, selected, vectors, policy)
	if !ok {
		t.Fatal("expected a fallback pick when every candidate exceeds the similarity threshold")
	}
	if pos != 0 {
		t.Fatalf("expected fallback to pick the higher final_score candidate (noteA, pos 0), got pos %d", pos)
	}
}

func TestPickNextDiversePrefersBelowThresholdCandidate(t *testing.T) {
	noteSelected := uuid.New()
	noteSimilar := uuid.New()
	noteDiverse := uuid.New()

	vectors := map[uuid.UUID][]float32{
		noteSelected: {1, 0},
		noteSimilar:  {1, 0},
		noteDiverse:  {0, 1},
	}
	remaining := []*candidate{
		{NoteID: noteSimilar, FinalScore: 0.95, RetrievalRank: 1},
		{NoteID: noteDiverse, FinalScore: 0.5, RetrievalRank: 2},
	}
	selected := []*candidate{{NoteID: noteSelected, FinalScore: 1.0, RetrievalRank: 1}}

	policy := resolvedDiversity{simThreshold: 0.5, mmrLambda: 0.5, maxSkips: 10}
	pos, ok := pickNextDiverse(remaining, selected, vectors, policy)
	if !ok {
		t.Fatal("expected a pick")
	}
	if pos != 1 {
		t.Fatalf("expected the below-threshold candidate (noteDiverse, pos 1) to win, got pos %d", pos)
	}
}

func TestNormalizeExpansionDedupesAndIncludesOriginal(t *testing.T) {
	out := normalizeExpansion("deploy steps", []string{"Deploy Steps", "rollback plan", ""}, 5, true)
	if len(out) != 2 {
		t.Fatalf("expected original + 1 distinct expansion (case-insensitive dedup), got %v", out)
	}
	if out[0] != "deploy steps" {
		t.Fatalf("expected original query first, got %v", out)
	}
}

func TestNormalizeExpansionFallsBackToOriginalWhenAllFiltered(t *testing.T) {
	out := normalizeExpansion("deploy steps", []string{"", "   "}, 5, false)
	if len(out) != 1 || out[0] != "deploy steps" {
		t.Fatalf("expected fallback to original query, got %v", out)
	}
}

func TestNormalizeExpansionRespectsMaxQueries(t *testing.T) {
	out := normalizeExpansion("q", []string{"a", "b", "c", "d"}, 2, false)
	if len(out) != 2 {
		t.Fatalf("expected max_queries=2 to cap output, got %v", out)
	}
}

func TestWithinPayloadBudgetRespectsMapAndSliceValues(t *testing.T) {
	small := map[string]any{"queries": []string{"a", "b"}}
	if !withinPayloadBudget(small, 1000) {
		t.Fatal("small payload should fit a generous budget")
	}
	if withinPayloadBudget(small, 1) {
		t.Fatal("payload should not fit a 1-byte budget")
	}
	scoresPayload := map[string]any{"scores": map[string]any{"chunk-1": 0.5, "chunk-2": 0.9}}
	if !withinPayloadBudget(scoresPayload, 1000) {
		t.Fatal("rerank-shaped (map[string]any scores) payload should also be sized correctly")
	}
	if withinPayloadBudget(scoresPayload, 1) {
		t.Fatal("rerank-shaped payload should not fit a 1-byte budget")
	}
}

func TestWithinPayloadBudgetZeroMeansUnbounded(t *testing.T) {
	if !withinPayloadBudget(map[string]any{"queries": []string{"a very long query indeed"}}, 0) {
		t.Fatal("max_payload_bytes<=0 should mean unbounded")
	}
}

func TestRerankPayloadRoundTripsByChunkID(t *testing.T) {
	c1 := &candidate{ChunkID: uuid.New(), RerankScore: 0.25}
	c2 := &candidate{ChunkID: uuid.New(), RerankScore: 0.75}
	payload := rerankPayload([]*candidate{c1, c2})

	// Simulate re-submission in a different order; scores should still
	// realign correctly by chunk_id rather than by position.
	reordered := []*candidate{c2, c1}
	if !applyRerankPayload(payload, reordered) {
		t.Fatal("expected applyRerankPayload to succeed on matching chunk_ids")
	}
	if reordered[0].RerankScore != 0.75 || reordered[1].RerankScore != 0.25 {
		t.Fatalf("expected scores to realign by chunk_id regardless of order, got %+v", reordered)
	}
}

func TestApplyRerankPayloadMissesOnUnknownChunk(t *testing.T) {
	c1 := &candidate{ChunkID: uuid.New(), RerankScore: 0.25}
	payload := rerankPayload([]*candidate{c1})

	unknown := &candidate{ChunkID: uuid.New()}
	if applyRerankPayload(payload, []*candidate{unknown}) {
		t.Fatal("expected a cache miss when a candidate's chunk_id is absent from the payload")
	}
}

func TestValidateRankingOverrideRejectsNonIncreasingBlendSegments(t *testing.T) {
	override := &RankingOverride{Blend: &BlendOverride{Segments: []config.RankingBlendSegment{
		{MaxRetrievalRank: 5, RetrievalWeight: 1},
		{MaxRetrievalRank: 5, RetrievalWeight: 0.5},
	}}}
	if err := validateRankingOverride(override); err == nil {
		t.Fatal("expected error for non-strictly-increasing override blend segments")
	}
}
