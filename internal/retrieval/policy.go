package retrieval

import (
	"encoding/json"
	"math"

	"github.com/zeebo/blake3"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/config"
)

// RankingOverride lets a single search() call experiment with ranking
// without a config redeploy (spec §5 "Per-request ranking overrides").
// Every field is a pointer so "unset" and "explicitly zero" are
// distinguishable; nil means "use the configured value." Overrides never
// touch ACL/scope behavior.
type RankingOverride struct {
	Blend            *BlendOverride
	Diversity        *DiversityOverride
	RetrievalSources *RetrievalSourcesOverride
}

type BlendOverride struct {
	Enabled  *bool
	Segments []config.RankingBlendSegment
}

type DiversityOverride struct {
	Enabled      *bool
	SimThreshold *float32
	MMRLambda    *float32
	MaxSkips     *int
}

// RetrievalSourcesOverride is recorded into the trace's config snapshot for
// reproducibility parity with the original's ResolvedRetrievalSourcesPolicy.
// This deployment has one retrieval channel (the vector store's hybrid
// dense+BM25 fusion query); there is no separate structured-field search
// path to weight against it, so these fields are carried through for the
// snapshot only and do not change Search()'s execution.
type RetrievalSourcesOverride struct {
	FusionWeight            *float32
	StructuredFieldWeight   *float32
	FusionPriority          *int
	StructuredFieldPriority *int
}

type resolvedBlend struct {
	enabled  bool
	segments []config.RankingBlendSegment
}

type resolvedDiversity struct {
	enabled      bool
	simThreshold float32
	mmrLambda    float32
	maxSkips     int
}

type resolvedRetrievalSources struct {
	fusionWeight            float32
	structuredFieldWeight   float32
	fusionPriority          int
	structuredFieldPriority int
}

// resolvedPolicy is everything blendScores/selectFinal/emitTrace need,
// already validated and hashed (spec §5 "Ranking policy snapshot").
type resolvedPolicy struct {
	recencyTauDays   float64
	tieBreakerWeight float32
	blend            resolvedBlend
	diversity        resolvedDiversity
	retrievalSources resolvedRetrievalSources
	override         *RankingOverride
	policyID         string
	snapshot         map[string]any
}

// resolvePolicy merges cfg with any per-request override, validating the
// same finite/range constraints as the original's resolve_diversity_policy
// / resolve_retrieval_sources_policy, then hashes the result into policy_id.
// resolvePolicy itself validates nothing and returns no error: invalid
// overrides are rejected with an apperr.InvalidRequest* error by
// validateRankingOverride, called from Search's pre-checks before
// resolvePolicy runs.
func resolvePolicy(cfg *config.Config, override *RankingOverride) resolvedPolicy {
	blend := resolvedBlend{enabled: cfg.Ranking.Blend.Enabled, segments: cfg.Ranking.Blend.Segments}
	diversity := resolvedDiversity{
		enabled: cfg.Ranking.Diversity.Enabled, simThreshold: cfg.Ranking.Diversity.SimThreshold,
		mmrLambda: cfg.Ranking.Diversity.MMRLambda, maxSkips: cfg.Ranking.Diversity.MaxSkips,
	}
	retrievalSources := resolvedRetrievalSources{fusionWeight: 1, structuredFieldWeight: 0, fusionPriority: 0, structuredFieldPriority: 1}

	if override != nil {
		if override.Blend != nil {
			if override.Blend.Enabled != nil {
				blend.enabled = *override.Blend.Enabled
			}
			if override.Blend.Segments != nil {
				blend.segments = override.Blend.Segments
			}
		}
		if override.Diversity != nil {
			if override.Diversity.Enabled != nil {
				diversity.enabled = *override.Diversity.Enabled
			}
			if override.Diversity.SimThreshold != nil {
				diversity.simThreshold = *override.Diversity.SimThreshold
			}
			if override.Diversity.MMRLambda != nil {
				diversity.mmrLambda = *override.Diversity.MMRLambda
			}
			if override.Diversity.MaxSkips != nil {
				diversity.maxSkips = *override.Diversity.MaxSkips
			}
		}
		if override.RetrievalSources != nil {
			if override.RetrievalSources.FusionWeight != nil {
				retrievalSources.fusionWeight = *override.RetrievalSources.FusionWeight
			}
			if override.RetrievalSources.StructuredFieldWeight != nil {
				retrievalSources.structuredFieldWeight = *override.RetrievalSources.StructuredFieldWeight
			}
			if override.RetrievalSources.FusionPriority != nil {
				retrievalSources.fusionPriority = *override.RetrievalSources.FusionPriority
			}
			if override.RetrievalSources.StructuredFieldPriority != nil {
				retrievalSources.structuredFieldPriority = *override.RetrievalSources.StructuredFieldPriority
			}
		}
	}

	if blend.enabled && len(blend.segments) == 0 {
		// A misconfigured/overridden empty segment list behaves as disabled
		// rather than panicking retrievalWeightForRank's fallback path.
		blend.enabled = false
	}

	snapshot := map[string]any{
		"recency_tau_days":   cfg.Ranking.RecencyTauDays,
		"tie_breaker_weight": cfg.Ranking.TieBreakerWeight,
		"blend": map[string]any{
			"enabled":  blend.enabled,
			"segments": blendSegmentsJSON(blend.segments),
		},
		"diversity": map[string]any{
			"enabled":       diversity.enabled,
			"sim_threshold": diversity.simThreshold,
			"mmr_lambda":    diversity.mmrLambda,
			"max_skips":     diversity.maxSkips,
		},
		"retrieval_sources": map[string]any{
			"fusion_weight":             retrievalSources.fusionWeight,
			"structured_field_weight":   retrievalSources.structuredFieldWeight,
			"fusion_priority":           retrievalSources.fusionPriority,
			"structured_field_priority": retrievalSources.structuredFieldPriority,
		},
	}

	return resolvedPolicy{
		recencyTauDays: cfg.Ranking.RecencyTauDays, tieBreakerWeight: cfg.Ranking.TieBreakerWeight,
		blend: blend, diversity: diversity, retrievalSources: retrievalSources,
		override: override, policyID: hashPolicySnapshot(snapshot), snapshot: snapshot,
	}
}

// validateRankingOverride applies the same finite/range checks as the
// original's resolve_diversity_policy (spec §5 "Per-request ranking
// overrides").
func validateRankingOverride(override *RankingOverride) error {
	if override == nil {
		return nil
	}
	if d := override.Diversity; d != nil {
		if d.SimThreshold != nil && !validUnitRange(*d.SimThreshold) {
			return apperr.InvalidRequest("ranking_override.diversity.sim_threshold must be a finite number in the range 0.0-1.0")
		}
		if d.MMRLambda != nil && !validUnitRange(*d.MMRLambda) {
			return apperr.InvalidRequest("ranking_override.diversity.mmr_lambda must be a finite number in the range 0.0-1.0")
		}
	}
	if b := override.Blend; b != nil && b.Segments != nil {
		if err := validateBlendSegments(b.Segments); err != nil {
			return err
		}
	}
	if r := override.RetrievalSources; r != nil {
		for label, v := range map[string]*float32{
			"ranking_override.retrieval_sources.fusion_weight":           r.FusionWeight,
			"ranking_override.retrieval_sources.structured_field_weight": r.StructuredFieldWeight,
		} {
			if v != nil && (!isFinite32(*v) || *v < 0) {
				return apperr.InvalidRequestf("%s must be a finite number >= 0", label)
			}
		}
		fw, sw := float32(1), float32(0)
		if r.FusionWeight != nil {
			fw = *r.FusionWeight
		}
		if r.StructuredFieldWeight != nil {
			sw = *r.StructuredFieldWeight
		}
		if fw <= 0 && sw <= 0 {
			return apperr.InvalidRequest("at least one retrieval source weight must be greater than zero")
		}
	}
	return nil
}

func validateBlendSegments(segments []config.RankingBlendSegment) error {
	if len(segments) == 0 {
		return apperr.InvalidRequest("ranking.blend.segments must be non-empty")
	}
	lastMax := 0
	for i, seg := range segments {
		if seg.MaxRetrievalRank <= 0 {
			return apperr.InvalidRequest("ranking.blend.segments.max_retrieval_rank must be greater than zero")
		}
		if i > 0 && seg.MaxRetrievalRank <= lastMax {
			return apperr.InvalidRequest("ranking.blend.segments.max_retrieval_rank must be strictly increasing")
		}
		if !isFinite32(seg.RetrievalWeight) || !validUnitRange(seg.RetrievalWeight) {
			return apperr.InvalidRequest("ranking.blend.segments.retrieval_weight must be a finite number in the range 0.0-1.0")
		}
		lastMax = seg.MaxRetrievalRank
	}
	return nil
}

func isFinite32(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

func validUnitRange(f float32) bool {
	return isFinite32(f) && f >= 0 && f <= 1
}

// retrievalWeightForRank resolves the down-weight for a given retrieval
// rank: the first segment whose max_retrieval_rank >= rank wins, otherwise
// the last segment's weight, or 0.5 if there are none (spec §5's grounding
// on policy.rs's retrieval_weight_for_rank).
func retrievalWeightForRank(rank int, segments []config.RankingBlendSegment) float32 {
	for _, seg := range segments {
		if rank <= seg.MaxRetrievalRank {
			return seg.RetrievalWeight
		}
	}
	if len(segments) > 0 {
		return segments[len(segments)-1].RetrievalWeight
	}
	return 0.5
}

func blendSegmentsJSON(segments []config.RankingBlendSegment) []map[string]any {
	out := make([]map[string]any, len(segments))
	for i, seg := range segments {
		out[i] = map[string]any{"max_retrieval_rank": seg.MaxRetrievalRank, "retrieval_weight": seg.RetrievalWeight}
	}
	return out
}

// hashPolicySnapshot blake3-hashes the resolved policy for
// config_snapshot.ranking.policy_id (spec §5's grounding on policy.rs's
// hash_policy_snapshot).
func hashPolicySnapshot(snapshot map[string]any) string {
	b, err := json.Marshal(snapshot)
	if err != nil {
		panic(err) // snapshot is a plain map of strings/numbers/bools/slices
	}
	sum := blake3.Sum256(b)
	return hexEncode(sum[:])
}

const hexDigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xf]
	}
	return string(out)
}
