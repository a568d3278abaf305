// Package config is the typed transcription of every configuration key
// enumerated in spec §6. Loading is a boundary concern (spec §1): this
// package owns the YAML/env loading machinery, but the core packages only
// ever see the typed Config struct below.
package config

// Config is the full application configuration. Field names mirror the
// dotted keys from spec §6 (memory.max_notes_per_add_event becomes
// Memory.MaxNotesPerAddEvent, etc).
type Config struct {
	Memory    Memory    `mapstructure:"memory"`
	Search    Search    `mapstructure:"search"`
	Ranking   Ranking   `mapstructure:"ranking"`
	Session   Session   `mapstructure:"session"`
	Lifecycle Lifecycle `mapstructure:"lifecycle"`
	Security  Security  `mapstructure:"security"`
	Scopes    Scopes    `mapstructure:"scopes"`
	Storage   Storage   `mapstructure:"storage"`
	Chunking  Chunking  `mapstructure:"chunking"`
	Providers Providers `mapstructure:"providers"`
}

// Session configures the progressive search session's TTL policy (spec
// §4.4 "Sliding + absolute TTL").
type Session struct {
	SlidingTTLHours  int `mapstructure:"sliding_ttl_hours"`
	AbsoluteTTLHours int `mapstructure:"absolute_ttl_hours"`
}

type Memory struct {
	MaxNotesPerAddEvent int     `mapstructure:"max_notes_per_add_event"`
	MaxNoteChars        int     `mapstructure:"max_note_chars"`
	DupSimThreshold     float32 `mapstructure:"dup_sim_threshold"`
	UpdateSimThreshold  float32 `mapstructure:"update_sim_threshold"`
	CandidateK          int     `mapstructure:"candidate_k"`
	TopK                int     `mapstructure:"top_k"`
}

type Search struct {
	Expansion SearchExpansion `mapstructure:"expansion"`
	Dynamic   SearchDynamic   `mapstructure:"dynamic"`
	Prefilter SearchPrefilter `mapstructure:"prefilter"`
	Cache     SearchCache     `mapstructure:"cache"`
	Explain   SearchExplain   `mapstructure:"explain"`
}

type SearchExpansion struct {
	Mode            string `mapstructure:"mode"` // off | always | dynamic
	MaxQueries      int    `mapstructure:"max_queries"`
	IncludeOriginal bool   `mapstructure:"include_original"`
}

type SearchDynamic struct {
	MinCandidates int     `mapstructure:"min_candidates"`
	MinTopScore   float32 `mapstructure:"min_top_score"`
}

type SearchPrefilter struct {
	MaxCandidates int `mapstructure:"max_candidates"` // 0 = unset
}

type SearchCache struct {
	Enabled          bool  `mapstructure:"enabled"`
	ExpansionTTLDays int   `mapstructure:"expansion_ttl_days"`
	RerankTTLDays    int   `mapstructure:"rerank_ttl_days"`
	MaxPayloadBytes  int64 `mapstructure:"max_payload_bytes"`
}

type SearchExplain struct {
	RetentionDays          int  `mapstructure:"retention_days"`
	CaptureCandidates      bool `mapstructure:"capture_candidates"`
	CandidateRetentionDays int  `mapstructure:"candidate_retention_days"`
}

type Ranking struct {
	RecencyTauDays   float64          `mapstructure:"recency_tau_days"`
	TieBreakerWeight float32          `mapstructure:"tie_breaker_weight"`
	Diversity        RankingDiversity `mapstructure:"diversity"`
	Blend            RankingBlend     `mapstructure:"blend"`
}

type RankingDiversity struct {
	Enabled      bool    `mapstructure:"enabled"`
	SimThreshold float32 `mapstructure:"sim_threshold"`
	MMRLambda    float32 `mapstructure:"mmr_lambda"`
	MaxSkips     int     `mapstructure:"max_skips"`
}

type RankingBlendSegment struct {
	MaxRetrievalRank int     `mapstructure:"max_retrieval_rank"`
	RetrievalWeight  float32 `mapstructure:"retrieval_weight"`
}

type RankingBlend struct {
	Enabled  bool                  `mapstructure:"enabled"`
	Segments []RankingBlendSegment `mapstructure:"segments"`
}

type Lifecycle struct {
	TTLDays                  TTLDays `mapstructure:"ttl_days"`
	PurgeDeletedAfterDays    int     `mapstructure:"purge_deleted_after_days"`
	PurgeDeprecatedAfterDays int     `mapstructure:"purge_deprecated_after_days"`
}

type TTLDays struct {
	Plan       int `mapstructure:"plan"`
	Fact       int `mapstructure:"fact"`
	Preference int `mapstructure:"preference"`
	Constraint int `mapstructure:"constraint"`
	Decision   int `mapstructure:"decision"`
	Profile    int `mapstructure:"profile"`
}

// Days returns the configured TTL, in days, for a note type. A zero (or
// negative) value means "no TTL" per spec §4.1.
func (t TTLDays) Days(noteType string) int {
	switch noteType {
	case "plan":
		return t.Plan
	case "fact":
		return t.Fact
	case "preference":
		return t.Preference
	case "constraint":
		return t.Constraint
	case "decision":
		return t.Decision
	case "profile":
		return t.Profile
	default:
		return 0
	}
}

type Security struct {
	RejectCJK             bool   `mapstructure:"reject_cjk"`
	RedactSecretsOnWrite  bool   `mapstructure:"redact_secrets_on_write"`
	EvidenceMinQuotes     int    `mapstructure:"evidence_min_quotes"`
	EvidenceMaxQuotes     int    `mapstructure:"evidence_max_quotes"`
	EvidenceMaxQuoteChars int    `mapstructure:"evidence_max_quote_chars"`
	AuthMode              string `mapstructure:"auth_mode"`
}

type ReadProfiles struct {
	PrivateOnly        []string `mapstructure:"private_only"`
	PrivatePlusProject []string `mapstructure:"private_plus_project"`
	AllScopes          []string `mapstructure:"all_scopes"`
}

// Scopes returns the allowed scope list for a named read profile, and
// whether the profile name was recognized.
func (r ReadProfiles) Scopes(profile string) ([]string, bool) {
	switch profile {
	case "private_only":
		return r.PrivateOnly, true
	case "private_plus_project":
		return r.PrivatePlusProject, true
	case "all_scopes":
		return r.AllScopes, true
	default:
		return nil, false
	}
}

type ScopePrecedence struct {
	AgentPrivate  int `mapstructure:"agent_private"`
	ProjectShared int `mapstructure:"project_shared"`
	OrgShared     int `mapstructure:"org_shared"`
}

type ScopeWriteAllowed struct {
	AgentPrivate  bool `mapstructure:"agent_private"`
	ProjectShared bool `mapstructure:"project_shared"`
	OrgShared     bool `mapstructure:"org_shared"`
}

type Scopes struct {
	Allowed      []string          `mapstructure:"allowed"`
	ReadProfiles ReadProfiles      `mapstructure:"read_profiles"`
	Precedence   ScopePrecedence   `mapstructure:"precedence"`
	WriteAllowed ScopeWriteAllowed `mapstructure:"write_allowed"`
}

type Qdrant struct {
	VectorDim  int    `mapstructure:"vector_dim"`
	Collection string `mapstructure:"collection"`
	URL        string `mapstructure:"url"`
}

type Postgres struct {
	DSN          string `mapstructure:"dsn"`
	PoolMaxConns int32  `mapstructure:"pool_max_conns"`
}

type Storage struct {
	Qdrant   Qdrant   `mapstructure:"qdrant"`
	Postgres Postgres `mapstructure:"postgres"`
}

type Chunking struct {
	MaxTokens     int    `mapstructure:"max_tokens"`
	OverlapTokens int    `mapstructure:"overlap_tokens"`
	TokenizerRepo string `mapstructure:"tokenizer_repo"`
}

type EmbeddingProvider struct {
	ProviderID string `mapstructure:"provider_id"`
	Model      string `mapstructure:"model"`
	TimeoutMs  int    `mapstructure:"timeout_ms"`
}

type RerankProvider struct {
	ProviderID string `mapstructure:"provider_id"`
	Model      string `mapstructure:"model"`
	TimeoutMs  int    `mapstructure:"timeout_ms"`
}

type ExtractProvider struct {
	ProviderID  string  `mapstructure:"provider_id"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	TimeoutMs   int     `mapstructure:"timeout_ms"`
}

type ExpandProvider struct {
	ProviderID  string  `mapstructure:"provider_id"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	TimeoutMs   int     `mapstructure:"timeout_ms"`
}

// Providers names which concrete backend serves each capability interface
// in internal/providers (spec §6's provider config table). The embedding
// provider_id/model are also stamped into every note/chunk's
// embedding_version tag so a config change never silently mixes
// incompatible vectors.
type Providers struct {
	Embedding EmbeddingProvider `mapstructure:"embedding"`
	Rerank    RerankProvider    `mapstructure:"rerank"`
	Extract   ExtractProvider   `mapstructure:"extract"`
	Expand    ExpandProvider    `mapstructure:"expand"`
}

// claimLeaseSeconds, baseBackoffMs, maxBackoffMs, and the other numeric
// constants from spec §4.2 are not configurable per spec's own wording
// ("named constants, not mutable singletons" — design note §9); they live
// in internal/indexworker as untyped consts.
