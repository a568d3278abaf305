package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads a YAML (or JSON) config file at path, applies Defaults()
// first, and overlays environment variables of the form
// ELF_MEMORY_MAX_NOTE_CHARS for memory.max_note_chars, mirroring the
// teacher's env-first instinct (cmd/server/main.go's env(k, def) helper)
// but generalized via viper.AutomaticEnv.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Defaults returns a Config populated with the same baseline values the
// Rust original ships in its test fixtures, suitable for local dev and unit
// tests that don't care about the exact tuning.
func Defaults() *Config {
	v := viper.New()
	applyDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("memory.max_notes_per_add_event", 8)
	v.SetDefault("memory.max_note_chars", 2000)
	v.SetDefault("memory.dup_sim_threshold", 0.92)
	v.SetDefault("memory.update_sim_threshold", 0.85)
	v.SetDefault("memory.candidate_k", 50)
	v.SetDefault("memory.top_k", 10)

	v.SetDefault("search.expansion.mode", "off")
	v.SetDefault("search.expansion.max_queries", 4)
	v.SetDefault("search.expansion.include_original", true)
	v.SetDefault("search.dynamic.min_candidates", 10)
	v.SetDefault("search.dynamic.min_top_score", 0.12)
	v.SetDefault("search.prefilter.max_candidates", 0)
	v.SetDefault("search.cache.enabled", true)
	v.SetDefault("search.cache.expansion_ttl_days", 7)
	v.SetDefault("search.cache.rerank_ttl_days", 7)
	v.SetDefault("search.cache.max_payload_bytes", 262144)
	v.SetDefault("search.explain.retention_days", 7)
	v.SetDefault("search.explain.capture_candidates", false)
	v.SetDefault("search.explain.candidate_retention_days", 2)

	v.SetDefault("ranking.recency_tau_days", 60.0)
	v.SetDefault("ranking.tie_breaker_weight", 0.1)
	v.SetDefault("ranking.diversity.enabled", true)
	v.SetDefault("ranking.diversity.sim_threshold", 0.88)
	v.SetDefault("ranking.diversity.mmr_lambda", 0.7)
	v.SetDefault("ranking.diversity.max_skips", 64)
	v.SetDefault("ranking.blend.enabled", false)

	v.SetDefault("session.sliding_ttl_hours", 6)
	v.SetDefault("session.absolute_ttl_hours", 24)

	v.SetDefault("lifecycle.ttl_days.plan", 30)
	v.SetDefault("lifecycle.ttl_days.fact", 0)
	v.SetDefault("lifecycle.ttl_days.preference", 0)
	v.SetDefault("lifecycle.ttl_days.constraint", 0)
	v.SetDefault("lifecycle.ttl_days.decision", 0)
	v.SetDefault("lifecycle.ttl_days.profile", 0)
	v.SetDefault("lifecycle.purge_deleted_after_days", 30)
	v.SetDefault("lifecycle.purge_deprecated_after_days", 180)

	v.SetDefault("security.reject_cjk", true)
	v.SetDefault("security.redact_secrets_on_write", true)
	v.SetDefault("security.evidence_min_quotes", 1)
	v.SetDefault("security.evidence_max_quotes", 3)
	v.SetDefault("security.evidence_max_quote_chars", 320)
	v.SetDefault("security.auth_mode", "off")

	v.SetDefault("scopes.allowed", []string{"agent_private", "project_shared", "org_shared"})
	v.SetDefault("scopes.read_profiles.private_only", []string{"agent_private"})
	v.SetDefault("scopes.read_profiles.private_plus_project", []string{"agent_private", "project_shared"})
	v.SetDefault("scopes.read_profiles.all_scopes", []string{"agent_private", "project_shared", "org_shared"})
	v.SetDefault("scopes.precedence.agent_private", 30)
	v.SetDefault("scopes.precedence.project_shared", 20)
	v.SetDefault("scopes.precedence.org_shared", 10)
	v.SetDefault("scopes.write_allowed.agent_private", true)
	v.SetDefault("scopes.write_allowed.project_shared", true)
	v.SetDefault("scopes.write_allowed.org_shared", true)

	v.SetDefault("storage.qdrant.vector_dim", 1536)
	v.SetDefault("storage.qdrant.collection", "elf_notes_v1")
	v.SetDefault("storage.qdrant.url", "http://localhost:6334")
	v.SetDefault("storage.postgres.dsn", "postgres://localhost/elf")
	v.SetDefault("storage.postgres.pool_max_conns", 20)

	v.SetDefault("chunking.max_tokens", 512)
	v.SetDefault("chunking.overlap_tokens", 64)
	v.SetDefault("chunking.tokenizer_repo", "cl100k_base")
}
