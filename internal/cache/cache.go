// Package cache derives blake3 cache keys for the expansion and rerank
// caches (spec §4.3 "Expansion cache" / "Rerank pass (with cache)") and
// defines the Store interface the retrieval core reads/writes through.
// Cache read/write failures are warnings that never block a request (spec
// §7), which is why Store methods return (value, ok, err) rather than
// forcing callers to treat err as fatal.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/elf-memory/elf/internal/domain"
)

// ExpansionKeyInput is hashed to produce the expansion-cache key (spec
// §4.3: "blake3 of {kind: expansion, query (trimmed), provider_id, model,
// temperature, version, max_queries, include_original}").
type ExpansionKeyInput struct {
	Query           string
	ProviderID      string
	Model           string
	Temperature     float32
	Version         string
	MaxQueries      int
	IncludeOriginal bool
}

func (in ExpansionKeyInput) Key() string {
	return hashJSON(map[string]any{
		"kind":             string(domain.LLMCacheKindExpansion),
		"query":            in.Query,
		"provider_id":      in.ProviderID,
		"model":            in.Model,
		"temperature":      in.Temperature,
		"version":          in.Version,
		"max_queries":      in.MaxQueries,
		"include_original": in.IncludeOriginal,
	})
}

// RerankCandidate is the (chunk_id, updated_at) anchor pair the rerank
// cache key is built from; any note update changes updated_at and forces a
// fresh score (spec §4.3).
type RerankCandidate struct {
	ChunkID   string
	UpdatedAt time.Time
}

// RerankKeyInput is hashed to produce the rerank-cache key.
type RerankKeyInput struct {
	Query      string
	ProviderID string
	Model      string
	Version    string
	Candidates []RerankCandidate
}

func (in RerankKeyInput) Key() string {
	sorted := append([]RerankCandidate(nil), in.Candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkID < sorted[j].ChunkID })

	candidates := make([]map[string]any, len(sorted))
	for i, c := range sorted {
		candidates[i] = map[string]any{
			"chunk_id":   c.ChunkID,
			"updated_at": c.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return hashJSON(map[string]any{
		"kind":        string(domain.LLMCacheKindRerank),
		"query":       in.Query,
		"provider_id": in.ProviderID,
		"model":       in.Model,
		"version":     in.Version,
		"candidates":  candidates,
	})
}

func hashJSON(v any) string {
	// Marshal with sorted map keys (encoding/json does this already for
	// map[string]any) so the hash is stable across calls.
	b, err := json.Marshal(v)
	if err != nil {
		// Inputs are always plain maps of strings/numbers/bools; Marshal
		// cannot fail for them.
		panic(err)
	}
	sum := blake3.Sum256(b)
	return hex(sum[:])
}

const hexDigits = "0123456789abcdef"

func hex(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xf]
	}
	return string(out)
}

// Store is the persistence contract the retrieval core reads/writes
// through; internal/store provides the Postgres-backed implementation.
type Store interface {
	Get(ctx context.Context, kind domain.LLMCacheKind, key string, now time.Time) (payload map[string]any, ok bool, err error)
	Put(ctx context.Context, kind domain.LLMCacheKind, key string, payload map[string]any, ttl time.Duration, now time.Time) error
}
