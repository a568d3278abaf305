// Package providers defines the narrow capability interfaces ELF's core
// depends on for embedding, reranking, and LLM extraction (spec §6). These
// are collaborator interfaces per spec §1/§9 ("Providers are behind a
// narrow capability interface to keep the core testable with stubs"); the
// concrete HTTP clients are a boundary concern and live outside the core.
package providers

import "context"

// EmbeddingConfig is a provider-agnostic config for an embedding call. The
// concrete HTTP client resolves provider_id/api_base/model/etc.
type EmbeddingConfig struct {
	ProviderID string
	Model      string
	Dimensions int
	TimeoutMs  int
}

// RerankConfig is a provider-agnostic config for a rerank call.
type RerankConfig struct {
	ProviderID string
	Model      string
	TimeoutMs  int
}

// ExtractConfig is a provider-agnostic config for an LLM extraction call.
type ExtractConfig struct {
	ProviderID  string
	Model       string
	Temperature float32
	TimeoutMs   int
}

// ExpandConfig is a provider-agnostic config for a query-expansion call
// (spec §4.3 "Query expansion": mode=always/dynamic calls an LLM expander
// for variations).
type ExpandConfig struct {
	ProviderID  string
	Model       string
	Temperature float32
	TimeoutMs   int
}

// Embedder embeds a batch of texts into fixed-dimension vectors. The
// returned slice must have exactly len(texts) entries, each of the
// configured dimension; a short/mismatched response is a provider error,
// never silently truncated (spec §6).
type Embedder interface {
	Embed(ctx context.Context, cfg EmbeddingConfig, texts []string) ([][]float32, error)
}

// Reranker scores a query against a batch of candidate documents. The
// returned slice must have exactly len(docs) entries.
type Reranker interface {
	Rerank(ctx context.Context, cfg RerankConfig, query string, docs []string) ([]float32, error)
}

// Extractor turns a chat transcript into a candidate-notes JSON payload.
// The returned value must unmarshal into a map with a "notes" array (spec
// §4.1 add_event contract); malformed output is a provider error.
type Extractor interface {
	Extract(ctx context.Context, cfg ExtractConfig, messagesJSON []byte) (map[string]any, error)
}

// Expander proposes query variations for retrieval's expansion pass (spec
// §4.3). The returned slice is raw provider output; the retrieval core
// normalizes it (trim, drop empty/CJK, de-dup, truncate, include_original).
type Expander interface {
	Expand(ctx context.Context, cfg ExpandConfig, query string) ([]string, error)
}

// Set bundles the four provider capabilities a service needs, mirroring
// the Rust original's single `Providers` struct.
type Set struct {
	Embedder  Embedder
	Reranker  Reranker
	Extractor Extractor
	Expander  Expander
}
