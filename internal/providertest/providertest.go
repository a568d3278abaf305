// Package providertest implements deterministic Embedder/Reranker/Extractor
// stubs so write-pipeline, indexing, and retrieval tests never need a live
// network call, mirroring the "dummy_embedding_provider" test fixtures in
// original_source/packages/elf-domain/src/writegate.rs.
package providertest

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/elf-memory/elf/internal/providers"
)

// StubEmbedder returns deterministic vectors: an explicit Overrides entry
// wins; otherwise a hash-derived unit vector of Dim dimensions is produced
// so identical text always embeds identically and distinct text embeds
// distinctly.
type StubEmbedder struct {
	Dim       int
	Overrides map[string][]float32
	// FailNext, if set, causes the next call to return this error once
	// (then is cleared), for exercising the indexing worker's retry path
	// (spec scenario S6).
	FailNext error
}

func (e *StubEmbedder) Embed(_ context.Context, cfg providers.EmbeddingConfig, texts []string) ([][]float32, error) {
	if e.FailNext != nil {
		err := e.FailNext
		e.FailNext = nil
		return nil, err
	}
	dim := e.Dim
	if cfg.Dimensions > 0 {
		dim = cfg.Dimensions
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.Overrides[text]; ok {
			out[i] = v
			continue
		}
		out[i] = deterministicVector(text, dim)
	}
	return out, nil
}

func deterministicVector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		// map to [-1, 1]
		x := (float64(seed>>11)/float64(1<<53))*2 - 1
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// VectorPairWithCosine returns two unit vectors of the given dimension
// whose cosine similarity is exactly target, for constructing scenarios
// like spec S2 ("similarity 0.88") without guessing text hashes.
func VectorPairWithCosine(dim int, target float32) ([]float32, []float32) {
	a := make([]float32, dim)
	a[0] = 1
	b := make([]float32, dim)
	b[0] = target
	if dim > 1 {
		remainder := float32(math.Sqrt(math.Max(0, 1-float64(target*target))))
		b[1] = remainder
	}
	return a, b
}

// StubReranker scores each doc by a simple lexical-overlap heuristic
// (shared-token fraction with the query) scaled into [0, 1], which is
// enough signal for blend/diversity tests without a real cross-encoder.
type StubReranker struct {
	FailNext error
	// Fixed, if set, is returned verbatim (must match len(docs)).
	Fixed []float32
}

func (r *StubReranker) Rerank(_ context.Context, _ providers.RerankConfig, query string, docs []string) ([]float32, error) {
	if r.FailNext != nil {
		err := r.FailNext
		r.FailNext = nil
		return nil, err
	}
	if r.Fixed != nil {
		if len(r.Fixed) != len(docs) {
			return nil, fmt.Errorf("fixed rerank scores length mismatch: got %d want %d", len(r.Fixed), len(docs))
		}
		return r.Fixed, nil
	}
	qTokens := tokenSet(query)
	scores := make([]float32, len(docs))
	for i, d := range docs {
		dTokens := tokenSet(d)
		if len(qTokens) == 0 || len(dTokens) == 0 {
			scores[i] = 0
			continue
		}
		overlap := 0
		for t := range qTokens {
			if dTokens[t] {
				overlap++
			}
		}
		scores[i] = float32(overlap) / float32(len(qTokens))
	}
	return scores, nil
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	cur := make([]rune, 0, 16)
	flush := func() {
		if len(cur) > 1 {
			out[string(cur)] = true
		}
		cur = cur[:0]
	}
	for _, r := range s {
		lower := toLowerASCII(r)
		if isAlnum(lower) {
			cur = append(cur, lower)
		} else {
			flush()
		}
	}
	flush()
	return out
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func toLowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// StubExtractor returns a fixed notes payload regardless of input, for
// add_event tests that want to control the candidate notes precisely.
type StubExtractor struct {
	Notes []map[string]any
	Err   error
}

func (e *StubExtractor) Extract(_ context.Context, _ providers.ExtractConfig, _ []byte) (map[string]any, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return map[string]any{"notes": e.Notes}, nil
}

// StubExpander returns a fixed set of query variations regardless of input,
// or derives deterministic ones from the query when Fixed is nil, for
// retrieval expansion tests (spec §4.3 "Query expansion").
type StubExpander struct {
	Fixed    []string
	Err      error
	FailNext error
}

func (e *StubExpander) Expand(_ context.Context, _ providers.ExpandConfig, query string) ([]string, error) {
	if e.FailNext != nil {
		err := e.FailNext
		e.FailNext = nil
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Fixed != nil {
		return e.Fixed, nil
	}
	return []string{query + " variant a", query + " variant b"}, nil
}
