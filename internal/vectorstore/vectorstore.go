// Package vectorstore is ELF's vector store (V): a qdrant-backed hybrid
// dense+BM25 index over note chunks, queried with server-side RRF fusion
// (spec §4.4 "Hybrid retrieval"). Grounded on the teacher pack's
// ashita-ai-akashi search.NewQdrantIndex wiring (cmd/akashi/main.go: a
// qdrant index behind a narrow Searcher interface, driven by an outbox
// worker) — the indexing side here plays the same role as akashi's
// OutboxWorker, adapted to ELF's note/chunk domain.
package vectorstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

const (
	denseVectorName = "dense"
	bm25VectorName  = "bm25"
)

// Config addresses one qdrant collection.
type Config struct {
	URL        string
	Collection string
	VectorDim  int
	APIKey     string
}

// Store wraps a qdrant client scoped to one collection.
type Store struct {
	client     *qdrant.Client
	collection string
	vectorDim  uint64
}

// Open connects to qdrant and ensures the collection exists with a dense
// cosine vector plus a BM25 sparse vector (spec §4.4: "hybrid dense+BM25
// vector search with server-side RRF fusion").
func Open(ctx context.Context, cfg Config) (*Store, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, apperr.Qdrant(err, "connect to qdrant")
	}

	s := &Store{client: client, collection: cfg.Collection, vectorDim: uint64(cfg.VectorDim)}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func parseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}
	h, p, err := net.SplitHostPort(u.Host)
	if err != nil {
		// no explicit port: fall back to qdrant's gRPC default, for any scheme.
		h = u.Host
		p = "6334"
	}
	portNum, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid qdrant port %q: %w", p, err)
	}
	return h, portNum, u.Scheme == "https", nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return apperr.Qdrant(err, "check collection existence")
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     s.vectorDim,
				Distance: qdrant.Distance_Cosine,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			bm25VectorName: {
				Modifier: qdrant.Modifier_Idf.Enum(),
			},
		}),
	})
	if err != nil {
		return apperr.Qdrant(err, "create collection")
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "tenant_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return apperr.Qdrant(err, "create tenant_id field index")
	}
	return nil
}

// ChunkPoint is everything the vector store needs to index one chunk (spec
// §4.2e "payload fields").
type ChunkPoint struct {
	ChunkID          uuid.UUID
	NoteID           uuid.UUID
	ChunkIndex       int
	StartOffset      int
	EndOffset        int
	TenantID         string
	ProjectID        string
	AgentID          string
	Scope            domain.Scope
	Type             domain.NoteType
	Key              *string
	Importance       float32
	Confidence       float32
	Status           domain.NoteStatus
	UpdatedAt        time.Time
	ExpiresAt        *time.Time
	EmbeddingVersion string
	Dense            []float32
	SparseIndices    []uint32
	SparseValues     []float32
}

// Upsert indexes (or re-indexes) one chunk point.
func (s *Store) Upsert(ctx context.Context, p *ChunkPoint) error {
	payload := map[string]any{
		"chunk_id":          p.ChunkID.String(),
		"note_id":           p.NoteID.String(),
		"chunk_index":       int64(p.ChunkIndex),
		"start_offset":      int64(p.StartOffset),
		"end_offset":        int64(p.EndOffset),
		"tenant_id":         p.TenantID,
		"project_id":        p.ProjectID,
		"agent_id":          p.AgentID,
		"scope":             string(p.Scope),
		"type":              string(p.Type),
		"importance":        float64(p.Importance),
		"confidence":        float64(p.Confidence),
		"status":            string(p.Status),
		"updated_at":        p.UpdatedAt.UTC().Format(time.RFC3339),
		"embedding_version": p.EmbeddingVersion,
	}
	if p.Key != nil {
		payload["key"] = *p.Key
	}
	if p.ExpiresAt != nil {
		payload["expires_at"] = p.ExpiresAt.UTC().Format(time.RFC3339)
	}

	vectors := map[string]*qdrant.Vector{
		denseVectorName: qdrant.NewVector(p.Dense...),
	}
	if len(p.SparseIndices) > 0 {
		vectors[bm25VectorName] = qdrant.NewVectorSparse(p.SparseIndices, p.SparseValues)
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(p.ChunkID.String()),
				Vectors: qdrant.NewVectorsMap(vectors),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	if err != nil {
		return apperr.Qdrant(err, "upsert chunk point")
	}
	return nil
}

// DeleteNote removes every point belonging to a note, used by the DELETE
// outbox op and by note deletion/expiry.
func (s *Store) DeleteNote(ctx context.Context, noteID uuid.UUID) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("note_id", noteID.String()),
			},
		}),
	})
	if err != nil {
		return apperr.Qdrant(err, "delete note points")
	}
	return nil
}

// DeleteChunk removes a single chunk point (used when a note is re-chunked
// to a smaller chunk count and trailing chunk ids must be dropped).
func (s *Store) DeleteChunk(ctx context.Context, chunkID uuid.UUID) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorIDs([]*qdrant.PointId{qdrant.NewID(chunkID.String())}),
	})
	if err != nil {
		return apperr.Qdrant(err, "delete chunk point")
	}
	return nil
}

// Candidate is one hybrid-search result.
type Candidate struct {
	ChunkID    uuid.UUID
	NoteID     uuid.UUID
	ChunkIndex int
	Score      float32
	AgentID    string
	Scope      domain.Scope
	Type       domain.NoteType
	Key        string
	Status     domain.NoteStatus
	UpdatedAt  time.Time
}

// QueryParams scopes a hybrid search to the allowed tenant/project/scopes
// and optionally a note type (spec §4.4 "scope filter applied before
// ranking").
type QueryParams struct {
	TenantID      string
	ProjectID     string
	AgentID       string
	AllowedScopes []domain.Scope
	NoteType      *domain.NoteType
	Dense         []float32
	SparseIndices []uint32
	SparseValues  []float32
	Limit         int
}

// HybridSearch runs a dense+BM25 prefetch with server-side RRF fusion,
// scoped by a qdrant-side Filter so ACL-excluded scopes never leave the
// database (spec §4.4 invariant: "scope filtering is enforced at the
// vector-store query, not only at the application layer"). It is the
// single-query special case of FusionSearch.
func (s *Store) HybridSearch(ctx context.Context, p QueryParams) ([]Candidate, error) {
	return s.FusionSearch(ctx, []MultiQuery{{Dense: p.Dense, SparseIndices: p.SparseIndices, SparseValues: p.SparseValues}}, p)
}

// MultiQuery is one expanded query's dense embedding plus its BM25 sparse
// vector, both queried against the same scope filter (spec §4.3 "Fusion
// query (server-side RRF)": "For each query: add two prefetches").
type MultiQuery struct {
	Dense         []float32
	SparseIndices []uint32
	SparseValues  []float32
}

// FusionSearch runs one dense+BM25 prefetch pair per query, all fused
// server-side by a single RRF pass, so a multi-query expansion costs one
// round trip regardless of how many queries are prefetched (spec §4.3).
func (s *Store) FusionSearch(ctx context.Context, queries []MultiQuery, p QueryParams) ([]Candidate, error) {
	filter := s.buildFilter(p)
	limit := uint64(p.Limit)

	prefetch := make([]*qdrant.PrefetchQuery, 0, len(queries)*2)
	for _, q := range queries {
		prefetch = append(prefetch, &qdrant.PrefetchQuery{
			Query:  qdrant.NewQueryDense(q.Dense),
			Using:  qdrant.PtrString(denseVectorName),
			Filter: filter,
			Limit:  &limit,
		})
		if len(q.SparseIndices) > 0 {
			prefetch = append(prefetch, &qdrant.PrefetchQuery{
				Query:  qdrant.NewQuerySparse(q.SparseIndices, q.SparseValues),
				Using:  qdrant.PtrString(bm25VectorName),
				Filter: filter,
				Limit:  &limit,
			})
		}
	}

	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryRRF(),
		Filter:         filter,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperr.Qdrant(err, "fusion search query")
	}

	out := make([]Candidate, 0, len(resp))
	for _, point := range resp {
		c, err := candidateFromPoint(point)
		if err != nil {
			return nil, apperr.Qdrant(err, "parse candidate payload")
		}
		out = append(out, c)
	}
	return out, nil
}

// HashedSparseVector builds a bag-of-words BM25-slot sparse vector keyed by
// a stable term hash, with term-frequency weights. Shared by the indexing
// worker (indexing a chunk's text) and the retrieval core (indexing a query
// string), since both sides of the sparse channel must hash terms the same
// way for the BM25 prefetch to mean anything. This is a deliberately
// simplified stand-in for a corpus-aware BM25 weighting scheme: no example
// repo in the pack imports a BM25/sparse-text-vectorization library, and
// qdrant's own server-side Document+model path isn't exercised by the
// go-client's typed builder surface used elsewhere here, so a hand-rolled
// term-frequency hash (stdlib hash/fnv, strings) is the justified choice
// (see DESIGN.md).
func HashedSparseVector(text string) ([]uint32, []float32) {
	counts := make(map[uint32]float32)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		counts[h.Sum32()]++
	}
	if len(counts) == 0 {
		return nil, nil
	}
	indices := make([]uint32, 0, len(counts))
	values := make([]float32, 0, len(counts))
	for idx, val := range counts {
		indices = append(indices, idx)
		values = append(values, val)
	}
	return indices, values
}

// buildFilter gates results to the caller's tenant/project/status and, for
// every allowed scope, an ANY-of (should) clause. agent_private is treated
// specially: a chunk only matches it when the chunk's own agent_id also
// matches the querying agent, so a vector-store-level leak of another
// agent's private notes can't happen even before internal/retrieval's
// application-layer ACL re-check runs (spec's scope-isolation invariant,
// defense-in-depth alongside internal/retrieval/blend.go's aclFilter).
func (s *Store) buildFilter(p QueryParams) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch("tenant_id", p.TenantID),
		qdrant.NewMatch("project_id", p.ProjectID),
		qdrant.NewMatch("status", string(domain.NoteStatusActive)),
	}
	if p.NoteType != nil {
		must = append(must, qdrant.NewMatch("type", string(*p.NoteType)))
	}

	should := make([]*qdrant.Condition, 0, len(p.AllowedScopes))
	for _, sc := range p.AllowedScopes {
		if sc == domain.ScopeAgentPrivate {
			should = append(should, qdrant.NewFilterAsCondition(&qdrant.Filter{
				Must: []*qdrant.Condition{
					qdrant.NewMatch("scope", string(domain.ScopeAgentPrivate)),
					qdrant.NewMatch("agent_id", p.AgentID),
				},
			}))
			continue
		}
		should = append(should, qdrant.NewMatch("scope", string(sc)))
	}

	return &qdrant.Filter{
		Must:        must,
		ShouldMatch: should,
	}
}

func candidateFromPoint(point *qdrant.ScoredPoint) (Candidate, error) {
	var c Candidate
	c.Score = point.GetScore()

	id := point.GetId().GetUuid()
	chunkID, err := uuid.Parse(id)
	if err != nil {
		return c, fmt.Errorf("parse chunk id %q: %w", id, err)
	}
	c.ChunkID = chunkID

	payload := point.GetPayload()
	if v, ok := payload["note_id"]; ok {
		noteID, err := uuid.Parse(v.GetStringValue())
		if err != nil {
			return c, fmt.Errorf("parse note_id payload: %w", err)
		}
		c.NoteID = noteID
	}
	if v, ok := payload["chunk_index"]; ok {
		c.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload["agent_id"]; ok {
		c.AgentID = v.GetStringValue()
	}
	if v, ok := payload["scope"]; ok {
		c.Scope = domain.Scope(v.GetStringValue())
	}
	if v, ok := payload["type"]; ok {
		c.Type = domain.NoteType(v.GetStringValue())
	}
	if v, ok := payload["key"]; ok {
		c.Key = v.GetStringValue()
	}
	if v, ok := payload["status"]; ok {
		c.Status = domain.NoteStatus(v.GetStringValue())
	}
	if v, ok := payload["updated_at"]; ok {
		ts, err := time.Parse(time.RFC3339, v.GetStringValue())
		if err != nil {
			return c, fmt.Errorf("parse updated_at payload: %w", err)
		}
		c.UpdatedAt = ts.UTC()
	}
	return c, nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}
