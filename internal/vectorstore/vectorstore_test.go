package vectorstore

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/require"

	"github.com/elf-memory/elf/internal/domain"
)

func TestParseQdrantURL(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{name: "explicit port, plain", raw: "http://qdrant.internal:6334", wantHost: "qdrant.internal", wantPort: 6334, wantTLS: false},
		{name: "explicit port, tls", raw: "https://qdrant.internal:6334", wantHost: "qdrant.internal", wantPort: 6334, wantTLS: true},
		{name: "no port defaults to 6334", raw: "http://qdrant.internal", wantHost: "qdrant.internal", wantPort: 6334, wantTLS: false},
		{name: "invalid url", raw: "://bad", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantHost, host)
			require.Equal(t, tc.wantPort, port)
			require.Equal(t, tc.wantTLS, tls)
		})
	}
}

func TestHashedSparseVectorEmpty(t *testing.T) {
	indices, values := HashedSparseVector("   ")
	require.Nil(t, indices)
	require.Nil(t, values)
}

func TestHashedSparseVectorTermFrequency(t *testing.T) {
	indices, values := HashedSparseVector("the cat sat on the mat")
	require.Len(t, indices, 5) // the, cat, sat, on, mat -- "the" repeats
	require.Len(t, values, 5)

	// re-hashing the same text must produce the same slot set, since the
	// indexing worker and retrieval core hash independently and must agree.
	indices2, _ := HashedSparseVector("The cat SAT on the mat!")
	require.ElementsMatch(t, indices, indices2)

	total := float32(0)
	for _, v := range values {
		total += v
	}
	require.Equal(t, float32(6), total) // 6 tokens total, "the" counted twice
}

func TestHashedSparseVectorStripsPunctuation(t *testing.T) {
	a, _ := HashedSparseVector("hello, world!")
	b, _ := HashedSparseVector("hello world")
	require.ElementsMatch(t, a, b)
}

func TestBuildFilterScopesAndType(t *testing.T) {
	s := &Store{}
	noteType := domain.NoteType("preference")
	filter := s.buildFilter(QueryParams{
		TenantID:      "t1",
		ProjectID:     "p1",
		AllowedScopes: []domain.Scope{domain.ScopeProjectShared, domain.ScopeOrgShared},
		NoteType:      &noteType,
	})

	// tenant_id + project_id + status + type are always required (Must);
	// allowed scopes are an OR set (ShouldMatch); neither scope here is
	// agent_private, so every should-clause is a flat scope match.
	require.Len(t, filter.Must, 4)
	require.Len(t, filter.ShouldMatch, 2)
	for _, cond := range filter.ShouldMatch {
		require.Nil(t, cond.GetFilter())
		require.Equal(t, "scope", cond.GetField().GetKey())
	}
}

func TestBuildFilterNoNoteType(t *testing.T) {
	s := &Store{}
	filter := s.buildFilter(QueryParams{
		TenantID:      "t1",
		ProjectID:     "p1",
		AllowedScopes: []domain.Scope{domain.ScopeProjectShared},
	})
	require.Len(t, filter.Must, 3)
	require.Len(t, filter.ShouldMatch, 1)
}

func TestBuildFilterAgentPrivateIsNestedAndGatedByAgentID(t *testing.T) {
	s := &Store{}
	filter := s.buildFilter(QueryParams{
		TenantID:      "t1",
		ProjectID:     "p1",
		AgentID:       "agent-7",
		AllowedScopes: []domain.Scope{domain.ScopeAgentPrivate, domain.ScopeProjectShared},
	})

	require.Len(t, filter.ShouldMatch, 2)

	var nested *qdrant.Filter
	var flatKeys []string
	for _, cond := range filter.ShouldMatch {
		if f := cond.GetFilter(); f != nil {
			nested = f
			continue
		}
		flatKeys = append(flatKeys, cond.GetField().GetKey())
	}

	require.NotNil(t, nested, "agent_private must be wrapped in a nested Must filter, not a flat scope match")
	require.Equal(t, []string{"scope"}, flatKeys, "project_shared stays a flat should-match")

	require.Len(t, nested.Must, 2)
	gotKeys := []string{nested.Must[0].GetField().GetKey(), nested.Must[1].GetField().GetKey()}
	require.ElementsMatch(t, []string{"scope", "agent_id"}, gotKeys)
	for _, c := range nested.Must {
		if c.GetField().GetKey() == "agent_id" {
			require.Equal(t, "agent-7", c.GetField().GetMatch().GetKeyword())
		}
		if c.GetField().GetKey() == "scope" {
			require.Equal(t, string(domain.ScopeAgentPrivate), c.GetField().GetMatch().GetKeyword())
		}
	}
}

func TestCandidateFromPoint(t *testing.T) {
	chunkID := uuid.New()
	noteID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	point := &qdrant.ScoredPoint{
		Id:    qdrant.NewID(chunkID.String()),
		Score: 0.42,
		Payload: qdrant.NewValueMap(map[string]any{
			"note_id":     noteID.String(),
			"chunk_index": int64(3),
			"agent_id":    "agent-1",
			"scope":       "agent:agent-1",
			"type":        "preference",
			"key":         "favorite_language",
			"status":      "active",
			"updated_at":  now.Format(time.RFC3339),
		}),
	}

	c, err := candidateFromPoint(point)
	require.NoError(t, err)
	require.Equal(t, chunkID, c.ChunkID)
	require.Equal(t, noteID, c.NoteID)
	require.Equal(t, 3, c.ChunkIndex)
	require.Equal(t, float32(0.42), c.Score)
	require.Equal(t, "agent-1", c.AgentID)
	require.Equal(t, domain.Scope("agent:agent-1"), c.Scope)
	require.Equal(t, domain.NoteType("preference"), c.Type)
	require.Equal(t, "favorite_language", c.Key)
	require.Equal(t, domain.NoteStatus("active"), c.Status)
	require.Equal(t, now, c.UpdatedAt)
}

func TestCandidateFromPointMissingPayload(t *testing.T) {
	chunkID := uuid.New()
	point := &qdrant.ScoredPoint{
		Id:    qdrant.NewID(chunkID.String()),
		Score: 0.1,
	}

	c, err := candidateFromPoint(point)
	require.NoError(t, err)
	require.Equal(t, chunkID, c.ChunkID)
	require.Equal(t, uuid.Nil, c.NoteID)
}

func TestCandidateFromPointInvalidID(t *testing.T) {
	point := &qdrant.ScoredPoint{
		Id:    qdrant.NewID("not-a-uuid"),
		Score: 0.1,
	}
	_, err := candidateFromPoint(point)
	require.Error(t, err)
}
