// Package domain holds the data model shared by every ELF subsystem: notes,
// versions, chunks, outbox rows, sessions, traces, and space grants (spec §3).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Scope is a note's visibility band.
type Scope string

const (
	ScopeAgentPrivate  Scope = "agent_private"
	ScopeProjectShared Scope = "project_shared"
	ScopeOrgShared     Scope = "org_shared"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeAgentPrivate, ScopeProjectShared, ScopeOrgShared:
		return true
	default:
		return false
	}
}

// NoteType is the type enum for a note.
type NoteType string

const (
	NoteTypePreference NoteType = "preference"
	NoteTypeConstraint NoteType = "constraint"
	NoteTypeDecision   NoteType = "decision"
	NoteTypeProfile    NoteType = "profile"
	NoteTypeFact       NoteType = "fact"
	NoteTypePlan       NoteType = "plan"
)

func (t NoteType) Valid() bool {
	switch t {
	case NoteTypePreference, NoteTypeConstraint, NoteTypeDecision, NoteTypeProfile, NoteTypeFact, NoteTypePlan:
		return true
	default:
		return false
	}
}

// NoteStatus is the lifecycle status of a note row.
type NoteStatus string

const (
	NoteStatusActive  NoteStatus = "active"
	NoteStatusDeleted NoteStatus = "deleted"
)

// ReadProfile names a subset of scopes allowed for a read.
type ReadProfile string

const (
	ReadProfilePrivateOnly        ReadProfile = "private_only"
	ReadProfilePrivatePlusProject ReadProfile = "private_plus_project"
	ReadProfileAllScopes          ReadProfile = "all_scopes"
)

// Note is the durable source-of-truth row for one typed, scoped fact.
type Note struct {
	NoteID           uuid.UUID
	TenantID         string
	ProjectID        string
	AgentID          string
	Scope            Scope
	Type             NoteType
	Key              *string
	Text             string
	Importance       float32
	Confidence       float32
	Status           NoteStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        *time.Time
	EmbeddingVersion string
	SourceRef        map[string]any
	HitCount         int64
	LastHitAt        *time.Time
}

func (n *Note) Active(now time.Time) bool {
	if n.Status != NoteStatusActive {
		return false
	}
	if n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
		return false
	}
	return true
}

// VersionOp is the tagged union of observable note-state transitions.
type VersionOp string

const (
	VersionOpAdd       VersionOp = "ADD"
	VersionOpUpdate    VersionOp = "UPDATE"
	VersionOpPublish   VersionOp = "PUBLISH"
	VersionOpUnpublish VersionOp = "UNPUBLISH"
	VersionOpDelete    VersionOp = "DELETE"
)

// NoteVersion is an append-only audit row; never deleted.
type NoteVersion struct {
	VersionID    uuid.UUID
	NoteID       uuid.UUID
	Op           VersionOp
	PrevSnapshot map[string]any
	NewSnapshot  map[string]any
	Reason       string
	Actor        string
	Ts           time.Time
}

// NoteChunk is a contiguous slice of a note's text, addressable in V.
type NoteChunk struct {
	ChunkID          uuid.UUID
	NoteID           uuid.UUID
	ChunkIndex       int
	StartOffset      int
	EndOffset        int
	Text             string
	EmbeddingVersion string
}

// ChunkNamespace is the fixed uuidv5 namespace for deterministic chunk ids
// (spec §3: uuidv5(NAMESPACE_OID, "{note_id}:{chunk_index}")).
var ChunkNamespace = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")

// ChunkID computes the deterministic chunk id for a note/index pair.
func ChunkID(noteID uuid.UUID, chunkIndex int) uuid.UUID {
	name := noteID.String() + ":" + itoa(chunkIndex)
	return uuid.NewSHA1(ChunkNamespace, []byte(name))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// OutboxOp is the operation an indexing outbox row represents.
type OutboxOp string

const (
	OutboxOpUpsert OutboxOp = "UPSERT"
	OutboxOpDelete OutboxOp = "DELETE"
)

// OutboxStatus tracks an outbox row's processing state.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusFailed  OutboxStatus = "FAILED"
	OutboxStatusDone    OutboxStatus = "DONE"
)

// IndexingOutbox is the durable queue row bridging R and V.
type IndexingOutbox struct {
	OutboxID         uuid.UUID
	NoteID           uuid.UUID
	Op               OutboxOp
	EmbeddingVersion string
	Status           OutboxStatus
	Attempts         int
	LastError        *string
	AvailableAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SpaceGrantGranteeKind is whether a grant opens a scope to a whole project
// or to one named agent.
type SpaceGrantGranteeKind string

const (
	GranteeKindProject SpaceGrantGranteeKind = "project"
	GranteeKindAgent   SpaceGrantGranteeKind = "agent"
)

// SpaceGrant opens a non-private scope owned by one agent to other readers.
type SpaceGrant struct {
	TenantID       string
	ProjectID      string
	Scope          Scope
	SpaceOwnerID   string
	GranteeKind    SpaceGrantGranteeKind
	GranteeAgentID *string
	GrantedBy      string
	GrantedAt      time.Time
	RevokedAt      *time.Time
	RevokedBy      *string
}

func (g *SpaceGrant) Active() bool { return g.RevokedAt == nil }

// LLMCacheKind distinguishes expansion-cache rows from rerank-cache rows.
type LLMCacheKind string

const (
	LLMCacheKindExpansion LLMCacheKind = "expansion"
	LLMCacheKindRerank    LLMCacheKind = "rerank"
)

// LLMCacheRow is one blake3-keyed cached provider response.
type LLMCacheRow struct {
	Kind           LLMCacheKind
	Key            string
	Payload        map[string]any
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
	HitCount       int64
}

// SearchSession is the TTL-bounded server-side projection of one retrieval.
type SearchSession struct {
	SearchSessionID uuid.UUID
	TraceID         uuid.UUID
	TenantID        string
	ProjectID       string
	AgentID         string
	ReadProfile     ReadProfile
	Query           string
	Items           []IndexItemRecord
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// IndexItemRecord is everything the session needs to serve index/timeline/
// detail views without round-tripping to R (design note §9: no cyclic refs).
type IndexItemRecord struct {
	NoteID        uuid.UUID
	ChunkID       uuid.UUID
	Type          NoteType
	Key           *string
	Scope         Scope
	AgentID       string
	Importance    float32
	Confidence    float32
	UpdatedAt     time.Time
	ExpiresAt     *time.Time
	FinalScore    float32
	Summary       string
	RetrievalRank int
}

// MemoryHit records one recorded retrieval hit against a note/chunk.
type MemoryHit struct {
	HitID      uuid.UUID
	NoteID     uuid.UUID
	ChunkID    uuid.UUID
	QueryHash  string
	Rank       int
	FinalScore float32
	Ts         time.Time
}

// TraceOutboxStatus mirrors OutboxStatus for the search-trace outbox queue.
type TraceOutboxStatus = OutboxStatus

// TraceOutbox is a buffered, not-yet-persisted explain trace.
type TraceOutbox struct {
	OutboxID    uuid.UUID
	TraceID     uuid.UUID
	Payload     map[string]any
	Status      TraceOutboxStatus
	Attempts    int
	LastError   *string
	AvailableAt time.Time
	CreatedAt   time.Time
}
