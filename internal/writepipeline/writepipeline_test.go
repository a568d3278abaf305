package writepipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/domain"
)

var ctx = context.Background()

var errStub = errors.New("extractor unavailable")

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Memory.MaxNotesPerAddEvent = 5
	cfg.Memory.MaxNoteChars = 1000
	cfg.Memory.DupSimThreshold = 0.95
	cfg.Memory.UpdateSimThreshold = 0.85
	cfg.Security.EvidenceMinQuotes = 1
	cfg.Security.EvidenceMaxQuotes = 3
	cfg.Security.EvidenceMaxQuoteChars = 200
	cfg.Scopes.Allowed = []string{"agent_private", "project_shared"}
	cfg.Scopes.WriteAllowed.AgentPrivate = true
	cfg.Scopes.WriteAllowed.ProjectShared = true
	cfg.Lifecycle.TTLDays.Fact = 30
	cfg.Providers.Embedding.ProviderID = "stub"
	cfg.Providers.Embedding.Model = "stub-embed"
	cfg.Storage.Qdrant.VectorDim = 8
	return cfg
}

func TestEmbeddingVersion(t *testing.T) {
	cfg := testConfig()
	require.Equal(t, "stub:stub-embed:8", EmbeddingVersion(cfg))
}

func TestComputeExpiresAtExplicitOverride(t *testing.T) {
	cfg := testConfig()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	days := 7
	got := computeExpiresAt(&days, domain.NoteTypeFact, cfg, now)
	require.NotNil(t, got)
	require.Equal(t, now.Add(7*24*time.Hour), *got)
}

func TestComputeExpiresAtFallsBackToTypeDefault(t *testing.T) {
	cfg := testConfig()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := computeExpiresAt(nil, domain.NoteTypeFact, cfg, now)
	require.NotNil(t, got)
	require.Equal(t, now.Add(30*24*time.Hour), *got)
}

func TestComputeExpiresAtZeroMeansNoExpiry(t *testing.T) {
	cfg := testConfig()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := computeExpiresAt(nil, domain.NoteTypePlan, cfg, now)
	require.Nil(t, got)

	zero := 0
	got = computeExpiresAt(&zero, domain.NoteTypeFact, cfg, now)
	require.Nil(t, got)
}

func TestFloatEqual(t *testing.T) {
	require.True(t, floatEqual(0.5, 0.5))
	require.True(t, floatEqual(0.5, 0.5000001))
	require.False(t, floatEqual(0.5, 0.6))
}

func TestExpiresAtEqual(t *testing.T) {
	now := time.Now().UTC()
	later := now.Add(time.Hour)
	require.True(t, expiresAtEqual(nil, nil))
	require.False(t, expiresAtEqual(&now, nil))
	require.False(t, expiresAtEqual(nil, &now))
	require.True(t, expiresAtEqual(&now, &now))
	require.False(t, expiresAtEqual(&now, &later))
}

func TestSourceRefEqual(t *testing.T) {
	require.True(t, sourceRefEqual(nil, nil))
	require.True(t, sourceRefEqual(map[string]any{"a": 1}, map[string]any{"a": 1}))
	require.False(t, sourceRefEqual(map[string]any{"a": 1}, map[string]any{"a": 2}))
	require.False(t, sourceRefEqual(map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}))
}

func TestMessageTextAt(t *testing.T) {
	texts := []string{"first", "second"}
	require.Equal(t, "first", messageTextAt(texts, 0))
	require.Equal(t, "", messageTextAt(texts, -1))
	require.Equal(t, "", messageTextAt(texts, 2))
}

func TestDecisionOp(t *testing.T) {
	require.Equal(t, NoteOpAdd, decisionOp(decisionAdd))
	require.Equal(t, NoteOpUpdate, decisionOp(decisionUpdate))
	require.Equal(t, NoteOpNone, decisionOp(decisionNone))
}

func TestAddNoteRejectsEmptyList(t *testing.T) {
	s := NewService(nil, testConfig(), nil, nil)
	_, err := s.AddNote(ctx, AddNoteRequest{TenantID: "t1", ProjectID: "p1", AgentID: "a1"})
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, "INVALID_REQUEST", string(kind))
}

func TestAddNoteRejectsCJKText(t *testing.T) {
	s := NewService(nil, testConfig(), nil, nil)
	_, err := s.AddNote(ctx, AddNoteRequest{
		TenantID: "t1", ProjectID: "p1", AgentID: "a1", Scope: domain.ScopeAgentPrivate,
		Notes: []AddNoteInput{{NoteType: domain.NoteTypeFact, Text: "你好"}},
	})
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, "NON_ENGLISH_INPUT", string(kind))
}

func TestAddNoteRejectedByWritegateIsNotAnError(t *testing.T) {
	s := NewService(nil, testConfig(), nil, nil)
	results, err := s.AddNote(ctx, AddNoteRequest{
		TenantID: "t1", ProjectID: "p1", AgentID: "a1", Scope: domain.ScopeAgentPrivate,
		Notes: []AddNoteInput{{NoteType: domain.NoteTypeFact, Text: ""}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, NoteOpRejected, results[0].Op)
	require.Equal(t, "REJECT_EMPTY", results[0].ReasonCode)
}

func TestAddEventRejectsEmptyMessages(t *testing.T) {
	s := NewService(nil, testConfig(), nil, nil)
	_, err := s.AddEvent(ctx, AddEventRequest{TenantID: "t1", ProjectID: "p1", AgentID: "a1"}, nil)
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, "INVALID_REQUEST", string(kind))
}

func TestAddEventRejectsMissingIdentity(t *testing.T) {
	s := NewService(nil, testConfig(), nil, nil)
	_, err := s.AddEvent(ctx, AddEventRequest{
		Messages: []EventMessage{{Role: "user", Content: "hello"}},
	}, nil)
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, "INVALID_REQUEST", string(kind))
}

func TestAddEventRejectsCJKMessage(t *testing.T) {
	s := NewService(nil, testConfig(), nil, nil)
	_, err := s.AddEvent(ctx, AddEventRequest{
		TenantID: "t1", ProjectID: "p1", AgentID: "a1",
		Messages: []EventMessage{{Role: "user", Content: "你好"}},
	}, nil)
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, "NON_ENGLISH_INPUT", string(kind))
}

func TestAddEventPropagatesExtractorError(t *testing.T) {
	s := NewService(nil, testConfig(), nil, nil)
	_, err := s.AddEvent(ctx, AddEventRequest{
		TenantID: "t1", ProjectID: "p1", AgentID: "a1",
		Messages: []EventMessage{{Role: "user", Content: "hello there"}},
	}, failingExtractor{})
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, "PROVIDER", string(kind))
}

func TestAddEventRejectsWhenEvidenceOutOfRange(t *testing.T) {
	s := NewService(nil, testConfig(), nil, nil)
	results, err := s.AddEvent(ctx, AddEventRequest{
		TenantID: "t1", ProjectID: "p1", AgentID: "a1",
		Messages: []EventMessage{{Role: "user", Content: "I like Go"}},
	}, stubExtractor{
		notes: []ExtractedNote{{NoteType: domain.NoteTypeFact, Text: "likes go", Evidence: nil}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, NoteOpRejected, results[0].Op)
	require.Equal(t, evidenceMismatchReason, results[0].ReasonCode)
}

func TestAddEventRejectsWhenEvidenceQuoteDoesNotMatch(t *testing.T) {
	s := NewService(nil, testConfig(), nil, nil)
	results, err := s.AddEvent(ctx, AddEventRequest{
		TenantID: "t1", ProjectID: "p1", AgentID: "a1",
		Messages: []EventMessage{{Role: "user", Content: "I like Go"}},
	}, stubExtractor{
		notes: []ExtractedNote{{
			NoteType: domain.NoteTypeFact, Text: "likes go",
			Evidence: []EvidenceQuote{{MessageIndex: 0, Quote: "totally unrelated text"}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, NoteOpRejected, results[0].Op)
	require.Equal(t, evidenceMismatchReason, results[0].ReasonCode)
}

type stubExtractor struct {
	notes []ExtractedNote
}

func (s stubExtractor) ExtractNotes(_ context.Context, _ []EventMessage, _, _ int) ([]ExtractedNote, error) {
	return s.notes, nil
}

type failingExtractor struct{}

func (failingExtractor) ExtractNotes(_ context.Context, _ []EventMessage, _, _ int) ([]ExtractedNote, error) {
	return nil, errStub
}
