package session

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/domain"
)

func TestBuildSummaryNormalizesWhitespace(t *testing.T) {
	got := buildSummary("hello   \n\t world  ", 100)
	if got != "hello world" {
		t.Fatalf("buildSummary() = %q, want %q", got, "hello world")
	}
}

func TestBuildSummaryTruncatesAndAppendsEllipsis(t *testing.T) {
	got := buildSummary("abcdefghij", 5)
	if got != "abcde..." {
		t.Fatalf("buildSummary() = %q, want %q", got, "abcde...")
	}
}

func TestBuildSummaryNoTruncationWhenUnderLimit(t *testing.T) {
	got := buildSummary("short text", 100)
	if got != "short text" {
		t.Fatalf("buildSummary() = %q, want unchanged", got)
	}
}

func TestBuildSummaryZeroMaxCharsMeansUnbounded(t *testing.T) {
	got := buildSummary("a fairly long piece of text here", 0)
	if got != "a fairly long piece of text here" {
		t.Fatalf("buildSummary() with maxChars<=0 should not truncate, got %q", got)
	}
}

func TestGroupByDaySortsDatesDescendingAndWithinDateByRecencyThenScore(t *testing.T) {
	day1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	day1Later := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	items := []domain.IndexItemRecord{
		{NoteID: uuid.New(), UpdatedAt: day1, FinalScore: 0.9},
		{NoteID: uuid.New(), UpdatedAt: day1Later, FinalScore: 0.1},
		{NoteID: uuid.New(), UpdatedAt: day2, FinalScore: 0.5},
	}
	groups := groupByDay(items)
	if len(groups) != 2 {
		t.Fatalf("expected 2 date groups, got %d", len(groups))
	}
	if groups[0].Date != "2026-01-02" {
		t.Fatalf("expected newest date first, got %q", groups[0].Date)
	}
	if groups[1].Date != "2026-01-01" {
		t.Fatalf("expected second group to be 2026-01-01, got %q", groups[1].Date)
	}
	dayGroup := groups[1].Items
	if len(dayGroup) != 2 {
		t.Fatalf("expected 2 items in the 2026-01-01 group, got %d", len(dayGroup))
	}
	if !dayGroup[0].UpdatedAt.Equal(day1Later) {
		t.Fatalf("expected the more recent updated_at to sort first within the day, got %v", dayGroup[0].UpdatedAt)
	}
}

func TestGroupByDaySingleDateOneGroup(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	items := []domain.IndexItemRecord{
		{NoteID: uuid.New(), UpdatedAt: day, FinalScore: 0.2},
		{NoteID: uuid.New(), UpdatedAt: day, FinalScore: 0.8},
	}
	groups := groupByDay(items)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0].Items[0].FinalScore != 0.8 {
		t.Fatalf("expected tied updated_at to break ties by final_score desc, got %+v", groups[0].Items)
	}
}

func TestClassifyNoteAccessTenantMismatchIsNoteNotFound(t *testing.T) {
	n := &domain.Note{TenantID: "other-tenant", ProjectID: "p1", Status: domain.NoteStatusActive, Scope: domain.ScopeOrgShared}
	code, _, ok := classifyNoteAccess(n, "t1", "p1", "a1", map[domain.Scope]bool{domain.ScopeOrgShared: true}, time.Now())
	if ok {
		t.Fatal("expected access to be denied on tenant mismatch")
	}
	if code != "NOTE_NOT_FOUND" {
		t.Fatalf("expected NOTE_NOT_FOUND to avoid leaking cross-tenant existence, got %q", code)
	}
}

func TestClassifyNoteAccessInactiveStatus(t *testing.T) {
	n := &domain.Note{TenantID: "t1", ProjectID: "p1", Status: domain.NoteStatusDeleted, Scope: domain.ScopeOrgShared}
	code, _, ok := classifyNoteAccess(n, "t1", "p1", "a1", map[domain.Scope]bool{domain.ScopeOrgShared: true}, time.Now())
	if ok || code != "NOTE_INACTIVE" {
		t.Fatalf("expected NOTE_INACTIVE, got code=%q ok=%v", code, ok)
	}
}

func TestClassifyNoteAccessExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	n := &domain.Note{TenantID: "t1", ProjectID: "p1", Status: domain.NoteStatusActive, Scope: domain.ScopeOrgShared, ExpiresAt: &past}
	code, _, ok := classifyNoteAccess(n, "t1", "p1", "a1", map[domain.Scope]bool{domain.ScopeOrgShared: true}, time.Now())
	if ok || code != "NOTE_EXPIRED" {
		t.Fatalf("expected NOTE_EXPIRED, got code=%q ok=%v", code, ok)
	}
}

func TestClassifyNoteAccessPrivateNoteWrongAgent(t *testing.T) {
	n := &domain.Note{TenantID: "t1", ProjectID: "p1", AgentID: "agent-owner", Status: domain.NoteStatusActive, Scope: domain.ScopeAgentPrivate}
	code, _, ok := classifyNoteAccess(n, "t1", "p1", "agent-other", map[domain.Scope]bool{domain.ScopeAgentPrivate: true}, time.Now())
	if ok || code != "SCOPE_DENIED" {
		t.Fatalf("expected SCOPE_DENIED for a private note owned by a different agent, got code=%q ok=%v", code, ok)
	}
}

func TestClassifyNoteAccessScopeNotInReadProfile(t *testing.T) {
	n := &domain.Note{TenantID: "t1", ProjectID: "p1", Status: domain.NoteStatusActive, Scope: domain.ScopeOrgShared}
	code, _, ok := classifyNoteAccess(n, "t1", "p1", "a1", map[domain.Scope]bool{domain.ScopeAgentPrivate: true}, time.Now())
	if ok || code != "SCOPE_DENIED" {
		t.Fatalf("expected SCOPE_DENIED when scope isn't in the allowed set, got code=%q ok=%v", code, ok)
	}
}

func TestClassifyNoteAccessValidNotePasses(t *testing.T) {
	n := &domain.Note{TenantID: "t1", ProjectID: "p1", AgentID: "a1", Status: domain.NoteStatusActive, Scope: domain.ScopeAgentPrivate}
	_, _, ok := classifyNoteAccess(n, "t1", "p1", "a1", map[domain.Scope]bool{domain.ScopeAgentPrivate: true}, time.Now())
	if !ok {
		t.Fatal("expected a valid, owned, active note to pass access checks")
	}
}

func TestQueryHashDeterministic(t *testing.T) {
	if queryHash("find auth notes") != queryHash("find auth notes") {
		t.Fatal("queryHash should be deterministic")
	}
	if queryHash("find auth notes") == queryHash("find other notes") {
		t.Fatal("queryHash should distinguish different queries")
	}
}
