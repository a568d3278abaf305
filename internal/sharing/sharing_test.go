package sharing

import (
	"testing"
	"time"

	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/domain"
)

func TestScopeWriteAllowed(t *testing.T) {
	cfg := &config.Config{Scopes: config.Scopes{WriteAllowed: config.ScopeWriteAllowed{
		AgentPrivate: true, ProjectShared: true, OrgShared: false,
	}}}
	cases := []struct {
		scope domain.Scope
		want  bool
	}{
		{domain.ScopeAgentPrivate, true},
		{domain.ScopeProjectShared, true},
		{domain.ScopeOrgShared, false},
		{domain.Scope("bogus"), false},
	}
	for _, c := range cases {
		if got := scopeWriteAllowed(cfg, c.scope); got != c.want {
			t.Errorf("scopeWriteAllowed(%q) = %v, want %v", c.scope, got, c.want)
		}
	}
}

func TestValidateGranteeAgentIDAgentKindRequiresID(t *testing.T) {
	if _, err := validateGranteeAgentID(domain.GranteeKindAgent, "  "); err == nil {
		t.Fatal("expected an error when grantee_kind=agent has no grantee_agent_id")
	}
	id, err := validateGranteeAgentID(domain.GranteeKindAgent, "  agent-7  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == nil || *id != "agent-7" {
		t.Fatalf("expected trimmed agent-7, got %v", id)
	}
}

func TestValidateGranteeAgentIDProjectKindRejectsID(t *testing.T) {
	if _, err := validateGranteeAgentID(domain.GranteeKindProject, "agent-7"); err == nil {
		t.Fatal("expected an error when grantee_kind=project has a grantee_agent_id")
	}
	id, err := validateGranteeAgentID(domain.GranteeKindProject, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != nil {
		t.Fatalf("expected nil grantee_agent_id for project kind, got %v", *id)
	}
}

func TestValidateGranteeAgentIDUnknownKind(t *testing.T) {
	if _, err := validateGranteeAgentID(domain.SpaceGrantGranteeKind("bogus"), ""); err == nil {
		t.Fatal("expected an error for an unknown grantee_kind")
	}
}

func TestRequireCoords(t *testing.T) {
	if err := requireCoords("", "p", "a"); err == nil {
		t.Fatal("expected an error for empty tenant_id")
	}
	if err := requireCoords("t", "p", "a"); err != nil {
		t.Fatalf("unexpected error for complete coordinates: %v", err)
	}
}

func TestNoteSnapshotFieldsRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	key := "k"
	n := &domain.Note{
		TenantID: "t1", ProjectID: "p1", AgentID: "a1",
		Scope: domain.ScopeAgentPrivate, Type: domain.NoteType("fact"), Key: &key,
		Text: "hello", Importance: 0.5, Confidence: 0.9, Status: domain.NoteStatusActive,
		UpdatedAt: now, EmbeddingVersion: "v1",
	}
	snap := noteSnapshot(n)
	if snap["scope"] != "agent_private" || snap["status"] != "active" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap["updated_at"] != now.Format(time.RFC3339Nano) {
		t.Fatalf("expected RFC3339Nano updated_at, got %v", snap["updated_at"])
	}
}
