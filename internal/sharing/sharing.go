// Package sharing implements ELF's publish/unpublish/space-grant operations
// (spec §4.5): moving a note between scope bands and managing the
// project/agent grants that open project_shared/org_shared reads beyond a
// read profile's defaults. Grounded on
// original_source/packages/elf-service/src/sharing.rs, re-expressed as a
// Service the way internal/writepipeline composes its own dependencies.
package sharing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/obslog"
	"github.com/elf-memory/elf/internal/store"
)

// Service composes everything sharing operations need.
type Service struct {
	Store *store.Store
	Cfg   *config.Config
	log   zerolog.Logger
}

// NewService builds a sharing.Service.
func NewService(st *store.Store, cfg *config.Config) *Service {
	return &Service{Store: st, Cfg: cfg, log: obslog.Component("sharing")}
}

func requireCoords(tenantID, projectID, agentID string) error {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(projectID) == "" || strings.TrimSpace(agentID) == "" {
		return apperr.InvalidRequest("tenant_id, project_id, and agent_id are required")
	}
	return nil
}

func scopeWriteAllowed(cfg *config.Config, scope domain.Scope) bool {
	switch scope {
	case domain.ScopeProjectShared:
		return cfg.Scopes.WriteAllowed.ProjectShared
	case domain.ScopeOrgShared:
		return cfg.Scopes.WriteAllowed.OrgShared
	case domain.ScopeAgentPrivate:
		return cfg.Scopes.WriteAllowed.AgentPrivate
	default:
		return false
	}
}

// ownedActiveNote fetches and row-locks a note, failing with the same
// not-found message whether the row is missing, owned by someone else, or
// inactive/expired — sharing.rs never distinguishes these to a caller that
// isn't the note's owner.
func ownedActiveNote(ctx context.Context, st *store.Store, tx pgx.Tx, noteID uuid.UUID, tenantID, projectID, agentID string, now time.Time) (*domain.Note, error) {
	n, err := st.GetNoteForUpdateTx(ctx, tx, noteID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperr.InvalidRequest("Note not found.")
		}
		return nil, err
	}
	if n.TenantID != tenantID || n.ProjectID != projectID || n.AgentID != agentID {
		return nil, apperr.InvalidRequest("Note not found.")
	}
	if !n.Active(now) {
		return nil, apperr.InvalidRequest("Note not found.")
	}
	return n, nil
}

func noteSnapshot(n *domain.Note) map[string]any {
	return map[string]any{
		"note_id":           n.NoteID.String(),
		"tenant_id":         n.TenantID,
		"project_id":        n.ProjectID,
		"agent_id":          n.AgentID,
		"scope":             string(n.Scope),
		"type":              string(n.Type),
		"key":               n.Key,
		"text":              n.Text,
		"importance":        n.Importance,
		"confidence":        n.Confidence,
		"status":            string(n.Status),
		"updated_at":        n.UpdatedAt.Format(time.RFC3339Nano),
		"embedding_version": n.EmbeddingVersion,
	}
}
