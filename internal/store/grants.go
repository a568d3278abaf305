package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

// UpsertSpaceGrant inserts a grant row, or revives+re-stamps it if an
// active grant already exists for the same (tenant, project, scope,
// space_owner_agent_id, grantee_kind, grantee_agent_id) coordinates — the
// insert-or-revive behavior sharing.rs's PROJECT/AGENT_SPACE_GRANT_UPSERT_SQL
// implement via ON CONFLICT against the partial unique index on active
// grants (db.go). A previously-revoked grant still exists as its own
// history row and is left untouched; granting again always targets the
// currently-active row (or creates one). Takes a DB so publish/unpublish
// can run it inside the same transaction as the note's scope change
// (sharing.rs's ensure_active_project_scope_grant runs on the same `tx`),
// while a standalone space_grant_upsert call can pass the pool directly.
func (s *Store) UpsertSpaceGrant(ctx context.Context, db DB, g *domain.SpaceGrant) error {
	_, err := db.Exec(ctx, `
		INSERT INTO memory_space_grants
			(tenant_id, project_id, scope, space_owner_agent_id, grantee_kind, grantee_agent_id, granted_by, granted_at, revoked_at, revoked_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL,NULL)
		ON CONFLICT (tenant_id, project_id, scope, space_owner_agent_id, grantee_kind, COALESCE(grantee_agent_id, ''))
			WHERE revoked_at IS NULL
		DO UPDATE SET granted_by=EXCLUDED.granted_by, granted_at=EXCLUDED.granted_at, revoked_at=NULL, revoked_by=NULL`,
		g.TenantID, g.ProjectID, string(g.Scope), g.SpaceOwnerID, string(g.GranteeKind), g.GranteeAgentID,
		g.GrantedBy, g.GrantedAt,
	)
	if err != nil {
		return apperr.Storage(err, "upsert space grant")
	}
	return nil
}

// RevokeSpaceGrant sets revoked_at/revoked_by on the currently active grant
// matching the given coordinates.
func (s *Store) RevokeSpaceGrant(ctx context.Context, tenantID, projectID string, scope domain.Scope, spaceOwnerAgentID string, granteeKind domain.SpaceGrantGranteeKind, granteeAgentID *string, revokedBy string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE memory_space_grants
		SET revoked_at=$7, revoked_by=$8
		WHERE tenant_id=$1 AND project_id=$2 AND scope=$3 AND space_owner_agent_id=$4
		  AND grantee_kind=$5 AND COALESCE(grantee_agent_id,'')=COALESCE($6,'') AND revoked_at IS NULL`,
		tenantID, projectID, string(scope), spaceOwnerAgentID, string(granteeKind), granteeAgentID, now, revokedBy,
	)
	if err != nil {
		return apperr.Storage(err, "revoke space grant")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveGrants lists every active grant for a (tenant, project) pair,
// for the space-grant listing operation (spec §4.5).
func (s *Store) ListActiveGrants(ctx context.Context, tenantID, projectID string) ([]*domain.SpaceGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, project_id, scope, space_owner_agent_id, grantee_kind, grantee_agent_id, granted_by, granted_at, revoked_at, revoked_by
		FROM memory_space_grants
		WHERE tenant_id=$1 AND project_id=$2 AND revoked_at IS NULL
		ORDER BY granted_at DESC`,
		tenantID, projectID,
	)
	if err != nil {
		return nil, apperr.Storage(err, "list active space grants")
	}
	defer rows.Close()

	var out []*domain.SpaceGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, apperr.Storage(err, "scan space grant")
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// HasActiveGrant checks whether a requesting agent currently holds an
// active grant into spaceOwnerAgentID's scope band, used by sharing/ACL
// checks for project_shared/org_shared reads beyond profile defaults.
func (s *Store) HasActiveGrant(ctx context.Context, tenantID, projectID string, scope domain.Scope, spaceOwnerAgentID, requestingAgentID string) (bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT 1 FROM memory_space_grants
		WHERE tenant_id=$1 AND project_id=$2 AND scope=$3 AND space_owner_agent_id=$4 AND revoked_at IS NULL
		  AND (grantee_kind='project' OR (grantee_kind='agent' AND grantee_agent_id=$5))
		LIMIT 1`,
		tenantID, projectID, string(scope), spaceOwnerAgentID, requestingAgentID,
	)
	var x int
	err := row.Scan(&x)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, apperr.Storage(err, "check active space grant")
	}
	return true, nil
}

func scanGrant(rows scannable) (*domain.SpaceGrant, error) {
	var g domain.SpaceGrant
	var scope, kind string
	if err := rows.Scan(&g.TenantID, &g.ProjectID, &scope, &g.SpaceOwnerID, &kind, &g.GranteeAgentID,
		&g.GrantedBy, &g.GrantedAt, &g.RevokedAt, &g.RevokedBy); err != nil {
		return nil, err
	}
	g.Scope = domain.Scope(scope)
	g.GranteeKind = domain.SpaceGrantGranteeKind(kind)
	return &g, nil
}
