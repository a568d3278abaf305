package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/store"
)

// loadAndTouch fetches a session scoped to the requesting caller, fails if
// it has already passed its absolute expiry, and otherwise extends
// expires_at per the sliding/absolute TTL rule (spec §4.4 "Sliding +
// absolute TTL": touched = min(now+SLIDING, created_at+ABSOLUTE); write
// back only if that's later than the current expires_at).
func (s *Service) loadAndTouch(ctx context.Context, sessionID uuid.UUID, tenantID, projectID, agentID string, now time.Time) (*domain.SearchSession, time.Time, error) {
	sess, err := s.Store.GetSearchSession(ctx, sessionID, tenantID, projectID, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, time.Time{}, apperr.InvalidRequest("Unknown search_session_id")
		}
		return nil, time.Time{}, err
	}
	if !sess.ExpiresAt.After(now) {
		return nil, time.Time{}, apperr.InvalidRequest("Search session expired")
	}

	sliding := now.Add(time.Duration(s.Cfg.Session.SlidingTTLHours) * time.Hour)
	absolute := sess.CreatedAt.Add(time.Duration(s.Cfg.Session.AbsoluteTTLHours) * time.Hour)
	touched := sliding
	if absolute.Before(touched) {
		touched = absolute
	}

	expiresAt := sess.ExpiresAt
	if touched.After(sess.ExpiresAt) {
		if err := s.Store.TouchSearchSession(ctx, sessionID, touched); err != nil {
			return nil, time.Time{}, err
		}
		expiresAt = touched
	}
	sess.ExpiresAt = expiresAt
	return sess, expiresAt, nil
}
