package session

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

// TimelineRequest is search_timeline()'s request (spec §4.4 "Timeline
// view").
type TimelineRequest struct {
	TenantID        string
	ProjectID       string
	AgentID         string
	SearchSessionID uuid.UUID
	GroupBy         string // "day" (default) | "none"
}

// TimelineGroup is one date bucket (or the single "all" bucket for
// group_by=none).
type TimelineGroup struct {
	Date  string
	Items []domain.IndexItemRecord
}

// TimelineResult is search_timeline()'s response.
type TimelineResult struct {
	SearchSessionID uuid.UUID
	ExpiresAt       time.Time
	Groups          []TimelineGroup
}

// Timeline groups a session's items by updated_at's UTC date, newest date
// first, each group sorted by updated_at desc then final_score desc (spec
// §4.4 "Timeline view"). group_by=none returns one group named "all" with
// items in their original (already rank-sorted) order.
func (s *Service) Timeline(ctx context.Context, req TimelineRequest) (*TimelineResult, error) {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.AgentID) == "" {
		return nil, apperr.InvalidRequest("tenant_id, project_id, and agent_id are required")
	}
	now := time.Now().UTC()
	sess, expiresAt, err := s.loadAndTouch(ctx, req.SearchSessionID, req.TenantID, req.ProjectID, req.AgentID, now)
	if err != nil {
		return nil, err
	}

	groupBy := req.GroupBy
	if groupBy == "" {
		groupBy = "day"
	}

	switch groupBy {
	case "none":
		return &TimelineResult{
			SearchSessionID: sess.SearchSessionID, ExpiresAt: expiresAt,
			Groups: []TimelineGroup{{Date: "all", Items: sess.Items}},
		}, nil
	case "day":
		return &TimelineResult{SearchSessionID: sess.SearchSessionID, ExpiresAt: expiresAt, Groups: groupByDay(sess.Items)}, nil
	default:
		return nil, apperr.InvalidRequest("group_by must be one of: day, none")
	}
}

func groupByDay(items []domain.IndexItemRecord) []TimelineGroup {
	byDate := make(map[string][]domain.IndexItemRecord)
	for _, item := range items {
		date := item.UpdatedAt.UTC().Format("2006-01-02")
		byDate[date] = append(byDate[date], item)
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	groups := make([]TimelineGroup, len(dates))
	for i, d := range dates {
		dayItems := byDate[d]
		sort.Slice(dayItems, func(a, b int) bool {
			if !dayItems[a].UpdatedAt.Equal(dayItems[b].UpdatedAt) {
				return dayItems[a].UpdatedAt.After(dayItems[b].UpdatedAt)
			}
			return dayItems[a].FinalScore > dayItems[b].FinalScore
		})
		groups[i] = TimelineGroup{Date: d, Items: dayItems}
	}
	return groups
}
