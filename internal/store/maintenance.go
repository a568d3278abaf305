package store

import (
	"context"
	"time"
)

// MaintenanceResult summarizes one sweep of the periodic cleanup job the
// indexing worker runs alongside outbox draining (spec §5.2: "background
// maintenance: expired session/cache/trace purge every
// TRACE_CLEANUP_INTERVAL_SECONDS").
type MaintenanceResult struct {
	SessionsPurged        int64
	CachePurged           int64
	TracesPurged          int64
	TraceCandidatesPurged int64
}

// RunMaintenance purges every table with a TTL-bounded lifetime. Each purge
// is independent; a failure in one does not block the others, since none
// are a correctness dependency of the others.
func (s *Store) RunMaintenance(ctx context.Context, now time.Time) (MaintenanceResult, error) {
	var result MaintenanceResult
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	n, err := s.PurgeExpiredSearchSessions(ctx, now)
	record(err)
	result.SessionsPurged = n

	n, err = s.PurgeExpiredCache(ctx, now)
	record(err)
	result.CachePurged = n

	n, err = s.PurgeExpiredTraces(ctx, now)
	record(err)
	result.TracesPurged = n

	n, err = s.PurgeExpiredTraceCandidates(ctx, now)
	record(err)
	result.TraceCandidatesPurged = n

	return result, firstErr
}
