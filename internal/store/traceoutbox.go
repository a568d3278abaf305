package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

// EnqueueTraceOutbox buffers an explain trace for asynchronous persistence,
// mirroring the indexing outbox's durability model so a slow trace write
// never adds latency to the search response path (spec §4.7).
func (s *Store) EnqueueTraceOutbox(ctx context.Context, row *domain.TraceOutbox) error {
	payload, err := json.Marshal(row.Payload)
	if err != nil {
		return fmt.Errorf("marshal trace outbox payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO search_trace_outbox (outbox_id, trace_id, payload, status, attempts, last_error, available_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		row.OutboxID, row.TraceID, payload, string(row.Status), row.Attempts, row.LastError, row.AvailableAt, row.CreatedAt,
	)
	if err != nil {
		return apperr.Storage(err, "enqueue search trace outbox row")
	}
	return nil
}

// ClaimTraceOutboxRows leases pending trace-outbox rows the same way
// ClaimOutboxRows does for the indexing queue.
func (s *Store) ClaimTraceOutboxRows(ctx context.Context, now time.Time, leaseSeconds int, limit int) ([]*domain.TraceOutbox, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, apperr.Storage(err, "begin claim trace outbox tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT outbox_id, trace_id, payload, status, attempts, last_error, available_at, created_at
		FROM search_trace_outbox
		WHERE status IN ('PENDING','FAILED') AND available_at <= $1
		ORDER BY available_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		now, limit,
	)
	if err != nil {
		return nil, apperr.Storage(err, "select trace outbox rows for claim")
	}

	var claimed []*domain.TraceOutbox
	for rows.Next() {
		row, err := scanTraceOutboxRow(rows)
		if err != nil {
			rows.Close()
			return nil, apperr.Storage(err, "scan trace outbox row")
		}
		claimed = append(claimed, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, apperr.Storage(err, "iterate trace outbox rows")
	}
	rows.Close()

	leaseUntil := now.Add(time.Duration(leaseSeconds) * time.Second)
	for _, row := range claimed {
		if _, err := tx.Exec(ctx, `UPDATE search_trace_outbox SET status='PROCESSING', available_at=$2 WHERE outbox_id=$1`,
			row.OutboxID, leaseUntil); err != nil {
			return nil, apperr.Storage(err, "lease trace outbox row")
		}
		row.Status = "PROCESSING"
		row.AvailableAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage(err, "commit claim trace outbox tx")
	}
	return claimed, nil
}

func scanTraceOutboxRow(rows scannable) (*domain.TraceOutbox, error) {
	var row domain.TraceOutbox
	var status string
	var payload []byte
	err := rows.Scan(&row.OutboxID, &row.TraceID, &payload, &status, &row.Attempts, &row.LastError, &row.AvailableAt, &row.CreatedAt)
	if err != nil {
		return nil, err
	}
	row.Status = domain.TraceOutboxStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &row.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal trace outbox payload: %w", err)
		}
	}
	return &row, nil
}

// MarkTraceOutboxDone marks a trace-outbox row done after its trace row has
// been durably written.
func (s *Store) MarkTraceOutboxDone(ctx context.Context, outboxID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE search_trace_outbox SET status='DONE' WHERE outbox_id=$1`, outboxID)
	if err != nil {
		return apperr.Storage(err, "mark trace outbox row done")
	}
	return nil
}

// MarkTraceOutboxFailed records a failed attempt with the caller-computed
// backoff schedule, identical in shape to MarkOutboxFailed.
func (s *Store) MarkTraceOutboxFailed(ctx context.Context, outboxID uuid.UUID, attempts int, lastError string, nextAvailableAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE search_trace_outbox SET status='FAILED', attempts=$2, last_error=$3, available_at=$4
		WHERE outbox_id=$1`,
		outboxID, attempts, lastError, nextAvailableAt,
	)
	if err != nil {
		return apperr.Storage(err, "mark trace outbox row failed")
	}
	return nil
}
