package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/domain"
)

// EnqueueOutbox inserts an indexing_outbox row in the same transaction as
// the note write that produced it (spec §3: "written transactionally with
// the relational row it describes"). Callers run it via WithTx.
func (s *Store) EnqueueOutbox(ctx context.Context, db DB, row *domain.IndexingOutbox) error {
	_, err := db.Exec(ctx, `
		INSERT INTO indexing_outbox
			(outbox_id, note_id, op, embedding_version, status, attempts, last_error, available_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		row.OutboxID, row.NoteID, string(row.Op), row.EmbeddingVersion, string(row.Status),
		row.Attempts, row.LastError, row.AvailableAt, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return apperr.Storage(err, "enqueue indexing outbox row")
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return apperr.Storage(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Storage(err, "commit tx")
	}
	return nil
}

// ClaimOutboxRows leases up to limit pending/eligible-failed rows using
// SELECT ... FOR UPDATE SKIP LOCKED, marking them "processing" under the
// lease so concurrent workers never double-process a row (spec §5.2: "lease
// + SKIP LOCKED" durability model).
func (s *Store) ClaimOutboxRows(ctx context.Context, now time.Time, leaseSeconds int, limit int) ([]*domain.IndexingOutbox, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, apperr.Storage(err, "begin claim tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT outbox_id, note_id, op, embedding_version, status, attempts, last_error, available_at, created_at, updated_at
		FROM indexing_outbox
		WHERE status IN ('PENDING','FAILED') AND available_at <= $1
		ORDER BY available_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		now, limit,
	)
	if err != nil {
		return nil, apperr.Storage(err, "select outbox rows for claim")
	}

	var claimed []*domain.IndexingOutbox
	for rows.Next() {
		row, err := scanOutboxRow(rows)
		if err != nil {
			rows.Close()
			return nil, apperr.Storage(err, "scan outbox row")
		}
		claimed = append(claimed, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, apperr.Storage(err, "iterate outbox rows")
	}
	rows.Close()

	leaseUntil := now.Add(time.Duration(leaseSeconds) * time.Second)
	for _, row := range claimed {
		if _, err := tx.Exec(ctx, `UPDATE indexing_outbox SET status='PROCESSING', available_at=$2, updated_at=$3 WHERE outbox_id=$1`,
			row.OutboxID, leaseUntil, now); err != nil {
			return nil, apperr.Storage(err, "lease outbox row")
		}
		row.Status = "PROCESSING"
		row.AvailableAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage(err, "commit claim tx")
	}
	return claimed, nil
}

// scannable is satisfied by both pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanOutboxRow(rows scannable) (*domain.IndexingOutbox, error) {
	var row domain.IndexingOutbox
	var op, status string
	err := rows.Scan(&row.OutboxID, &row.NoteID, &op, &row.EmbeddingVersion, &status,
		&row.Attempts, &row.LastError, &row.AvailableAt, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	row.Op = domain.OutboxOp(op)
	row.Status = domain.OutboxStatus(status)
	return &row, nil
}

// MarkOutboxDone marks a row done after successful indexing.
func (s *Store) MarkOutboxDone(ctx context.Context, outboxID uuid.UUID, now time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE indexing_outbox SET status='DONE', updated_at=$2 WHERE outbox_id=$1`, outboxID, now)
	if err != nil {
		return apperr.Storage(err, "mark outbox row done")
	}
	return nil
}

// MarkOutboxFailed records a failed attempt, bumping attempts and setting
// the next available_at per the caller-computed exponential backoff (spec
// §5.2 backoff schedule), truncating the stored error text.
func (s *Store) MarkOutboxFailed(ctx context.Context, outboxID uuid.UUID, attempts int, lastError string, nextAvailableAt, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE indexing_outbox SET status='FAILED', attempts=$2, last_error=$3, available_at=$4, updated_at=$5
		WHERE outbox_id=$1`,
		outboxID, attempts, lastError, nextAvailableAt, now,
	)
	if err != nil {
		return apperr.Storage(err, "mark outbox row failed")
	}
	return nil
}

// GetOutboxRow fetches a single row by id, for tests and diagnostics.
func (s *Store) GetOutboxRow(ctx context.Context, outboxID uuid.UUID) (*domain.IndexingOutbox, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT outbox_id, note_id, op, embedding_version, status, attempts, last_error, available_at, created_at, updated_at
		FROM indexing_outbox WHERE outbox_id=$1`, outboxID)
	out, err := scanOutboxRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperr.Storage(err, "get outbox row")
	}
	return out, nil
}
