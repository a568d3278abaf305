// Package indexworker drains the two outbox queues that bridge the
// relational store (R) and the vector store (V): the indexing outbox
// (chunk+embed a note into qdrant) and the search-trace outbox (persist a
// buffered explain trace). Grounded on original_source's
// apps/elf-worker/src/worker.rs poll loop, adapted to the
// outbox-worker-drives-qdrant shape shown in the pack's
// ashita-ai-akashi cmd/akashi/main.go (search.NewOutboxWorker).
package indexworker

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/elf-memory/elf/internal/apperr"
	"github.com/elf-memory/elf/internal/chunking"
	"github.com/elf-memory/elf/internal/config"
	"github.com/elf-memory/elf/internal/domain"
	"github.com/elf-memory/elf/internal/providers"
	"github.com/elf-memory/elf/internal/store"
	"github.com/elf-memory/elf/internal/vectorstore"
)

// Named constants from original_source's worker.rs; these are not
// configuration surface (design note: "named constants, not mutable
// singletons").
const (
	pollInterval            = 500 * time.Millisecond
	claimLeaseSeconds       = 30
	baseBackoffMs           = 500
	maxBackoffMs            = 30_000
	traceCleanupInterval    = 900 * time.Second
	traceOutboxLeaseSeconds = 30
	maxOutboxErrorChars     = 1024
)

// Worker drains both outbox queues and runs periodic maintenance.
type Worker struct {
	Store     *store.Store
	Vector    *vectorstore.Store
	Embedder  providers.Embedder
	Tokenizer *chunking.Tokenizer
	Cfg       *config.Config
	Log       zerolog.Logger
}

// New builds a Worker with a "indexworker" component sub-logger, following
// the teacher's `log.With().Str("component", ...).Logger()` idiom.
func New(st *store.Store, vec *vectorstore.Store, embedder providers.Embedder, tok *chunking.Tokenizer, cfg *config.Config, log zerolog.Logger) *Worker {
	return &Worker{Store: st, Vector: vec, Embedder: embedder, Tokenizer: tok, Cfg: cfg, Log: log}
}

// Run polls both outbox queues and runs background maintenance until ctx is
// canceled, mirroring original_source's run_worker loop: drain the indexing
// outbox, drain the trace outbox, maybe run a maintenance sweep, sleep.
func (w *Worker) Run(ctx context.Context) error {
	lastMaintenance := time.Now().UTC()

	for {
		if err := w.processIndexingOutboxOnce(ctx); err != nil {
			w.Log.Error().Err(err).Msg("indexing outbox processing failed")
		}
		if err := w.processTraceOutboxOnce(ctx); err != nil {
			w.Log.Error().Err(err).Msg("search trace outbox processing failed")
		}

		now := time.Now().UTC()
		if now.Sub(lastMaintenance) >= traceCleanupInterval {
			if result, err := w.Store.RunMaintenance(ctx, now); err != nil {
				w.Log.Error().Err(err).Msg("maintenance sweep failed")
			} else {
				lastMaintenance = now
				w.Log.Info().
					Int64("sessions_purged", result.SessionsPurged).
					Int64("cache_purged", result.CachePurged).
					Int64("traces_purged", result.TracesPurged).
					Int64("trace_candidates_purged", result.TraceCandidatesPurged).
					Msg("maintenance sweep complete")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (w *Worker) processIndexingOutboxOnce(ctx context.Context) error {
	now := time.Now().UTC()
	claimed, err := w.Store.ClaimOutboxRows(ctx, now, claimLeaseSeconds, 1)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}
	job := claimed[0]

	var handleErr error
	switch job.Op {
	case domain.OutboxOpUpsert:
		handleErr = w.handleUpsert(ctx, job)
	case domain.OutboxOpDelete:
		handleErr = w.handleDelete(ctx, job)
	default:
		handleErr = apperr.InvalidRequestf("unsupported outbox op %q", job.Op)
	}

	if handleErr == nil {
		return w.Store.MarkOutboxDone(ctx, job.OutboxID, time.Now().UTC())
	}

	w.Log.Error().Err(handleErr).Str("outbox_id", job.OutboxID.String()).Msg("outbox job failed")
	nextAttempt := job.Attempts + 1
	backoff := backoffForAttempt(nextAttempt)
	failNow := time.Now().UTC()
	return w.Store.MarkOutboxFailed(ctx, job.OutboxID, nextAttempt, sanitizeOutboxError(handleErr.Error()), failNow.Add(backoff), failNow)
}

func (w *Worker) processTraceOutboxOnce(ctx context.Context) error {
	now := time.Now().UTC()
	claimed, err := w.Store.ClaimTraceOutboxRows(ctx, now, traceOutboxLeaseSeconds, 1)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}
	job := claimed[0]

	if err := w.handleTraceJob(ctx, job); err != nil {
		w.Log.Error().Err(err).Str("trace_id", job.TraceID.String()).Msg("search trace outbox job failed")
		nextAttempt := job.Attempts + 1
		backoff := backoffForAttempt(nextAttempt)
		return w.Store.MarkTraceOutboxFailed(ctx, job.OutboxID, nextAttempt, sanitizeOutboxError(err.Error()), time.Now().UTC().Add(backoff))
	}
	return w.Store.MarkTraceOutboxDone(ctx, job.OutboxID)
}

// backoffForAttempt doubles the base delay per attempt, capped at
// maxBackoffMs (original_source backoff_for_attempt).
func backoffForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt - 1
	if exp > 6 {
		exp = 6
	}
	ms := baseBackoffMs << uint(exp)
	if ms > maxBackoffMs {
		ms = maxBackoffMs
	}
	return time.Duration(ms) * time.Millisecond
}

// sanitizeOutboxError redacts bearer tokens and key=value/key:value secret
// pairs before an error message is persisted to last_error, and truncates to
// maxOutboxErrorChars runes followed by a "..." marker (original_source
// sanitize_outbox_error).
func sanitizeOutboxError(text string) string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	redactNext := false

	secretKeys := []string{"api_key", "apikey", "password", "secret", "token"}

	for _, raw := range words {
		word := raw
		if redactNext {
			word = "[REDACTED]"
			redactNext = false
		} else if strings.EqualFold(raw, "bearer") {
			redactNext = true
		} else {
			lowered := strings.ToLower(raw)
			for _, key := range secretKeys {
				if strings.Contains(lowered, key) && (strings.Contains(lowered, "=") || strings.Contains(lowered, ":")) {
					sep := ":"
					if strings.Contains(raw, "=") {
						sep = "="
					}
					prefix := raw
					if idx := strings.Index(raw, sep); idx >= 0 {
						prefix = raw[:idx]
					}
					word = prefix + sep + "[REDACTED]"
					break
				}
			}
		}
		out = append(out, word)
	}

	joined := strings.Join(out, " ")
	runes := []rune(joined)
	if len(runes) > maxOutboxErrorChars {
		joined = string(runes[:maxOutboxErrorChars]) + "..."
	}
	return joined
}
