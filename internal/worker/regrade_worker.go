package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/observability"
	"github.com/stemsi/exstem-engine/internal/service"
)

const (
	RegradePollTimeout = 1 * time.Second
	RegradeRetryDelay  = 5 * time.Second
	RegradeSweepLimit  = 500
)

// Grader recomputes a session's grade.
type Grader interface {
	GradeSession(ctx context.Context, sessionID uuid.UUID) (*model.GradeOutcome, error)
}

// SubmittedLister lists completed sessions that were never graded.
type SubmittedLister interface {
	ListSubmittedIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// RegradeWorker retries grading for sessions whose grading failed during
// completion. Session ids are queued on a Redis list.
type RegradeWorker struct {
	rdb    *redis.Client
	grader Grader
	lister SubmittedLister
	log    zerolog.Logger
}

func NewRegradeWorker(rdb *redis.Client, grader Grader, lister SubmittedLister, log zerolog.Logger) *RegradeWorker {
	return &RegradeWorker{
		rdb:    rdb,
		grader: grader,
		lister: lister,
		log:    log.With().Str("component", "regrade_worker").Logger(),
	}
}

// Enqueue schedules a session for regrading.
func (w *RegradeWorker) Enqueue(ctx context.Context, sessionID uuid.UUID) error {
	if err := w.rdb.RPush(ctx, config.WorkerKey.RegradeSessionsQueue, sessionID.String()).Err(); err != nil {
		return err
	}
	observability.RegradeQueueOps().WithLabelValues("enqueue").Inc()
	return nil
}

// Sweep enqueues every session left in SUBMITTED, e.g. after a crash between
// submission and grading.
func (w *RegradeWorker) Sweep(ctx context.Context) (int, error) {
	if w.lister == nil {
		return 0, nil
	}
	ids, err := w.lister.ListSubmittedIDs(ctx, RegradeSweepLimit)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := w.Enqueue(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// ----------------------------------------------------------------
// Worker loop
// ----------------------------------------------------------------

func (w *RegradeWorker) Start(ctx context.Context) {
	w.log.Info().Msg("RegradeWorker started")

	if n, err := w.Sweep(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Startup sweep failed")
	} else if n > 0 {
		w.log.Info().Int("sessions", n).Msg("Queued ungraded sessions from startup sweep")
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("RegradeWorker stopped")
			return

		default:
			item, err := w.rdb.BLPop(ctx, RegradePollTimeout, config.WorkerKey.RegradeSessionsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			w.process(ctx, item[1])
		}
	}
}

func (w *RegradeWorker) process(ctx context.Context, raw string) {
	sessionID, err := uuid.Parse(raw)
	if err != nil {
		w.log.Error().Str("payload", raw).Msg("Invalid session id in regrade queue")
		observability.RegradeQueueOps().WithLabelValues("invalid").Inc()
		return
	}

	if _, err := w.grader.GradeSession(ctx, sessionID); err != nil {
		if ctx.Err() != nil {
			// Shutting down: put it back for the next process.
			w.requeue(context.Background(), sessionID)
			return
		}
		switch service.KindOf(err) {
		case service.KindNotFound, service.KindState:
			w.log.Error().Err(err).Str("session_id", raw).Msg("Dropping session that cannot be graded")
			observability.RegradeQueueOps().WithLabelValues("dropped").Inc()
			return
		}
		w.log.Warn().Err(err).Str("session_id", raw).Msg("Regrade failed; requeueing")
		observability.RegradeQueueOps().WithLabelValues("failed").Inc()

		select {
		case <-ctx.Done():
		case <-time.After(RegradeRetryDelay):
		}
		w.requeue(context.Background(), sessionID)
		return
	}

	observability.RegradeQueueOps().WithLabelValues("graded").Inc()
	w.log.Info().Str("session_id", raw).Msg("Session regraded")
}

func (w *RegradeWorker) requeue(ctx context.Context, sessionID uuid.UUID) {
	if err := w.Enqueue(ctx, sessionID); err != nil {
		w.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Requeue failed")
	}
}
