package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/notify"
	"github.com/stemsi/exstem-engine/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Trigger identifies what initiated a completion.
type Trigger string

const (
	TriggerStudent  Trigger = "student"
	TriggerTimer    Trigger = "timer"
	TriggerExaminer Trigger = "examiner"
)

const followUpTimeout = 30 * time.Second

// CompletionResult reports what a Complete call did.
type CompletionResult struct {
	SessionID uuid.UUID `json:"session_id"`
	// Performed is true only for the single call that transitioned the session.
	Performed bool                `json:"performed"`
	Status    model.SessionStatus `json:"status"`
	Graded    bool                `json:"graded"`
}

// CompletionGuard runs at most one completion per session, whichever of the
// scheduler, the student or an examiner gets there first.
type CompletionGuard struct {
	repo      SessionRepository
	grader    Grader
	timer     Countdown
	locker    Locker
	publisher notify.Publisher
	regrade   RegradeQueue
	log       zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewCompletionGuard creates a CompletionGuard. regrade may be nil.
func NewCompletionGuard(
	repo SessionRepository,
	grader Grader,
	timer Countdown,
	locker Locker,
	publisher notify.Publisher,
	regrade RegradeQueue,
	log zerolog.Logger,
) *CompletionGuard {
	return &CompletionGuard{
		repo:      repo,
		grader:    grader,
		timer:     timer,
		locker:    locker,
		publisher: publisher,
		regrade:   regrade,
		log:       log.With().Str("component", "completion_guard").Logger(),
		tracer:    otel.Tracer("github.com/stemsi/exstem-engine/internal/service/completion"),
		now:       time.Now,
	}
}

// AutoSubmit completes an expired session on behalf of the scheduler.
func (g *CompletionGuard) AutoSubmit(ctx context.Context, sessionID uuid.UUID) error {
	_, err := g.Complete(ctx, sessionID, TriggerTimer)
	return err
}

// Complete submits the session. Losing the race to a concurrent completion,
// or finding the session already completed, is a no-op rather than an error.
// A grading failure never fails the completion: the session stays SUBMITTED
// and is queued for a retry.
func (g *CompletionGuard) Complete(ctx context.Context, sessionID uuid.UUID, trigger Trigger) (*CompletionResult, error) {
	ctx, span := g.tracer.Start(ctx, "session.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID.String()),
		attribute.String("completion.trigger", string(trigger)),
	)

	id := sessionID.String()
	result := &CompletionResult{SessionID: sessionID}

	release, ok, err := g.locker.TryAcquire(ctx, config.CacheKey.CompletionLockKey(id))
	if err != nil {
		span.RecordError(err)
		observability.Completions().WithLabelValues(string(trigger), "lock_error").Inc()
		return nil, transientError(err)
	}
	if !ok {
		observability.Completions().WithLabelValues(string(trigger), "in_flight").Inc()
		g.log.Debug().Str("session_id", id).Str("trigger", string(trigger)).Msg("Completion already in flight")
		// Report what is stored; the competing completion may still fail.
		if sess, err := g.repo.GetByID(ctx, sessionID); err == nil {
			result.Status = sess.Status
			result.Graded = sess.Graded
		}
		return result, nil
	}
	defer release()

	sess, err := g.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.Completed {
		observability.Completions().WithLabelValues(string(trigger), "already_completed").Inc()
		result.Status = sess.Status
		result.Graded = sess.Graded
		return result, nil
	}

	now := g.now()
	spent := int64(now.Sub(sess.StartTime) / time.Second)
	if spent < 0 {
		spent = 0
	}

	changed, err := g.repo.MarkSubmitted(ctx, sessionID, now, spent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark submitted")
		observability.Completions().WithLabelValues(string(trigger), "error").Inc()
		return nil, fmt.Errorf("mark submitted: %w", err)
	}
	if !changed {
		observability.Completions().WithLabelValues(string(trigger), "already_completed").Inc()
		result.Status = model.SessionStatusSubmitted
		return result, nil
	}
	result.Performed = true
	result.Status = model.SessionStatusSubmitted

	g.log.Info().
		Str("session_id", id).
		Str("trigger", string(trigger)).
		Int64("time_spent_seconds", spent).
		Msg("Session submitted")

	// The submission is durable; follow-up work must not be cut short by the
	// caller's deadline (a scheduler tick or an HTTP request).
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
	defer cancel()

	if trigger != TriggerTimer {
		// The scheduler owns the countdown key and the expiry events on its path.
		if err := g.timer.Stop(ctx, sessionID); err != nil {
			g.log.Warn().Err(err).Str("session_id", id).Msg("Failed to stop countdown")
		}
	}

	outcome, err := g.grader.GradeSession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		observability.Completions().WithLabelValues(string(trigger), "grading_failed").Inc()
		g.log.Error().Err(err).Str("session_id", id).Msg("Grading failed after submission; queued for retry")
		if g.regrade != nil {
			if qerr := g.regrade.Enqueue(ctx, sessionID); qerr != nil {
				g.log.Error().Err(qerr).Str("session_id", id).Msg("Failed to enqueue regrade")
			}
		}
	} else {
		observability.Completions().WithLabelValues(string(trigger), "completed").Inc()
		result.Status = outcome.Status
		result.Graded = outcome.Graded
	}

	if trigger != TriggerTimer {
		if err := g.publisher.Publish(ctx, config.CacheKey.CompletionTopic(id), notify.MarkerCompleted); err != nil {
			g.log.Warn().Err(err).Str("session_id", id).Msg("Failed to publish completion")
		}
	}

	return result, nil
}
