package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GradingService computes per-answer and aggregate scores.
type GradingService struct {
	repo    SessionRepository
	catalog Catalog
	locker  Locker
	log     zerolog.Logger
	tracer  trace.Tracer
}

// NewGradingService creates a GradingService.
func NewGradingService(repo SessionRepository, catalog Catalog, locker Locker, log zerolog.Logger) *GradingService {
	return &GradingService{
		repo:    repo,
		catalog: catalog,
		locker:  locker,
		log:     log.With().Str("component", "grading_service").Logger(),
		tracer:  otel.Tracer("github.com/stemsi/exstem-engine/internal/service/grading"),
	}
}

// GradeSession recomputes every objective score and the session aggregate.
// Recomputes of one session are serialized; calling it repeatedly on an
// unchanged session yields the same outcome.
func (s *GradingService) GradeSession(ctx context.Context, sessionID uuid.UUID) (*model.GradeOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "grading.session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID.String()))

	release, err := s.locker.Acquire(ctx, config.CacheKey.GradingLockKey(sessionID.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading lock")
		return nil, transientError(err)
	}
	defer release()

	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !sess.Completed {
		return nil, ErrSessionNotCompleted
	}

	test, err := s.catalog.GetTestDefinition(ctx, sess.TestID)
	if err != nil {
		span.RecordError(err)
		return nil, gradingError(fmt.Errorf("get test: %w", err))
	}

	items, err := s.repo.ListGradingItems(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, gradingError(fmt.Errorf("list grading items: %w", err))
	}

	outcome := Evaluate(sessionID, items, test.PassingScore)
	// Status never moves backwards, e.g. when a graded essay is re-scored to 0.
	if outcome.Status.Before(sess.Status) {
		outcome.Status = sess.Status
		outcome.Graded = sess.Status == model.SessionStatusFullyGraded
	}

	if err := s.repo.SaveGradeOutcome(ctx, outcome); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist outcome")
		return nil, gradingError(fmt.Errorf("save grade outcome: %w", err))
	}

	observability.GradingRuns().WithLabelValues(string(outcome.Status)).Inc()
	span.SetAttributes(
		attribute.Float64("grading.score", outcome.Score),
		attribute.String("grading.status", string(outcome.Status)),
	)
	s.log.Debug().
		Str("session_id", sessionID.String()).
		Float64("score", outcome.Score).
		Str("status", string(outcome.Status)).
		Msg("Session graded")

	return outcome, nil
}

// GradeEssay stores a human-entered essay score and recomputes the session.
func (s *GradingService) GradeEssay(ctx context.Context, sessionID, questionID uuid.UUID, score float64, feedback string) (*model.GradeOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "grading.essay")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID.String()),
		attribute.String("question.id", questionID.String()),
	)

	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !sess.Completed {
		return nil, ErrSessionNotCompleted
	}

	item, err := s.repo.GetGradingItem(ctx, sessionID, questionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("get grading item: %w", err)
	}
	if item.QuestionType != model.QuestionTypeEssay {
		span.SetStatus(codes.Error, "not essay")
		return nil, ErrNotEssayQuestion
	}
	if math.IsNaN(score) || score < 0 || score > item.MaxMarks {
		span.SetStatus(codes.Error, "score out of range")
		return nil, ErrScoreOutOfRange
	}

	if err := s.repo.SetEssayScore(ctx, sessionID, item, score, strings.TrimSpace(feedback)); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("set essay score: %w", err)
	}

	return s.GradeSession(ctx, sessionID)
}

// Evaluate scores the grading items of one session. Objective answers are
// compared against the answer key; essay scores are taken as stored.
func Evaluate(sessionID uuid.UUID, items []model.GradingItem, passingScore float64) *model.GradeOutcome {
	outcome := &model.GradeOutcome{SessionID: sessionID}

	var maxPossible float64
	essays, essaysScored := 0, 0
	for _, it := range items {
		maxPossible += it.MaxMarks

		if it.QuestionType.IsManual() {
			essays++
			if it.Score != nil {
				outcome.Score += *it.Score
				if *it.Score != 0 {
					essaysScored++
				}
			}
			continue
		}

		if !it.HasAnswer {
			continue
		}
		var score float64
		if ScoreObjective(it.QuestionType, it.CorrectAnswer, it.Value) {
			score = it.MaxMarks
		}
		outcome.Score += score
		outcome.AnswerScores = append(outcome.AnswerScores, model.AnswerScore{
			AssignedQuestionID: it.AssignedQuestionID,
			Score:              score,
		})
	}

	if maxPossible > 0 {
		pct := round2(outcome.Score / maxPossible * 100)
		passed := pct >= passingScore
		outcome.Percentage = &pct
		outcome.Passed = &passed
	}

	if essays == essaysScored {
		outcome.Status = model.SessionStatusFullyGraded
		outcome.Graded = true
	} else {
		outcome.Status = model.SessionStatusPartiallyGraded
	}
	return outcome
}

// ScoreObjective reports whether a submitted value matches the answer key.
func ScoreObjective(qt model.QuestionType, correct, submitted string) bool {
	switch qt {
	case model.QuestionTypeMultipleSelect:
		return sameSelection(correct, submitted)
	case model.QuestionTypeEssay:
		return false
	default:
		return strings.EqualFold(strings.TrimSpace(correct), strings.TrimSpace(submitted))
	}
}

func sameSelection(correct, submitted string) bool {
	want := selectionSet(correct)
	got := selectionSet(submitted)
	if len(want) == 0 || len(want) != len(got) {
		return false
	}
	for k := range want {
		if _, ok := got[k]; !ok {
			return false
		}
	}
	return true
}

func selectionSet(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range strings.Split(raw, model.AnswerDelimiter) {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
