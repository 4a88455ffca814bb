package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/countdown"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// MaxPageSize caps getQuestions page sizes.
const MaxPageSize = 100

// QuestionPage is one page of a session's assigned questions.
type QuestionPage struct {
	Items []model.QuestionView `json:"items"`
	Page  int                  `json:"page"`
	Size  int                  `json:"size"`
	Total int                  `json:"total"`
}

// TimeLeft is the countdown state reported to a student.
type TimeLeft struct {
	SessionID uuid.UUID       `json:"session_id"`
	Seconds   int64           `json:"seconds"`
	State     countdown.State `json:"state"`
	Completed bool            `json:"completed"`
}

// SessionService owns the attempt lifecycle.
type SessionService struct {
	repo      SessionRepository
	catalog   Catalog
	directory Directory
	builder   *AssignmentBuilder
	timer     Countdown
	guard     *CompletionGuard
	log       zerolog.Logger
	now       func() time.Time
}

// NewSessionService creates a SessionService.
func NewSessionService(
	repo SessionRepository,
	catalog Catalog,
	directory Directory,
	builder *AssignmentBuilder,
	timer Countdown,
	guard *CompletionGuard,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		repo:      repo,
		catalog:   catalog,
		directory: directory,
		builder:   builder,
		timer:     timer,
		guard:     guard,
		log:       log.With().Str("component", "session_service").Logger(),
		now:       time.Now,
	}
}

// Start creates the student's session for a test, or resumes the existing one.
func (s *SessionService) Start(ctx context.Context, studentID int, testID uuid.UUID) (*model.StartSessionResult, error) {
	enrolled, err := s.directory.IsStudentEnrolled(ctx, studentID, testID)
	if err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return nil, ErrNotEnrolled
	}
	read, err := s.directory.HasUserReadInstructions(ctx, studentID, testID)
	if err != nil {
		return nil, fmt.Errorf("check instructions: %w", err)
	}
	if !read {
		return nil, ErrInstructionsNotAcknowledged
	}

	test, err := s.catalog.GetTestDefinition(ctx, testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}

	sess, err := s.repo.GetByTestAndStudent(ctx, testID, studentID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return s.create(ctx, studentID, test)
	case err != nil:
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s.resume(ctx, sess, test)
}

func (s *SessionService) create(ctx context.Context, studentID int, test *model.Test) (*model.StartSessionResult, error) {
	pool, err := s.catalog.GetQuestionPool(ctx, test.ID)
	if err != nil {
		return nil, fmt.Errorf("get question pool: %w", err)
	}

	sess := &model.ExamSession{
		ID:        uuid.New(),
		StudentID: studentID,
		TestID:    test.ID,
		StartTime: s.now(),
		Status:    model.SessionStatusInProgress,
	}
	assigned := s.builder.Assign(sess, test, pool)

	created, err := s.repo.CreateWithAssignments(ctx, sess, assigned)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !created {
		// A concurrent start for the same student won the insert.
		existing, err := s.repo.GetByTestAndStudent(ctx, test.ID, studentID)
		if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		return s.resume(ctx, existing, test)
	}

	seconds := test.DurationSeconds()
	if err := s.timer.Start(ctx, sess.ID, seconds); err != nil {
		// The next start call resumes the session and re-seeds the countdown.
		return nil, transientError(err)
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Int("student_id", studentID).
		Str("test_id", test.ID.String()).
		Int("questions", len(assigned)).
		Msg("Session started")

	return &model.StartSessionResult{
		SessionID:       sess.ID,
		TotalQuestions:  len(assigned),
		DurationMinutes: test.DurationMinutes,
		Status:          sess.Status,
		TimeLeftSeconds: seconds,
	}, nil
}

func (s *SessionService) resume(ctx context.Context, sess *model.ExamSession, test *model.Test) (*model.StartSessionResult, error) {
	if sess.Completed {
		return nil, ErrAlreadyCompleted
	}

	remaining, state, err := s.timer.Remaining(ctx, sess.ID)
	if err != nil && !errors.Is(err, countdown.ErrCorrupt) {
		return nil, transientError(err)
	}
	if state == countdown.StateNone || errors.Is(err, countdown.ErrCorrupt) {
		// Countdown lost (store flushed or key corrupted): re-seed from the
		// configured duration minus the wall-clock time already spent.
		remaining = test.DurationSeconds() - int64(s.now().Sub(sess.StartTime)/time.Second)
		if remaining < 1 {
			remaining = 1
		}
		if err := s.timer.Start(ctx, sess.ID, remaining); err != nil {
			return nil, transientError(err)
		}
		s.log.Warn().
			Str("session_id", sess.ID.String()).
			Int64("seconds", remaining).
			Msg("Countdown re-seeded on resume")
	}

	total, err := s.repo.CountAssigned(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("count assigned: %w", err)
	}

	return &model.StartSessionResult{
		SessionID:       sess.ID,
		TotalQuestions:  total,
		DurationMinutes: test.DurationMinutes,
		Status:          sess.Status,
		Resumed:         true,
		TimeLeftSeconds: remaining,
	}, nil
}

// GetQuestions returns one page of the session's questions in assignment order.
// page is zero-based.
func (s *SessionService) GetQuestions(ctx context.Context, studentID int, testID uuid.UUID, page, size int) (*QuestionPage, error) {
	if page < 0 || size <= 0 || size > MaxPageSize {
		return nil, ErrInvalidPage
	}
	sess, err := s.sessionFor(ctx, studentID, testID)
	if err != nil {
		return nil, err
	}

	total, err := s.repo.CountAssigned(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("count assigned: %w", err)
	}
	items, err := s.repo.ListQuestionViews(ctx, sess.ID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if items == nil {
		items = []model.QuestionView{}
	}

	return &QuestionPage{Items: items, Page: page, Size: size, Total: total}, nil
}

// GetQuestionIDs returns the assigned question ids in assignment order.
func (s *SessionService) GetQuestionIDs(ctx context.Context, studentID int, testID uuid.UUID) ([]uuid.UUID, error) {
	sess, err := s.sessionFor(ctx, studentID, testID)
	if err != nil {
		return nil, err
	}
	ids, err := s.repo.ListAssignedQuestionIDs(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list question ids: %w", err)
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return ids, nil
}

// SaveAnswers upserts the student's answers. Every assigned question must
// belong to the caller's own active session. Within one batch the last value
// for a question wins.
func (s *SessionService) SaveAnswers(ctx context.Context, studentID int, testID uuid.UUID, req *model.SaveAnswersRequest) (int, error) {
	sess, err := s.sessionFor(ctx, studentID, testID)
	if err != nil {
		return 0, err
	}
	if sess.Completed {
		return 0, ErrAlreadyCompleted
	}

	answers := dedupeAnswers(req.Answers)
	ids := make([]uuid.UUID, 0, len(answers))
	for _, a := range answers {
		ids = append(ids, a.AssignedQuestionID)
	}

	refs, err := s.repo.ResolveAssigned(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("resolve assigned questions: %w", err)
	}
	for _, id := range ids {
		ref, ok := refs[id]
		if !ok || ref.SessionID != sess.ID {
			s.log.Warn().
				Str("session_id", sess.ID.String()).
				Str("assigned_question_id", id.String()).
				Msg("Rejected cross-session answer write")
			return 0, ErrUnauthorizedAnswer
		}
	}

	if err := s.repo.SaveAnswers(ctx, sess.ID, answers, refs, req.CurrentQuestionIndex); err != nil {
		if errors.Is(err, repository.ErrSessionClosed) {
			return 0, ErrAlreadyCompleted
		}
		return 0, fmt.Errorf("save answers: %w", err)
	}
	return len(answers), nil
}

func dedupeAnswers(in []model.AnswerInput) []model.AnswerInput {
	index := make(map[uuid.UUID]int, len(in))
	out := make([]model.AnswerInput, 0, len(in))
	for _, a := range in {
		if i, ok := index[a.AssignedQuestionID]; ok {
			out[i] = a
			continue
		}
		index[a.AssignedQuestionID] = len(out)
		out = append(out, a)
	}
	return out
}

// Complete submits the caller's session through the completion guard.
func (s *SessionService) Complete(ctx context.Context, studentID int, testID uuid.UUID) (*CompletionResult, error) {
	sess, err := s.sessionFor(ctx, studentID, testID)
	if err != nil {
		return nil, err
	}
	return s.guard.Complete(ctx, sess.ID, TriggerStudent)
}

// GetTimeLeft returns the remaining seconds of the caller's session.
func (s *SessionService) GetTimeLeft(ctx context.Context, studentID int, testID uuid.UUID) (*TimeLeft, error) {
	sess, err := s.sessionFor(ctx, studentID, testID)
	if err != nil {
		return nil, err
	}
	return s.timeLeft(ctx, sess)
}

// TimeLeftByID returns the countdown state of any session.
func (s *SessionService) TimeLeftByID(ctx context.Context, sessionID uuid.UUID) (*TimeLeft, error) {
	sess, err := s.getByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.timeLeft(ctx, sess)
}

func (s *SessionService) timeLeft(ctx context.Context, sess *model.ExamSession) (*TimeLeft, error) {
	out := &TimeLeft{SessionID: sess.ID, State: countdown.StateNone, Completed: sess.Completed}
	if sess.Completed {
		return out, nil
	}
	remaining, state, err := s.timer.Remaining(ctx, sess.ID)
	if err != nil {
		return nil, transientError(err)
	}
	if remaining < 0 {
		remaining = 0
	}
	out.Seconds = remaining
	out.State = state
	return out, nil
}

// Pause freezes a session's countdown.
func (s *SessionService) Pause(ctx context.Context, sessionID uuid.UUID) (*TimeLeft, error) {
	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	remaining, ok, err := s.timer.Pause(ctx, sess.ID)
	if err != nil {
		return nil, transientError(err)
	}
	if !ok {
		return nil, ErrSessionNotActive
	}
	s.log.Info().Str("session_id", sess.ID.String()).Int64("seconds", remaining).Msg("Countdown paused")
	return &TimeLeft{SessionID: sess.ID, Seconds: remaining, State: countdown.StatePaused}, nil
}

// Resume unfreezes a paused countdown.
func (s *SessionService) Resume(ctx context.Context, sessionID uuid.UUID) (*TimeLeft, error) {
	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	remaining, ok, err := s.timer.Resume(ctx, sess.ID)
	if err != nil {
		return nil, transientError(err)
	}
	if !ok {
		return nil, ErrSessionNotActive
	}
	s.log.Info().Str("session_id", sess.ID.String()).Int64("seconds", remaining).Msg("Countdown resumed")
	return &TimeLeft{SessionID: sess.ID, Seconds: remaining, State: countdown.StateActive}, nil
}

// StopTimer cancels a session's countdown without completing the session.
func (s *SessionService) StopTimer(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.timer.Stop(ctx, sess.ID); err != nil {
		return transientError(err)
	}
	s.log.Info().Str("session_id", sess.ID.String()).Msg("Countdown stopped")
	return nil
}

// Result returns the caller's grading outcome.
func (s *SessionService) Result(ctx context.Context, studentID int, testID uuid.UUID) (*model.SessionResult, error) {
	sess, err := s.sessionFor(ctx, studentID, testID)
	if err != nil {
		return nil, err
	}
	return toResult(sess)
}

// ResultByID returns the grading outcome of any session.
func (s *SessionService) ResultByID(ctx context.Context, sessionID uuid.UUID) (*model.SessionResult, error) {
	sess, err := s.getByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return toResult(sess)
}

func toResult(sess *model.ExamSession) (*model.SessionResult, error) {
	if !sess.Completed {
		return nil, ErrSessionNotCompleted
	}
	return &model.SessionResult{
		SessionID:  sess.ID,
		Status:     sess.Status,
		Pending:    !sess.Graded,
		Score:      sess.Score,
		Percentage: sess.Percentage,
		Passed:     sess.Passed,
	}, nil
}

func (s *SessionService) sessionFor(ctx context.Context, studentID int, testID uuid.UUID) (*model.ExamSession, error) {
	sess, err := s.repo.GetByTestAndStudent(ctx, testID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SessionService) getByID(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SessionService) activeSession(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	sess, err := s.getByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed {
		return nil, ErrAlreadyCompleted
	}
	return sess, nil
}
