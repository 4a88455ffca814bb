package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/countdown"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// SessionRepository is the durable store of sessions, assignments and answers.
type SessionRepository interface {
	GetByTestAndStudent(ctx context.Context, testID uuid.UUID, studentID int) (*model.ExamSession, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	CreateWithAssignments(ctx context.Context, s *model.ExamSession, assigned []model.AssignedQuestion) (bool, error)
	CountAssigned(ctx context.Context, sessionID uuid.UUID) (int, error)
	ListQuestionViews(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]model.QuestionView, error)
	ListAssignedQuestionIDs(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error)
	ResolveAssigned(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]repository.AssignedRef, error)
	SaveAnswers(ctx context.Context, sessionID uuid.UUID, answers []model.AnswerInput, refs map[uuid.UUID]repository.AssignedRef, currentIndex *int) error
	MarkSubmitted(ctx context.Context, id uuid.UUID, endTime time.Time, timeSpentSeconds int64) (bool, error)
	ListGradingItems(ctx context.Context, sessionID uuid.UUID) ([]model.GradingItem, error)
	GetGradingItem(ctx context.Context, sessionID, questionID uuid.UUID) (*model.GradingItem, error)
	SaveGradeOutcome(ctx context.Context, o *model.GradeOutcome) error
	SetEssayScore(ctx context.Context, sessionID uuid.UUID, item *model.GradingItem, score float64, feedback string) error
}

// Catalog supplies test and question definitions.
type Catalog interface {
	GetTestDefinition(ctx context.Context, testID uuid.UUID) (*model.Test, error)
	GetQuestionPool(ctx context.Context, testID uuid.UUID) ([]model.Question, error)
}

// Directory answers enrollment questions about students.
type Directory interface {
	IsStudentEnrolled(ctx context.Context, studentID int, testID uuid.UUID) (bool, error)
	HasUserReadInstructions(ctx context.Context, studentID int, testID uuid.UUID) (bool, error)
}

// Countdown is the per-session timer surface used by the session manager.
type Countdown interface {
	Start(ctx context.Context, sessionID uuid.UUID, seconds int64) error
	Stop(ctx context.Context, sessionID uuid.UUID) error
	Pause(ctx context.Context, sessionID uuid.UUID) (int64, bool, error)
	Resume(ctx context.Context, sessionID uuid.UUID) (int64, bool, error)
	Remaining(ctx context.Context, sessionID uuid.UUID) (int64, countdown.State, error)
}

// RegradeQueue schedules a session for a later grading retry.
type RegradeQueue interface {
	Enqueue(ctx context.Context, sessionID uuid.UUID) error
}

// Grader recomputes a session's grade.
type Grader interface {
	GradeSession(ctx context.Context, sessionID uuid.UUID) (*model.GradeOutcome, error)
}

// Locker hands out per-key mutual exclusion.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (func(), bool, error)
	Acquire(ctx context.Context, key string) (func(), error)
}
