package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress      SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitted       SessionStatus = "SUBMITTED"
	SessionStatusPartiallyGraded SessionStatus = "PARTIALLY_GRADED"
	SessionStatusFullyGraded     SessionStatus = "FULLY_GRADED"
)

// rank orders statuses along the monotonic lifecycle.
func (s SessionStatus) rank() int {
	switch s {
	case SessionStatusInProgress:
		return 1
	case SessionStatusSubmitted:
		return 2
	case SessionStatusPartiallyGraded:
		return 3
	case SessionStatusFullyGraded:
		return 4
	default:
		return 0
	}
}

// Before reports whether s precedes other in the session lifecycle.
func (s SessionStatus) Before(other SessionStatus) bool {
	return s.rank() < other.rank()
}

// ExamSession represents a student's timed attempt at one test.
type ExamSession struct {
	ID                   uuid.UUID     `json:"id"`
	StudentID            int           `json:"student_id"`
	TestID               uuid.UUID     `json:"test_id"`
	StartTime            time.Time     `json:"start_time"`
	EndTime              *time.Time    `json:"end_time,omitempty"`
	Completed            bool          `json:"completed"`
	Graded               bool          `json:"graded"`
	Score                float64       `json:"score"`
	Percentage           *float64      `json:"percentage,omitempty"`
	Passed               *bool         `json:"passed,omitempty"`
	Status               SessionStatus `json:"status"`
	CurrentQuestionIndex int           `json:"current_question_index"`
	TimeSpentSeconds     int64         `json:"time_spent_seconds"`
}

// StartSessionResult is returned to the student when a session starts or resumes.
type StartSessionResult struct {
	SessionID       uuid.UUID     `json:"session_id"`
	TotalQuestions  int           `json:"total_questions"`
	DurationMinutes int           `json:"duration_minutes"`
	Status          SessionStatus `json:"status"`
	Resumed         bool          `json:"resumed"`
	TimeLeftSeconds int64         `json:"time_left_seconds"`
}

// SaveAnswersRequest is the payload for saving a batch of answers.
type SaveAnswersRequest struct {
	Answers              []AnswerInput `json:"answers" binding:"required,min=1,dive"`
	CurrentQuestionIndex *int          `json:"current_question_index" binding:"omitempty,min=0"`
}

// QuestionPageQuery selects a zero-based page of assigned questions.
type QuestionPageQuery struct {
	Page int `form:"page" binding:"min=0"`
	Size int `form:"size" binding:"omitempty,min=1,max=100"`
}

// AnswerInput pairs an assigned question with the student's submitted value.
type AnswerInput struct {
	AssignedQuestionID uuid.UUID `json:"assigned_question_id" binding:"required"`
	Value              string    `json:"value" binding:"max=10000"`
}

// GradeEssayRequest is the examiner payload for scoring an essay answer.
type GradeEssayRequest struct {
	Score    *float64 `json:"score" binding:"required"`
	Feedback string   `json:"feedback" binding:"max=4000"`
}

// SessionResult is the student/examiner view of a session's grading outcome.
type SessionResult struct {
	SessionID  uuid.UUID     `json:"session_id"`
	Status     SessionStatus `json:"status"`
	Pending    bool          `json:"pending"`
	Score      float64       `json:"score"`
	Percentage *float64      `json:"percentage,omitempty"`
	Passed     *bool         `json:"passed,omitempty"`
}
