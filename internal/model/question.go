package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultipleSelect QuestionType = "MULTIPLE_SELECT"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeFillInBlank    QuestionType = "FILL_IN_THE_BLANK"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

const (
	// ChoiceDelimiter separates entries in a question's choice list.
	ChoiceDelimiter = "|"
	// AnswerDelimiter separates selections in a multiple-select answer.
	AnswerDelimiter = ","
)

// IsManual reports whether the type requires a human grader.
func (t QuestionType) IsManual() bool {
	return t == QuestionTypeEssay
}

// Question is a catalog question definition. Read-only to the engine.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	TestID        uuid.UUID    `json:"test_id"`
	QuestionText  string       `json:"question_text"`
	QuestionType  QuestionType `json:"question_type"`
	Choices       string       `json:"choices"`
	CorrectAnswer string       `json:"correct_answer"`
	MaxMarks      float64      `json:"max_marks"`
}

// AssignedQuestion binds one catalog question to one session at a fixed order.
type AssignedQuestion struct {
	ID              uuid.UUID `json:"id"`
	SessionID       uuid.UUID `json:"session_id"`
	QuestionID      uuid.UUID `json:"question_id"`
	Order           int       `json:"order"`
	ShuffledChoices string    `json:"shuffled_choices"`
	Answered        bool      `json:"answered"`
	SavedAnswer     *string   `json:"saved_answer,omitempty"`
}

// QuestionView is an assigned question rendered for the student (no answer key).
type QuestionView struct {
	AssignedQuestionID uuid.UUID    `json:"assigned_question_id"`
	QuestionID         uuid.UUID    `json:"question_id"`
	Order              int          `json:"order"`
	QuestionText       string       `json:"question_text"`
	QuestionType       QuestionType `json:"question_type"`
	Choices            []string     `json:"choices"`
	MaxMarks           float64      `json:"max_marks"`
	Answered           bool         `json:"answered"`
	SavedAnswer        *string      `json:"saved_answer,omitempty"`
}

// Answer holds the submitted value and score for one assigned question.
type Answer struct {
	ID                 uuid.UUID  `json:"id"`
	SessionID          uuid.UUID  `json:"session_id"`
	AssignedQuestionID uuid.UUID  `json:"assigned_question_id"`
	QuestionID         uuid.UUID  `json:"question_id"`
	Value              string     `json:"value"`
	Score              *float64   `json:"score,omitempty"`
	Feedback           *string    `json:"feedback,omitempty"`
	GradedAt           *time.Time `json:"graded_at,omitempty"`
}

// GradingItem joins an assigned question with its catalog question and the
// (possibly missing) answer, which is everything the grading engine needs.
type GradingItem struct {
	AssignedQuestionID uuid.UUID
	QuestionID         uuid.UUID
	QuestionType       QuestionType
	CorrectAnswer      string
	MaxMarks           float64
	HasAnswer          bool
	Value              string
	Score              *float64
}

// AnswerScore is one computed per-answer score to persist.
type AnswerScore struct {
	AssignedQuestionID uuid.UUID
	Score              float64
}

// GradeOutcome is the aggregate result of one grading pass.
type GradeOutcome struct {
	SessionID    uuid.UUID
	AnswerScores []AnswerScore
	Score        float64
	Percentage   *float64
	Passed       *bool
	Status       SessionStatus
	Graded       bool
}

// SplitChoices parses a delimited choice list, dropping blank entries.
func SplitChoices(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ChoiceDelimiter)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinChoices renders a choice list back into its delimited form.
func JoinChoices(choices []string) string {
	return strings.Join(choices, ChoiceDelimiter)
}
