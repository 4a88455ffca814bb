package model

import "github.com/google/uuid"

// Test is a catalog test definition. Immutable for the lifetime of a session.
type Test struct {
	ID                 uuid.UUID `json:"id"`
	Title              string    `json:"title"`
	DurationMinutes    int       `json:"duration_minutes"`
	NumberOfQuestions  int       `json:"number_of_questions"`
	RandomizeQuestions bool      `json:"randomize_questions"`
	ShuffleChoices     bool      `json:"shuffle_choices"`
	// PassingScore is a percentage threshold.
	PassingScore float64 `json:"passing_score"`
	TotalMarks   float64 `json:"total_marks"`
}

// DurationSeconds returns the configured attempt length in seconds.
func (t *Test) DurationSeconds() int64 {
	return int64(t.DurationMinutes) * 60
}
