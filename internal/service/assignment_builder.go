package service

import (
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// AssignmentBuilder selects, orders and shuffles the question set of one attempt.
type AssignmentBuilder struct {
	// newRand returns the random source for one assignment. Each call gets its
	// own source so concurrent starts never share generator state.
	newRand func() *rand.Rand
}

// NewAssignmentBuilder creates an AssignmentBuilder seeded from the runtime's
// entropy source.
func NewAssignmentBuilder() *AssignmentBuilder {
	return &AssignmentBuilder{
		newRand: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
	}
}

// Assign builds the AssignedQuestion rows for a session. The pool slice and
// the questions in it are never modified.
func (b *AssignmentBuilder) Assign(session *model.ExamSession, test *model.Test, pool []model.Question) []model.AssignedQuestion {
	rng := b.newRand()

	selected := make([]model.Question, len(pool))
	copy(selected, pool)
	if test.RandomizeQuestions {
		rng.Shuffle(len(selected), func(i, j int) {
			selected[i], selected[j] = selected[j], selected[i]
		})
	}

	if n := test.NumberOfQuestions; n > 0 && n < len(selected) {
		selected = selected[:n]
	}

	assigned := make([]model.AssignedQuestion, 0, len(selected))
	for i, q := range selected {
		aq := model.AssignedQuestion{
			ID:         uuid.New(),
			SessionID:  session.ID,
			QuestionID: q.ID,
			Order:      i + 1,
		}
		if test.ShuffleChoices {
			if choices := model.SplitChoices(q.Choices); len(choices) > 0 {
				rng.Shuffle(len(choices), func(i, j int) {
					choices[i], choices[j] = choices[j], choices[i]
				})
				aq.ShuffledChoices = model.JoinChoices(choices)
			}
		}
		assigned = append(assigned, aq)
	}
	return assigned
}
