package service

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stretchr/testify/require"
)

func TestAssignCapsAndOrdersSelection(t *testing.T) {
	test := newTest(2)
	test.RandomizeQuestions = true
	var pool []model.Question
	for i := 0; i < 5; i++ {
		pool = append(pool, question(test.ID, model.QuestionTypeSingleChoice, "A", 1))
	}
	session := &model.ExamSession{ID: uuid.New()}

	assigned := NewAssignmentBuilder().Assign(session, test, pool)

	require.Len(t, assigned, 2)
	orders := []int{assigned[0].Order, assigned[1].Order}
	sort.Ints(orders)
	require.Equal(t, []int{1, 2}, orders)
	require.NotEqual(t, assigned[0].QuestionID, assigned[1].QuestionID)
	for _, aq := range assigned {
		require.Equal(t, session.ID, aq.SessionID)
		require.NotEqual(t, uuid.Nil, aq.ID)
	}
}

func TestAssignUsesWholePoolWhenSmallerThanCap(t *testing.T) {
	test := newTest(10)
	pool := []model.Question{
		question(test.ID, model.QuestionTypeTrueFalse, "true", 1),
		question(test.ID, model.QuestionTypeEssay, "", 5),
	}

	assigned := NewAssignmentBuilder().Assign(&model.ExamSession{ID: uuid.New()}, test, pool)

	require.Len(t, assigned, 2)
	// Without randomization the pool order is kept.
	require.Equal(t, pool[0].ID, assigned[0].QuestionID)
	require.Equal(t, 1, assigned[0].Order)
	require.Equal(t, pool[1].ID, assigned[1].QuestionID)
	require.Equal(t, 2, assigned[1].Order)
}

func TestAssignShufflesChoicesWithoutMutatingPool(t *testing.T) {
	test := newTest(0)
	test.ShuffleChoices = true
	q := question(test.ID, model.QuestionTypeSingleChoice, "A", 1)
	q.Choices = "A|B|C|D|E|F"
	noChoices := question(test.ID, model.QuestionTypeFillInBlank, "x", 1)
	noChoices.Choices = ""
	pool := []model.Question{q, noChoices}

	assigned := NewAssignmentBuilder().Assign(&model.ExamSession{ID: uuid.New()}, test, pool)

	require.Equal(t, "A|B|C|D|E|F", pool[0].Choices)
	shuffled := model.SplitChoices(assigned[0].ShuffledChoices)
	require.ElementsMatch(t, []string{"A", "B", "C", "D", "E", "F"}, shuffled)
	require.Empty(t, assigned[1].ShuffledChoices)
}

func TestAssignLeavesChoicesAloneWhenShuffleDisabled(t *testing.T) {
	test := newTest(0)
	pool := []model.Question{question(test.ID, model.QuestionTypeSingleChoice, "A", 1)}

	assigned := NewAssignmentBuilder().Assign(&model.ExamSession{ID: uuid.New()}, test, pool)

	require.Empty(t, assigned[0].ShuffledChoices)
}
