package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// CatalogRepository reads test definitions and question pools owned by the
// Catalog Service.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetTestDefinition retrieves a test by its UUID.
func (r *CatalogRepository) GetTestDefinition(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, number_of_questions, randomize_questions,
		        shuffle_choices, passing_score, total_marks
		 FROM tests WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.DurationMinutes, &t.NumberOfQuestions, &t.RandomizeQuestions,
		&t.ShuffleChoices, &t.PassingScore, &t.TotalMarks)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetQuestionPool retrieves every question of a test in catalog order.
func (r *CatalogRepository) GetQuestionPool(ctx context.Context, testID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, question_text, question_type, choices, correct_answer, max_marks
		 FROM questions WHERE test_id = $1
		 ORDER BY position, id`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.TestID, &q.QuestionText, &q.QuestionType, &q.Choices, &q.CorrectAnswer, &q.MaxMarks); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
