package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DirectoryRepository answers enrollment questions owned by the Directory Service.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

// IsStudentEnrolled reports whether the student is enrolled in the test.
func (r *DirectoryRepository) IsStudentEnrolled(ctx context.Context, studentID int, testID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM test_enrollments WHERE test_id = $1 AND student_id = $2)`,
		testID, studentID,
	).Scan(&ok)
	return ok, err
}

// HasUserReadInstructions reports whether the student acknowledged the test instructions.
func (r *DirectoryRepository) HasUserReadInstructions(ctx context.Context, studentID int, testID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM instruction_acknowledgements WHERE test_id = $1 AND student_id = $2)`,
		testID, studentID,
	).Scan(&ok)
	return ok, err
}
