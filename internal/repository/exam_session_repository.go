package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ErrSessionClosed is returned when a write targets a session that is already completed.
var ErrSessionClosed = errors.New("session is closed for writes")

const sessionColumns = `id, student_id, test_id, start_time, end_time, completed, graded,
	score, percentage, passed, status, current_question_index, time_spent_seconds`

// AssignedRef identifies which session and catalog question an assigned question belongs to.
type AssignedRef struct {
	SessionID  uuid.UUID
	QuestionID uuid.UUID
}

// ExamSessionRepository handles exam session, assignment and answer data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(&s.ID, &s.StudentID, &s.TestID, &s.StartTime, &s.EndTime, &s.Completed, &s.Graded,
		&s.Score, &s.Percentage, &s.Passed, &s.Status, &s.CurrentQuestionIndex, &s.TimeSpentSeconds)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByTestAndStudent retrieves the session for a specific test-student combination.
func (r *ExamSessionRepository) GetByTestAndStudent(ctx context.Context, testID uuid.UUID, studentID int) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE test_id = $1 AND student_id = $2`, testID, studentID))
}

// GetByID retrieves a session by its UUID.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// CreateWithAssignments inserts the session and its assigned questions in one
// transaction. Returns created=false when a concurrent start already inserted
// the (test, student) row; nothing is written in that case.
func (r *ExamSessionRepository) CreateWithAssignments(ctx context.Context, s *model.ExamSession, assigned []model.AssignedQuestion) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx,
		`INSERT INTO exam_sessions (id, student_id, test_id, start_time, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (test_id, student_id) DO NOTHING
		 RETURNING start_time`,
		s.ID, s.StudentID, s.TestID, s.StartTime, model.SessionStatusInProgress,
	).Scan(&s.StartTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert session: %w", err)
	}

	rows := make([][]interface{}, 0, len(assigned))
	for _, aq := range assigned {
		rows = append(rows, []interface{}{aq.ID, s.ID, aq.QuestionID, aq.Order, aq.ShuffledChoices})
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"assigned_questions"},
		[]string{"id", "session_id", "question_id", "question_order", "shuffled_choices"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return false, fmt.Errorf("insert assigned questions: %w", err)
	}
	if int(n) != len(assigned) {
		return false, fmt.Errorf("insert assigned questions: wrote %d of %d rows", n, len(assigned))
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// CountAssigned returns the number of assigned questions in a session.
func (r *ExamSessionRepository) CountAssigned(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM assigned_questions WHERE session_id = $1`, sessionID,
	).Scan(&total)
	return total, err
}

// ListQuestionViews returns a page of assigned questions ordered by their fixed order.
func (r *ExamSessionRepository) ListQuestionViews(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]model.QuestionView, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT aq.id, q.id, aq.question_order, q.question_text, q.question_type,
		        CASE WHEN aq.shuffled_choices <> '' THEN aq.shuffled_choices ELSE q.choices END,
		        q.max_marks, aq.answered, aq.saved_answer
		 FROM assigned_questions aq
		 JOIN questions q ON q.id = aq.question_id
		 WHERE aq.session_id = $1
		 ORDER BY aq.question_order ASC
		 LIMIT $2 OFFSET $3`, sessionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []model.QuestionView
	for rows.Next() {
		var v model.QuestionView
		var choices string
		if err := rows.Scan(&v.AssignedQuestionID, &v.QuestionID, &v.Order, &v.QuestionText, &v.QuestionType,
			&choices, &v.MaxMarks, &v.Answered, &v.SavedAnswer); err != nil {
			return nil, err
		}
		v.Choices = model.SplitChoices(choices)
		views = append(views, v)
	}
	return views, rows.Err()
}

// ListAssignedQuestionIDs returns every assigned question id in fixed order.
func (r *ExamSessionRepository) ListAssignedQuestionIDs(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM assigned_questions WHERE session_id = $1 ORDER BY question_order ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResolveAssigned looks up the owning session of each assigned question id.
// Unknown ids are simply absent from the result.
func (r *ExamSessionRepository) ResolveAssigned(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]AssignedRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, question_id FROM assigned_questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[uuid.UUID]AssignedRef, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var ref AssignedRef
		if err := rows.Scan(&id, &ref.SessionID, &ref.QuestionID); err != nil {
			return nil, err
		}
		refs[id] = ref
	}
	return refs, rows.Err()
}

// SaveAnswers upserts answers and flags their assigned questions as answered.
// The session row is share-locked so a concurrent completion either happens
// before (and the write is rejected with ErrSessionClosed) or after the batch.
func (r *ExamSessionRepository) SaveAnswers(ctx context.Context, sessionID uuid.UUID, answers []model.AnswerInput, refs map[uuid.UUID]AssignedRef, currentIndex *int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var completed bool
	if err := tx.QueryRow(ctx,
		`SELECT completed FROM exam_sessions WHERE id = $1 FOR SHARE`, sessionID,
	).Scan(&completed); err != nil {
		return err
	}
	if completed {
		return ErrSessionClosed
	}

	batch := &pgx.Batch{}
	for _, a := range answers {
		ref := refs[a.AssignedQuestionID]
		batch.Queue(
			`INSERT INTO answers (session_id, assigned_question_id, question_id, value)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (assigned_question_id) DO UPDATE
			 SET value = EXCLUDED.value, updated_at = NOW()`,
			sessionID, a.AssignedQuestionID, ref.QuestionID, a.Value,
		)
		batch.Queue(
			`UPDATE assigned_questions SET answered = TRUE, saved_answer = $1
			 WHERE id = $2 AND session_id = $3`,
			a.Value, a.AssignedQuestionID, sessionID,
		)
	}
	if currentIndex != nil {
		batch.Queue(
			`UPDATE exam_sessions SET current_question_index = $1 WHERE id = $2`,
			*currentIndex, sessionID,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save answers: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkSubmitted transitions a session to SUBMITTED. Returns false when the
// session was already completed, which makes the transition exactly-once at
// the storage layer as well.
func (r *ExamSessionRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, endTime time.Time, timeSpentSeconds int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET completed = TRUE, end_time = $1, status = $2, time_spent_seconds = $3
		 WHERE id = $4 AND NOT completed`,
		endTime, model.SessionStatusSubmitted, timeSpentSeconds, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListGradingItems returns every assigned question of a session joined with
// its catalog question and answer, in assignment order.
func (r *ExamSessionRepository) ListGradingItems(ctx context.Context, sessionID uuid.UUID) ([]model.GradingItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT aq.id, q.id, q.question_type, q.correct_answer, q.max_marks,
		        a.id IS NOT NULL, COALESCE(a.value, ''), a.score
		 FROM assigned_questions aq
		 JOIN questions q ON q.id = aq.question_id
		 LEFT JOIN answers a ON a.assigned_question_id = aq.id
		 WHERE aq.session_id = $1
		 ORDER BY aq.question_order ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.GradingItem
	for rows.Next() {
		var it model.GradingItem
		if err := rows.Scan(&it.AssignedQuestionID, &it.QuestionID, &it.QuestionType, &it.CorrectAnswer,
			&it.MaxMarks, &it.HasAnswer, &it.Value, &it.Score); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetGradingItem returns the grading view of one catalog question within a session.
func (r *ExamSessionRepository) GetGradingItem(ctx context.Context, sessionID, questionID uuid.UUID) (*model.GradingItem, error) {
	it := &model.GradingItem{}
	err := r.pool.QueryRow(ctx,
		`SELECT aq.id, q.id, q.question_type, q.correct_answer, q.max_marks,
		        a.id IS NOT NULL, COALESCE(a.value, ''), a.score
		 FROM assigned_questions aq
		 JOIN questions q ON q.id = aq.question_id
		 LEFT JOIN answers a ON a.assigned_question_id = aq.id
		 WHERE aq.session_id = $1 AND aq.question_id = $2`, sessionID, questionID,
	).Scan(&it.AssignedQuestionID, &it.QuestionID, &it.QuestionType, &it.CorrectAnswer,
		&it.MaxMarks, &it.HasAnswer, &it.Value, &it.Score)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// SaveGradeOutcome persists per-answer objective scores and the session
// aggregate in one transaction, using the UNNEST bulk-update pattern.
func (r *ExamSessionRepository) SaveGradeOutcome(ctx context.Context, o *model.GradeOutcome) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if len(o.AnswerScores) > 0 {
		ids := make([]uuid.UUID, 0, len(o.AnswerScores))
		scores := make([]float64, 0, len(o.AnswerScores))
		for _, s := range o.AnswerScores {
			ids = append(ids, s.AssignedQuestionID)
			scores = append(scores, s.Score)
		}

		_, err := tx.Exec(ctx,
			`UPDATE answers AS a
			 SET score = t.score, graded_at = NOW()
			 FROM (
				SELECT u.aq_id, u.score
				FROM UNNEST($1::uuid[], $2::float8[]) AS u (aq_id, score)
			 ) AS t
			 WHERE a.assigned_question_id = t.aq_id AND a.session_id = $3`,
			ids, scores, o.SessionID)
		if err != nil {
			return fmt.Errorf("update answer scores: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET score = $1, percentage = $2, passed = $3, status = $4, graded = $5
		 WHERE id = $6 AND completed`,
		o.Score, o.Percentage, o.Passed, o.Status, o.Graded, o.SessionID)
	if err != nil {
		return fmt.Errorf("update session grade: %w", err)
	}

	return tx.Commit(ctx)
}

// SetEssayScore writes the human-entered score for an essay answer. An answer
// row is created when the student never saved one.
func (r *ExamSessionRepository) SetEssayScore(ctx context.Context, sessionID uuid.UUID, item *model.GradingItem, score float64, feedback string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO answers (session_id, assigned_question_id, question_id, value, score, feedback, graded_at)
		 VALUES ($1, $2, $3, '', $4, $5, NOW())
		 ON CONFLICT (assigned_question_id) DO UPDATE
		 SET score = EXCLUDED.score, feedback = EXCLUDED.feedback, graded_at = NOW(), updated_at = NOW()`,
		sessionID, item.AssignedQuestionID, item.QuestionID, score, feedback)
	return err
}

// ListSubmittedIDs returns completed sessions that have not been graded yet.
func (r *ExamSessionRepository) ListSubmittedIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exam_sessions
		 WHERE completed AND status = $1
		 ORDER BY end_time ASC
		 LIMIT $2`, model.SessionStatusSubmitted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
