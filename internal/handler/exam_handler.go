package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

const defaultPageSize = 20

// StudentSessions is the student-facing slice of the session service.
type StudentSessions interface {
	Start(ctx context.Context, studentID int, testID uuid.UUID) (*model.StartSessionResult, error)
	GetQuestions(ctx context.Context, studentID int, testID uuid.UUID, page, size int) (*service.QuestionPage, error)
	GetQuestionIDs(ctx context.Context, studentID int, testID uuid.UUID) ([]uuid.UUID, error)
	SaveAnswers(ctx context.Context, studentID int, testID uuid.UUID, req *model.SaveAnswersRequest) (int, error)
	Complete(ctx context.Context, studentID int, testID uuid.UUID) (*service.CompletionResult, error)
	GetTimeLeft(ctx context.Context, studentID int, testID uuid.UUID) (*service.TimeLeft, error)
	Result(ctx context.Context, studentID int, testID uuid.UUID) (*model.SessionResult, error)
}

// ExamHandler handles the student exam endpoints.
type ExamHandler struct {
	sessions StudentSessions
	log      zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(sessions StudentSessions, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		sessions: sessions,
		log:      log.With().Str("component", "exam_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/student/tests/:test_id/session
// Starts a new attempt or resumes the student's existing one.
func (h *ExamHandler) StartSession(c *gin.Context) {
	studentID, testID, ok := h.studentAndTest(c)
	if !ok {
		return
	}

	result, err := h.sessions.Start(c.Request.Context(), studentID, testID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if result.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{"session": result})
}

// GetQuestions godoc
// GET /api/v1/student/tests/:test_id/questions?page=0&size=20
// Returns one zero-based page of the session's questions in assigned order.
func (h *ExamHandler) GetQuestions(c *gin.Context) {
	studentID, testID, ok := h.studentAndTest(c)
	if !ok {
		return
	}

	var q model.QuestionPageQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPage, fields)
		return
	}
	if q.Size == 0 {
		q.Size = defaultPageSize
	}

	result, err := h.sessions.GetQuestions(c.Request.Context(), studentID, testID, q.Page, q.Size)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	totalPages := 0
	if result.Size > 0 {
		totalPages = (result.Total + result.Size - 1) / result.Size
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"questions": result.Items}, &response.Pagination{
		Page:       result.Page,
		PerPage:    result.Size,
		TotalItems: result.Total,
		TotalPages: totalPages,
	})
}

// GetQuestionIDs godoc
// GET /api/v1/student/tests/:test_id/question-ids
// Returns every assigned question id in assigned order.
func (h *ExamHandler) GetQuestionIDs(c *gin.Context) {
	studentID, testID, ok := h.studentAndTest(c)
	if !ok {
		return
	}

	ids, err := h.sessions.GetQuestionIDs(c.Request.Context(), studentID, testID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question_ids": ids})
}

// SaveAnswers godoc
// PUT /api/v1/student/tests/:test_id/answers
// Upserts a batch of answers for the student's open session.
func (h *ExamHandler) SaveAnswers(c *gin.Context) {
	studentID, testID, ok := h.studentAndTest(c)
	if !ok {
		return
	}

	var req model.SaveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	saved, err := h.sessions.SaveAnswers(c.Request.Context(), studentID, testID, &req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"saved": saved})
}

// CompleteSession godoc
// POST /api/v1/student/tests/:test_id/complete
// Submits the session. Repeated calls are no-ops.
func (h *ExamHandler) CompleteSession(c *gin.Context) {
	studentID, testID, ok := h.studentAndTest(c)
	if !ok {
		return
	}

	result, err := h.sessions.Complete(c.Request.Context(), studentID, testID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"completion": result})
}

// GetTimeLeft godoc
// GET /api/v1/student/tests/:test_id/time-left
func (h *ExamHandler) GetTimeLeft(c *gin.Context) {
	studentID, testID, ok := h.studentAndTest(c)
	if !ok {
		return
	}

	left, err := h.sessions.GetTimeLeft(c.Request.Context(), studentID, testID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"time_left": left})
}

// GetResult godoc
// GET /api/v1/student/tests/:test_id/result
// Returns the grading outcome of a submitted session; pending while essays await scores.
func (h *ExamHandler) GetResult(c *gin.Context) {
	studentID, testID, ok := h.studentAndTest(c)
	if !ok {
		return
	}

	result, err := h.sessions.Result(c.Request.Context(), studentID, testID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// studentAndTest resolves the caller and the :test_id path param, writing the
// failure response itself when either is missing.
func (h *ExamHandler) studentAndTest(c *gin.Context) (int, uuid.UUID, bool) {
	studentID, ok := middleware.GetStudentID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrIdentityRequired)
		return 0, uuid.Nil, false
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, uuid.Nil, false
	}
	return studentID, testID, true
}
