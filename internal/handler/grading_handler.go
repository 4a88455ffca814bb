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

// Grader scores sessions and essays.
type Grader interface {
	GradeSession(ctx context.Context, sessionID uuid.UUID) (*model.GradeOutcome, error)
	GradeEssay(ctx context.Context, sessionID, questionID uuid.UUID, score float64, feedback string) (*model.GradeOutcome, error)
}

// ExaminerSessions is the examiner-facing slice of the session service.
type ExaminerSessions interface {
	Pause(ctx context.Context, sessionID uuid.UUID) (*service.TimeLeft, error)
	Resume(ctx context.Context, sessionID uuid.UUID) (*service.TimeLeft, error)
	StopTimer(ctx context.Context, sessionID uuid.UUID) error
	TimeLeftByID(ctx context.Context, sessionID uuid.UUID) (*service.TimeLeft, error)
	ResultByID(ctx context.Context, sessionID uuid.UUID) (*model.SessionResult, error)
}

// Completer force-submits a session.
type Completer interface {
	Complete(ctx context.Context, sessionID uuid.UUID, trigger service.Trigger) (*service.CompletionResult, error)
}

// CatalogInvalidator drops cached catalog entries for a test.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context, testID uuid.UUID) error
}

// GradingHandler handles examiner grading and session control endpoints.
type GradingHandler struct {
	grader    Grader
	sessions  ExaminerSessions
	completer Completer
	catalog   CatalogInvalidator
	log       zerolog.Logger
}

// NewGradingHandler creates a new GradingHandler. catalog may be nil.
func NewGradingHandler(grader Grader, sessions ExaminerSessions, completer Completer, catalog CatalogInvalidator, log zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		grader:    grader,
		sessions:  sessions,
		completer: completer,
		catalog:   catalog,
		log:       log.With().Str("component", "grading_handler").Logger(),
	}
}

// GradeEssay godoc
// PUT /api/v1/examiner/sessions/:session_id/questions/:question_id/score
// Scores one essay answer and recomputes the session grade.
func (h *GradingHandler) GradeEssay(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GradeEssayRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	outcome, err := h.grader.GradeEssay(c.Request.Context(), sessionID, questionID, *req.Score, req.Feedback)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	h.log.Info().
		Str("examiner_id", middleware.GetExaminerID(c)).
		Str("session_id", sessionID.String()).
		Str("question_id", questionID.String()).
		Float64("score", *req.Score).
		Msg("Essay graded")

	response.Success(c, http.StatusOK, gin.H{"result": outcomeView(outcome)})
}

// Regrade godoc
// POST /api/v1/examiner/sessions/:session_id/regrade
func (h *GradingHandler) Regrade(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	outcome, err := h.grader.GradeSession(c.Request.Context(), sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": outcomeView(outcome)})
}

// ForceComplete godoc
// POST /api/v1/examiner/sessions/:session_id/complete
// Submits a session on the student's behalf.
func (h *GradingHandler) ForceComplete(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	result, err := h.completer.Complete(c.Request.Context(), sessionID, service.TriggerExaminer)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if result.Performed {
		h.log.Info().
			Str("examiner_id", middleware.GetExaminerID(c)).
			Str("session_id", sessionID.String()).
			Msg("Session force-completed")
	}
	response.Success(c, http.StatusOK, gin.H{"completion": result})
}

// PauseTimer godoc
// POST /api/v1/examiner/sessions/:session_id/timer/pause
func (h *GradingHandler) PauseTimer(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	left, err := h.sessions.Pause(c.Request.Context(), sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"time_left": left})
}

// ResumeTimer godoc
// POST /api/v1/examiner/sessions/:session_id/timer/resume
func (h *GradingHandler) ResumeTimer(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	left, err := h.sessions.Resume(c.Request.Context(), sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"time_left": left})
}

// StopTimer godoc
// POST /api/v1/examiner/sessions/:session_id/timer/stop
// Removes the countdown without submitting the session.
func (h *GradingHandler) StopTimer(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	if err := h.sessions.StopTimer(c.Request.Context(), sessionID); err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"stopped": true})
}

// GetTimeLeft godoc
// GET /api/v1/examiner/sessions/:session_id/time-left
func (h *GradingHandler) GetTimeLeft(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	left, err := h.sessions.TimeLeftByID(c.Request.Context(), sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"time_left": left})
}

// GetResult godoc
// GET /api/v1/examiner/sessions/:session_id/result
func (h *GradingHandler) GetResult(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	result, err := h.sessions.ResultByID(c.Request.Context(), sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// InvalidateCatalog godoc
// DELETE /api/v1/examiner/tests/:test_id/cache
// Drops the cached definition and question pool after a test is edited.
func (h *GradingHandler) InvalidateCatalog(c *gin.Context) {
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	if h.catalog == nil {
		response.Success(c, http.StatusOK, gin.H{"invalidated": false})
		return
	}

	if err := h.catalog.Invalidate(c.Request.Context(), testID); err != nil {
		h.log.Error().Err(err).Str("test_id", testID.String()).Msg("Catalog invalidation failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrStoreUnavailable)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"invalidated": true})
}

func sessionParam(c *gin.Context) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return sessionID, true
}

func outcomeView(o *model.GradeOutcome) *model.SessionResult {
	return &model.SessionResult{
		SessionID:  o.SessionID,
		Status:     o.Status,
		Pending:    !o.Graded,
		Score:      o.Score,
		Percentage: o.Percentage,
		Passed:     o.Passed,
	}
}
