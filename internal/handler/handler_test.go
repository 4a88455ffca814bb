package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/countdown"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type stubSessions struct {
	startErr   error
	resumed    bool
	saveErr    error
	savedReq   *model.SaveAnswersRequest
	page, size int
	pageErr    error
}

func (s *stubSessions) Start(_ context.Context, _ int, _ uuid.UUID) (*model.StartSessionResult, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	return &model.StartSessionResult{SessionID: uuid.New(), TotalQuestions: 3, Resumed: s.resumed}, nil
}

func (s *stubSessions) GetQuestions(_ context.Context, _ int, _ uuid.UUID, page, size int) (*service.QuestionPage, error) {
	s.page, s.size = page, size
	if s.pageErr != nil {
		return nil, s.pageErr
	}
	return &service.QuestionPage{Items: []model.QuestionView{}, Page: page, Size: size, Total: 45}, nil
}

func (s *stubSessions) GetQuestionIDs(context.Context, int, uuid.UUID) ([]uuid.UUID, error) {
	return []uuid.UUID{uuid.New()}, nil
}

func (s *stubSessions) SaveAnswers(_ context.Context, _ int, _ uuid.UUID, req *model.SaveAnswersRequest) (int, error) {
	s.savedReq = req
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	return len(req.Answers), nil
}

func (s *stubSessions) Complete(context.Context, int, uuid.UUID) (*service.CompletionResult, error) {
	return &service.CompletionResult{Performed: true, Status: model.SessionStatusFullyGraded, Graded: true}, nil
}

func (s *stubSessions) GetTimeLeft(_ context.Context, _ int, _ uuid.UUID) (*service.TimeLeft, error) {
	return &service.TimeLeft{SessionID: uuid.New(), Seconds: 90, State: countdown.StateActive}, nil
}

func (s *stubSessions) Result(context.Context, int, uuid.UUID) (*model.SessionResult, error) {
	return nil, service.ErrSessionNotCompleted
}

type stubGrader struct {
	err error
}

func (g *stubGrader) GradeSession(_ context.Context, id uuid.UUID) (*model.GradeOutcome, error) {
	return &model.GradeOutcome{SessionID: id, Status: model.SessionStatusPartiallyGraded}, nil
}

func (g *stubGrader) GradeEssay(_ context.Context, id, _ uuid.UUID, score float64, _ string) (*model.GradeOutcome, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &model.GradeOutcome{SessionID: id, Score: score, Status: model.SessionStatusFullyGraded, Graded: true}, nil
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func newStudentRouter(sessions StudentSessions) *gin.Engine {
	h := NewExamHandler(sessions, zerolog.Nop())
	r := gin.New()
	r.Use(middleware.RequireStudent())
	r.POST("/tests/:test_id/session", h.StartSession)
	r.GET("/tests/:test_id/questions", h.GetQuestions)
	r.PUT("/tests/:test_id/answers", h.SaveAnswers)
	r.POST("/tests/:test_id/complete", h.CompleteSession)
	r.GET("/tests/:test_id/result", h.GetResult)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

var student = map[string]string{middleware.HeaderStudentID: "7"}

func TestStartSessionStatusCodes(t *testing.T) {
	testPath := "/tests/" + uuid.NewString() + "/session"

	w, _ := do(t, newStudentRouter(&stubSessions{}), http.MethodPost, testPath, nil, student)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = do(t, newStudentRouter(&stubSessions{resumed: true}), http.MethodPost, testPath, nil, student)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := do(t, newStudentRouter(&stubSessions{startErr: service.ErrNotEnrolled}), http.MethodPost, testPath, nil, student)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, response.ErrNotEnrolled, env.Error.Code)

	w, env = do(t, newStudentRouter(&stubSessions{}), http.MethodPost, "/tests/nope/session", nil, student)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, response.ErrInvalidID, env.Error.Code)
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrInvalidPage, http.StatusBadRequest, response.ErrInvalidPage},
		{service.ErrUnauthorizedAnswer, http.StatusForbidden, response.ErrUnauthorizedAnswer},
		{service.ErrAlreadyCompleted, http.StatusConflict, response.ErrAlreadyCompleted},
		{service.ErrSessionNotFound, http.StatusNotFound, response.ErrSessionNotFound},
		{context.DeadlineExceeded, http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			sessions := &stubSessions{saveErr: tc.err}
			body := model.SaveAnswersRequest{Answers: []model.AnswerInput{{AssignedQuestionID: uuid.New(), Value: "A"}}}
			w, env := do(t, newStudentRouter(sessions), http.MethodPut, "/tests/"+uuid.NewString()+"/answers", body, student)
			require.Equal(t, tc.status, w.Code)
			require.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestSaveAnswersValidation(t *testing.T) {
	sessions := &stubSessions{}
	r := newStudentRouter(sessions)

	w, env := do(t, r, http.MethodPut, "/tests/"+uuid.NewString()+"/answers", map[string]any{"answers": []any{}}, student)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, response.ErrValidation, env.Error.Code)
	require.Contains(t, env.Error.Fields, "answers")
	require.Nil(t, sessions.savedReq)

	idx := 2
	body := model.SaveAnswersRequest{
		Answers:              []model.AnswerInput{{AssignedQuestionID: uuid.New(), Value: "B"}},
		CurrentQuestionIndex: &idx,
	}
	w, env = do(t, r, http.MethodPut, "/tests/"+uuid.NewString()+"/answers", body, student)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"saved":1}`, string(env.Data))
	require.Equal(t, 2, *sessions.savedReq.CurrentQuestionIndex)
}

func TestGetQuestionsPagination(t *testing.T) {
	sessions := &stubSessions{}
	r := newStudentRouter(sessions)

	req := httptest.NewRequest(http.MethodGet, "/tests/"+uuid.NewString()+"/questions?page=2&size=10", nil)
	req.Header.Set(middleware.HeaderStudentID, "7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, sessions.page)
	require.Equal(t, 10, sessions.size)

	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 5, body.Pagination.TotalPages)

	for _, query := range []string{"page=x", "page=-1", "size=101", "size=-3"} {
		w, env := do(t, r, http.MethodGet, "/tests/"+uuid.NewString()+"/questions?"+query, nil, student)
		require.Equal(t, http.StatusBadRequest, w.Code, query)
		require.Equal(t, response.ErrInvalidPage, env.Error.Code, query)
	}

	// Size defaults when omitted.
	w, _ = do(t, r, http.MethodGet, "/tests/"+uuid.NewString()+"/questions", nil, student)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, sessions.page)
	require.Equal(t, defaultPageSize, sessions.size)
}

func TestResultBeforeCompletionConflicts(t *testing.T) {
	w, env := do(t, newStudentRouter(&stubSessions{}), http.MethodGet, "/tests/"+uuid.NewString()+"/result", nil, student)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, response.ErrSessionNotCompleted, env.Error.Code)
}

func TestGradeEssayHandler(t *testing.T) {
	grader := &stubGrader{}
	h := NewGradingHandler(grader, nil, nil, nil, zerolog.Nop())
	r := gin.New()
	r.Use(middleware.RequireExaminer())
	r.PUT("/sessions/:session_id/questions/:question_id/score", h.GradeEssay)

	examiner := map[string]string{middleware.HeaderExaminerID: "examiner-7"}
	path := "/sessions/" + uuid.NewString() + "/questions/" + uuid.NewString() + "/score"

	w, env := do(t, r, http.MethodPut, path, map[string]any{"feedback": "ok"}, examiner)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, response.ErrValidation, env.Error.Code)

	w, env = do(t, r, http.MethodPut, path, map[string]any{"score": 4.5}, examiner)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Result model.SessionResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, model.SessionStatusFullyGraded, data.Result.Status)
	require.False(t, data.Result.Pending)
	require.Equal(t, 4.5, data.Result.Score)

	grader.err = service.ErrScoreOutOfRange
	w, env = do(t, r, http.MethodPut, path, map[string]any{"score": 99}, examiner)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, response.ErrScoreOutOfRange, env.Error.Code)

	w, _ = do(t, r, http.MethodPut, path, map[string]any{"score": 1}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEveryServiceCodeHasMessage(t *testing.T) {
	fallback := response.GetMessage("")
	for _, err := range []error{
		service.ErrInvalidPage, service.ErrNotEnrolled, service.ErrInstructionsNotAcknowledged,
		service.ErrUnauthorizedAnswer, service.ErrAlreadyCompleted, service.ErrNotEssayQuestion,
		service.ErrScoreOutOfRange, service.ErrSessionNotCompleted, service.ErrSessionNotActive,
		service.ErrSessionNotFound, service.ErrQuestionNotFound, service.ErrTestNotFound,
	} {
		code := response.ErrCode(service.CodeOf(err))
		require.NotEqual(t, fallback, response.GetMessage(code), "no message for %s", code)
	}
}
