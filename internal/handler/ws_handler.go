package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/countdown"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/notify"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a session's countdown and completion topics to the
// student and accepts save/submit actions on the same connection.
type WSHandler struct {
	rdb      *redis.Client
	sessions StudentSessions
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, sessions StudentSessions, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:      rdb,
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/tests/:test_id/stream
// Upgrades to WebSocket and forwards countdown ticks and completion markers.
func (h *WSHandler) SessionStream(c *gin.Context) {
	studentID, ok := middleware.GetStudentID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrIdentityRequired)
		return
	}
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Resolve the session before upgrading so failures are plain HTTP errors.
	left, err := h.sessions.GetTimeLeft(c.Request.Context(), studentID, testID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sessionID := left.SessionID.String()
	countdownTopic := config.CacheKey.CountdownTopic(sessionID)
	completionTopic := config.CacheKey.CompletionTopic(sessionID)

	pubsub := h.rdb.Subscribe(ctx, countdownTopic, completionTopic)
	defer pubsub.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("session_id", sessionID).
		Logger()
	wsLog.Info().Msg("Student connected")

	out := ws.NewWriter(conn)
	out.Write(snapshotEvent(left))

	go forwardTopics(ctx, pubsub.Channel(), out, countdownTopic)

	for {
		data, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			out.Error(string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
			continue
		}

		switch env.Action {
		case ws.ActionSave:
			h.handleSave(ctx, out, studentID, testID, data)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, out, wsLog, studentID, testID)
		case ws.ActionPing:
			out.Write(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			out.Error(string(response.ErrInvalidPayload), "unknown action: "+string(env.Action))
		}
	}
}

// handleSave persists a batch of answers through the session service.
func (h *WSHandler) handleSave(ctx context.Context, out *ws.Writer, studentID int, testID uuid.UUID, data []byte) {
	var msg ws.SaveRequest
	if err := json.Unmarshal(data, &msg); err != nil || len(msg.Answers) == 0 {
		out.Error(string(response.ErrInvalidPayload), "answers are required")
		return
	}

	req := &model.SaveAnswersRequest{
		Answers:              make([]model.AnswerInput, 0, len(msg.Answers)),
		CurrentQuestionIndex: msg.CurrentQuestionIndex,
	}
	for _, a := range msg.Answers {
		// SECURITY: only well-formed ids reach the ownership check.
		id, err := uuid.Parse(a.AssignedQuestionID)
		if err != nil {
			out.Error(string(response.ErrInvalidID), "invalid assigned_question_id")
			return
		}
		req.Answers = append(req.Answers, model.AnswerInput{AssignedQuestionID: id, Value: a.Value})
	}

	saved, err := h.sessions.SaveAnswers(ctx, studentID, testID, req)
	if err != nil {
		writeServiceError(out, h.log, err)
		return
	}
	out.Write(ws.SavedResponse{Event: ws.EventSaved, Saved: saved})
}

// handleSubmit completes the session on the student's request.
func (h *WSHandler) handleSubmit(ctx context.Context, out *ws.Writer, wsLog zerolog.Logger, studentID int, testID uuid.UUID) {
	result, err := h.sessions.Complete(ctx, studentID, testID)
	if err != nil {
		writeServiceError(out, h.log, err)
		return
	}

	wsLog.Info().
		Bool("performed", result.Performed).
		Str("status", string(result.Status)).
		Msg("Session submitted over WebSocket")

	out.Write(ws.SubmittedResponse{
		Event:  ws.EventSubmitted,
		Status: string(result.Status),
		Graded: result.Graded,
	})
}

// forwardTopics relays pub/sub messages until ctx ends or the channel closes.
func forwardTopics(ctx context.Context, ch <-chan *redis.Message, out *ws.Writer, countdownTopic string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var err error
			if msg.Channel == countdownTopic {
				err = out.Write(ws.CountdownEvent{Event: ws.EventCountdown, Value: msg.Payload})
			} else {
				err = out.Write(ws.CompletionEvent{Event: ws.EventCompletion, Marker: msg.Payload})
			}
			if err != nil {
				return
			}
		}
	}
}

func snapshotEvent(left *service.TimeLeft) interface{} {
	if left.Completed {
		return ws.CompletionEvent{Event: ws.EventCompletion, Marker: notify.MarkerCompleted}
	}
	if left.State == countdown.StatePaused {
		return ws.CountdownEvent{Event: ws.EventCountdown, Value: notify.MarkerPaused}
	}
	return ws.CountdownEvent{Event: ws.EventCountdown, Value: strconv.FormatInt(left.Seconds, 10)}
}

func writeServiceError(out *ws.Writer, log zerolog.Logger, err error) {
	code := service.CodeOf(err)
	if code == "" || service.KindOf(err) == service.KindInternal {
		log.Error().Err(err).Msg("WebSocket action failed")
		code = string(response.ErrInternal)
	}
	out.Error(code, response.GetMessage(response.ErrCode(code)))
}
