package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
)

const keepAliveInterval = 30 * time.Second

// sseEvent is the JSON body of every monitor event.
type sseEvent struct {
	Type   string `json:"type"`
	Topic  string `json:"topic,omitempty"`
	Value  string `json:"value,omitempty"`
	Status any    `json:"status,omitempty"`
}

type MonitorHandler struct {
	rdb      *redis.Client
	sessions ExaminerSessions
	log      zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, sessions ExaminerSessions, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:      rdb,
		sessions: sessions,
		log:      log.With().Str("component", "monitor_handler").Logger(),
	}
}

// SessionEvents godoc
// GET /api/v1/examiner/sessions/:session_id/events
// Server-sent events carrying a session's countdown and completion topics.
func (h *MonitorHandler) SessionEvents(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	// 1. Existence check and initial snapshot
	left, err := h.sessions.TimeLeftByID(reqCtx, sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	// 2. SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	writeSSE(c, sseEvent{Type: "snapshot", Status: left})

	// 3. Subscribe to Redis Pub/Sub
	id := sessionID.String()
	countdownTopic := config.CacheKey.CountdownTopic(id)
	completionTopic := config.CacheKey.CompletionTopic(id)
	pubsub := h.rdb.Subscribe(reqCtx, countdownTopic, completionTopic)
	defer pubsub.Close()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("session_id", id).Msg("Examiner attached to session SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("session_id", id).Msg("Examiner detached from session SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			kind := "completion"
			if msg.Channel == countdownTopic {
				kind = "countdown"
			}
			writeSSE(c, sseEvent{Type: kind, Topic: msg.Channel, Value: msg.Payload})

		case <-keepAliveTicker.C:
			writeSSE(c, sseEvent{Type: "ping"})
		}
	}
}

func writeSSE(c *gin.Context, ev sseEvent) {
	payload, _ := json.Marshal(ev)
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
