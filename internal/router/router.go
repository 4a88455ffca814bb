package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/observability"
	"github.com/stemsi/exstem-engine/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam    *handler.ExamHandler
	Grading *handler.GradingHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID",
		middleware.HeaderStudentID, middleware.HeaderExaminerID}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Metrics())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", observability.MetricsHandler())

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMin, time.Minute)

	// ─── 1. Student Group (Gateway Identity + Rate Limit) ──────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudent(), limiter.Middleware())
	{
		studentAPI.POST("/tests/:test_id/session", handlers.Exam.StartSession)
		studentAPI.GET("/tests/:test_id/questions", handlers.Exam.GetQuestions)
		studentAPI.GET("/tests/:test_id/question-ids", handlers.Exam.GetQuestionIDs)
		studentAPI.PUT("/tests/:test_id/answers", handlers.Exam.SaveAnswers)
		studentAPI.POST("/tests/:test_id/complete", handlers.Exam.CompleteSession)
		studentAPI.GET("/tests/:test_id/time-left", handlers.Exam.GetTimeLeft)
		studentAPI.GET("/tests/:test_id/result", handlers.Exam.GetResult)
	}

	// ─── 2. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudent())
	{
		ws.GET("/student/tests/:test_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Examiner Group ─────────────────────────────────────────────
	examinerAPI := router.Group("/api/v1/examiner")
	examinerAPI.Use(middleware.RequireExaminer())
	{
		examinerAPI.PUT("/sessions/:session_id/questions/:question_id/score", handlers.Grading.GradeEssay)
		examinerAPI.POST("/sessions/:session_id/regrade", handlers.Grading.Regrade)
		examinerAPI.POST("/sessions/:session_id/complete", handlers.Grading.ForceComplete)
		examinerAPI.POST("/sessions/:session_id/timer/pause", handlers.Grading.PauseTimer)
		examinerAPI.POST("/sessions/:session_id/timer/resume", handlers.Grading.ResumeTimer)
		examinerAPI.POST("/sessions/:session_id/timer/stop", handlers.Grading.StopTimer)
		examinerAPI.GET("/sessions/:session_id/time-left", handlers.Grading.GetTimeLeft)
		examinerAPI.GET("/sessions/:session_id/result", handlers.Grading.GetResult)
		examinerAPI.GET("/sessions/:session_id/events", handlers.Monitor.SessionEvents)
		examinerAPI.DELETE("/tests/:test_id/cache", handlers.Grading.InvalidateCatalog)
	}

	return router
}
