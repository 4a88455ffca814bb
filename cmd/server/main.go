package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/countdown"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/lock"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/notify"
	"github.com/stemsi/exstem-engine/internal/observability"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/router"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
	"github.com/stemsi/exstem-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("tick_spec", cfg.TickSpec).
		Msg("Starting ExStem Exam Engine")

	// ─── Initialize Validator + Metrics ────────────────────────────────
	validator.Setup()
	observability.RegisterMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Event Publishers ──────────────────────────────────────────────
	// Redis pub/sub feeds the WebSocket and SSE streams; NATS is optional.
	nc, err := database.NewNATSConn(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	if nc != nil {
		defer nc.Drain()
	}
	publisher := notify.NewEventFanout(log, rdb, nc)

	// ─── Initialize Repositories ───────────────────────────────────────
	sessionRepo := repository.NewExamSessionRepository(pool)
	catalogRepo := repository.NewCatalogRepository(pool)
	directoryRepo := repository.NewDirectoryRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	catalog := service.NewCachedCatalog(catalogRepo, rdb, cfg.CatalogCacheTTL, log)
	store := countdown.NewStore(rdb)
	timer := countdown.NewTimer(store, publisher, log)
	locker := lock.NewLocker(rdb, cfg.CompletionLockTTL)

	gradingService := service.NewGradingService(sessionRepo, catalog, locker, log)
	regradeWorker := worker.NewRegradeWorker(rdb, gradingService, sessionRepo, log)
	guard := service.NewCompletionGuard(sessionRepo, gradingService, timer, locker, publisher, regradeWorker, log)
	sessionService := service.NewSessionService(
		sessionRepo, catalog, directoryRepo, service.NewAssignmentBuilder(), timer, guard, log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Exam:    handler.NewExamHandler(sessionService, log),
		Grading: handler.NewGradingHandler(gradingService, sessionService, guard, catalog, log),
		WS:      handler.NewWSHandler(rdb, sessionService, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(rdb, sessionService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	countdownWorker := worker.NewCountdownWorker(cfg, store, publisher, guard, log)

	workers.Add(2)
	go func() {
		defer workers.Done()
		countdownWorker.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		regradeWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the scheduler and the regrade worker; an in-flight tick finishes first.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
