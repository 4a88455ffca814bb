package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/countdown"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/lock"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/notify"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/service"
)

var rootCmd = &cobra.Command{
	Use:          "examctl",
	Short:        "Operator tools for the exam session engine",
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(regradeCmd)
	rootCmd.AddCommand(timerCmd)
	rootCmd.AddCommand(timersCmd)
}

// engine is the subset of the server wiring the operator commands need.
type engine struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	nc       *nats.Conn
	store    *countdown.Store
	grading  *service.GradingService
	sessions *service.SessionService
}

// connect wires the engine against the configured Postgres and Redis.
// Events fan out to Redis pub/sub and, when configured, NATS, the same way
// the server publishes them.
func connect(ctx context.Context) (*engine, error) {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	sessionRepo := repository.NewExamSessionRepository(pool)
	catalog := service.NewCachedCatalog(repository.NewCatalogRepository(pool), rdb, cfg.CatalogCacheTTL, log)
	nc, err := database.NewNATSConn(cfg, log)
	if err != nil {
		_ = rdb.Close()
		pool.Close()
		return nil, err
	}
	publisher := notify.NewEventFanout(log, rdb, nc)

	store := countdown.NewStore(rdb)
	timer := countdown.NewTimer(store, publisher, log)
	locker := lock.NewLocker(rdb, cfg.CompletionLockTTL)

	grading := service.NewGradingService(sessionRepo, catalog, locker, log)
	guard := service.NewCompletionGuard(sessionRepo, grading, timer, locker, publisher, nil, log)
	sessions := service.NewSessionService(
		sessionRepo, catalog, repository.NewDirectoryRepository(pool), service.NewAssignmentBuilder(), timer, guard, log,
	)

	return &engine{
		pool:     pool,
		rdb:      rdb,
		nc:       nc,
		store:    store,
		grading:  grading,
		sessions: sessions,
	}, nil
}

func (e *engine) Close() {
	if e.nc != nil {
		_ = e.nc.Drain()
	}
	_ = e.rdb.Close()
	e.pool.Close()
}
