package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stretchr/testify/require"
)

type fakeGrader struct {
	mu     sync.Mutex
	graded []uuid.UUID
	err    error
}

func (g *fakeGrader) GradeSession(_ context.Context, id uuid.UUID) (*model.GradeOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.graded = append(g.graded, id)
	return &model.GradeOutcome{SessionID: id, Status: model.SessionStatusFullyGraded, Graded: true}, nil
}

func (g *fakeGrader) gradedIDs() []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]uuid.UUID(nil), g.graded...)
}

type fakeLister struct {
	ids []uuid.UUID
}

func (l *fakeLister) ListSubmittedIDs(context.Context, int) ([]uuid.UUID, error) {
	return l.ids, nil
}

func newRegradeRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, server
}

func TestRegradeWorkerSweepsAndGrades(t *testing.T) {
	rdb, _ := newRegradeRedis(t)
	pending := uuid.New()
	queued := uuid.New()
	grader := &fakeGrader{}
	w := NewRegradeWorker(rdb, grader, &fakeLister{ids: []uuid.UUID{pending}}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Enqueue(ctx, queued))

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(grader.gradedIDs()) == 2
	}, 5*time.Second, 20*time.Millisecond)
	require.ElementsMatch(t, []uuid.UUID{pending, queued}, grader.gradedIDs())

	cancel()
	<-done
}

func TestRegradeWorkerDropsUngradableSessions(t *testing.T) {
	rdb, server := newRegradeRedis(t)
	grader := &fakeGrader{err: service.ErrSessionNotFound}
	w := NewRegradeWorker(rdb, grader, nil, zerolog.Nop())

	w.process(context.Background(), uuid.New().String())
	w.process(context.Background(), "garbage")

	require.False(t, server.Exists(config.WorkerKey.RegradeSessionsQueue))
}

func TestRegradeWorkerRequeuesOnShutdown(t *testing.T) {
	rdb, server := newRegradeRedis(t)
	grader := &fakeGrader{err: errors.New("db down")}
	w := NewRegradeWorker(rdb, grader, nil, zerolog.Nop())
	id := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.process(ctx, id.String())

	items, err := server.List(config.WorkerKey.RegradeSessionsQueue)
	require.NoError(t, err)
	require.Equal(t, []string{id.String()}, items)
}
