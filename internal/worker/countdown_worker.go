package worker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/countdown"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/notify"
	"github.com/stemsi/exstem-engine/internal/observability"
	"github.com/stemsi/exstem-engine/internal/service"
	"golang.org/x/sync/errgroup"
)

// AutoSubmitter completes an expired session.
type AutoSubmitter interface {
	AutoSubmit(ctx context.Context, sessionID uuid.UUID) error
}

// CountdownWorker drives every active countdown: one tick per period
// decrements each key, publishes the remaining seconds, and auto-submits
// sessions that reach zero.
type CountdownWorker struct {
	store       *countdown.Store
	publisher   notify.Publisher
	submitter   AutoSubmitter
	spec        string
	keyTimeout  time.Duration
	concurrency int
	log         zerolog.Logger
}

// NewCountdownWorker creates a CountdownWorker from config.
func NewCountdownWorker(cfg *config.Config, store *countdown.Store, publisher notify.Publisher, submitter AutoSubmitter, log zerolog.Logger) *CountdownWorker {
	return &CountdownWorker{
		store:       store,
		publisher:   publisher,
		submitter:   submitter,
		spec:        cfg.TickSpec,
		keyTimeout:  cfg.TickKeyTimeout,
		concurrency: cfg.TickConcurrency,
		log:         log.With().Str("component", "countdown_worker").Logger(),
	}
}

// Start runs the tick schedule until ctx is cancelled. A tick still running
// when the next one is due causes that next one to be skipped, never overlapped.
func (w *CountdownWorker) Start(ctx context.Context) {
	cl := logger.NewCronLogger(w.log)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(w.spec, func() { w.Tick(ctx) }); err != nil {
		w.log.Error().Err(err).Str("spec", w.spec).Msg("Invalid tick schedule")
		return
	}

	w.log.Info().Str("spec", w.spec).Msg("CountdownWorker started")
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	w.log.Info().Msg("CountdownWorker stopped")
}

// Tick processes every active countdown once. Each key is handled
// independently with its own timeout; a failure on one key never affects the
// others.
func (w *CountdownWorker) Tick(ctx context.Context) {
	ids, err := w.store.ActiveSessionIDs(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("Countdown scan failed; retrying next tick")
		}
		return
	}
	observability.ActiveCountdowns().Set(float64(len(ids)))

	var g errgroup.Group
	if w.concurrency > 0 {
		g.SetLimit(w.concurrency)
	}
	for _, id := range ids {
		g.Go(func() error {
			keyCtx, cancel := context.WithTimeout(ctx, w.keyTimeout)
			defer cancel()
			outcome := w.tickSession(keyCtx, id)
			observability.CountdownTicks().WithLabelValues(outcome).Inc()
			return nil
		})
	}
	_ = g.Wait()
}

func (w *CountdownWorker) tickSession(ctx context.Context, id string) string {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		w.log.Error().Str("session_id", id).Msg("Dropping countdown with malformed session id")
		w.drop(ctx, id)
		return "malformed"
	}

	remaining, found, err := w.store.Decrement(ctx, id)
	switch {
	case errors.Is(err, countdown.ErrCorrupt):
		w.log.Error().Err(err).Str("session_id", id).Msg("Dropping corrupt countdown")
		w.drop(ctx, id)
		return "corrupt"
	case err != nil:
		w.log.Warn().Err(err).Str("session_id", id).Msg("Countdown decrement failed; retrying next tick")
		return "transient_error"
	case !found:
		// Deleted or paused between scan and decrement.
		return "gone"
	}

	countdownTopic := config.CacheKey.CountdownTopic(id)
	if remaining > 0 {
		w.publish(ctx, countdownTopic, strconv.FormatInt(remaining, 10))
		return "ticked"
	}

	if err := w.submitter.AutoSubmit(ctx, sessionID); err != nil {
		if service.KindOf(err) == service.KindNotFound {
			w.log.Error().Err(err).Str("session_id", id).Msg("Dropping countdown for missing session")
			w.drop(ctx, id)
			return "orphaned"
		}
		// The key stays in place so the next tick retries the submission.
		w.log.Error().Err(err).Str("session_id", id).Msg("Auto-submit failed")
		w.publish(ctx, config.CacheKey.CompletionTopic(id), notify.MarkerAutoSubmitFailed)
		return "auto_submit_failed"
	}

	w.drop(ctx, id)
	w.publish(ctx, countdownTopic, notify.MarkerExpired)
	w.publish(ctx, config.CacheKey.CompletionTopic(id), notify.MarkerCompleted)
	w.log.Info().Str("session_id", id).Msg("Session auto-submitted on expiry")
	return "expired"
}

func (w *CountdownWorker) drop(ctx context.Context, id string) {
	if err := w.store.Delete(ctx, id); err != nil {
		w.log.Warn().Err(err).Str("session_id", id).Msg("Failed to delete countdown")
	}
}

func (w *CountdownWorker) publish(ctx context.Context, topic, payload string) {
	if err := w.publisher.Publish(ctx, topic, payload); err != nil {
		w.log.Warn().Err(err).Str("topic", topic).Msg("Countdown publish failed")
	}
}
