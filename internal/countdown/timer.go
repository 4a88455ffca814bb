package countdown

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/notify"
)

// Timer exposes the per-session countdown operations and publishes the
// corresponding events. Ticking itself is done by the scheduler worker.
type Timer struct {
	store     *Store
	publisher notify.Publisher
	log       zerolog.Logger
}

// NewTimer creates a Timer.
func NewTimer(store *Store, publisher notify.Publisher, log zerolog.Logger) *Timer {
	return &Timer{
		store:     store,
		publisher: publisher,
		log:       log.With().Str("component", "countdown_timer").Logger(),
	}
}

// Start seeds the countdown and emits an immediate snapshot.
func (t *Timer) Start(ctx context.Context, sessionID uuid.UUID, seconds int64) error {
	id := sessionID.String()
	if err := t.store.Seed(ctx, id, seconds); err != nil {
		return err
	}
	t.publish(ctx, config.CacheKey.CountdownTopic(id), strconv.FormatInt(seconds, 10))

	t.log.Debug().Str("session_id", id).Int64("seconds", seconds).Msg("Countdown started")
	return nil
}

// Stop deletes the countdown and emits the "stopped" terminal events.
func (t *Timer) Stop(ctx context.Context, sessionID uuid.UUID) error {
	id := sessionID.String()
	if err := t.store.Delete(ctx, id); err != nil {
		return err
	}
	t.publish(ctx, config.CacheKey.CountdownTopic(id), notify.MarkerStopped)
	t.publish(ctx, config.CacheKey.CompletionTopic(id), notify.MarkerTimerStopped)
	return nil
}

// Pause freezes the countdown. ok is false when no active countdown exists.
func (t *Timer) Pause(ctx context.Context, sessionID uuid.UUID) (int64, bool, error) {
	id := sessionID.String()
	remaining, ok, err := t.store.Pause(ctx, id)
	if err != nil || !ok {
		return remaining, ok, err
	}
	t.publish(ctx, config.CacheKey.CountdownTopic(id), notify.MarkerPaused)
	return remaining, true, nil
}

// Resume unfreezes a paused countdown and emits the current value.
func (t *Timer) Resume(ctx context.Context, sessionID uuid.UUID) (int64, bool, error) {
	id := sessionID.String()
	remaining, ok, err := t.store.Resume(ctx, id)
	if err != nil || !ok {
		return remaining, ok, err
	}
	t.publish(ctx, config.CacheKey.CountdownTopic(id), strconv.FormatInt(remaining, 10))
	return remaining, true, nil
}

// Remaining returns the stored seconds (active or paused) for a session.
func (t *Timer) Remaining(ctx context.Context, sessionID uuid.UUID) (int64, State, error) {
	return t.store.Remaining(ctx, sessionID.String())
}

func (t *Timer) publish(ctx context.Context, topic, payload string) {
	if err := t.publisher.Publish(ctx, topic, payload); err != nil {
		t.log.Warn().Err(err).Str("topic", topic).Msg("Countdown publish failed")
	}
}
