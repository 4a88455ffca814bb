package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Countdown topic terminal markers.
const (
	MarkerStopped = "stopped"
	MarkerPaused  = "paused"
	MarkerExpired = "0"
)

// Completion topic markers.
const (
	MarkerCompleted        = "completed"
	MarkerTimerStopped     = "timer_stopped"
	MarkerAutoSubmitFailed = "auto_submit_failed"
)

// Publisher delivers a payload to every listener of a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

// RedisPublisher publishes on Redis pub/sub channels named after the topic.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher creates a RedisPublisher.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic, payload string) error {
	return p.rdb.Publish(ctx, topic, payload).Err()
}

// NATSPublisher publishes on NATS subjects derived from the topic
// (":" separators become ".").
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher creates a NATSPublisher.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Subject maps a topic to its NATS subject.
func Subject(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}

func (p *NATSPublisher) Publish(_ context.Context, topic, payload string) error {
	return p.nc.Publish(Subject(topic), []byte(payload))
}

// Fanout publishes to several publishers. Every publisher is attempted; the
// joined error reports the ones that failed.
type Fanout struct {
	publishers []Publisher
	log        zerolog.Logger
}

// NewFanout creates a Fanout over the non-nil publishers.
func NewFanout(log zerolog.Logger, publishers ...Publisher) *Fanout {
	f := &Fanout{log: log.With().Str("component", "notify_fanout").Logger()}
	for _, p := range publishers {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	return f
}

// NewEventFanout builds the engine's event publisher: Redis pub/sub always,
// NATS when a connection is given.
func NewEventFanout(log zerolog.Logger, rdb *redis.Client, nc *nats.Conn) *Fanout {
	publishers := []Publisher{NewRedisPublisher(rdb)}
	if nc != nil {
		publishers = append(publishers, NewNATSPublisher(nc))
	}
	return NewFanout(log, publishers...)
}

func (f *Fanout) Publish(ctx context.Context, topic, payload string) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, topic, payload); err != nil {
			f.log.Warn().Err(err).Str("topic", topic).Msg("Publish failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(context.Context, string, string) error { return nil }
