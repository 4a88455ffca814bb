package countdown

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/config"
)

// ErrCorrupt is returned when a stored countdown value is not an integer.
var ErrCorrupt = errors.New("countdown value is not an integer")

// decrementScript decrements an existing countdown. A missing key yields nil
// instead of being recreated at -1 by DECR, so a key deleted or paused between
// SCAN and DECR is never resurrected.
var decrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
local v = tonumber(redis.call('GET', KEYS[1]))
if v == nil or v ~= math.floor(v) then
	return redis.error_reply('CORRUPT countdown value')
end
return redis.call('DECR', KEYS[1])
`)

// moveScript atomically renames KEYS[1] to KEYS[2] when KEYS[1] exists and
// returns the moved value.
var moveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
redis.call('RENAME', KEYS[1], KEYS[2])
return redis.call('GET', KEYS[2])
`)

// State describes where a session's countdown currently lives.
type State string

const (
	StateNone   State = "none"
	StateActive State = "active"
	StatePaused State = "paused"
)

// Store is the shared countdown store: remaining seconds per session in Redis.
// Every mutation uses a single Redis command or script, never a client-side
// read-modify-write.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a Store.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Seed sets the remaining seconds of a session and clears any paused copy.
func (s *Store) Seed(ctx context.Context, sessionID string, seconds int64) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.CountdownKey(sessionID), seconds, 0)
	pipe.Del(ctx, config.CacheKey.PausedCountdownKey(sessionID))
	_, err := pipe.Exec(ctx)
	return err
}

// Decrement atomically decrements an active countdown. found is false when
// the key no longer exists. ErrCorrupt is returned for non-numeric values.
func (s *Store) Decrement(ctx context.Context, sessionID string) (remaining int64, found bool, err error) {
	v, err := decrementScript.Run(ctx, s.rdb, []string{config.CacheKey.CountdownKey(sessionID)}).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		if isCorrupt(err) {
			return 0, true, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return 0, false, err
	}
	return v, true, nil
}

func isCorrupt(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "CORRUPT") || strings.Contains(msg, "not an integer")
}

// Remaining returns the stored seconds and where they are stored.
func (s *Store) Remaining(ctx context.Context, sessionID string) (int64, State, error) {
	pipe := s.rdb.Pipeline()
	active := pipe.Get(ctx, config.CacheKey.CountdownKey(sessionID))
	paused := pipe.Get(ctx, config.CacheKey.PausedCountdownKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, StateNone, err
	}

	if v, err := active.Result(); err == nil {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return 0, StateActive, fmt.Errorf("%w: %q", ErrCorrupt, v)
		}
		return n, StateActive, nil
	}
	if v, err := paused.Result(); err == nil {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return 0, StatePaused, fmt.Errorf("%w: %q", ErrCorrupt, v)
		}
		return n, StatePaused, nil
	}
	return 0, StateNone, nil
}

// Delete removes both the active and the paused countdown of a session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx,
		config.CacheKey.CountdownKey(sessionID),
		config.CacheKey.PausedCountdownKey(sessionID),
	).Err()
}

// Pause moves an active countdown to its side key so ticks no longer see it.
// ok is false when there was no active countdown.
func (s *Store) Pause(ctx context.Context, sessionID string) (remaining int64, ok bool, err error) {
	return s.move(ctx, config.CacheKey.CountdownKey(sessionID), config.CacheKey.PausedCountdownKey(sessionID))
}

// Resume moves a paused countdown back into the active namespace.
func (s *Store) Resume(ctx context.Context, sessionID string) (remaining int64, ok bool, err error) {
	return s.move(ctx, config.CacheKey.PausedCountdownKey(sessionID), config.CacheKey.CountdownKey(sessionID))
}

func (s *Store) move(ctx context.Context, from, to string) (int64, bool, error) {
	v, err := moveScript.Run(ctx, s.rdb, []string{from, to}).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%w: %q", ErrCorrupt, v)
	}
	return n, true, nil
}

// ActiveSessionIDs enumerates the session ids of every active countdown.
// SCAN may yield a key more than once; the result is deduplicated so a tick
// never decrements the same session twice.
func (s *Store) ActiveSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})
	iter := s.rdb.Scan(ctx, 0, config.CacheKey.CountdownPattern(), 500).Iterator()
	for iter.Next(ctx) {
		id, ok := config.CacheKey.SessionIDFromCountdownKey(iter.Val())
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
