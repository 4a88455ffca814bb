package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// CachedCatalog serves test definitions and question pools from Redis,
// falling back to the underlying catalog on a miss. Tests are immutable once
// a session starts, so a TTL is the only invalidation.
type CachedCatalog struct {
	next Catalog
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

// NewCachedCatalog wraps next with a Redis cache.
func NewCachedCatalog(next Catalog, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedCatalog {
	return &CachedCatalog{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "catalog_cache").Logger(),
	}
}

func (c *CachedCatalog) GetTestDefinition(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	key := config.CacheKey.TestDefinitionKey(testID.String())
	var test model.Test
	if c.load(ctx, key, &test) {
		return &test, nil
	}

	t, err := c.next.GetTestDefinition(ctx, testID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, t)
	return t, nil
}

func (c *CachedCatalog) GetQuestionPool(ctx context.Context, testID uuid.UUID) ([]model.Question, error) {
	key := config.CacheKey.QuestionPoolKey(testID.String())
	var pool []model.Question
	if c.load(ctx, key, &pool) {
		return pool, nil
	}

	pool, err := c.next.GetQuestionPool(ctx, testID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, pool)
	return pool, nil
}

// Invalidate drops the cached entries of a test.
func (c *CachedCatalog) Invalidate(ctx context.Context, testID uuid.UUID) error {
	return c.rdb.Del(ctx,
		config.CacheKey.TestDefinitionKey(testID.String()),
		config.CacheKey.QuestionPoolKey(testID.String()),
	).Err()
}

func (c *CachedCatalog) load(ctx context.Context, key string, dst any) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("Catalog cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Discarding undecodable catalog cache entry")
		return false
	}
	return true
}

func (c *CachedCatalog) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Catalog cache write failed")
	}
}
