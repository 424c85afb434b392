package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/illmade-knight/go-crudcache/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// RedisCachedSource puts a shared Redis copy of a collection's list in front
// of another Source. Lists are read from Redis first; any successful
// mutation through this source drops the shared copy.
type RedisCachedSource[R types.Record] struct {
	redisClient *redis.Client
	source      Source[R]
	logger      zerolog.Logger
	ttl         time.Duration
	key         string
	versionKey  string
	wg          sync.WaitGroup
}

// NewRedisCachedSource creates and connects a new RedisCachedSource.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisCachedSource[R types.Record](
	ctx context.Context,
	cfg *RedisConfig,
	source Source[R],
	logger zerolog.Logger,
) (*RedisCachedSource[R], error) {
	if source == nil {
		return nil, errors.New("redis cached source requires an underlying source")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Str("collection", source.Collection()).Msg("Successfully connected to Redis.")

	return &RedisCachedSource[R]{
		redisClient: rdb,
		source:      source,
		logger:      logger.With().Str("component", "RedisCachedSource").Str("collection", source.Collection()).Logger(),
		ttl:         cfg.CacheTTL,
		key:         cfg.KeyPrefix + source.Collection(),
		versionKey:  cfg.KeyPrefix + source.Collection() + ":version",
	}, nil
}

// Collection implements Source.
func (c *RedisCachedSource[R]) Collection() string { return c.source.Collection() }

// List returns the shared copy when present. On a miss it lists from the
// underlying source and writes the result back in the background. Redis
// failures other than a miss are logged and the source is used directly.
//
// The write-back is skipped if any mutation dropped the shared copy after the
// miss, so a list read before that mutation is never stored.
func (c *RedisCachedSource[R]) List(ctx context.Context) ([]R, error) {
	records, err := c.fetchFromRedis(ctx)
	if err == nil {
		return records, nil
	}

	writeBack := errors.Is(err, redis.Nil)
	if !writeBack {
		c.logger.Error().Err(err).Msg("Unexpected Redis error during list, using source directly.")
	}

	var observed int64
	if writeBack {
		observed, err = c.version(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to read shared list version, skipping write-back.")
			writeBack = false
		}
	}

	records, err = c.source.List(ctx)
	if err != nil {
		return nil, err
	}

	if writeBack {
		c.wg.Add(1)
		go func(toCache []R) {
			defer c.wg.Done()
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if writeErr := c.write(writeCtx, toCache, observed); writeErr != nil {
				c.logger.Error().Err(writeErr).Msg("Failed to write to cache in background.")
			}
		}(records)
	}
	return records, nil
}

// Get passes through to the underlying source.
func (c *RedisCachedSource[R]) Get(ctx context.Context, id int) (R, error) {
	return c.source.Get(ctx, id)
}

// ListWhere forwards a filtered list to the underlying source when it can
// filter. Filtered lists are never cached in Redis.
func (c *RedisCachedSource[R]) ListWhere(ctx context.Context, query url.Values) ([]R, error) {
	q, ok := c.source.(interface {
		ListWhere(ctx context.Context, query url.Values) ([]R, error)
	})
	if !ok {
		return nil, fmt.Errorf("source for %q does not support filtered lists", c.Collection())
	}
	return q.ListWhere(ctx, query)
}

// Create passes through and drops the shared list on success.
func (c *RedisCachedSource[R]) Create(ctx context.Context, record R) (R, error) {
	created, err := c.source.Create(ctx, record)
	if err != nil {
		return created, err
	}
	c.drop(ctx)
	return created, nil
}

// Update passes through and drops the shared list on success.
func (c *RedisCachedSource[R]) Update(ctx context.Context, id int, record R) (R, error) {
	updated, err := c.source.Update(ctx, id, record)
	if err != nil {
		return updated, err
	}
	c.drop(ctx)
	return updated, nil
}

// Delete passes through and drops the shared list on success.
func (c *RedisCachedSource[R]) Delete(ctx context.Context, id int) error {
	if err := c.source.Delete(ctx, id); err != nil {
		return err
	}
	c.drop(ctx)
	return nil
}

// Close waits for background writes, then closes Redis and the underlying source.
func (c *RedisCachedSource[R]) Close() error {
	c.wg.Wait()
	var errs []error
	if c.redisClient != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing redis: %w", err))
		}
	}
	if err := c.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing source: %w", err))
	}
	return errors.Join(errs...)
}

func (c *RedisCachedSource[R]) fetchFromRedis(ctx context.Context) ([]R, error) {
	cachedData, err := c.redisClient.Get(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}

	var records []R
	if err := json.Unmarshal([]byte(cachedData), &records); err != nil {
		c.logger.Error().Err(err).Str("key", c.key).Msg("Failed to unmarshal cached data.")
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	c.logger.Debug().Str("key", c.key).Msg("Redis cache hit.")
	return records, nil
}

// version returns the shared list's mutation counter; zero when unset.
func (c *RedisCachedSource[R]) version(ctx context.Context) (int64, error) {
	v, err := c.redisClient.Get(ctx, c.versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// write stores records only while the mutation counter still equals observed.
// The counter is watched, so a drop racing the write aborts it.
func (c *RedisCachedSource[R]) write(ctx context.Context, records []R, observed int64) error {
	jsonData, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	stale := false
	err = c.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, c.versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != observed {
			stale = true
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key, jsonData, c.ttl)
			return nil
		})
		return err
	}, c.versionKey)
	if errors.Is(err, redis.TxFailedErr) {
		stale = true
		err = nil
	}
	if err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	if stale {
		c.logger.Debug().Str("key", c.key).Msg("Shared list changed since the miss, write-back skipped.")
		return nil
	}
	c.logger.Debug().Str("key", c.key).Msg("Successfully stored data in Redis cache.")
	return nil
}

// drop bumps the mutation counter and deletes the shared list in one transaction.
func (c *RedisCachedSource[R]) drop(ctx context.Context) {
	_, err := c.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.versionKey)
		pipe.Del(ctx, c.key)
		return nil
	})
	if err != nil {
		c.logger.Error().Err(err).Str("key", c.key).Msg("Failed to drop shared list after mutation.")
	}
}
