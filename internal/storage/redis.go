package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/types"
)

// verdictPrefix namespaces proof-check entries
const verdictPrefix = "pbt:check:"

// NewRedisClient creates a Redis connection and checks it is reachable
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisVerdictCache shares proof-check decisions between oracle processes.
// Entries are keyed by script digest and expire after ttl (0 keeps them).
type RedisVerdictCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisVerdictCache creates a verdict cache on client
func NewRedisVerdictCache(client *redis.Client, ttl time.Duration) *RedisVerdictCache {
	return &RedisVerdictCache{client: client, ttl: ttl}
}

// GetCheck returns the stored check for key, or nil when there is none
func (c *RedisVerdictCache) GetCheck(ctx context.Context, key string) (*types.ProofCheck, error) {
	data, err := c.client.Get(ctx, verdictPrefix+key).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.NewCacheError("get", err)
	}

	var check types.ProofCheck
	if err := json.Unmarshal(data, &check); err != nil {
		// a corrupt entry is dropped and treated as a miss
		_ = c.client.Del(ctx, verdictPrefix+key).Err()
		return nil, nil
	}
	return &check, nil
}

// SetCheck stores check under key
func (c *RedisVerdictCache) SetCheck(ctx context.Context, key string, check *types.ProofCheck) error {
	data, err := json.Marshal(check)
	if err != nil {
		return fmt.Errorf("failed to marshal proof check: %w", err)
	}
	if err := c.client.Set(ctx, verdictPrefix+key, data, c.ttl).Err(); err != nil {
		return errors.NewCacheError("set", err)
	}
	return nil
}

// Ping checks if Redis is reachable
func (c *RedisVerdictCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisVerdictCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
