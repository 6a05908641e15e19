// Package ratelimit shares a model request budget between oracle processes
// through Redis, so parallel batch runs against one endpoint stay under its
// quota.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pbt-oracle/internal/logging"
)

// Default budget configuration values.
const (
	DefaultWindowSize = time.Minute
	keyPrefix         = "pbt:budget:"
)

// consumeScript atomically checks and increments the window counter
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local n = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + n > limit then
		return {0, used}
	end

	redis.call('INCRBY', key, n)
	redis.call('EXPIRE', key, ttl)
	return {1, used + n}
`)

// Budget is a fixed-window request counter kept in Redis
type Budget struct {
	redis  redis.Cmdable
	name   string
	limit  int
	window time.Duration
	now    func() time.Time
}

// BudgetConfig holds configuration for a shared budget.
type BudgetConfig struct {
	// Redis is required; the budget has no local fallback.
	Redis redis.Cmdable

	// Name scopes the counter, typically the model name.
	Name string

	// Limit is the number of requests allowed per window.
	Limit int

	// Window is the counting window. Default: 1m.
	Window time.Duration
}

// Validate checks if the configuration is valid.
func (c *BudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", c.Limit)
	}
	if c.Window < 0 {
		return errors.New("window cannot be negative")
	}
	return nil
}

// NewBudget creates a shared budget
func NewBudget(cfg *BudgetConfig) (*Budget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	window := cfg.Window
	if window == 0 {
		window = DefaultWindowSize
	}

	return &Budget{
		redis:  cfg.Redis,
		name:   cfg.Name,
		limit:  cfg.Limit,
		window: window,
		now:    time.Now,
	}, nil
}

// windowStart aligns now to the window boundary
func (b *Budget) windowStart() time.Time {
	return b.now().Truncate(b.window)
}

func (b *Budget) key(start time.Time) string {
	return keyPrefix + b.name + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// TryConsume takes n requests from the current window. When the window is
// exhausted it reports the time until the next one.
func (b *Budget) TryConsume(ctx context.Context, n int) (bool, time.Duration, error) {
	if n <= 0 {
		return true, 0, nil
	}

	start := b.windowStart()
	ttl := int((b.window + time.Second).Seconds())

	result, err := consumeScript.Run(ctx, b.redis, []string{b.key(start)}, n, b.limit, ttl).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to consume budget: %w", err)
	}
	if result[0] == 1 {
		return true, 0, nil
	}
	return false, b.untilNextWindow(start), nil
}

// untilNextWindow returns the time until the window after start begins
func (b *Budget) untilNextWindow(start time.Time) time.Duration {
	wait := start.Add(b.window).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	// Add a small buffer to ensure we're in the new window
	return wait + time.Millisecond
}

// Wait blocks until one request fits in the budget. A Redis failure lets
// the request through: the budget is advisory and must not stall proofs.
func (b *Budget) Wait(ctx context.Context) error {
	for {
		ok, wait, err := b.TryConsume(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.FromContext(ctx).WithError(err).Warn("shared model budget unavailable")
			return nil
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Used returns the requests consumed in the current window
func (b *Budget) Used(ctx context.Context) (int, error) {
	val, err := b.redis.Get(ctx, b.key(b.windowStart())).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

// Limit returns the configured requests per window.
func (b *Budget) Limit() int {
	return b.limit
}
