package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/metrics"
	"github.com/pbt-oracle/internal/types"
)

// CheckStore is a shared, persistent tier for proof acceptance decisions
type CheckStore interface {
	GetCheck(ctx context.Context, key string) (*types.ProofCheck, error)
	SetCheck(ctx context.Context, key string, check *types.ProofCheck) error
}

// Cache memoizes proof checks by script digest: an in-process LRU in front
// of an optional shared store. Store failures degrade to a miss.
type Cache struct {
	local     *lru.Cache[string, types.ProofCheck]
	store     CheckStore
	metrics   *metrics.Metrics
	namespace string
}

// NewCache creates a cache holding up to size entries locally.
// store may be nil.
func NewCache(size int, store CheckStore, m *metrics.Metrics) (*Cache, error) {
	if size <= 0 {
		size = 1024
	}
	local, err := lru.New[string, types.ProofCheck](size)
	if err != nil {
		return nil, err
	}
	return &Cache{local: local, store: store, metrics: m}, nil
}

// WithNamespace scopes keys to one backend toolchain. Workers sharing a
// store reuse each other's checks only when their namespaces match.
func (c *Cache) WithNamespace(namespace string) *Cache {
	c.namespace = namespace
	return c
}

// Key returns the cache key of a script checked under namespace
func Key(namespace, script string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(script))
	return hex.EncodeToString(h.Sum(nil))
}

// Key returns this cache's key for script
func (c *Cache) Key(script string) string {
	if c == nil {
		return Key("", script)
	}
	return Key(c.namespace, script)
}

// Get looks up a check by key
func (c *Cache) Get(ctx context.Context, key string) (types.ProofCheck, bool) {
	if c == nil {
		return types.ProofCheck{}, false
	}

	if check, ok := c.local.Get(key); ok {
		c.metrics.ObserveCache("local", true)
		return check, true
	}
	c.metrics.ObserveCache("local", false)

	if c.store == nil {
		return types.ProofCheck{}, false
	}

	check, err := c.store.GetCheck(ctx, key)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("shared verdict cache lookup failed")
		return types.ProofCheck{}, false
	}
	if check == nil {
		c.metrics.ObserveCache("shared", false)
		return types.ProofCheck{}, false
	}
	c.metrics.ObserveCache("shared", true)
	c.local.Add(key, *check)
	return *check, true
}

// Put stores a check under key in both tiers
func (c *Cache) Put(ctx context.Context, key string, check types.ProofCheck) {
	if c == nil {
		return
	}
	c.local.Add(key, check)
	if c.store == nil {
		return
	}
	if err := c.store.SetCheck(ctx, key, &check); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("shared verdict cache write failed")
	}
}
