package oracle

import (
	"context"

	"github.com/pbt-oracle/internal/backend"
	"github.com/pbt-oracle/internal/types"
)

// Checker runs complete proof scripts and applies the acceptance rule
type Checker struct {
	exec    backend.Executor
	markers *backend.Markers
	cache   *Cache
}

// NewChecker creates a checker. cache may be nil.
func NewChecker(exec backend.Executor, markers *backend.Markers, cache *Cache) *Checker {
	return &Checker{exec: exec, markers: markers, cache: cache}
}

// Check runs script and classifies the result. An error means the backend
// could not run the script at all (timeout, startup failure); such results
// are never cached.
func (c *Checker) Check(ctx context.Context, script string) (types.ProofCheck, bool, error) {
	key := c.cache.Key(script)
	if check, ok := c.cache.Get(ctx, key); ok {
		return check, true, nil
	}

	res, err := c.exec.Execute(ctx, backend.Script{Kind: backend.KindProof, Text: script})
	if err != nil {
		return types.ProofCheck{}, false, err
	}

	outcome := c.markers.Classify(res)
	check := types.ProofCheck{
		Accepted:   outcome == backend.OutcomeAccepted,
		Outcome:    outcome.String(),
		Transcript: res.Transcript(),
	}
	c.cache.Put(ctx, key, check)
	return check, false, nil
}

// CheckFunc adapts Check to the signature the model prover expects
func (c *Checker) CheckFunc() func(ctx context.Context, script string) (bool, string, error) {
	return func(ctx context.Context, script string) (bool, string, error) {
		check, _, err := c.Check(ctx, script)
		if err != nil {
			return false, "", err
		}
		return check.Accepted, check.Transcript, nil
	}
}
