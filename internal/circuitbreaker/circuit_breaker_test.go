package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing(ctx context.Context) error   { return errBoom }
func succeeding(ctx context.Context) error { return nil }

func newTestBreaker() (*CircuitBreaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(&Config{Name: "prover", MaxFailures: 3, Timeout: time.Minute, HalfOpenMaxCalls: 1})
	cb.now = func() time.Time { return now }
	cb.lastStateChange = now
	return cb, &now
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errBoom)
	}
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, succeeding), ErrCircuitOpen)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker()
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	require.NoError(t, cb.Execute(ctx, succeeding))
	_ = cb.Execute(ctx, failing)

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenRecovery(t *testing.T) {
	cb, now := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	*now = now.Add(2 * time.Minute)

	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	*now = now.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, failing), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCancellationIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetStats().ConsecutiveFails)
}

func TestStateChangeHookAndRejections(t *testing.T) {
	cb, now := newTestBreaker()
	ctx := context.Background()

	var transitions []string
	cb.OnStateChange(func(name string, from, to State) {
		assert.Equal(t, "prover", name)
		transitions = append(transitions, string(from)+"->"+string(to))
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	_ = cb.Execute(ctx, succeeding)
	_ = cb.Execute(ctx, succeeding)
	assert.Equal(t, 2, cb.GetStats().Rejected)

	*now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, succeeding))
	cb.Reset()

	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}
