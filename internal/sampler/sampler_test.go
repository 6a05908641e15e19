package sampler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbt-oracle/internal/backend"
	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/types"
)

func newSampler(exec backend.Executor, maxAttempts int) *Sampler {
	return New(exec, backend.DefaultMarkers(), config.SamplingConfig{MaxAttempts: maxAttempts}, nil)
}

func TestScript(t *testing.T) {
	assert.Equal(t, "\nimport Plausible\n\n#sample List Nat\n", Script("List Nat"))
}

func TestSampleColumnAccumulatesAcrossCalls(t *testing.T) {
	calls := 0
	exec := backend.ExecutorFunc(func(ctx context.Context, s backend.Script) (*backend.Result, error) {
		calls++
		assert.Equal(t, backend.KindSample, s.Kind)
		assert.Contains(t, s.Text, "#sample Nat")
		return &backend.Result{Stdout: "1\n2\n3\n"}, nil
	})

	col, err := newSampler(exec, 10).SampleColumn(context.Background(), types.TypedParameter{Name: "a", TypeName: "Nat"}, 7)
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.Len(t, col.Values, 9)
	assert.Equal(t, "(1)", col.Values[0])
	assert.Equal(t, "(3)", col.Values[8])
	assert.Zero(t, col.Placeholders)
}

func TestSampleColumnNoGeneratorFallsBack(t *testing.T) {
	exec := backend.ExecutorFunc(func(ctx context.Context, s backend.Script) (*backend.Result, error) {
		return &backend.Result{
			ExitCode: 1,
			Stdout:   "t.lean:4:0: error: failed to synthesize\n  Plausible.Arbitrary MyType",
		}, nil
	})

	col, err := newSampler(exec, 10).SampleColumn(context.Background(), types.TypedParameter{Name: "x", TypeName: "MyType"}, 20)
	require.NoError(t, err)

	assert.Len(t, col.Values, 20)
	assert.Equal(t, 20, col.Placeholders)
	for _, v := range col.Values {
		assert.Equal(t, DefaultPlaceholder, v)
	}
}

func TestSampleColumnUnknownIdentifierAfterPartialSamples(t *testing.T) {
	calls := 0
	exec := backend.ExecutorFunc(func(ctx context.Context, s backend.Script) (*backend.Result, error) {
		calls++
		if calls == 1 {
			return &backend.Result{Stdout: "7\n8\n"}, nil
		}
		return &backend.Result{ExitCode: 1, Stderr: "error: unknown identifier 'Foo'"}, nil
	})

	col, err := newSampler(exec, 10).SampleColumn(context.Background(), types.TypedParameter{Name: "x", TypeName: "Foo"}, 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"(7)", "(8)", DefaultPlaceholder, DefaultPlaceholder, DefaultPlaceholder}, col.Values)
	assert.Equal(t, 3, col.Placeholders)
}

func TestSampleColumnOtherErrorIsFatal(t *testing.T) {
	exec := backend.ExecutorFunc(func(ctx context.Context, s backend.Script) (*backend.Result, error) {
		return &backend.Result{ExitCode: 1, Stdout: "error: unexpected token ':'"}, nil
	})

	_, err := newSampler(exec, 10).SampleColumn(context.Background(), types.TypedParameter{Name: "x", TypeName: "Nat :"}, 5)
	require.Error(t, err)
	assert.True(t, errors.IsScriptError(err))
}

func TestSampleColumnBoundedWhenBackendReturnsNothing(t *testing.T) {
	calls := 0
	exec := backend.ExecutorFunc(func(ctx context.Context, s backend.Script) (*backend.Result, error) {
		calls++
		return &backend.Result{Stdout: "\n"}, nil
	})

	col, err := newSampler(exec, 4).SampleColumn(context.Background(), types.TypedParameter{Name: "x", TypeName: "Empty"}, 3)
	require.NoError(t, err)

	assert.Equal(t, 4, calls)
	assert.Len(t, col.Values, 3)
	assert.Equal(t, 3, col.Placeholders)
}

func TestSampleAllPreservesParameterOrder(t *testing.T) {
	exec := backend.ExecutorFunc(func(ctx context.Context, s backend.Script) (*backend.Result, error) {
		if strings.Contains(s.Text, "String") {
			return &backend.Result{Stdout: "\"a\"\n\"b\""}, nil
		}
		return &backend.Result{Stdout: "1\n2"}, nil
	})

	params := []types.TypedParameter{{Name: "n", TypeName: "Nat"}, {Name: "s", TypeName: "String"}}
	cols, err := newSampler(exec, 10).SampleAll(context.Background(), params, 2)
	require.NoError(t, err)
	require.Len(t, cols, 2)

	assert.Equal(t, "n", cols[0].Param.Name)
	assert.Equal(t, []string{"(1)", "(2)"}, cols[0].Values)
	assert.Equal(t, []string{"(\"a\")", "(\"b\")"}, cols[1].Values)
}
