package pbt

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbt-oracle/internal/backend"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/types"
)

func TestPlausibleScript(t *testing.T) {
	got := PlausibleScript("import Mathlib\ndef f (n : Nat) : Nat := n", "theorem f_id (n : Nat) : f n = n")
	want := "\nimport Plausible\n\nimport Mathlib\n@[simp] def f (n : Nat) : Nat := n\n\ntheorem f_id (n : Nat) : f n = n := by\n  simp\n  plausible\n"
	assert.Equal(t, want, got)
}

func TestTryPlausible(t *testing.T) {
	const (
		first  = "theorem t1 (n : Nat) : f n = n"
		second = "theorem t2 (n : Nat) : f n > n"
	)

	tests := []struct {
		name    string
		second  string
		results map[string]*backend.Result
		want    string
	}{
		{
			name:   "single statement",
			second: "  ",
			results: map[string]*backend.Result{
				"t1": {Stdout: "Unable to find a counter-example"},
			},
			want: "Result of running plausible on the theorem statement " + first + ":\nUnable to find a counter-example",
		},
		{
			name:   "counterexample reported through a rejected script",
			second: second,
			results: map[string]*backend.Result{
				"t1": {Stdout: "Unable to find a counter-example"},
				"t2": {ExitCode: 1, Stdout: "error: Found a counter-example!\nn := 0"},
			},
			want: "Result of running plausible on the theorem statement " + first + ":\nUnable to find a counter-example" +
				"\nResult of running plausible on the theorem statement " + second + ":\nscript exited with code 1\nerror: Found a counter-example!\nn := 0",
		},
		{
			name:   "unusable search is left out",
			second: second,
			results: map[string]*backend.Result{
				"t1": {ExitCode: 1, Stderr: "error: Failed to create a `testable` instance"},
				"t2": {Stdout: "ok"},
			},
			want: "\nResult of running plausible on the theorem statement " + second + ":\nok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := backend.ExecutorFunc(func(ctx context.Context, s backend.Script) (*backend.Result, error) {
				for name, res := range tt.results {
					if strings.Contains(s.Text, "theorem "+name+" ") {
						return res, nil
					}
				}
				t.Fatalf("unexpected script %q", s.Text)
				return nil, nil
			})
			tester := newTester(t, exec, nil)
			spec := &types.Spec{
				CodeSolution:      "def f (n : Nat) : Nat := n",
				TheoremSignature:  first,
				Theorem2Signature: tt.second,
			}

			report, err := tester.TryPlausible(context.Background(), spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, report.Output)
		})
	}
}

func TestTryPlausibleBackendUnavailable(t *testing.T) {
	exec := backend.ExecutorFunc(func(ctx context.Context, s backend.Script) (*backend.Result, error) {
		return nil, errors.NewBackendUnavailableError("lake", assert.AnError)
	})
	tester := newTester(t, exec, nil)

	_, err := tester.TryPlausible(context.Background(), &types.Spec{TheoremSignature: "theorem t (n : Nat) : n = n"})
	assert.Error(t, err)
}
