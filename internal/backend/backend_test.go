package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/errors"
)

func newShellRunner(t *testing.T, body string, timeout time.Duration) (*LeanRunner, string) {
	t.Helper()
	scratch := t.TempDir()
	// sh -c '<body>' <scratch file>: the file path arrives as $0
	return NewLeanRunner(config.BackendConfig{
		Command:        "sh",
		Args:           []string{"-c", body},
		ScratchDir:     scratch,
		Timeout:        timeout,
		MaxOutputBytes: 1024,
	}, nil), scratch
}

func TestLeanRunnerEchoesScript(t *testing.T) {
	runner, scratch := newShellRunner(t, `cat "$0"`, 5*time.Second)

	res, err := runner.Execute(context.Background(), Script{Kind: KindEval, Text: "#eval 1 + 1"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "#eval 1 + 1", res.Stdout)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch file must be removed after the run")
}

func TestLeanRunnerNonZeroExit(t *testing.T) {
	runner, scratch := newShellRunner(t, `echo "bad" >&2; exit 3`, 5*time.Second)

	res, err := runner.Execute(context.Background(), Script{Kind: KindProof, Text: "theorem t : False := by simp"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "bad\n", res.Stderr)

	entries, _ := os.ReadDir(scratch)
	assert.Empty(t, entries)
}

func TestLeanRunnerTimeout(t *testing.T) {
	runner, scratch := newShellRunner(t, `sleep 5`, 100*time.Millisecond)

	_, err := runner.Execute(context.Background(), Script{Kind: KindProof, Text: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.True(t, errors.IsScriptError(err), "timeouts are handled like script errors")

	entries, _ := os.ReadDir(scratch)
	assert.Empty(t, entries)
}

func TestLeanRunnerTruncatesOutput(t *testing.T) {
	runner, _ := newShellRunner(t, `head -c 4096 /dev/zero`, 5*time.Second)

	res, err := runner.Execute(context.Background(), Script{Kind: KindEval, Text: "x"})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Stdout, 1024)
}

func TestLeanRunnerMissingCommand(t *testing.T) {
	runner := NewLeanRunner(config.BackendConfig{
		Command:    filepath.Join(t.TempDir(), "no-such-binary"),
		ScratchDir: t.TempDir(),
		Timeout:    time.Second,
	}, nil)

	_, err := runner.Execute(context.Background(), Script{Kind: KindEval, Text: "x"})
	require.Error(t, err)
	assert.False(t, errors.IsScriptError(err))
	assert.Equal(t, "BACKEND_UNAVAILABLE", errors.Categorize(err).Code)
}

func TestRunScriptConvertsExitCode(t *testing.T) {
	fake := ExecutorFunc(func(ctx context.Context, s Script) (*Result, error) {
		return &Result{ExitCode: 1, Stdout: "out", Stderr: "err"}, nil
	})

	_, err := RunScript(context.Background(), fake, Script{Kind: KindEval, Text: "#eval f"})
	require.Error(t, err)
	require.True(t, errors.IsScriptError(err))

	catErr := errors.Categorize(err)
	assert.Equal(t, "#eval f", catErr.Detail("script"))
	assert.Equal(t, "out", catErr.Detail("stdout"))
	assert.Equal(t, "err", catErr.Detail("stderr"))
}

func TestRunScriptReturnsStdout(t *testing.T) {
	fake := ExecutorFunc(func(ctx context.Context, s Script) (*Result, error) {
		return &Result{Stdout: "5\n"}, nil
	})

	out, err := RunScript(context.Background(), fake, Script{Kind: KindEval})
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)
}
