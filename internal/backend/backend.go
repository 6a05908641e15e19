// Package backend runs scripts through the external proof assistant.
//
// The backend is modeled purely as a process boundary: a script goes in,
// an exit status plus stdout and stderr come out. Every invocation owns a
// freshly created scratch file that is removed on every exit path.
package backend

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/metrics"
	"github.com/pbt-oracle/internal/telemetry"
)

// Kind labels a script for logs, spans and metrics
type Kind string

const (
	KindSample    Kind = "sample"
	KindEval      Kind = "eval"
	KindProof     Kind = "proof"
	KindPlausible Kind = "plausible"
	KindHarness   Kind = "harness"
)

// RunFlag asks the backend to execute the file's main instead of only checking it
const RunFlag = "--run"

const waitDelay = 2 * time.Second

// Script is one self-contained backend input
type Script struct {
	Kind Kind
	Text string
	Run  bool
}

// Result is the raw outcome of one backend invocation
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
	Duration  time.Duration
}

// Lines returns stderr lines followed by stdout lines
func (r *Result) Lines() []string {
	lines := strings.Split(r.Stderr, "\n")
	return append(lines, strings.Split(r.Stdout, "\n")...)
}

// Transcript returns the combined diagnostic text
func (r *Result) Transcript() string {
	return strings.Join(r.Lines(), "\n")
}

// Executor runs scripts. Implementations return an error only when the
// script could not be run to completion (startup failure, timeout);
// a non-zero exit is reported through Result.ExitCode.
type Executor interface {
	Execute(ctx context.Context, script Script) (*Result, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, script Script) (*Result, error)

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, script Script) (*Result, error) {
	return f(ctx, script)
}

// RunScript executes script and returns its stdout, converting a non-zero
// exit into a ScriptError carrying the script and both output streams
func RunScript(ctx context.Context, ex Executor, script Script) (string, error) {
	res, err := ex.Execute(ctx, script)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", errors.NewScriptError(script.Text, res.Stdout, res.Stderr, res.ExitCode)
	}
	return res.Stdout, nil
}

// LeanRunner runs scripts as `<command> <args...> [--run] <scratch file>`
type LeanRunner struct {
	command    string
	args       []string
	workDir    string
	scratchDir string
	timeout    time.Duration
	maxOutput  int
	metrics    *metrics.Metrics
}

// NewLeanRunner creates a runner from backend configuration
func NewLeanRunner(cfg config.BackendConfig, m *metrics.Metrics) *LeanRunner {
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = 4 * 1024 * 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &LeanRunner{
		command:    cfg.Command,
		args:       cfg.Args,
		workDir:    cfg.WorkDir,
		scratchDir: cfg.ScratchDir,
		timeout:    timeout,
		maxOutput:  maxOutput,
		metrics:    m,
	}
}

// Execute writes script to a scratch file and runs the backend on it
func (r *LeanRunner) Execute(ctx context.Context, script Script) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "backend.execute",
		telemetry.AttrScriptKind.String(string(script.Kind)),
		telemetry.AttrScriptBytes.Int(len(script.Text)),
	)
	defer span.End()

	logger := logging.FromContext(ctx).WithField("kind", string(script.Kind))

	path, err := r.writeScratch(script.Text)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, errors.NewInternalError("failed to write scratch file", err)
	}
	defer func() {
		_ = os.Remove(path)
	}()

	res, err := r.run(ctx, path, script)
	outcome := "ok"
	switch {
	case err != nil && errors.IsTimeout(err):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	case res.ExitCode != 0:
		outcome = "nonzero"
	}
	if res != nil {
		r.metrics.ObserveBackend(string(script.Kind), outcome, res.Duration)
		span.SetAttributes(telemetry.AttrExitCode.Int(res.ExitCode))
	}
	span.SetAttributes(telemetry.AttrTimedOut.Bool(outcome == "timeout"))

	if err != nil {
		telemetry.RecordError(span, err)
		logger.WithError(err).Warn("backend invocation failed")
		return res, err
	}

	logger.WithFields(map[string]interface{}{
		"exit_code":   res.ExitCode,
		"duration_ms": res.Duration.Milliseconds(),
		"truncated":   res.Truncated,
	}).Debug("backend invocation completed")

	return res, nil
}

func (r *LeanRunner) writeScratch(text string) (string, error) {
	f, err := os.CreateTemp(r.scratchDir, "pbt-*.lean")
	if err != nil {
		return "", err
	}
	path := f.Name()

	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func (r *LeanRunner) run(ctx context.Context, path string, script Script) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append([]string{}, r.args...)
	if script.Run {
		args = append(args, RunFlag)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, r.command, args...)
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	// lake spawns lean as a grandchild that can outlive a killed parent and
	// keep the output pipes open
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: r.maxOutput}
	stderrLimited := &limitedWriter{w: &stderr, limit: r.maxOutput}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
		Duration:  time.Since(start),
	}

	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		return result, errors.NewTimeoutError(script.Text, r.timeout, ctx.Err())
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("backend run cancelled: %w", ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, errors.NewBackendUnavailableError(r.command, fmt.Errorf("command execution failed: %w", err))
	}

	return result, nil
}

// limitedWriter caps the bytes kept from a child process stream
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.limit {
		lw.truncated = true
		return n, nil
	}

	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}

	written, err := lw.w.Write(p)
	lw.written += written
	return n, err
}
