// Package harness checks a candidate implementation against stored
// input/output examples by compiling and running a generated test program.
package harness

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pbt-oracle/internal/backend"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/signature"
	"github.com/pbt-oracle/internal/types"
)

// NoImplementation is reported when there is no candidate to test
const NoImplementation = "No implementation generated"

var (
	existingMain = regexp.MustCompile(`(?s)def\s+main.*?end`)
	passedLine   = regexp.MustCompile(`Tests passed: (\d+)/(\d+)`)
)

const checkEqual = `where
  checkEqual (a b : %s) : IO Bool := do
    if a == b then
      IO.println "Test passed"
      pure true
    else
      IO.println s!"Test failed: expected {b} but got {a}"
      pure false
`

// Harness compiles and runs example-test programs
type Harness struct {
	exec backend.Executor
}

// New creates a harness
func New(exec backend.Executor) *Harness {
	return &Harness{exec: exec}
}

// Program renders the test program for implementation. Any main definition
// in the implementation is removed first.
func Program(implementation string, spec *types.Spec) (string, error) {
	sig := signature.Parse(spec.FunctionSignature)
	if sig.Name == "" || sig.ResultType == "" {
		return "", errors.NewInvalidSignatureError(spec.FunctionSignature)
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(existingMain.ReplaceAllString(implementation, ""))
	b.WriteString("\n\ndef main : IO Unit := do\n")
	b.WriteString("  let mut passed := 0\n")
	for _, t := range spec.Tests {
		fmt.Fprintf(&b, "  if ← checkEqual (%s %s) (%s) then\n", sig.Name, t.Input, t.Output)
		b.WriteString("    passed := passed + 1\n")
	}
	fmt.Fprintf(&b, "  IO.println s!\"Tests passed: {passed}/%d\"\n", len(spec.Tests))
	fmt.Fprintf(&b, checkEqual, sig.ResultType)
	return b.String(), nil
}

// Run type-checks the program, then runs it and parses the pass count.
// Failures are reported in the result; only cancellation is returned.
func (h *Harness) Run(ctx context.Context, implementation string, spec *types.Spec) (types.ExampleResult, error) {
	if implementation == "" {
		return types.ExampleResult{Output: NoImplementation}, nil
	}

	logger := logging.FromContext(ctx)

	program, err := Program(implementation, spec)
	if err != nil {
		return types.ExampleResult{Output: err.Error()}, nil
	}

	res, err := h.exec.Execute(ctx, backend.Script{Kind: backend.KindHarness, Text: program})
	if err != nil {
		if ctx.Err() != nil {
			return types.ExampleResult{}, ctx.Err()
		}
		return types.ExampleResult{Output: err.Error()}, nil
	}
	if res.ExitCode != 0 {
		logger.WithField("exit_code", res.ExitCode).Info("example program did not compile")
		return types.ExampleResult{
			Output: fmt.Sprintf("Compilation error:\n%s\n\nStdout:\n%s\nCode:\n%s", res.Stderr, res.Stdout, program),
		}, nil
	}

	res, err = h.exec.Execute(ctx, backend.Script{Kind: backend.KindHarness, Text: program, Run: true})
	if err != nil {
		if ctx.Err() != nil {
			return types.ExampleResult{}, ctx.Err()
		}
		return types.ExampleResult{Output: err.Error()}, nil
	}

	result := types.ExampleResult{
		Success: res.ExitCode == 0,
		Output:  res.Stdout + res.Stderr,
	}
	if result.Success {
		result.Passed, result.Total = parsePassed(res.Stdout)
	}

	logger.WithFields(map[string]interface{}{
		"success": result.Success,
		"passed":  result.Passed,
		"total":   result.Total,
	}).Info("example tests run")

	return result, nil
}

func parsePassed(stdout string) (int, int) {
	m := passedLine.FindStringSubmatch(stdout)
	if m == nil {
		return 0, 0
	}
	passed, _ := strconv.Atoi(m[1])
	total, _ := strconv.Atoi(m[2])
	return passed, total
}
