// Package evaluator runs a candidate implementation on one test vector
// through the proof backend and returns the printed result literal.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/pbt-oracle/internal/backend"
	"github.com/pbt-oracle/internal/types"
)

// Evaluator builds and runs evaluation scripts
type Evaluator struct {
	exec    backend.Executor
	markers *backend.Markers
}

// New creates an evaluator
func New(exec backend.Executor, markers *backend.Markers) *Evaluator {
	return &Evaluator{exec: exec, markers: markers}
}

// SplitImports separates the import lines of code from the rest, both verbatim
func SplitImports(code string) (imports, rest string) {
	var ib, rb strings.Builder
	for _, line := range strings.SplitAfter(code, "\n") {
		if strings.HasPrefix(line, "import") {
			ib.WriteString(line)
		} else {
			rb.WriteString(line)
		}
	}
	return ib.String(), rb.String()
}

// Script assembles the evaluation script for fnName applied to inputs
func Script(code, fnName string, inputs types.TestVector) string {
	imports, rest := SplitImports(code)
	return fmt.Sprintf("\n%s\nset_option linter.unusedVariables false\n\n%s\n\n#eval %s %s\n",
		imports, rest, fnName, inputs.Key())
}

// Evaluate runs the candidate and returns its output with warning lines
// removed. A non-zero backend exit is returned as a ScriptError.
func (e *Evaluator) Evaluate(ctx context.Context, code, fnName string, inputs types.TestVector) (string, error) {
	script := backend.Script{Kind: backend.KindEval, Text: Script(code, fnName, inputs)}
	out, err := backend.RunScript(ctx, e.exec, script)
	if err != nil {
		return "", err
	}
	return e.markers.StripWarnings(out), nil
}
