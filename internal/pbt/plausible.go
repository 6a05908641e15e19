package pbt

import (
	"context"
	"fmt"
	"strings"

	"github.com/pbt-oracle/internal/backend"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/oracle"
	"github.com/pbt-oracle/internal/types"
)

// PlausibleScript returns the counterexample-search script for one theorem
// statement over the candidate's definitions
func PlausibleScript(code, theoremSig string) string {
	return fmt.Sprintf("\nimport Plausible\n\n%s\n\n%s := by\n  simp\n  plausible\n", oracle.MarkSimp(code), theoremSig)
}

// TryPlausible runs the backend's counterexample search on the record's
// theorem statements. A statement the search cannot be set up for is left
// out of the report.
func (t *Tester) TryPlausible(ctx context.Context, spec *types.Spec) (*types.PlausibleReport, error) {
	var out strings.Builder
	sigs := []string{spec.TheoremSignature}
	if strings.TrimSpace(spec.Theorem2Signature) != "" {
		sigs = append(sigs, spec.Theorem2Signature)
	}

	for i, sig := range sigs {
		if strings.TrimSpace(sig) == "" {
			continue
		}
		usable, text, err := t.runPlausible(ctx, spec.CodeSolution, sig)
		if err != nil {
			return nil, err
		}
		if !usable {
			logging.FromContext(ctx).WithField("theorem", sig).WithField("output", text).
				Warn("counterexample search could not be set up")
			continue
		}
		if i > 0 {
			out.WriteString("\n")
		}
		fmt.Fprintf(&out, "Result of running plausible on the theorem statement %s:\n", sig)
		out.WriteString(text)
	}

	return &types.PlausibleReport{Output: out.String()}, nil
}

// runPlausible reports whether the search ran and its textual result. A
// rejected script is still a result: its diagnostics usually carry the
// counterexample.
func (t *Tester) runPlausible(ctx context.Context, code, sig string) (bool, string, error) {
	script := backend.Script{Kind: backend.KindPlausible, Text: PlausibleScript(code, sig)}
	out, err := backend.RunScript(ctx, t.exec, script)
	if err == nil {
		return true, out, nil
	}
	if ctx.Err() != nil || !errors.IsScriptError(err) {
		return false, "", err
	}

	catErr := errors.Categorize(err)
	text := strings.TrimSpace(catErr.Message + "\n" + catErr.Detail("stdout") + "\n" + catErr.Detail("stderr"))
	if t.markers.PlausibleUnusable(text) {
		return false, text, nil
	}
	return true, text, nil
}
