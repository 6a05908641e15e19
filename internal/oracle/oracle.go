// Package oracle classifies one input/output pair against a property by
// asking the proof backend to prove the applied property, then its negation.
package oracle

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/metrics"
	"github.com/pbt-oracle/internal/prover"
	"github.com/pbt-oracle/internal/telemetry"
	"github.com/pbt-oracle/internal/types"
)

// SuccessFeedback is reported when no attempt produced any diagnostic text
const SuccessFeedback = "Proof checked successfully!"

// MaxFeedbackBytes bounds the feedback carried in a verdict
const MaxFeedbackBytes = 64 * 1024

var defKeyword = regexp.MustCompile(`(?m)^(\s*)def\b`)

// Prover proposes a proof body for the theorem statement ending prefix
type Prover interface {
	Prove(ctx context.Context, prefix string) (*prover.Result, error)
}

// Request is everything needed to classify one test case
type Request struct {
	PropName string
	PropDef  string
	// TestCase is the rendered arguments of the property: inputs then output
	TestCase string
	// Deps is the import preamble; empty means the profile default
	Deps string
}

// Oracle is stateless across calls apart from the proof cache
type Oracle struct {
	checker *Checker
	profile config.Profile
	prover  Prover
	metrics *metrics.Metrics
}

// New creates an oracle. A nil prover disables the model fallback.
func New(checker *Checker, profile config.Profile, p Prover, m *metrics.Metrics) *Oracle {
	return &Oracle{checker: checker, profile: profile, prover: p, metrics: m}
}

// MarkSimp tags every top-level definition as a simplification rule
func MarkSimp(def string) string {
	return defKeyword.ReplaceAllString(def, "${1}@[simp] def")
}

// Tactic returns the bounded first-success tactic combinator
func Tactic(tactics []string) string {
	return "repeat (first | " + strings.Join(tactics, " | ") + ")"
}

// ProofBody returns the fixed tactic proof used for both theorem sides
func ProofBody(propName string, tactics, closers []string) string {
	tac := Tactic(tactics)
	var b strings.Builder
	b.WriteString(":=by \n")
	fmt.Fprintf(&b, "simp[%s] \n", propName)
	fmt.Fprintf(&b, "try %s\n", tac)
	for _, c := range closers {
		fmt.Fprintf(&b, "try %s\n", c)
	}
	fmt.Fprintf(&b, "try %s\n", tac)
	return b.String()
}

// Theorems holds the rendered pieces of one verification
type Theorems struct {
	Header   string // imports and the simp-tagged definition
	Options  string
	TrueSig  string
	FalseSig string
	TrueThm  string
	FalseThm string
}

// TrueScript is the complete script proving the property
func (t *Theorems) TrueScript() string {
	return t.Header + "\n\n" + t.Options + "\n\n" + t.TrueThm
}

// FalseScript is the complete script proving the negation
func (t *Theorems) FalseScript() string {
	return t.Header + "\n\n" + t.Options + "\n\n" + t.FalseThm
}

// Build renders both theorem scripts for req
func (o *Oracle) Build(req Request) *Theorems {
	testCase := req.TestCase
	if req.PropName != "" && strings.Contains(testCase, req.PropName) {
		testCase = strings.ReplaceAll(testCase, req.PropName, "")
	}
	propExp := req.PropName + " " + testCase
	proof := ProofBody(req.PropName, o.profile.Tactics, o.profile.Closers)

	deps := req.Deps
	if deps == "" {
		deps = o.profile.Deps
	}

	t := &Theorems{
		Header:   deps + "\n" + MarkSimp(req.PropDef),
		Options:  fmt.Sprintf("set_option maxRecDepth %d\n", o.profile.MaxRecDepth),
		TrueSig:  "theorem prop_true: " + propExp,
		FalseSig: fmt.Sprintf("theorem prop_false: Not (%s)", propExp),
	}
	t.TrueThm = t.TrueSig + proof + "\n"
	t.FalseThm = t.FalseSig + " " + proof + "\n"
	return t
}

type side struct {
	name   string
	status types.Status
}

var sides = [2]side{
	{name: "true", status: types.StatusPass},
	{name: "false", status: types.StatusFail},
}

// Verify classifies one test case. Pass requires an accepted proof of the
// property, fail an accepted proof of its negation; anything else is
// unknown. Backend errors on an attempt are recorded in the feedback and
// the next attempt proceeds. The only returned error is context cancellation.
func (o *Oracle) Verify(ctx context.Context, req Request) (types.Verdict, error) {
	ctx, span := telemetry.StartSpan(ctx, "oracle.verify")
	defer span.End()

	logger := logging.FromContext(ctx)
	thms := o.Build(req)
	fb := &feedback{}
	status := types.StatusUnknown

	scripts := [2]string{thms.TrueScript(), thms.FalseScript()}
	for i, s := range sides {
		check, cached, err := o.checker.Check(ctx, scripts[i])
		if err != nil {
			if ctx.Err() != nil {
				return types.Verdict{}, ctx.Err()
			}
			logger.WithError(err).WithField("side", s.name).Warn("proof attempt could not run")
			fb.add(err.Error())
			o.metrics.ObserveProofAttempt(s.name, "tactic", false)
			continue
		}
		fb.add(check.Transcript)
		o.metrics.ObserveProofAttempt(s.name, "tactic", check.Accepted)
		logger.WithFields(map[string]interface{}{
			"side":    s.name,
			"outcome": check.Outcome,
			"cached":  cached,
		}).Debug("tactic proof attempt")

		if check.Accepted {
			status = s.status
			break
		}
	}

	if status == types.StatusUnknown && o.prover != nil {
		sigs := [2]string{thms.TrueSig, thms.FalseSig}
		for i, s := range sides {
			accepted, err := o.proveWithModel(ctx, i, thms.Header+"\n\n"+sigs[i], fb)
			if err != nil && ctx.Err() != nil {
				return types.Verdict{}, ctx.Err()
			}
			o.metrics.ObserveProofAttempt(s.name, "model", accepted)
			if accepted {
				status = s.status
				break
			}
		}
	}

	span.SetAttributes(telemetry.AttrVerdict.String(string(status)))
	o.metrics.ObserveVerdict(string(status))

	return types.Verdict{Status: status, Feedback: fb.String()}, nil
}

// proveWithModel runs one model-assisted attempt and re-checks its final code
func (o *Oracle) proveWithModel(ctx context.Context, i int, prefix string, fb *feedback) (bool, error) {
	logger := logging.FromContext(ctx).WithField("llm_proof", i)

	res, err := o.prover.Prove(ctx, prefix)
	if err != nil {
		logger.WithError(err).Warn("model proof session failed")
		fb.add(fmt.Sprintf("LLM Proof %d:\n%s", i, err.Error()))
		return false, err
	}
	if res == nil || res.FinalCode == "" {
		return false, nil
	}

	check, _, err := o.checker.Check(ctx, prefix+res.FinalCode)
	if err != nil {
		fb.add(fmt.Sprintf("LLM Proof %d:\n%s", i, err.Error()))
		return false, err
	}
	fb.add(fmt.Sprintf("LLM Proof %d:\n%s", i, check.Transcript))
	return check.Accepted, nil
}

// feedback accumulates diagnostic text up to MaxFeedbackBytes
type feedback struct {
	b         strings.Builder
	truncated bool
}

func (f *feedback) add(text string) {
	text = strings.TrimSpace(text)
	if text == "" || f.truncated {
		return
	}
	if f.b.Len() > 0 {
		text = "\n" + text
	}
	if f.b.Len()+len(text) > MaxFeedbackBytes {
		cut := MaxFeedbackBytes - f.b.Len()
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
		f.truncated = true
	}
	f.b.WriteString(text)
}

func (f *feedback) String() string {
	s := strings.TrimSpace(f.b.String())
	if s == "" {
		return SuccessFeedback
	}
	if f.truncated {
		s += "\n[feedback truncated]"
	}
	return s
}
