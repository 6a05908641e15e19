// Package pbt runs property-based tests of a candidate implementation:
// it samples inputs, evaluates the candidate and classifies every distinct
// input/output pair with the proof oracle.
package pbt

import (
	"context"
	"fmt"

	"github.com/pbt-oracle/internal/backend"
	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/evaluator"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/metrics"
	"github.com/pbt-oracle/internal/oracle"
	"github.com/pbt-oracle/internal/sampler"
	"github.com/pbt-oracle/internal/signature"
	"github.com/pbt-oracle/internal/telemetry"
	"github.com/pbt-oracle/internal/types"
)

// Verifier classifies one test case
type Verifier interface {
	Verify(ctx context.Context, req oracle.Request) (types.Verdict, error)
}

// Tester drives sampling, evaluation and verification for single records.
// A Tester is not safe for concurrent use on one backend scratch directory
// unless the executor is.
type Tester struct {
	exec      backend.Executor
	markers   *backend.Markers
	sampler   *sampler.Sampler
	evaluator *evaluator.Evaluator
	oracle    Verifier
	sampling  config.SamplingConfig
	metrics   *metrics.Metrics
}

// NewTester creates a tester. verifier may be nil for generation-only use.
func NewTester(exec backend.Executor, markers *backend.Markers, verifier Verifier, cfg config.SamplingConfig, m *metrics.Metrics) *Tester {
	if cfg.GenerateCount <= 0 {
		cfg.GenerateCount = 20
	}
	if cfg.TestCount <= 0 {
		cfg.TestCount = 100
	}
	return &Tester{
		exec:      exec,
		markers:   markers,
		sampler:   sampler.New(exec, markers, cfg, m),
		evaluator: evaluator.New(exec, markers),
		oracle:    verifier,
		sampling:  cfg,
		metrics:   m,
	}
}

// Result is the outcome of a property-based run on one record. Exactly one
// field is set: Report when the record has a property definition, Plausible
// otherwise.
type Result struct {
	Report    *types.AggregateReport
	Plausible *types.PlausibleReport
}

// Value returns the populated report for serialization
func (r *Result) Value() interface{} {
	if r.Report != nil {
		return r.Report
	}
	return r.Plausible
}

// Status rolls the result up. A counterexample search has no verdict.
func (r *Result) Status() types.Status {
	if r.Report != nil {
		return r.Report.Status()
	}
	return types.StatusUnknown
}

// Run tests spec with n sampled vectors (the configured default when n <= 0).
// Records without a property definition fall back to the counterexample search.
func (t *Tester) Run(ctx context.Context, spec *types.Spec, n int) (*Result, error) {
	if spec.PropertyDef == "" {
		report, err := t.TryPlausible(ctx, spec)
		if err != nil {
			return nil, err
		}
		return &Result{Plausible: report}, nil
	}
	report, err := t.RunTests(ctx, spec, n)
	if err != nil {
		return nil, err
	}
	return &Result{Report: report}, nil
}

// RunTests samples n vectors, skips duplicates, evaluates the candidate on
// each distinct vector and classifies the output. An evaluation ScriptError
// counts as unknown. Errors returned are fatal for the record: a sampling
// failure other than a missing generator, an unreachable backend, or
// cancellation.
func (t *Tester) RunTests(ctx context.Context, spec *types.Spec, n int) (*types.AggregateReport, error) {
	if n <= 0 {
		n = t.sampling.TestCount
	}
	if t.oracle == nil {
		return nil, errors.NewConfigError("oracle", "property testing requires a verifier")
	}

	ctx, span := telemetry.StartSpan(ctx, "pbt.run_tests")
	defer span.End()

	params := signature.Params(spec.FunctionSignature)
	fnName := signature.FunctionName(spec.FunctionSignature)
	propName := spec.PropName()

	columns, err := t.sampler.SampleAll(ctx, params, n)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	report := &types.AggregateReport{TotalTests: n, Failures: []types.Failure{}}
	seen := make(map[string]struct{}, n)

	for i := 0; i < n; i++ {
		logger := logging.FromContext(ctx).WithField("test_index", i)
		vec := vector(columns, i)
		key := vec.Key()
		if _, dup := seen[key]; dup {
			logger.WithField("inputs", key).Info("duplicate test vector skipped")
			t.metrics.ObserveDuplicate()
			continue
		}
		seen[key] = struct{}{}

		output, err := t.evaluator.Evaluate(ctx, spec.CodeSolution, fnName, vec)
		if err != nil {
			if !errors.IsScriptError(err) || ctx.Err() != nil {
				return nil, err
			}
			logger.WithError(err).WithField("inputs", key).Warn("candidate evaluation failed")
			report.Unknown++
			continue
		}

		verdict, err := t.oracle.Verify(ctx, oracle.Request{
			PropName: propName,
			PropDef:  spec.PropertyDef,
			TestCase: key + " " + types.Arg(output),
			Deps:     spec.Deps,
		})
		if err != nil {
			return nil, err
		}

		logger.WithFields(map[string]interface{}{
			"inputs": key,
			"output": output,
			"status": verdict.Status,
		}).Debug("test case classified")

		switch verdict.Status {
		case types.StatusPass:
			report.Passed++
		case types.StatusFail:
			report.Failed++
			report.Failures = append(report.Failures, types.Failure{
				Inputs: vec.Inputs(params),
				Output: output,
			})
		default:
			report.Unknown++
		}
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"total":   report.TotalTests,
		"passed":  report.Passed,
		"failed":  report.Failed,
		"unknown": report.Unknown,
	}).Info("property-based run complete")

	return report, nil
}

// vector draws the i-th value of every column
func vector(columns []*types.SampledColumn, i int) types.TestVector {
	vec := make(types.TestVector, len(columns))
	for j, col := range columns {
		vec[j] = col.Values[i]
	}
	return vec
}

// VerifyResult is the oracle's classification of a record's stored tests
type VerifyResult struct {
	Results []types.Verdict `json:"test_results"`
	Status  types.Status    `json:"status"`
}

// VerifyTests classifies each stored test of spec. A record without tests
// is unknown.
func (t *Tester) VerifyTests(ctx context.Context, spec *types.Spec) (*VerifyResult, error) {
	res := &VerifyResult{Results: []types.Verdict{}}
	if len(spec.Tests) == 0 {
		logging.FromContext(ctx).Warn("record has no tests to verify")
		res.Status = types.StatusUnknown
		return res, nil
	}
	if t.oracle == nil {
		return nil, errors.NewConfigError("oracle", "verification requires a verifier")
	}
	if spec.PropertyDef == "" {
		return nil, errors.NewInvalidRecordError("property_def", "required for verification")
	}

	statuses := make([]types.Status, 0, len(spec.Tests))
	for i, test := range spec.Tests {
		verdict, err := t.oracle.Verify(ctx, oracle.Request{
			PropName: spec.PropName(),
			PropDef:  spec.PropertyDef,
			TestCase: test.Case(),
			Deps:     spec.Deps,
		})
		if err != nil {
			return nil, fmt.Errorf("verify test %d: %w", i, err)
		}
		res.Results = append(res.Results, verdict)
		statuses = append(statuses, verdict.Status)
	}
	res.Status = types.Rollup(statuses)
	return res, nil
}
