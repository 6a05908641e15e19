package pbt

import (
	"context"

	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/signature"
	"github.com/pbt-oracle/internal/telemetry"
	"github.com/pbt-oracle/internal/types"
)

// MakeTests produces up to n input/output examples from the candidate
// (the configured generation count when n <= 0). Duplicate vectors and
// vectors the candidate cannot be evaluated on are skipped. A failure
// before evaluation yields an empty list; only cancellation is returned.
func (t *Tester) MakeTests(ctx context.Context, spec *types.Spec, n int) ([]types.GeneratedTest, error) {
	if n <= 0 {
		n = t.sampling.GenerateCount
	}

	ctx, span := telemetry.StartSpan(ctx, "pbt.make_tests")
	defer span.End()

	logger := logging.FromContext(ctx)
	tests := []types.GeneratedTest{}

	params := signature.Params(spec.FunctionSignature)
	fnName := signature.FunctionName(spec.FunctionSignature)

	columns, err := t.sampler.SampleAll(ctx, params, n)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		telemetry.RecordError(span, err)
		logger.WithError(err).Warn("sampling failed, no tests generated")
		return tests, nil
	}

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
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
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.IsScriptError(err) {
				logger.WithError(err).Warn("backend unavailable, test generation stopped")
				return []types.GeneratedTest{}, nil
			}
			logger.WithError(err).WithField("inputs", key).Warn("candidate evaluation failed")
			continue
		}
		tests = append(tests, types.GeneratedTest{Input: key, Output: output})
	}

	logger.WithField("generated", len(tests)).Info("test generation complete")
	return tests, nil
}
