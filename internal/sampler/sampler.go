// Package sampler draws random literal values for typed parameters using the
// proof backend's built-in generators.
package sampler

import (
	"context"
	"fmt"
	"strings"

	"github.com/pbt-oracle/internal/backend"
	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/metrics"
	"github.com/pbt-oracle/internal/telemetry"
	"github.com/pbt-oracle/internal/types"
)

// DefaultPlaceholder is a value the backend can construct without concrete data
const DefaultPlaceholder = "(by decide)"

// Placeholder reasons used in logs and metrics
const (
	reasonNoGenerator = "no_generator"
	reasonExhausted   = "exhausted"
)

// Sampler requests samples type by type
type Sampler struct {
	exec        backend.Executor
	markers     *backend.Markers
	placeholder string
	maxAttempts int
	metrics     *metrics.Metrics
}

// New creates a sampler
func New(exec backend.Executor, markers *backend.Markers, cfg config.SamplingConfig, m *metrics.Metrics) *Sampler {
	placeholder := cfg.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Sampler{
		exec:        exec,
		markers:     markers,
		placeholder: placeholder,
		maxAttempts: maxAttempts,
		metrics:     m,
	}
}

// Script returns the backend script that samples typeName
func Script(typeName string) string {
	return fmt.Sprintf("\nimport Plausible\n\n#sample %s\n", typeName)
}

// SampleAll samples every parameter in order
func (s *Sampler) SampleAll(ctx context.Context, params []types.TypedParameter, n int) ([]*types.SampledColumn, error) {
	columns := make([]*types.SampledColumn, 0, len(params))
	for _, p := range params {
		col, err := s.SampleColumn(ctx, p, n)
		if err != nil {
			return nil, fmt.Errorf("sample %s : %s: %w", p.Name, p.TypeName, err)
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// SampleColumn collects at least n parenthesized literals for param.
// The backend may return fewer values than requested per call, so it is
// invoked repeatedly, at most maxAttempts times. A type with no generator,
// or a type whose attempts run out, has its remaining slots filled with the
// placeholder. Any other backend error is returned.
func (s *Sampler) SampleColumn(ctx context.Context, param types.TypedParameter, n int) (*types.SampledColumn, error) {
	ctx, span := telemetry.StartSpan(ctx, "sampler.column", telemetry.AttrTypeName.String(param.TypeName))
	defer span.End()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"param": param.Name,
		"type":  param.TypeName,
	})

	col := &types.SampledColumn{Param: param, Values: make([]string, 0, n)}
	script := backend.Script{Kind: backend.KindSample, Text: Script(param.TypeName)}

	for attempt := 0; len(col.Values) < n; attempt++ {
		if attempt >= s.maxAttempts {
			err := errors.NewSamplingExhaustedError(param.TypeName, len(col.Values), n)
			logger.WithError(err).Warn("sampling attempts exhausted, substituting placeholder")
			s.fill(col, n, reasonExhausted)
			break
		}

		out, err := backend.RunScript(ctx, s.exec, script)
		if err != nil {
			if errors.IsScriptError(err) && !errors.IsTimeout(err) && s.noGenerator(err) {
				logger.WithError(errors.NewNoGeneratorError(param.TypeName, err)).
					Info("no generator for type, substituting placeholder")
				s.fill(col, n, reasonNoGenerator)
				break
			}
			telemetry.RecordError(span, err)
			return nil, err
		}

		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			col.Values = append(col.Values, "("+line+")")
		}
	}

	logger.WithFields(map[string]interface{}{
		"values":       len(col.Values),
		"placeholders": col.Placeholders,
	}).Debug("column sampled")

	return col, nil
}

func (s *Sampler) noGenerator(err error) bool {
	catErr := errors.Categorize(err)
	return s.markers.NoGenerator(catErr.Detail("stdout") + "\n" + catErr.Detail("stderr"))
}

func (s *Sampler) fill(col *types.SampledColumn, n int, reason string) {
	missing := n - len(col.Values)
	for i := 0; i < missing; i++ {
		col.Values = append(col.Values, s.placeholder)
	}
	col.Placeholders += missing
	s.metrics.ObservePlaceholders(reason, missing)
}
