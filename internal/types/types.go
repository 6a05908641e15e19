// Package types provides common type definitions for the property-based testing oracle.
package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the three-way classification of a test case or record
type Status string

const (
	// StatusPass means the property was proven for the observed output
	StatusPass Status = "pass"
	// StatusFail means the negation of the property was proven
	StatusFail Status = "fail"
	// StatusUnknown means neither side could be proven
	StatusUnknown Status = "unknown"
)

// TypedParameter is one named, typed function argument
type TypedParameter struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name"`
}

// SampledColumn holds the literal values sampled for a single parameter.
// Values are already parenthesized and ready to be used as call arguments.
type SampledColumn struct {
	Param        TypedParameter `json:"param"`
	Values       []string       `json:"values"`
	Placeholders int            `json:"placeholders"` // number of slots filled with the deferred placeholder
}

// TestVector is one literal per parameter, index-aligned with the signature
type TestVector []string

// Key returns the canonical string used for deduplication
func (v TestVector) Key() string {
	return strings.Join(v, " ")
}

// Inputs maps parameter names to the vector's literals
func (v TestVector) Inputs(params []TypedParameter) map[string]string {
	inputs := make(map[string]string, len(params))
	for i, p := range params {
		if i < len(v) {
			inputs[p.Name] = v[i]
		}
	}
	return inputs
}

// Verdict is the oracle's classification of one input/output pair
type Verdict struct {
	Status   Status `json:"status"`
	Feedback string `json:"feedback"`
}

// Failure is the evidence recorded for a failing test case
type Failure struct {
	Inputs map[string]string `json:"inputs"`
	Output string            `json:"output"`
}

// AggregateReport summarizes a property-based testing run
type AggregateReport struct {
	TotalTests int       `json:"total_tests"`
	Passed     int       `json:"passed"`
	Unknown    int       `json:"unknown"`
	Failed     int       `json:"failed"`
	Failures   []Failure `json:"failures"`
}

// Classified returns the number of test vectors that received a verdict
func (r *AggregateReport) Classified() int {
	return r.Passed + r.Unknown + r.Failed
}

// Status rolls the report up into a single record status
func (r *AggregateReport) Status() Status {
	switch {
	case r.Failed > 0:
		return StatusFail
	case r.Unknown > 0:
		return StatusUnknown
	default:
		return StatusPass
	}
}

// ProofCheck is the acceptance decision for one proof script
type ProofCheck struct {
	Accepted   bool   `json:"accepted"`
	Outcome    string `json:"outcome"`
	Transcript string `json:"transcript"`
}

// PlausibleReport is produced instead of an AggregateReport when a record
// carries no property definition and only the counterexample search runs
type PlausibleReport struct {
	Output string `json:"output"`
}

// GeneratedTest is one input/output example produced by test generation
type GeneratedTest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// UnmarshalJSON accepts both the object form and a bare string holding the
// whole rendered case, which is kept as the input
func (t *GeneratedTest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = GeneratedTest{Input: s}
		return nil
	}
	type plain GeneratedTest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = GeneratedTest(p)
	return nil
}

// Case renders the test as property arguments: inputs then the
// parenthesized output
func (t GeneratedTest) Case() string {
	return strings.TrimSpace(t.Input + " " + Arg(t.Output))
}

// Arg parenthesizes a literal so it is passed as a single argument.
// Applications, negative numbers and arrays otherwise split or bind wrongly.
func Arg(literal string) string {
	literal = strings.TrimSpace(literal)
	if literal == "" {
		return ""
	}
	return "(" + literal + ")"
}

// ExampleResult is the outcome of running a candidate against its example tests
type ExampleResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Passed  int    `json:"tests_passed"`
	Total   int    `json:"tests_total"`
}

// Spec is the property-specification record consumed by the tester and oracle
type Spec struct {
	Description       string          `json:"description"`
	FunctionSignature string          `json:"function_signature"`
	PropertyName      string          `json:"property_name,omitempty"`
	PropertyDef       string          `json:"property_def,omitempty"`
	TheoremSignature  string          `json:"theorem_signature,omitempty"`
	Theorem2Signature string          `json:"theorem2_signature,omitempty"`
	CodeSolution      string          `json:"code_solution"`
	Deps              string          `json:"deps,omitempty"`
	Tests             []GeneratedTest `json:"tests,omitempty"`
}

// PropName returns the property name, defaulting to the second
// whitespace token of the property definition
func (s *Spec) PropName() string {
	if s.PropertyName != "" {
		return s.PropertyName
	}
	fields := strings.Fields(s.PropertyDef)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// Rollup combines per-test statuses: fail if any failed, else unknown if
// any is unknown, else pass
func Rollup(statuses []Status) Status {
	result := StatusPass
	for _, s := range statuses {
		if s == StatusFail {
			return StatusFail
		}
		if s == StatusUnknown {
			result = StatusUnknown
		}
	}
	return result
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// RunSummary describes one batch run in the run ledger
type RunSummary struct {
	ID         string     `json:"id"`
	Mode       string     `json:"mode"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Processed  int        `json:"processed"`
	Dropped    int        `json:"dropped"`
}

// RunRecord is one completed record persisted for a run
type RunRecord struct {
	RunID     string    `json:"runId"`
	Index     int       `json:"index"`
	Status    Status    `json:"status"`
	Payload   []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}
