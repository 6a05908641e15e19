package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecPropName(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{
			name: "explicit property name wins",
			spec: Spec{PropertyName: "sum_prop", PropertyDef: "def other (a : Nat) : Prop := True"},
			want: "sum_prop",
		},
		{
			name: "defaults to second token of definition",
			spec: Spec{PropertyDef: "def add_spec (a b r : Nat) : Prop := r = a + b"},
			want: "add_spec",
		},
		{
			name: "empty definition",
			spec: Spec{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.PropName(); got != tt.want {
				t.Errorf("PropName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRollup(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"no results", nil, StatusPass},
		{"all pass", []Status{StatusPass, StatusPass}, StatusPass},
		{"unknown beats pass", []Status{StatusPass, StatusUnknown}, StatusUnknown},
		{"fail beats unknown", []Status{StatusUnknown, StatusFail, StatusPass}, StatusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rollup(tt.statuses); got != tt.want {
				t.Errorf("Rollup() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregateReportStatus(t *testing.T) {
	r := &AggregateReport{TotalTests: 5, Passed: 3, Unknown: 1}
	if r.Status() != StatusUnknown {
		t.Errorf("Status() = %v, want unknown", r.Status())
	}
	if r.Classified() != 4 {
		t.Errorf("Classified() = %d, want 4", r.Classified())
	}

	r.Failed = 1
	if r.Status() != StatusFail {
		t.Errorf("Status() = %v, want fail", r.Status())
	}
}

func TestTestVectorInputs(t *testing.T) {
	params := []TypedParameter{{Name: "a", TypeName: "Nat"}, {Name: "b", TypeName: "Nat"}}
	v := TestVector{"(2)", "(3)"}

	inputs := v.Inputs(params)
	if inputs["a"] != "(2)" || inputs["b"] != "(3)" {
		t.Errorf("Inputs() = %v", inputs)
	}
	if v.Key() != "(2) (3)" {
		t.Errorf("Key() = %q", v.Key())
	}
}

func TestGeneratedTestDecoding(t *testing.T) {
	var tests []GeneratedTest
	err := json.Unmarshal([]byte(`[{"input":"(1) (2)","output":"3"},"10 20 30"]`), &tests)
	require.NoError(t, err)
	require.Len(t, tests, 2)

	assert.Equal(t, "(1) (2) (3)", tests[0].Case())
	assert.Equal(t, "10 20 30", tests[1].Case())
	assert.Empty(t, tests[1].Output)

	neg := GeneratedTest{Input: "(2)", Output: "some (-1)"}
	assert.Equal(t, "(2) (some (-1))", neg.Case())
	assert.Equal(t, "", Arg("  "))
}
