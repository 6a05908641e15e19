package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pbt-oracle/internal/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		sig        string
		wantName   string
		wantParams []types.TypedParameter
		wantResult string
	}{
		{
			name:     "shared type group",
			sig:      "def add (a b : Nat) : Nat",
			wantName: "add",
			wantParams: []types.TypedParameter{
				{Name: "a", TypeName: "Nat"},
				{Name: "b", TypeName: "Nat"},
			},
			wantResult: "Nat",
		},
		{
			name:     "comma separated names and several groups",
			sig:      "def f (x, y : Int) (s : String) : Bool",
			wantName: "f",
			wantParams: []types.TypedParameter{
				{Name: "x", TypeName: "Int"},
				{Name: "y", TypeName: "Int"},
				{Name: "s", TypeName: "String"},
			},
			wantResult: "Bool",
		},
		{
			name:     "nested parentheses in type",
			sig:      "def zipSum (xs : List (Nat × Nat)) : List Nat",
			wantName: "zipSum",
			wantParams: []types.TypedParameter{
				{Name: "xs", TypeName: "List (Nat × Nat)"},
			},
			wantResult: "List Nat",
		},
		{
			name:     "implicit and instance binders are skipped",
			sig:      "def dedup {α : Type} [BEq α] (xs : List α) : List α",
			wantName: "dedup",
			wantParams: []types.TypedParameter{
				{Name: "xs", TypeName: "List α"},
			},
			wantResult: "List α",
		},
		{
			name:     "group without colon is skipped",
			sig:      "def g (oops) (n : Nat) : Nat",
			wantName: "g",
			wantParams: []types.TypedParameter{
				{Name: "n", TypeName: "Nat"},
			},
			wantResult: "Nat",
		},
		{
			name:       "body after result type is dropped",
			sig:        "def one (u : Unit) : Nat := 1",
			wantName:   "one",
			wantParams: []types.TypedParameter{{Name: "u", TypeName: "Unit"}},
			wantResult: "Nat",
		},
		{
			name:     "no keyword",
			sig:      "max3 (a b c : Nat) : Nat",
			wantName: "max3",
			wantParams: []types.TypedParameter{
				{Name: "a", TypeName: "Nat"},
				{Name: "b", TypeName: "Nat"},
				{Name: "c", TypeName: "Nat"},
			},
			wantResult: "Nat",
		},
		{
			name:       "function type parameter",
			sig:        "def apply (f : Nat → Nat) (n : Nat) : Nat",
			wantName:   "apply",
			wantParams: []types.TypedParameter{{Name: "f", TypeName: "Nat → Nat"}, {Name: "n", TypeName: "Nat"}},
			wantResult: "Nat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.sig)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantParams, got.Params)
			assert.Equal(t, tt.wantResult, got.ResultType)
		})
	}
}

func TestFunctionName(t *testing.T) {
	tests := []struct {
		sig  string
		want string
	}{
		{"def add (a b : Nat) : Nat", "add"},
		{"def defaultValue (n : Nat) : Nat", "defaultValue"},
		{"partial def loop (n : Nat) : Nat", "loop"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := FunctionName(tt.sig); got != tt.want {
			t.Errorf("FunctionName(%q) = %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	s := Parse("def answer : Nat")
	assert.Equal(t, "answer", s.Name)
	assert.Empty(t, s.Params)
	assert.Equal(t, "Nat", s.ResultType)
}

func TestFunctionNameWithAttribute(t *testing.T) {
	assert.Equal(t, "f", FunctionName("@[simp] def f (n : Nat) : Nat"))
}
