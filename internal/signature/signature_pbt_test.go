package signature

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var typeGen = gen.OneConstOf("Nat", "Int", "String", "List Nat", "Array (List Int)", "Nat × Bool")

var identGen = gen.Identifier().SuchThat(func(s string) bool {
	return s != "" && !isKeyword(s)
})

func TestParseRoundTripProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// Property: every name of every group comes back, in order, with its group's type
	properties.Property("groups round-trip", prop.ForAll(
		func(names []string, typ string, sep string) bool {
			if len(names) == 0 {
				return true
			}
			sig := fmt.Sprintf("def f (%s : %s) (last : Nat) : Bool", strings.Join(names, sep), typ)
			params := Params(sig)
			if len(params) != len(names)+1 {
				return false
			}
			for i, n := range names {
				if params[i].Name != n || params[i].TypeName != typ {
					return false
				}
			}
			return params[len(names)].Name == "last"
		},
		gen.SliceOfN(4, identGen),
		typeGen,
		gen.OneConstOf(" ", ", ", ","),
	))

	properties.TestingRun(t)
}
