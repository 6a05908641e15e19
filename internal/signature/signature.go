// Package signature parses textual function signatures of the form
//
//	def name (a b : T) (c, d : U) : R
//
// into an ordered list of typed parameters.
package signature

import (
	"strings"
	"unicode"

	"github.com/pbt-oracle/internal/types"
)

// Signature is the parsed form of a function signature
type Signature struct {
	Name       string
	Params     []types.TypedParameter
	ResultType string
}

var closers = map[rune]rune{
	'(': ')',
	'[': ']',
	'{': '}',
	'⦃': '⦄',
}

// Parse splits sig into explicit parameter groups and the result type.
// Only top-level parenthesized groups become parameters; implicit and
// instance binders are skipped. A group without ':' is skipped.
func Parse(sig string) *Signature {
	s := &Signature{Name: FunctionName(sig)}

	var (
		stack      []rune
		groupStart = -1
		runes      = []rune(sig)
	)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if len(stack) > 0 && r == stack[len(stack)-1] {
			stack = stack[:len(stack)-1]
			if len(stack) == 0 && r == ')' && groupStart >= 0 {
				s.Params = append(s.Params, parseGroup(string(runes[groupStart:i]))...)
				groupStart = -1
			}
			continue
		}

		if closer, ok := closers[r]; ok {
			if len(stack) == 0 && r == '(' {
				groupStart = i + 1
			}
			stack = append(stack, closer)
			continue
		}

		if len(stack) == 0 && r == ':' {
			if i+1 < len(runes) && runes[i+1] == '=' {
				break
			}
			s.ResultType = resultType(string(runes[i+1:]))
			break
		}
	}

	return s
}

// Params returns the typed parameters of sig
func Params(sig string) []types.TypedParameter {
	return Parse(sig).Params
}

// FunctionName returns the name being defined: the text before the first
// binder with any leading definition keyword removed
func FunctionName(sig string) string {
	head := strings.TrimSpace(sig)
	if strings.HasPrefix(head, "@[") {
		if end := strings.Index(head, "]"); end >= 0 {
			head = head[end+1:]
		}
	}
	if idx := strings.IndexAny(head, "([{⦃:"); idx >= 0 {
		head = head[:idx]
	}
	fields := strings.Fields(head)
	for len(fields) > 0 && isKeyword(fields[0]) {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func isKeyword(tok string) bool {
	switch tok {
	case "def", "partial", "private", "protected", "noncomputable":
		return true
	}
	return false
}

// parseGroup turns "a b : T" into one parameter per name
func parseGroup(group string) []types.TypedParameter {
	idx := strings.Index(group, ":")
	if idx < 0 {
		return nil
	}

	typeName := strings.TrimSpace(group[idx+1:])
	names := strings.FieldsFunc(group[:idx], func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})

	params := make([]types.TypedParameter, 0, len(names))
	for _, name := range names {
		params = append(params, types.TypedParameter{Name: name, TypeName: typeName})
	}
	return params
}

// resultType trims the text after the top-level ':' and drops any body
func resultType(rest string) string {
	if idx := strings.Index(rest, ":="); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}
