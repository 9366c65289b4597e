// Package compiler turns CUE rule documents into registered rule
// definitions. CUE is the authoring format: constraints, defaults, and
// string interpolation run at compile time, and the result decodes into
// the same rule structures the JSON loader produces.
//
// A document either declares a top-level "rules" list or is itself a
// single rule struct:
//
//	rules: [{
//		id:      "order-timeout"
//		name:    "Order timeout"
//		trigger: {type: "event", topic: "order.created"}
//		actions: [{type: "startTimer", timer: "order-\(id)", durationMs: 60000}]
//	}]
package compiler

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/emberfall/cinder/internal/faults"
	"github.com/emberfall/cinder/internal/rule"
)

// CompileRules evaluates CUE source and decodes the rule set. filename
// is used in error positions only.
func CompileRules(filename, source string) ([]*rule.Rule, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(source, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, compileError(filename, err)
	}
	if rules := v.LookupPath(cue.ParsePath("rules")); rules.Exists() {
		v = rules
	}

	if v.Kind() == cue.ListKind {
		var out []*rule.Rule
		iter, err := v.List()
		if err != nil {
			return nil, compileError(filename, err)
		}
		for iter.Next() {
			r, err := decodeRule(filename, iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil
	}

	r, err := decodeRule(filename, v)
	if err != nil {
		return nil, err
	}
	return []*rule.Rule{r}, nil
}

func decodeRule(filename string, v cue.Value) (*rule.Rule, error) {
	var r rule.Rule
	if err := v.Decode(&r); err != nil {
		return nil, compileError(filename, err)
	}
	return &r, nil
}

func compileError(filename string, err error) error {
	return faults.New(faults.CodeValidation, "compile %s: %s", filename, cueerrors.Details(err, nil))
}
