package engine

import (
	"context"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"github.com/emberfall/cinder/internal/baseline"
	"github.com/emberfall/cinder/internal/facts"
	"github.com/emberfall/cinder/internal/faults"
	"github.com/emberfall/cinder/internal/lookup"
	"github.com/emberfall/cinder/internal/rule"
	"github.com/emberfall/cinder/internal/value"
)

// evaluator resolves condition trees against a binding. It lives on the
// dispatch goroutine; the regex cache needs no locking.
type evaluator struct {
	facts    *facts.Store
	lookups  *lookup.Registry
	baseline *baseline.Tracker
	log      *slog.Logger

	regexes map[string]*regexp.Regexp
}

func newEvaluator(f *facts.Store, l *lookup.Registry, bl *baseline.Tracker, log *slog.Logger) *evaluator {
	return &evaluator{
		facts:    f,
		lookups:  l,
		baseline: bl,
		log:      log,
		regexes:  make(map[string]*regexp.Regexp),
	}
}

// evalAll evaluates an ordered condition list as an implicit AND. An
// empty list is vacuously true.
func (ev *evaluator) evalAll(ctx context.Context, conds []rule.Condition, b *binding) (bool, error) {
	for i := range conds {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, err := ev.eval(ctx, &conds[i], b)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (ev *evaluator) eval(ctx context.Context, c *rule.Condition, b *binding) (bool, error) {
	switch c.Operator {
	case rule.OpAnd:
		return ev.evalAll(ctx, c.Conditions, b)
	case rule.OpOr:
		for i := range c.Conditions {
			ok, err := ev.eval(ctx, &c.Conditions[i], b)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case rule.OpNot:
		ok, err := ev.evalAll(ctx, c.Conditions, b)
		return !ok, err
	}

	actual, present := ev.resolveSource(ctx, c.Source, b)

	// Absent values fail every comparison except the ones that assert
	// absence.
	if !present {
		switch c.Operator {
		case rule.OpNotExists, rule.OpIsNull, rule.OpNotIn:
			return true, nil
		}
		return false, nil
	}

	switch c.Operator {
	case rule.OpExists:
		return true, nil
	case rule.OpNotExists:
		return false, nil
	case rule.OpIsNull:
		return actual == nil, nil
	case rule.OpIsNotNull:
		return actual != nil, nil
	}

	expected := c.Value
	if ref, isRef := rule.RefValue(c.Value); isRef {
		resolved, ok := b.Resolve(ref)
		if !ok {
			return false, nil
		}
		expected = resolved
	}

	switch c.Operator {
	case rule.OpEq:
		return equals(actual, expected), nil
	case rule.OpNe:
		return !equals(actual, expected), nil
	case rule.OpGt, rule.OpGte, rule.OpLt, rule.OpLte:
		return ordered(actual, expected, c.Operator), nil
	case rule.OpBetween:
		return between(actual, expected), nil
	case rule.OpIn:
		return inList(actual, expected), nil
	case rule.OpNotIn:
		return !inList(actual, expected), nil
	case rule.OpContains:
		return contains(actual, expected), nil
	case rule.OpStartsWith:
		as, aok := actual.(string)
		es, eok := expected.(string)
		return aok && eok && strings.HasPrefix(as, es), nil
	case rule.OpEndsWith:
		as, aok := actual.(string)
		es, eok := expected.(string)
		return aok && eok && strings.HasSuffix(as, es), nil
	case rule.OpMatches:
		return ev.matches(actual, expected)
	}
	return false, faults.BadRequest("unknown operator %q", c.Operator)
}

// resolveSource reads the condition's left-hand value. The second return
// is false when the source has no value to offer (missing fact, missing
// event field, failed lookup).
func (ev *evaluator) resolveSource(ctx context.Context, s *rule.Source, b *binding) (any, bool) {
	if s == nil {
		return nil, false
	}
	switch s.Type {
	case rule.SourceFact:
		f, ok := ev.facts.First(s.Pattern)
		if !ok {
			return nil, false
		}
		return f.Value, true

	case rule.SourceEvent:
		return b.Resolve("event." + s.Field)

	case rule.SourceContext:
		return b.Resolve(s.Key)

	case rule.SourceLookup:
		result, err := ev.lookups.Invoke(ctx, s.Name, nil)
		if err != nil {
			ev.log.Warn("lookup failed during evaluation", "lookup", s.Name, "error", err)
			return nil, false
		}
		if s.Field == "" {
			return result, true
		}
		if m, ok := result.(map[string]any); ok {
			return value.GetPath(m, s.Field)
		}
		return nil, false

	case rule.SourceBaseline:
		sensitivity := s.Sensitivity
		if sensitivity == 0 {
			sensitivity = rule.DefaultSensitivity
		}
		result, ok := ev.baseline.Evaluate(s.Metric, s.Comparison, sensitivity)
		if !ok {
			return nil, false
		}
		return result, true
	}
	return nil, false
}

func (ev *evaluator) matches(actual, expected any) (bool, error) {
	s, ok := actual.(string)
	if !ok {
		return false, nil
	}
	pat, ok := expected.(string)
	if !ok {
		return false, faults.BadRequest("matches requires a string pattern")
	}
	re, cached := ev.regexes[pat]
	if !cached {
		var err error
		re, err = regexp.Compile(pat)
		if err != nil {
			return false, faults.Wrap(faults.CodeBadRequest, err, "compile pattern %q", pat)
		}
		ev.regexes[pat] = re
	}
	return re.MatchString(s), nil
}

// equals compares with same-type-wins semantics: two numbers compare
// numerically regardless of concrete type, everything else compares
// structurally. Cross-type comparisons are false, never coerced.
func equals(a, b any) bool {
	af, aNum := value.ToFloat(a)
	bf, bNum := value.ToFloat(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func ordered(a, b any, op rule.Operator) bool {
	if af, aok := value.ToFloat(a); aok {
		bf, bok := value.ToFloat(b)
		if !bok {
			return false
		}
		switch op {
		case rule.OpGt:
			return af > bf
		case rule.OpGte:
			return af >= bf
		case rule.OpLt:
			return af < bf
		case rule.OpLte:
			return af <= bf
		}
		return false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return false
	}
	switch op {
	case rule.OpGt:
		return as > bs
	case rule.OpGte:
		return as >= bs
	case rule.OpLt:
		return as < bs
	case rule.OpLte:
		return as <= bs
	}
	return false
}

func between(actual, bounds any) bool {
	pair, ok := bounds.([]any)
	if !ok || len(pair) != 2 {
		return false
	}
	v, vok := value.ToFloat(actual)
	lo, lok := value.ToFloat(pair[0])
	hi, hok := value.ToFloat(pair[1])
	return vok && lok && hok && v >= lo && v <= hi
}

func inList(actual, list any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if equals(actual, item) {
			return true
		}
	}
	return false
}

func contains(actual, expected any) bool {
	switch t := actual.(type) {
	case string:
		s, ok := expected.(string)
		return ok && strings.Contains(t, s)
	case []any:
		for _, item := range t {
			if equals(item, expected) {
				return true
			}
		}
	}
	return false
}
