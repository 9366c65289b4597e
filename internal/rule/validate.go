package rule

import (
	"regexp"
	"strings"

	"github.com/emberfall/cinder/internal/faults"
	"github.com/emberfall/cinder/internal/pattern"
)

// Validate checks a rule document before it is committed to the registry.
// On failure no registry state mutates; the returned error carries
// CodeValidation (structural problems) or CodeBadRequest (unknown
// operator, unparseable regex).
//
// The returned warnings flag template references that cannot resolve to
// any binding the trigger can produce. Per the registry contract these
// are advisory only.
func Validate(r *Rule) ([]string, error) {
	if r == nil {
		return nil, faults.Validation("rule is nil")
	}
	if strings.TrimSpace(r.ID) == "" {
		return nil, faults.Validation("rule id must be non-empty")
	}
	if strings.TrimSpace(r.Name) == "" {
		return nil, faults.Validation("rule %s: name must be non-empty", r.ID)
	}
	if err := validateTrigger(r.ID, &r.Trigger); err != nil {
		return nil, err
	}
	for i := range r.Conditions {
		if err := validateCondition(r.ID, &r.Conditions[i]); err != nil {
			return nil, err
		}
	}
	var warnings []string
	for i := range r.Actions {
		w, err := validateAction(r.ID, &r.Actions[i])
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, w...)
	}
	return warnings, nil
}

func validateTrigger(id string, t *Trigger) error {
	switch t.Type {
	case TriggerEvent:
		if !pattern.IsValid(t.Topic, pattern.TopicSep) {
			return faults.Validation("rule %s: event trigger requires a topic", id)
		}
	case TriggerFact:
		if !pattern.IsValid(t.Pattern, pattern.FactSep) {
			return faults.Validation("rule %s: fact trigger requires a key pattern", id)
		}
	case TriggerTimer:
		if t.Timer == "" {
			return faults.Validation("rule %s: timer trigger requires a name", id)
		}
	case TriggerTemporal:
		if t.Temporal == nil {
			return faults.Validation("rule %s: temporal trigger requires a pattern", id)
		}
		return validateTemporal(id, t.Temporal)
	default:
		return faults.Validation("rule %s: unknown trigger type %q", id, t.Type)
	}
	return nil
}

func validateTemporal(id string, p *TemporalPattern) error {
	if p.WithinMs <= 0 {
		return faults.Validation("rule %s: temporal pattern requires withinMs > 0", id)
	}
	switch p.Kind {
	case TemporalSequence:
		if len(p.Events) < 2 {
			return faults.Validation("rule %s: sequence requires at least two events", id)
		}
		for _, topic := range p.Events {
			if !pattern.IsValid(topic, pattern.TopicSep) {
				return faults.Validation("rule %s: sequence has invalid topic %q", id, topic)
			}
		}
	case TemporalAbsence:
		if !pattern.IsValid(p.Event, pattern.TopicSep) {
			return faults.Validation("rule %s: absence requires an event topic", id)
		}
		if p.After != "" && !pattern.IsValid(p.After, pattern.TopicSep) {
			return faults.Validation("rule %s: absence has invalid after topic %q", id, p.After)
		}
	case TemporalCount:
		if !pattern.IsValid(p.Event, pattern.TopicSep) {
			return faults.Validation("rule %s: count requires an event topic", id)
		}
		if p.Threshold < 1 {
			return faults.Validation("rule %s: count requires threshold >= 1", id)
		}
		switch p.Op {
		case "", CountOpGTE, CountOpGT, CountOpEQ:
		default:
			return faults.BadRequest("rule %s: unknown count op %q", id, p.Op)
		}
	case TemporalAggregate:
		if !pattern.IsValid(p.Event, pattern.TopicSep) {
			return faults.Validation("rule %s: aggregate requires an event topic", id)
		}
		if p.Field == "" && p.Aggregator != AggCount {
			return faults.Validation("rule %s: aggregate requires a field path", id)
		}
		switch p.Aggregator {
		case AggSum, AggAvg, AggMin, AggMax, AggCount:
		default:
			return faults.Validation("rule %s: unknown aggregator %q", id, p.Aggregator)
		}
		switch Operator(p.Op) {
		case OpGt, OpGte, OpLt, OpLte, OpEq, OpNe:
		default:
			return faults.BadRequest("rule %s: unknown aggregate op %q", id, p.Op)
		}
	default:
		return faults.Validation("rule %s: unknown temporal kind %q", id, p.Kind)
	}
	return nil
}

func validateCondition(id string, c *Condition) error {
	if !c.Operator.Known() {
		return faults.BadRequest("rule %s: unknown operator %q", id, c.Operator)
	}
	if c.Operator.IsCombinator() {
		if c.Source != nil {
			return faults.Validation("rule %s: combinator %q must not carry a source", id, c.Operator)
		}
		if len(c.Conditions) == 0 {
			return faults.Validation("rule %s: combinator %q requires child conditions", id, c.Operator)
		}
		if c.Operator == OpNot && len(c.Conditions) != 1 {
			return faults.Validation("rule %s: not requires exactly one child", id)
		}
		for i := range c.Conditions {
			if err := validateCondition(id, &c.Conditions[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if c.Source == nil {
		return faults.Validation("rule %s: condition with operator %q requires a source", id, c.Operator)
	}
	if err := validateSource(id, c.Source); err != nil {
		return err
	}

	if c.Operator.IsUnary() {
		if c.Value != nil {
			return faults.Validation("rule %s: unary operator %q forbids a value", id, c.Operator)
		}
		return nil
	}
	if c.Value == nil {
		return faults.Validation("rule %s: operator %q requires a value", id, c.Operator)
	}
	if _, isRef := RefValue(c.Value); isRef {
		return nil // resolved against the binding context at evaluation time
	}
	switch c.Operator {
	case OpMatches:
		s, ok := c.Value.(string)
		if !ok {
			return faults.BadRequest("rule %s: matches requires a string pattern", id)
		}
		if _, err := regexp.Compile(s); err != nil {
			return faults.Wrap(faults.CodeBadRequest, err, "rule %s: invalid regex %q", id, s)
		}
	case OpIn, OpNotIn:
		if _, ok := c.Value.([]any); !ok {
			return faults.Validation("rule %s: %s requires an array value", id, c.Operator)
		}
	case OpBetween:
		arr, ok := c.Value.([]any)
		if !ok || len(arr) != 2 {
			return faults.Validation("rule %s: between requires a [lo, hi] pair", id)
		}
	}
	return nil
}

func validateSource(id string, s *Source) error {
	switch s.Type {
	case SourceFact:
		if !pattern.IsValid(s.Pattern, pattern.FactSep) {
			return faults.Validation("rule %s: fact source requires a key pattern", id)
		}
	case SourceEvent:
		if s.Field == "" {
			return faults.Validation("rule %s: event source requires a field path", id)
		}
	case SourceContext:
		if s.Key == "" {
			return faults.Validation("rule %s: context source requires a key", id)
		}
	case SourceLookup:
		if s.Name == "" {
			return faults.Validation("rule %s: lookup source requires a name", id)
		}
	case SourceBaseline:
		if s.Metric == "" {
			return faults.Validation("rule %s: baseline source requires a metric", id)
		}
		switch s.Comparison {
		case BaselineAbove, BaselineBelow, BaselineDeviates:
		default:
			return faults.Validation("rule %s: unknown baseline comparison %q", id, s.Comparison)
		}
	default:
		return faults.Validation("rule %s: unknown source type %q", id, s.Type)
	}
	return nil
}

// templateRef matches {{path}} references in action string fields.
var templateRef = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

func validateAction(id string, a *Action) ([]string, error) {
	if !KnownActionType(a.Type) {
		return nil, faults.Validation("rule %s: unknown action type %q", id, a.Type)
	}
	switch a.Type {
	case ActionSetFact, ActionDeleteFact:
		if a.Key == "" {
			return nil, faults.Validation("rule %s: %s requires a key", id, a.Type)
		}
	case ActionEmitEvent:
		if a.Topic == "" {
			return nil, faults.Validation("rule %s: emitEvent requires a topic", id)
		}
	case ActionStartTimer:
		if a.Timer == "" {
			return nil, faults.Validation("rule %s: startTimer requires a name", id)
		}
		if a.DurationMs <= 0 {
			return nil, faults.Validation("rule %s: startTimer requires durationMs > 0", id)
		}
	case ActionCancelTimer:
		if a.Timer == "" {
			return nil, faults.Validation("rule %s: cancelTimer requires a name", id)
		}
	case ActionCallWebhook:
		if a.URL == "" {
			return nil, faults.Validation("rule %s: callWebhook requires a url", id)
		}
	case ActionLog:
		if a.Message == "" {
			return nil, faults.Validation("rule %s: log requires a message", id)
		}
	}
	return templateWarnings(id, a), nil
}

// templateWarnings flags template references whose root binding can never
// exist for any trigger (advisory only; e.g. "{{evnt.id}}" is a typo).
var knownTemplateRoots = map[string]bool{
	"event": true, "fact": true, "timer": true, "context": true,
	"rule": true, "events": true, "correlationId": true,
}

func templateWarnings(id string, a *Action) []string {
	var warnings []string
	for _, s := range []string{a.Key, a.Topic, a.Timer, a.URL, a.Message} {
		for _, m := range templateRef.FindAllStringSubmatch(s, -1) {
			root, _, _ := strings.Cut(m[1], ".")
			if strings.HasPrefix(root, "$") {
				continue // wildcard captures bind at match time
			}
			if !knownTemplateRoots[root] {
				warnings = append(warnings,
					"rule "+id+": template reference {{"+m[1]+"}} has unknown root "+root)
			}
		}
	}
	return warnings
}
