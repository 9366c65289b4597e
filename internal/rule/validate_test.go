package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberfall/cinder/internal/faults"
)

func validRule() *Rule {
	return &Rule{
		ID:      "r-1",
		Name:    "Rule one",
		Trigger: Trigger{Type: TriggerEvent, Topic: "order.created"},
		Actions: []Action{{Type: ActionLog, Message: "hit"}},
	}
}

func TestValidate_OK(t *testing.T) {
	warnings, err := Validate(validRule())
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidate_StructuralErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"empty id", func(r *Rule) { r.ID = " " }},
		{"empty name", func(r *Rule) { r.Name = "" }},
		{"unknown trigger", func(r *Rule) { r.Trigger.Type = "cron" }},
		{"event trigger without topic", func(r *Rule) { r.Trigger.Topic = "" }},
		{"fact trigger bad pattern", func(r *Rule) {
			r.Trigger = Trigger{Type: TriggerFact, Pattern: "a::b"}
		}},
		{"timer trigger without name", func(r *Rule) {
			r.Trigger = Trigger{Type: TriggerTimer}
		}},
		{"temporal trigger without pattern", func(r *Rule) {
			r.Trigger = Trigger{Type: TriggerTemporal}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)
			_, err := Validate(r)
			require.Error(t, err)
			assert.Equal(t, faults.CodeValidation, faults.CodeOf(err))
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	_, err := Validate(nil)
	require.Error(t, err)
}

func TestValidate_TemporalPatterns(t *testing.T) {
	base := func(p *TemporalPattern) *Rule {
		r := validRule()
		r.Trigger = Trigger{Type: TriggerTemporal, Temporal: p}
		return r
	}

	_, err := Validate(base(&TemporalPattern{
		Kind: TemporalSequence, Events: []string{"a.one", "a.two"}, WithinMs: 1000,
	}))
	assert.NoError(t, err)

	_, err = Validate(base(&TemporalPattern{
		Kind: TemporalSequence, Events: []string{"a.one"}, WithinMs: 1000,
	}))
	assert.Error(t, err, "sequence needs two events")

	_, err = Validate(base(&TemporalPattern{
		Kind: TemporalCount, Event: "login.failed", Threshold: 3, WithinMs: 1000,
	}))
	assert.NoError(t, err)

	_, err = Validate(base(&TemporalPattern{
		Kind: TemporalCount, Event: "login.failed", Threshold: 0, WithinMs: 1000,
	}))
	assert.Error(t, err, "count needs threshold")

	_, err = Validate(base(&TemporalPattern{
		Kind: TemporalCount, Event: "x", Threshold: 1, Op: "!=", WithinMs: 1000,
	}))
	require.Error(t, err)
	assert.Equal(t, faults.CodeBadRequest, faults.CodeOf(err))

	_, err = Validate(base(&TemporalPattern{
		Kind: TemporalAggregate, Event: "tx.settled", Field: "amount",
		Aggregator: AggSum, Op: "gt", Value: 100, WithinMs: 1000,
	}))
	assert.NoError(t, err)

	_, err = Validate(base(&TemporalPattern{
		Kind: TemporalAggregate, Event: "tx.settled",
		Aggregator: AggCount, Op: "gte", Value: 5, WithinMs: 1000,
	}))
	assert.NoError(t, err, "count aggregator needs no field")

	_, err = Validate(base(&TemporalPattern{
		Kind: TemporalAbsence, Event: "pay.done", WithinMs: 0,
	}))
	assert.Error(t, err, "window must be positive")
}

func TestValidate_Conditions(t *testing.T) {
	withCond := func(c Condition) *Rule {
		r := validRule()
		r.Conditions = []Condition{c}
		return r
	}

	// Unknown operator is a bad request, not a validation error.
	_, err := Validate(withCond(Condition{
		Source:   &Source{Type: SourceEvent, Field: "x"},
		Operator: "xor",
		Value:    1,
	}))
	require.Error(t, err)
	assert.Equal(t, faults.CodeBadRequest, faults.CodeOf(err))

	// Leaf without a source.
	_, err = Validate(withCond(Condition{Operator: OpEq, Value: 1}))
	assert.Error(t, err)

	// Unary with a value.
	_, err = Validate(withCond(Condition{
		Source:   &Source{Type: SourceEvent, Field: "x"},
		Operator: OpExists,
		Value:    1,
	}))
	assert.Error(t, err)

	// Binary without a value.
	_, err = Validate(withCond(Condition{
		Source:   &Source{Type: SourceEvent, Field: "x"},
		Operator: OpEq,
	}))
	assert.Error(t, err)

	// Bad regex.
	_, err = Validate(withCond(Condition{
		Source:   &Source{Type: SourceEvent, Field: "x"},
		Operator: OpMatches,
		Value:    "([",
	}))
	require.Error(t, err)
	assert.Equal(t, faults.CodeBadRequest, faults.CodeOf(err))

	// in requires an array.
	_, err = Validate(withCond(Condition{
		Source:   &Source{Type: SourceEvent, Field: "x"},
		Operator: OpIn,
		Value:    "not-a-list",
	}))
	assert.Error(t, err)

	// between requires a pair.
	_, err = Validate(withCond(Condition{
		Source:   &Source{Type: SourceEvent, Field: "x"},
		Operator: OpBetween,
		Value:    []any{1},
	}))
	assert.Error(t, err)

	// Reference values skip literal shape checks.
	_, err = Validate(withCond(Condition{
		Source:   &Source{Type: SourceEvent, Field: "x"},
		Operator: OpBetween,
		Value:    map[string]any{"ref": "fact.bounds"},
	}))
	assert.NoError(t, err)
}

func TestValidate_Combinators(t *testing.T) {
	leaf := Condition{
		Source:   &Source{Type: SourceEvent, Field: "x"},
		Operator: OpExists,
	}

	r := validRule()
	r.Conditions = []Condition{{Operator: OpNot, Conditions: []Condition{leaf}}}
	_, err := Validate(r)
	assert.NoError(t, err)

	// not with two children.
	r = validRule()
	r.Conditions = []Condition{{Operator: OpNot, Conditions: []Condition{leaf, leaf}}}
	_, err = Validate(r)
	assert.Error(t, err)

	// Combinator with a source.
	r = validRule()
	r.Conditions = []Condition{{
		Operator:   OpAnd,
		Source:     &Source{Type: SourceEvent, Field: "x"},
		Conditions: []Condition{leaf},
	}}
	_, err = Validate(r)
	assert.Error(t, err)

	// Combinator without children.
	r = validRule()
	r.Conditions = []Condition{{Operator: OpOr}}
	_, err = Validate(r)
	assert.Error(t, err)
}

func TestValidate_Sources(t *testing.T) {
	withSource := func(s Source) *Rule {
		r := validRule()
		r.Conditions = []Condition{{Source: &s, Operator: OpExists}}
		return r
	}

	_, err := Validate(withSource(Source{Type: SourceFact, Pattern: "customer:*:score"}))
	assert.NoError(t, err)
	_, err = Validate(withSource(Source{Type: SourceFact}))
	assert.Error(t, err)
	_, err = Validate(withSource(Source{Type: SourceLookup}))
	assert.Error(t, err)
	_, err = Validate(withSource(Source{Type: SourceBaseline, Metric: "rate", Comparison: "sideways"}))
	assert.Error(t, err)
	_, err = Validate(withSource(Source{Type: SourceBaseline, Metric: "rate", Comparison: BaselineAbove}))
	assert.NoError(t, err)
	_, err = Validate(withSource(Source{Type: "magic"}))
	assert.Error(t, err)
}

func TestValidate_Actions(t *testing.T) {
	withAction := func(a Action) *Rule {
		r := validRule()
		r.Actions = []Action{a}
		return r
	}

	_, err := Validate(withAction(Action{Type: "explode"}))
	assert.Error(t, err)
	_, err = Validate(withAction(Action{Type: ActionSetFact}))
	assert.Error(t, err)
	_, err = Validate(withAction(Action{Type: ActionEmitEvent}))
	assert.Error(t, err)
	_, err = Validate(withAction(Action{Type: ActionStartTimer, Timer: "t"}))
	assert.Error(t, err, "startTimer needs a duration")
	_, err = Validate(withAction(Action{Type: ActionStartTimer, Timer: "t", DurationMs: 100}))
	assert.NoError(t, err)
	_, err = Validate(withAction(Action{Type: ActionCallWebhook}))
	assert.Error(t, err)
	_, err = Validate(withAction(Action{Type: ActionLog}))
	assert.Error(t, err)
}

func TestValidate_TemplateWarnings(t *testing.T) {
	r := validRule()
	r.Actions = []Action{{Type: ActionLog, Message: "order {{evnt.id}} seen"}}

	warnings, err := Validate(r)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "evnt")
}

func TestValidate_TemplateWarnings_KnownRootsAndCaptures(t *testing.T) {
	r := validRule()
	r.Actions = []Action{{
		Type:    ActionLog,
		Message: "{{event.id}} {{fact.value}} {{$1}} {{correlationId}}",
	}}

	warnings, err := Validate(r)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}
