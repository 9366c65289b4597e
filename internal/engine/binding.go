package engine

import (
	"strconv"

	"github.com/emberfall/cinder/internal/bus"
	"github.com/emberfall/cinder/internal/facts"
	"github.com/emberfall/cinder/internal/rule"
	"github.com/emberfall/cinder/internal/temporal"
	"github.com/emberfall/cinder/internal/timers"
	"github.com/emberfall/cinder/internal/value"
)

// binding is the evaluation context for one candidate rule: the
// trigger's payload under well-known roots (event, fact, timer,
// context, events), wildcard captures under $1..$n, and the correlation
// chain the firing belongs to.
type binding struct {
	data map[string]any

	// correlation and causation seed events emitted by actions.
	correlation string
	causation   string
}

// eventMap flattens an event for binding resolution: data fields at the
// top level, envelope fields alongside. Data fields win on collision so
// "event.orderId" always reads the payload.
func eventMap(ev bus.Event) map[string]any {
	m := map[string]any{
		"id":            ev.ID,
		"topic":         ev.Topic,
		"timestamp":     ev.Timestamp,
		"correlationId": ev.CorrelationID,
		"causationId":   ev.CausationID,
	}
	if ev.Source != "" {
		m["source"] = ev.Source
	}
	for k, v := range ev.Data {
		m[k] = v
	}
	return m
}

func bindEvent(ev bus.Event) *binding {
	return &binding{
		data: map[string]any{
			"event":         eventMap(ev),
			"correlationId": ev.CorrelationID,
		},
		correlation: ev.CorrelationID,
		causation:   ev.ID,
	}
}

func bindFactChange(ch facts.Change) *binding {
	return &binding{
		data: map[string]any{
			"fact": map[string]any{
				"key":      ch.Key,
				"value":    ch.NewValue,
				"oldValue": ch.OldValue,
				"version":  ch.Version,
				"deleted":  ch.Deleted,
			},
		},
	}
}

func bindTimer(f timers.Fired) *binding {
	b := &binding{
		data: map[string]any{
			"timer": map[string]any{
				"name":    f.Timer.Name,
				"firedAt": f.At,
				"context": f.Timer.Context,
			},
			"context": f.Timer.Context,
		},
	}
	// Timers armed by a rule firing carry the chain's correlation in
	// their context snapshot.
	if corr, ok := f.Timer.Context["correlationId"].(string); ok {
		b.correlation = corr
		b.data["correlationId"] = corr
	}
	return b
}

func bindTemporal(m temporal.Match) *binding {
	evs := make([]any, len(m.Events))
	for i, ev := range m.Events {
		evs[i] = eventMap(ev)
	}
	b := &binding{data: map[string]any{
		"events":   evs,
		"matchKey": m.Key,
	}}
	if first, ok := m.First(); ok {
		b.data["event"] = eventMap(first)
		b.correlation = first.CorrelationID
		b.data["correlationId"] = first.CorrelationID
	}
	if n := len(m.Events); n > 0 {
		b.causation = m.Events[n-1].ID
	}
	return b
}

// withRule sets the candidate rule's identity roots.
func (b *binding) withRule(r *rule.Rule) {
	b.data["rule"] = map[string]any{"id": r.ID, "name": r.Name}
}

// withCaptures binds wildcard captures as $1..$n.
func (b *binding) withCaptures(captures []string) {
	for i, c := range captures {
		b.data["$"+strconv.Itoa(i+1)] = c
	}
}

// Resolve reads a dotted path from the binding context. "$N" paths read
// wildcard captures directly.
func (b *binding) Resolve(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	if path[0] == '$' {
		v, ok := b.data[path]
		return v, ok
	}
	return value.GetPath(b.data, path)
}
