// Package harness runs declarative engine scenarios for tests: register
// rules, feed events and facts, advance the manual clock, and capture
// the resulting activity trace for assertions and golden comparison.
//
// Scenarios run against a real engine with deterministic collaborators
// (manual clock, sequential event ids), driven synchronously through
// Drain rather than the Run loop, so traces are reproducible.
package harness

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/emberfall/cinder/internal/bus"
	"github.com/emberfall/cinder/internal/engine"
	"github.com/emberfall/cinder/internal/metrics"
	"github.com/emberfall/cinder/internal/rule"
	"github.com/emberfall/cinder/internal/testutil"
)

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Emit       *EmitStep
	SetFact    *FactStep
	DeleteFact string
	AdvanceMs  int64 // move the manual clock forward
	Sweep      bool  // run a timer and temporal-window sweep
}

// EmitStep emits an event.
type EmitStep struct {
	Topic string
	Data  map[string]any
}

// FactStep writes a fact.
type FactStep struct {
	Key   string
	Value any
}

// Scenario is a declarative engine exercise.
type Scenario struct {
	Name  string
	Rules []*rule.Rule
	Steps []Step

	// Options append engine configuration (e.g. a lower causation depth).
	Options []engine.Option
}

// TraceEvent is one captured activity record.
type TraceEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	At      int64          `json:"at"`
}

// Result carries the executed scenario's engine and trace.
type Result struct {
	Engine *engine.Engine
	Clock  *testutil.ManualClock
	Trace  []TraceEvent
}

// activityTypes is the full notification schema; the harness records
// every one of them.
var activityTypes = []bus.ActivityType{
	bus.ActivityEvent,
	bus.ActivityFactChanged,
	bus.ActivityTimerFired,
	bus.ActivityRuleMatched,
	bus.ActivityRuleFired,
}

// Run executes the scenario and returns its result. Step failures fail
// the test immediately.
func Run(t *testing.T, s *Scenario) *Result {
	t.Helper()

	clk := testutil.NewManualClock()
	opts := []engine.Option{
		engine.WithName("test"),
		engine.WithClock(clk),
		engine.WithIDGenerator(testutil.NewSequentialIDs("evt")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithMetrics(metrics.Options{Registerer: prometheus.NewRegistry()}),
	}
	opts = append(opts, s.Options...)
	eng := engine.New(opts...)

	res := &Result{Engine: eng, Clock: clk}
	var mu sync.Mutex
	for _, at := range activityTypes {
		eng.Activity().Subscribe(string(at), func(a bus.Activity) {
			mu.Lock()
			res.Trace = append(res.Trace, TraceEvent{
				Type:    string(a.Type),
				Payload: a.Payload,
				At:      a.Timestamp,
			})
			mu.Unlock()
		})
	}

	ctx := context.Background()
	for _, r := range s.Rules {
		_, err := eng.Rules().Register(ctx, r)
		require.NoError(t, err, "register rule %s", r.ID)
	}

	for i, step := range s.Steps {
		switch {
		case step.Emit != nil:
			eng.Emit(step.Emit.Topic, step.Emit.Data)
			eng.Drain(ctx)
		case step.SetFact != nil:
			_, err := eng.SetFact(step.SetFact.Key, step.SetFact.Value)
			require.NoError(t, err, "step %d: set fact %s", i, step.SetFact.Key)
			eng.Drain(ctx)
		case step.DeleteFact != "":
			_, err := eng.DeleteFact(step.DeleteFact)
			require.NoError(t, err, "step %d: delete fact %s", i, step.DeleteFact)
			eng.Drain(ctx)
		case step.AdvanceMs != 0:
			clk.Advance(time.Duration(step.AdvanceMs) * time.Millisecond)
		case step.Sweep:
			eng.Sweep()
			eng.Drain(ctx)
		default:
			t.Fatalf("step %d: empty step", i)
		}
	}
	return res
}

// FiredRules returns the rule ids of every rule.fired trace entry, in
// firing order.
func (r *Result) FiredRules() []string {
	var out []string
	for _, ev := range r.Trace {
		if ev.Type == string(bus.ActivityRuleFired) {
			if id, ok := ev.Payload["ruleId"].(string); ok {
				out = append(out, id)
			}
		}
	}
	return out
}

// EventsOn returns the captured event payloads emitted on a topic.
func (r *Result) EventsOn(topic string) []map[string]any {
	var out []map[string]any
	for _, ev := range r.Trace {
		if ev.Type == string(bus.ActivityEvent) && ev.Payload["topic"] == topic {
			out = append(out, ev.Payload)
		}
	}
	return out
}
