package engine

import (
	"context"
	"errors"
	"time"

	"github.com/emberfall/cinder/internal/bus"
	"github.com/emberfall/cinder/internal/clock"
	"github.com/emberfall/cinder/internal/pattern"
	"github.com/emberfall/cinder/internal/rule"
)

// process fully handles one notification: candidate lookup, condition
// evaluation, action execution, observability. Nested emissions enqueue
// at the tail with depth+1. Dispatch-goroutine only.
func (e *Engine) process(ctx context.Context, n Notification) {
	e.metrics.SetQueueDepth(e.queue.Len())

	if n.Kind != kindSweep && n.Depth >= e.opts.maxCausationDepth {
		e.log.Error("causation depth exceeded, aborting chain",
			"depth", n.Depth, "limit", e.opts.maxCausationDepth, "kind", int(n.Kind))
		e.metrics.CausationExceeded()
		return
	}

	switch n.Kind {
	case KindEventEmitted:
		e.processEvent(ctx, n)
	case KindFactChanged:
		e.processFactChange(ctx, n)
	case KindTimerFired:
		e.processTimerFired(ctx, n)
	case KindTemporalMatched:
		e.processTemporalMatch(ctx, n)
	case kindSweep:
		e.processSweep()
	}
}

func (e *Engine) processEvent(ctx context.Context, n Notification) {
	ev := n.Event
	for _, r := range e.rules.Select(e.index.EventCandidates(ev.Topic)) {
		captures, ok := pattern.MatchCaptures(r.Trigger.Topic, ev.Topic, pattern.TopicSep)
		if !ok {
			continue
		}
		b := bindEvent(ev)
		b.withRule(r)
		b.withCaptures(captures)
		e.fireRule(ctx, r, b, n.Depth)
	}

	// Feed temporal pattern instances after direct triggers; matches
	// they complete continue the event's causation chain.
	e.matchDepth = n.Depth + 1
	e.matcher.Observe(ev, e.index.TemporalCandidates(ev.Topic))
	e.matchDepth = 0

	e.publishActivity(bus.ActivityEvent, map[string]any{
		"id":            ev.ID,
		"topic":         ev.Topic,
		"data":          ev.Data,
		"correlationId": ev.CorrelationID,
	})
	// External subscribers observe the final post-action state.
	e.bus.Deliver(ev)
}

func (e *Engine) processFactChange(ctx context.Context, n Notification) {
	ch := n.Change
	for _, r := range e.rules.Select(e.index.FactCandidates(ch.Key)) {
		captures, ok := pattern.MatchCaptures(r.Trigger.Pattern, ch.Key, pattern.FactSep)
		if !ok {
			continue
		}
		b := bindFactChange(ch)
		b.withRule(r)
		b.withCaptures(captures)
		e.fireRule(ctx, r, b, n.Depth)
	}

	e.publishActivity(bus.ActivityFactChanged, map[string]any{
		"key":      ch.Key,
		"oldValue": ch.OldValue,
		"newValue": ch.NewValue,
		"version":  ch.Version,
		"deleted":  ch.Deleted,
	})
}

func (e *Engine) processTimerFired(ctx context.Context, n Notification) {
	f := n.Fired
	for _, r := range e.rules.Select(e.index.TimerCandidates(f.Timer.Name)) {
		captures, ok := pattern.MatchCaptures(r.Trigger.Timer, f.Timer.Name, pattern.TopicSep)
		if !ok {
			continue
		}
		b := bindTimer(f)
		b.withRule(r)
		b.withCaptures(captures)
		e.fireRule(ctx, r, b, n.Depth)
	}

	e.publishActivity(bus.ActivityTimerFired, map[string]any{
		"name":    f.Timer.Name,
		"firedAt": f.At,
		"ruleId":  f.Timer.RuleID,
	})
}

func (e *Engine) processTemporalMatch(ctx context.Context, n Notification) {
	m := n.Match
	for _, r := range e.rules.Select([]string{m.RuleID}) {
		b := bindTemporal(m)
		b.withRule(r)
		e.fireRule(ctx, r, b, n.Depth)
	}
}

// processSweep advances the timer wheel and expires temporal windows.
// Both run on the dispatch goroutine; fires and matches they produce
// start fresh causation chains.
func (e *Engine) processSweep() {
	now := e.clk.Now()
	e.wheel.Tick(now)
	e.matchDepth = 0
	e.matcher.Sweep(now)
}

// fireRule evaluates one candidate and executes its actions on success.
// depth is the causation depth of the triggering notification; anything
// the actions emit enqueues at depth+1.
func (e *Engine) fireRule(ctx context.Context, r *rule.Rule, b *binding, depth int) {
	timeout := e.opts.defaultRuleTimeout
	if r.TimeoutMs > 0 {
		timeout = time.Duration(r.TimeoutMs) * time.Millisecond
	}
	ruleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	matched, err := e.eval.evalAll(ruleCtx, r.Conditions, b)
	e.metrics.ObserveEvaluation(r.ID, time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.metrics.RuleTimeout(r.ID)
			e.log.Warn("rule evaluation timed out", "rule", r.ID, "timeout", timeout)
		} else {
			e.log.Error("rule evaluation failed", "rule", r.ID, "error", err)
		}
		return
	}
	if !matched {
		return
	}

	e.metrics.RuleMatched(r.ID)
	e.publishActivity(bus.ActivityRuleMatched, map[string]any{
		"ruleId": r.ID, "name": r.Name,
	})
	e.log.Debug("rule matched", "rule", r.ID)

	results := e.executeActions(ruleCtx, r, b, depth)

	e.metrics.RuleFired(r.ID)
	payload := map[string]any{"ruleId": r.ID, "name": r.Name}
	if len(results) > 0 {
		acts := make([]any, len(results))
		for i, res := range results {
			entry := map[string]any{"index": res.Index, "type": string(res.Type)}
			if res.Err != "" {
				entry["error"] = res.Err
			}
			acts[i] = entry
		}
		payload["actions"] = acts
	}
	e.publishActivity(bus.ActivityRuleFired, payload)
	e.log.Info("rule fired", "rule", r.ID, "actions", len(results))
}

func (e *Engine) publishActivity(t bus.ActivityType, payload map[string]any) {
	e.feed.Publish(bus.Activity{
		Type:      t,
		Payload:   payload,
		Timestamp: clock.Millis(e.clk.Now()),
	})
}
