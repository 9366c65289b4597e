package engine

import (
	"context"
	"log/slog"

	"github.com/emberfall/cinder/internal/clock"
	"github.com/emberfall/cinder/internal/rule"
	"github.com/emberfall/cinder/internal/timers"
)

// ActionResult records one action's outcome within a firing. Failures
// are captured here and never propagate to the dispatch loop.
type ActionResult struct {
	Index int             `json:"index"`
	Type  rule.ActionType `json:"type"`
	Err   string          `json:"error,omitempty"`
}

// executeActions runs the rule's action list in order. The default is
// to continue past failures; StopOnActionError aborts the remainder.
func (e *Engine) executeActions(ctx context.Context, r *rule.Rule, b *binding, depth int) []ActionResult {
	results := make([]ActionResult, 0, len(r.Actions))
	for i := range r.Actions {
		a := &r.Actions[i]
		res := ActionResult{Index: i, Type: a.Type}
		if err := ctx.Err(); err != nil {
			res.Err = err.Error()
			results = append(results, res)
			break
		}
		if err := e.executeAction(ctx, a, r, b, depth); err != nil {
			res.Err = err.Error()
			e.metrics.ActionFailed(string(a.Type))
			e.log.Warn("action failed", "rule", r.ID, "action", string(a.Type), "index", i, "error", err)
		} else if a.Type != rule.ActionCallWebhook {
			// Webhooks count on delivery, not submission.
			e.metrics.ActionExecuted(string(a.Type))
		}
		results = append(results, res)
		if res.Err != "" && r.StopOnActionError {
			break
		}
	}
	return results
}

func (e *Engine) executeAction(ctx context.Context, a *rule.Action, r *rule.Rule, b *binding, depth int) error {
	switch a.Type {
	case rule.ActionSetFact:
		key := b.expand(a.Key)
		value := b.expandValue(a.Value)
		e.actionDepth.Store(int64(depth + 1))
		_, err := e.facts.Set(key, value)
		e.actionDepth.Store(0)
		return err

	case rule.ActionDeleteFact:
		key := b.expand(a.Key)
		e.actionDepth.Store(int64(depth + 1))
		_, err := e.facts.Delete(key)
		e.actionDepth.Store(0)
		return err

	case rule.ActionEmitEvent:
		topic := b.expand(a.Topic)
		data := b.expandData(a.Data)
		ev := e.bus.Build(topic, data, b.correlation, b.causation, "rule:"+r.ID)
		e.enqueue(Notification{Kind: KindEventEmitted, Depth: depth + 1, Event: ev})
		return nil

	case rule.ActionStartTimer:
		name := b.expand(a.Timer)
		t := timers.Timer{
			Name:       name,
			FireAt:     clock.Millis(e.clk.Now()) + a.DurationMs,
			RuleID:     r.ID,
			Context:    e.timerContext(b),
			IntervalMs: 0,
		}
		if a.Recurring {
			t.IntervalMs = a.DurationMs
		}
		e.wheel.Arm(t)
		return nil

	case rule.ActionCancelTimer:
		e.wheel.Cancel(b.expand(a.Timer))
		return nil

	case rule.ActionCallWebhook:
		headers := make(map[string]string, len(a.Headers))
		for k, v := range a.Headers {
			headers[k] = b.expand(v)
		}
		e.webhooks.Submit(webhookJob{
			ruleID:  r.ID,
			url:     b.expand(a.URL),
			method:  a.Method,
			headers: headers,
			body:    b.expandValue(a.Body),
		})
		return nil

	case rule.ActionLog:
		e.log.Log(ctx, logLevel(a.Level), b.expand(a.Message), "rule", r.ID)
		return nil
	}
	return nil // validation rejects unknown kinds before they get here
}

// timerContext snapshots the binding for the timer's eventual firing.
// The rule root is dropped; the firing binds its own rule.
func (e *Engine) timerContext(b *binding) map[string]any {
	snap := rule.CopyData(b.data)
	delete(snap, "rule")
	return snap
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
