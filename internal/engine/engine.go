// Package engine implements the dispatch core: a single-writer loop
// that drains a FIFO notification queue, matches candidate rules via
// the trigger index, evaluates their conditions, and executes their
// actions. Nested emissions enqueue at the tail, so every notification
// is fully processed before the next is drawn and rules never observe
// half-applied state.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/emberfall/cinder/internal/baseline"
	"github.com/emberfall/cinder/internal/bus"
	"github.com/emberfall/cinder/internal/clock"
	"github.com/emberfall/cinder/internal/facts"
	"github.com/emberfall/cinder/internal/index"
	"github.com/emberfall/cinder/internal/lookup"
	"github.com/emberfall/cinder/internal/metrics"
	"github.com/emberfall/cinder/internal/registry"
	"github.com/emberfall/cinder/internal/temporal"
	"github.com/emberfall/cinder/internal/timers"
)

// StopMode selects shutdown behavior.
type StopMode int

const (
	// StopDrain processes the pending queue before stopping. New external
	// submissions are rejected immediately.
	StopDrain StopMode = iota

	// StopNow stops after the in-flight notification; pending entries are
	// abandoned.
	StopNow
)

// Engine owns every shared component and runs the dispatch loop.
//
// Mutating component state from outside goes through the public API;
// all rule evaluation and action execution happens on the single Run
// goroutine.
type Engine struct {
	opts options
	log  *slog.Logger
	clk  clock.Clock

	facts    *facts.Store
	bus      *bus.Bus
	wheel    *timers.Wheel
	index    *index.Index
	rules    *registry.Registry
	matcher  *temporal.Matcher
	lookups  *lookup.Registry
	baseline *baseline.Tracker
	metrics  *metrics.Metrics
	feed     *bus.ActivityFeed

	eval     *evaluator
	webhooks *webhookPool
	queue    *queue

	// actionDepth is the causation depth of the action currently
	// executing on the dispatch goroutine, read by the fact-change hook
	// to tag nested notifications. Zero outside action execution, so
	// mutations from API goroutines start fresh chains.
	actionDepth atomic.Int64

	// matchDepth tags temporal matches produced by the Observe call in
	// flight. Dispatch-goroutine only.
	matchDepth int

	draining atomic.Bool
	stopNow  atomic.Bool
}

// New assembles an engine. Components are wired but nothing runs until
// Run; Restore may be called first to reload persisted state.
func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("engine", o.name)

	mo := o.metrics
	mo.Engine = o.name
	m := metrics.New(mo)

	e := &Engine{
		opts:     o,
		log:      log,
		clk:      o.clk,
		facts:    facts.New(o.clk),
		bus:      bus.New(o.clk, o.ids),
		wheel:    timers.New(o.clk, o.timerPersistence, log),
		index:    index.New(),
		matcher:  temporal.New(o.clk, log),
		lookups:  lookup.NewRegistry(),
		baseline: baseline.NewTracker(),
		metrics:  m,
		feed:     bus.NewActivityFeed(),
		queue:    newQueue(),
	}
	e.rules = registry.New(o.clk, log,
		registry.WithAdapter(o.persistence),
		registry.WithIndex(e.index),
		registry.WithTemporal(e.matcher),
	)
	e.eval = newEvaluator(e.facts, e.lookups, e.baseline, log)
	e.webhooks = newWebhookPool(o.webhookRetry, log, m)

	e.bus.OnEmit(func(ev bus.Event) {
		e.enqueue(Notification{Kind: KindEventEmitted, Event: ev})
	})
	e.facts.OnChange(func(ch facts.Change) {
		e.enqueue(Notification{
			Kind:   KindFactChanged,
			Depth:  int(e.actionDepth.Load()),
			Change: ch,
		})
	})
	e.wheel.OnFire(func(f timers.Fired) {
		e.enqueue(Notification{Kind: KindTimerFired, Fired: f})
	})
	e.matcher.OnMatch(func(m temporal.Match) {
		e.enqueue(Notification{Kind: KindTemporalMatched, Depth: e.matchDepth, Match: m})
	})
	return e
}

// Restore reloads persisted rules, version history, and timers, then
// rebuilds the trigger index and temporal pattern instances. Call before
// Run when persistence is configured.
func (e *Engine) Restore(ctx context.Context) error {
	if err := e.rules.Load(ctx); err != nil {
		return err
	}
	all := e.rules.List(registry.Filter{})
	e.index.Rebuild(all)
	for _, r := range all {
		if p, ok := e.rules.TemporalPattern(r.ID); ok {
			e.matcher.Register(r.ID, p)
		}
	}
	return e.wheel.Restore(ctx)
}

// Run drains the dispatch queue until the context is cancelled or Stop
// is called. Must be called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting",
		"maxCausationDepth", e.opts.maxCausationDepth,
		"defaultRuleTimeout", e.opts.defaultRuleTimeout)

	sweep := time.NewTicker(e.opts.temporalCleanup)
	defer sweep.Stop()
	timerCheck := time.NewTicker(e.opts.timerCheck)
	defer timerCheck.Stop()
	defer e.webhooks.Stop()

	for {
		if e.stopNow.Load() {
			e.log.Info("engine stopping: immediate")
			return nil
		}
		n, ok := e.queue.TryDequeue()
		if ok {
			e.process(ctx, n)
			continue
		}
		if e.draining.Load() {
			e.queue.Close()
			e.log.Info("engine stopping: queue drained")
			return nil
		}

		select {
		case <-ctx.Done():
			e.queue.Close()
			e.log.Info("engine stopping: context cancelled")
			return ctx.Err()
		case <-sweep.C:
			e.enqueue(Notification{Kind: kindSweep})
		case <-timerCheck.C:
			e.enqueue(Notification{Kind: kindSweep})
		case <-e.queue.Wait():
		}
	}
}

// Stop shuts the engine down. StopDrain lets the loop finish the
// pending queue first; StopNow abandons it. In-flight webhooks are
// cancelled when the Run loop exits.
func (e *Engine) Stop(mode StopMode) {
	if mode == StopNow {
		e.stopNow.Store(true)
		e.queue.Close()
		return
	}
	e.draining.Store(true)
	e.queue.Wake()
}

// enqueue submits a notification unless the engine is shutting down.
func (e *Engine) enqueue(n Notification) bool {
	if e.draining.Load() && n.Depth == 0 &&
		(n.Kind == KindEventEmitted || n.Kind == KindFactChanged) {
		// Draining: nested notifications (depth > 0) still land while
		// fresh external chains are turned away.
		return false
	}
	ok := e.queue.Enqueue(n)
	e.metrics.SetQueueDepth(e.queue.Len())
	return ok
}

// Drain synchronously processes notifications until the queue is empty.
// Intended for embedders and tests driving the engine without Run.
func (e *Engine) Drain(ctx context.Context) {
	for {
		n, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		e.process(ctx, n)
	}
}

// Sweep enqueues a temporal window and timer sweep. With Run active the
// tickers do this automatically.
func (e *Engine) Sweep() {
	e.enqueue(Notification{Kind: kindSweep})
}

// Emit constructs an event and queues it for dispatch.
func (e *Engine) Emit(topic string, data map[string]any) bus.Event {
	return e.bus.Emit(topic, data)
}

// EmitCorrelated emits with explicit correlation metadata.
func (e *Engine) EmitCorrelated(topic string, data map[string]any, correlationID, causationID string) bus.Event {
	return e.bus.EmitCorrelated(topic, data, correlationID, causationID)
}

// SetFact writes a fact; the resulting change notification dispatches
// fact-triggered rules.
func (e *Engine) SetFact(key string, value any) (facts.Fact, error) {
	return e.facts.Set(key, value)
}

// DeleteFact removes a fact.
func (e *Engine) DeleteFact(key string) (bool, error) {
	return e.facts.Delete(key)
}

// RecordMetric feeds a sample into the baseline tracker.
func (e *Engine) RecordMetric(name string, value float64) {
	e.baseline.Record(name, value, e.clk.Now())
}

// Facts exposes the fact store for reads.
func (e *Engine) Facts() *facts.Store { return e.facts }

// Rules exposes the rule registry.
func (e *Engine) Rules() *registry.Registry { return e.rules }

// Timers exposes the timer wheel.
func (e *Engine) Timers() *timers.Wheel { return e.wheel }

// Bus exposes the event bus for subscriptions.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Lookups exposes the lookup registry.
func (e *Engine) Lookups() *lookup.Registry { return e.lookups }

// Activity exposes the observability feed.
func (e *Engine) Activity() *bus.ActivityFeed { return e.feed }

// QueueLen reports pending notifications, for monitoring and tests.
func (e *Engine) QueueLen() int { return e.queue.Len() }
