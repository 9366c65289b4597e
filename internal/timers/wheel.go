// Package timers implements the named timer wheel: one-shot and
// recurring timers with optional durable persistence.
//
// Recurring timers re-arm at fireAt + intervalMs, computed from the
// previous scheduled fire rather than wall-clock now, so repeated fires
// do not accumulate drift.
package timers

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/emberfall/cinder/internal/clock"
	"github.com/emberfall/cinder/internal/store"
)

// Timer is one armed entry. Context is the binding snapshot captured
// when the timer was armed; the rule triggered by the fire sees it.
type Timer struct {
	Name       string         `json:"name"`
	FireAt     int64          `json:"fireAt"` // ms epoch
	IntervalMs int64          `json:"intervalMs,omitempty"`
	RuleID     string         `json:"ruleId,omitempty"`
	Context    map[string]any `json:"context,omitempty"`

	// seq preserves arming order for deterministic tie-breaks and for
	// restore-time firing of past-due timers.
	Seq int64 `json:"seq"`
}

// Fired is the notification handed to the engine when a timer expires.
type Fired struct {
	Timer Timer
	At    int64 // ms epoch of the sweep that fired it
}

// FireFunc receives timer fire notifications.
type FireFunc func(Fired)

// DefaultCheckInterval is how often the background sweep runs when
// unconfigured.
const DefaultCheckInterval = time.Second

// Wheel owns the armed timer set.
type Wheel struct {
	clock   clock.Clock
	onFire  FireFunc
	adapter store.Adapter // nil = non-durable
	log     *slog.Logger

	mu      sync.Mutex
	armed   map[string]*Timer
	nextSeq int64
}

// New creates an empty wheel. adapter may be nil for non-durable timers.
func New(c clock.Clock, adapter store.Adapter, log *slog.Logger) *Wheel {
	if log == nil {
		log = slog.Default()
	}
	return &Wheel{
		clock:   c,
		adapter: adapter,
		log:     log,
		armed:   make(map[string]*Timer),
	}
}

// OnFire installs the fire callback. Must be set before Run or Tick.
func (w *Wheel) OnFire(fn FireFunc) { w.onFire = fn }

// Arm schedules a timer. Arming a name that is already armed cancels and
// replaces the prior arming.
func (w *Wheel) Arm(t Timer) {
	w.mu.Lock()
	w.nextSeq++
	t.Seq = w.nextSeq
	cp := t
	w.armed[t.Name] = &cp
	w.mu.Unlock()
	w.persist()
}

// Cancel disarms the named timer. Returns false if not armed.
func (w *Wheel) Cancel(name string) bool {
	w.mu.Lock()
	_, ok := w.armed[name]
	if ok {
		delete(w.armed, name)
	}
	w.mu.Unlock()
	if ok {
		w.persist()
	}
	return ok
}

// List returns the armed timers ordered by fire time, ties broken by
// arming order.
func (w *Wheel) List() []Timer {
	w.mu.Lock()
	out := make([]Timer, 0, len(w.armed))
	for _, t := range w.armed {
		out = append(out, *t)
	}
	w.mu.Unlock()
	sortTimers(out)
	return out
}

// Tick fires every timer due at or before now. Due timers fire in
// (fireAt, arming order) order. Recurring timers re-arm before their
// callbacks run so a callback re-arming the same name wins.
func (w *Wheel) Tick(now time.Time) {
	nowMs := clock.Millis(now)

	w.mu.Lock()
	var due []Timer
	for _, t := range w.armed {
		if t.FireAt <= nowMs {
			due = append(due, *t)
		}
	}
	if len(due) == 0 {
		w.mu.Unlock()
		return
	}
	sortTimers(due)
	for _, t := range due {
		if t.IntervalMs > 0 {
			next := w.armed[t.Name]
			next.FireAt = t.FireAt + t.IntervalMs
		} else {
			delete(w.armed, t.Name)
		}
	}
	w.mu.Unlock()

	w.persist()
	for _, t := range due {
		if w.onFire != nil {
			w.onFire(Fired{Timer: t, At: nowMs})
		}
	}
}

// Run sweeps the wheel at the given interval until ctx is cancelled.
func (w *Wheel) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(w.clock.Now())
		}
	}
}

// Restore reloads the persisted armed set. Past-due timers fire on the
// first Tick after restore, in arming order. No-op without an adapter.
func (w *Wheel) Restore(ctx context.Context) error {
	if w.adapter == nil {
		return nil
	}
	state, ok, err := w.adapter.Load(ctx, store.KeyTimers)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var loaded []Timer
	if err := json.Unmarshal(state, &loaded); err != nil {
		return err
	}

	w.mu.Lock()
	for i := range loaded {
		t := loaded[i]
		w.armed[t.Name] = &t
		if t.Seq > w.nextSeq {
			w.nextSeq = t.Seq
		}
	}
	w.mu.Unlock()
	return nil
}

// persist writes the armed set through the adapter. Persistence failures
// are logged and do not fail the mutation.
func (w *Wheel) persist() {
	if w.adapter == nil {
		return
	}
	state, err := json.Marshal(w.List())
	if err != nil {
		w.log.Error("marshal timer state", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := w.adapter.Save(ctx, store.KeyTimers, state); err != nil {
		w.log.Error("persist timer state", "error", err)
	}
}

func sortTimers(ts []Timer) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].FireAt != ts[j].FireAt {
			return ts[i].FireAt < ts[j].FireAt
		}
		return ts[i].Seq < ts[j].Seq
	})
}
