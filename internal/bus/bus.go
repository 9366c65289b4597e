// Package bus implements the in-process event bus: event construction,
// correlation tagging, and pattern-filtered subscriber delivery.
//
// Emission is synchronous into the engine's dispatch queue. External
// subscribers are notified only after rule dispatch for the event has
// completed, so they observe the final post-action state.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/emberfall/cinder/internal/clock"
	"github.com/emberfall/cinder/internal/pattern"
	"github.com/emberfall/cinder/internal/rule"
)

// Event is an immutable emitted record. CorrelationID is always set:
// events emitted without one are their own correlation root.
type Event struct {
	ID            string         `json:"id"`
	Topic         string         `json:"topic"`
	Data          map[string]any `json:"data"`
	Timestamp     int64          `json:"timestamp"` // ms epoch
	CorrelationID string         `json:"correlationId,omitempty"`
	CausationID   string         `json:"causationId,omitempty"`
	Source        string         `json:"source,omitempty"`
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	c := e
	c.Data = rule.CopyData(e.Data)
	return c
}

// IDGenerator produces unique event ids. Production uses UUIDv7 (time
// sortable); tests substitute testutil.SequentialIDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates RFC 4122 UUIDv7 ids. Stateless, safe for
// concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Handler receives events after dispatch completes.
type Handler func(Event)

// SubscriptionID identifies a subscription for cancellation.
type SubscriptionID int64

type subscription struct {
	id      SubscriptionID
	pattern string
	fn      Handler
}

// correlationMemory caps how many emitted event ids are retained for
// causation lookups. Oldest entries are evicted FIFO.
const correlationMemory = 4096

// SinkFunc accepts a freshly constructed event for dispatch. The engine
// installs its enqueue here.
type SinkFunc func(Event)

// Bus assigns ids and timestamps, tracks correlation chains, and fans
// events out to subscribers.
type Bus struct {
	clock clock.Clock
	ids   IDGenerator
	sink  SinkFunc

	mu     sync.RWMutex
	subs   []subscription
	nextID SubscriptionID

	// causation id -> correlation id, bounded FIFO.
	corr      map[string]string
	corrOrder []string
}

// New creates a bus with the given time source and id generator.
func New(c clock.Clock, ids IDGenerator) *Bus {
	return &Bus{
		clock: c,
		ids:   ids,
		corr:  make(map[string]string, correlationMemory),
	}
}

// OnEmit installs the dispatch sink. Must be set before emission starts.
func (b *Bus) OnEmit(fn SinkFunc) { b.sink = fn }

// Emit constructs and dispatches an event on topic. The event correlates
// to itself.
func (b *Bus) Emit(topic string, data map[string]any) Event {
	return b.EmitCorrelated(topic, data, "", "")
}

// EmitCorrelated constructs and dispatches an event carrying explicit
// correlation metadata. When causationID references a known prior event
// and correlationID is empty, the prior event's correlation propagates.
func (b *Bus) EmitCorrelated(topic string, data map[string]any, correlationID, causationID string) Event {
	ev := b.Build(topic, data, correlationID, causationID, "")
	if b.sink != nil {
		b.sink(ev)
	}
	return ev
}

// Build constructs an event without dispatching it. The engine uses this
// for action-emitted events so they enter the queue at the right position.
func (b *Bus) Build(topic string, data map[string]any, correlationID, causationID, source string) Event {
	ev := Event{
		ID:          b.ids.Generate(),
		Topic:       topic,
		Data:        rule.CopyData(data),
		Timestamp:   clock.Millis(b.clock.Now()),
		CausationID: causationID,
		Source:      source,
	}

	b.mu.Lock()
	if correlationID == "" && causationID != "" {
		correlationID = b.corr[causationID]
	}
	if correlationID == "" {
		correlationID = ev.ID
	}
	ev.CorrelationID = correlationID
	b.remember(ev.ID, correlationID)
	b.mu.Unlock()

	return ev
}

// remember records the event's correlation for later causation lookups.
// Caller holds b.mu.
func (b *Bus) remember(id, correlationID string) {
	if len(b.corrOrder) >= correlationMemory {
		evict := b.corrOrder[0]
		b.corrOrder = b.corrOrder[1:]
		delete(b.corr, evict)
	}
	b.corr[id] = correlationID
	b.corrOrder = append(b.corrOrder, id)
}

// CorrelationOf returns the correlation id recorded for an event id, or
// empty if the event has aged out of the correlation memory.
func (b *Bus) CorrelationOf(eventID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.corr[eventID]
}

// Subscribe registers a handler for topics matching the dot-segmented
// pattern. Returns the subscription id for Unsubscribe.
func (b *Bus) Subscribe(pat string, fn Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, pattern: pat, fn: fn})
	return b.nextID
}

// Unsubscribe removes a subscription. Returns false if unknown.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Deliver hands the event to every matching subscriber. The engine calls
// this after rule dispatch for the event completes. Each subscriber
// receives its own copy. Panicking handlers are contained so one bad
// subscriber cannot take down the dispatch loop.
func (b *Bus) Deliver(ev Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if pattern.Match(s.pattern, ev.Topic, pattern.TopicSep) {
			safeCall(s.fn, ev.Clone())
		}
	}
}

func safeCall(fn Handler, ev Event) {
	defer func() {
		_ = recover() // subscriber panics must not kill the dispatcher
	}()
	fn(ev)
}
