// Package temporal implements the windowed pattern matchers: sequences,
// absences, sliding counts, and rolling aggregates. Each registered
// temporal rule owns one pattern instance; instances track state per
// group key and share a bucketed event ring so expiry is cheap.
//
// The matcher is driven entirely by the engine's dispatch loop (Observe
// on events, Sweep on the cleanup tick), so it needs no locking beyond a
// guard for rule registration from API goroutines.
package temporal

import (
	"log/slog"
	"sync"
	"time"

	"github.com/emberfall/cinder/internal/bus"
	"github.com/emberfall/cinder/internal/clock"
	"github.com/emberfall/cinder/internal/pattern"
	"github.com/emberfall/cinder/internal/rule"
	"github.com/emberfall/cinder/internal/value"
)

// Match is a completed temporal pattern occurrence.
type Match struct {
	RuleID string
	Kind   rule.TemporalKind
	Key    string // group key; empty for global patterns

	// Events are the matched events in arrival order. For absence
	// matches this holds the arming "after" event, if any; a bare
	// absence fires with no events.
	Events []bus.Event

	At int64 // ms epoch of the completing observation or sweep
}

// First returns the first matched event, if any. The binding context
// exposes it as "event".
func (m *Match) First() (bus.Event, bool) {
	if len(m.Events) == 0 {
		return bus.Event{}, false
	}
	return m.Events[0], true
}

// MatchFunc receives completed matches.
type MatchFunc func(Match)

// Matcher owns all pattern instances, keyed by rule id.
type Matcher struct {
	clock   clock.Clock
	onMatch MatchFunc
	log     *slog.Logger

	mu        sync.Mutex
	instances map[string]*instance
}

// New creates an empty matcher.
func New(c clock.Clock, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{clock: c, log: log, instances: make(map[string]*instance)}
}

// OnMatch installs the match sink. Must be set before events flow.
func (m *Matcher) OnMatch(fn MatchFunc) { m.onMatch = fn }

// Register creates the pattern instance for a rule. Re-registering
// replaces prior state (a rule update resets its windows).
func (m *Matcher) Register(ruleID string, p rule.TemporalPattern) {
	inst := newInstance(ruleID, p)
	if p.Kind == rule.TemporalAbsence && p.After == "" {
		// Bare absences arm at registration time.
		inst.armAbsence("", nil, clock.Millis(m.clock.Now()))
	}
	m.mu.Lock()
	m.instances[ruleID] = inst
	m.mu.Unlock()
}

// Unregister discards a rule's pattern instance.
func (m *Matcher) Unregister(ruleID string) {
	m.mu.Lock()
	delete(m.instances, ruleID)
	m.mu.Unlock()
}

// Observe feeds an event to the pattern instances of the candidate
// rules. Matches complete synchronously through the match sink.
func (m *Matcher) Observe(ev bus.Event, candidates []string) {
	for _, id := range candidates {
		m.mu.Lock()
		inst := m.instances[id]
		m.mu.Unlock()
		if inst == nil {
			continue
		}
		for _, match := range inst.observe(ev, m.log) {
			if m.onMatch != nil {
				m.onMatch(match)
			}
		}
	}
}

// Sweep expires windows and fires due absences across all instances.
// Driven by the engine's temporal cleanup tick.
func (m *Matcher) Sweep(now time.Time) {
	nowMs := clock.Millis(now)

	m.mu.Lock()
	insts := make([]*instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.mu.Unlock()

	for _, inst := range insts {
		for _, match := range inst.sweep(nowMs) {
			if m.onMatch != nil {
				m.onMatch(match)
			}
		}
	}
}

// instance is the state machine for one rule's temporal pattern.
type instance struct {
	ruleID string
	p      rule.TemporalPattern
	ring   *ring

	// sequence: in-flight automata per group key.
	automata map[string][]*automaton

	// absence: pending deadlines per group key.
	pending map[string]*absenceArm

	// count / aggregate: per-key rolling accumulators and fired latches.
	winStates map[string]*winState
	latched   map[string]bool
}

func newInstance(ruleID string, p rule.TemporalPattern) *instance {
	return &instance{
		ruleID:    ruleID,
		p:         p,
		ring:      newRing(p.WithinMs),
		automata:  make(map[string][]*automaton),
		pending:   make(map[string]*absenceArm),
		winStates: make(map[string]*winState),
		latched:   make(map[string]bool),
	}
}

// groupKey evaluates the grouping expression against event data.
func (in *instance) groupKey(ev bus.Event) string {
	if in.p.GroupBy == "" {
		return ""
	}
	v, ok := value.GetPath(ev.Data, in.p.GroupBy)
	if !ok {
		return ""
	}
	return value.Stringify(v)
}

func (in *instance) observe(ev bus.Event, log *slog.Logger) []Match {
	switch in.p.Kind {
	case rule.TemporalSequence:
		return in.observeSequence(ev)
	case rule.TemporalAbsence:
		return in.observeAbsence(ev)
	case rule.TemporalCount:
		return in.observeWindowed(ev, log, false)
	case rule.TemporalAggregate:
		return in.observeWindowed(ev, log, true)
	}
	return nil
}

func (in *instance) sweep(nowMs int64) []Match {
	switch in.p.Kind {
	case rule.TemporalSequence:
		in.expireAutomata(nowMs)
		return nil
	case rule.TemporalAbsence:
		return in.sweepAbsence(nowMs)
	case rule.TemporalCount, rule.TemporalAggregate:
		cutoff := nowMs - in.p.WithinMs
		for _, e := range in.ring.expire(cutoff) {
			if st := in.winStates[e.key]; st != nil {
				st.n--
				st.sum -= e.num
			}
		}
		for _, st := range in.winStates {
			st.max = popExpired(st.max, cutoff)
			st.min = popExpired(st.min, cutoff)
		}
		return nil
	}
	return nil
}

// reset clears all instance state after an internal inconsistency.
func (in *instance) reset() {
	in.ring.reset()
	in.automata = make(map[string][]*automaton)
	in.pending = make(map[string]*absenceArm)
	in.winStates = make(map[string]*winState)
	in.latched = make(map[string]bool)
}

func topicMatches(pat, topic string) bool {
	return pattern.Match(pat, topic, pattern.TopicSep)
}
