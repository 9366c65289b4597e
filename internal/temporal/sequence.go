package temporal

import (
	"github.com/emberfall/cinder/internal/bus"
)

// automaton is one in-flight sequence match attempt. State i awaits an
// event matching the pattern's i-th topic; reaching the end inside the
// window fires. Every event matching the first topic starts a fresh
// automaton, so concurrent overlapping matches per key are allowed.
type automaton struct {
	stage   int
	firstAt int64
	events  []bus.Event
}

func (in *instance) observeSequence(ev bus.Event) []Match {
	var matches []Match
	key := in.groupKey(ev)

	// Advance existing automata first so the event cannot advance the
	// automaton it is about to start.
	kept := in.automata[key][:0]
	for _, a := range in.automata[key] {
		if ev.Timestamp-a.firstAt > in.p.WithinMs {
			continue // window closed, drop the attempt
		}
		if topicMatches(in.p.Events[a.stage], ev.Topic) {
			a.stage++
			a.events = append(a.events, ev)
			if a.stage == len(in.p.Events) {
				matches = append(matches, Match{
					RuleID: in.ruleID,
					Kind:   in.p.Kind,
					Key:    key,
					Events: a.events,
					At:     ev.Timestamp,
				})
				continue // completed, do not keep
			}
		}
		kept = append(kept, a)
	}
	in.automata[key] = kept

	if topicMatches(in.p.Events[0], ev.Topic) {
		in.automata[key] = append(in.automata[key], &automaton{
			stage:   1,
			firstAt: ev.Timestamp,
			events:  []bus.Event{ev},
		})
	}
	return matches
}

// expireAutomata drops attempts whose window has closed.
func (in *instance) expireAutomata(nowMs int64) {
	for key, as := range in.automata {
		kept := as[:0]
		for _, a := range as {
			if nowMs-a.firstAt <= in.p.WithinMs {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			delete(in.automata, key)
		} else {
			in.automata[key] = kept
		}
	}
}
