package temporal

import (
	"github.com/emberfall/cinder/internal/bus"
)

// absenceArm is one pending absence window for a group key.
type absenceArm struct {
	deadline int64
	after    *bus.Event // the arming event, nil for bare absences
}

// armAbsence opens (or replaces) the pending window for a key.
func (in *instance) armAbsence(key string, after *bus.Event, fromMs int64) {
	in.pending[key] = &absenceArm{deadline: fromMs + in.p.WithinMs, after: after}
}

func (in *instance) observeAbsence(ev bus.Event) []Match {
	key := in.groupKey(ev)

	if topicMatches(in.p.Event, ev.Topic) {
		if _, armed := in.pending[key]; armed {
			delete(in.pending, key)
			if in.p.After == "" {
				// Bare absences keep monitoring: the expected event
				// arrived, so the next window opens now.
				in.armAbsence(key, nil, ev.Timestamp)
			}
		}
		return nil
	}

	if in.p.After != "" && topicMatches(in.p.After, ev.Topic) {
		after := ev
		in.armAbsence(key, &after, ev.Timestamp)
	}
	return nil
}

func (in *instance) sweepAbsence(nowMs int64) []Match {
	var matches []Match
	for key, arm := range in.pending {
		if arm.deadline > nowMs {
			continue
		}
		m := Match{RuleID: in.ruleID, Kind: in.p.Kind, Key: key, At: nowMs}
		if arm.after != nil {
			m.Events = []bus.Event{*arm.after}
		}
		matches = append(matches, m)
		delete(in.pending, key)
		if in.p.After == "" {
			in.armAbsence(key, nil, nowMs)
		}
	}
	return matches
}
