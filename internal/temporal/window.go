package temporal

import (
	"log/slog"

	"github.com/emberfall/cinder/internal/bus"
	"github.com/emberfall/cinder/internal/rule"
	"github.com/emberfall/cinder/internal/value"
)

// winState is the rolling accumulator for one group key. Sum and count
// update in O(1) per event; min and max use monotonic deques so the
// current extreme is always at the front.
type winState struct {
	n   int
	sum float64
	max []numAt // decreasing values
	min []numAt // increasing values
}

type numAt struct {
	at int64
	v  float64
}

func (in *instance) observeWindowed(ev bus.Event, log *slog.Logger, isAggregate bool) []Match {
	if !topicMatches(in.p.Event, ev.Topic) {
		return nil
	}
	key := in.groupKey(ev)

	var num float64
	if isAggregate && in.p.Aggregator != rule.AggCount {
		raw, ok := value.GetPath(ev.Data, in.p.Field)
		if !ok {
			return nil // no value to aggregate, event does not participate
		}
		num, ok = value.ToFloat(raw)
		if !ok {
			return nil
		}
	}

	// Slide the window, unwinding expired entries from the accumulators.
	cutoff := ev.Timestamp - in.p.WithinMs
	for _, e := range in.ring.expire(cutoff) {
		st := in.winStates[e.key]
		if st == nil {
			continue
		}
		st.n--
		st.sum -= e.num
	}
	for _, st := range in.winStates {
		st.max = popExpired(st.max, cutoff)
		st.min = popExpired(st.min, cutoff)
	}

	if !in.ring.add(entry{at: ev.Timestamp, key: key, num: num, event: ev}) {
		log.Warn("temporal ring overflow, resetting pattern instance",
			"rule", in.ruleID, "kind", string(in.p.Kind))
		in.reset()
		return nil
	}
	st := in.winStates[key]
	if st == nil {
		st = &winState{}
		in.winStates[key] = st
	}
	st.n++
	st.sum += num
	st.max = pushMax(st.max, numAt{at: ev.Timestamp, v: num})
	st.min = pushMin(st.min, numAt{at: ev.Timestamp, v: num})

	var satisfied bool
	if isAggregate {
		satisfied = compareFloats(in.aggregateValue(st), rule.Operator(in.p.Op), in.p.Value)
	} else {
		satisfied = countSatisfied(st.n, in.p.Threshold, in.p.Op)
	}

	fired := in.latched[key]
	if !satisfied {
		in.latched[key] = false
		return nil
	}
	if fired && !(in.p.Kind == rule.TemporalCount && in.p.Repeat) {
		return nil
	}
	in.latched[key] = true

	var events []bus.Event
	in.ring.forKey(key, func(e entry) { events = append(events, e.event) })
	return []Match{{
		RuleID: in.ruleID,
		Kind:   in.p.Kind,
		Key:    key,
		Events: events,
		At:     ev.Timestamp,
	}}
}

// aggregateValue reads the current rolling aggregate for a key.
func (in *instance) aggregateValue(st *winState) float64 {
	switch in.p.Aggregator {
	case rule.AggSum:
		return st.sum
	case rule.AggAvg:
		if st.n == 0 {
			return 0
		}
		return st.sum / float64(st.n)
	case rule.AggMin:
		if len(st.min) == 0 {
			return 0
		}
		return st.min[0].v
	case rule.AggMax:
		if len(st.max) == 0 {
			return 0
		}
		return st.max[0].v
	case rule.AggCount:
		return float64(st.n)
	}
	return 0
}

func countSatisfied(n, threshold int, op string) bool {
	switch op {
	case rule.CountOpGT:
		return n > threshold
	case rule.CountOpEQ:
		return n == threshold
	default: // ">=" and unset
		return n >= threshold
	}
}

func compareFloats(v float64, op rule.Operator, threshold float64) bool {
	switch op {
	case rule.OpGt:
		return v > threshold
	case rule.OpGte:
		return v >= threshold
	case rule.OpLt:
		return v < threshold
	case rule.OpLte:
		return v <= threshold
	case rule.OpEq:
		return v == threshold
	case rule.OpNe:
		return v != threshold
	}
	return false
}

func popExpired(dq []numAt, cutoff int64) []numAt {
	for len(dq) > 0 && dq[0].at < cutoff {
		dq = dq[1:]
	}
	return dq
}

// pushMax keeps the deque decreasing: the front is the window maximum.
func pushMax(dq []numAt, e numAt) []numAt {
	for len(dq) > 0 && dq[len(dq)-1].v <= e.v {
		dq = dq[:len(dq)-1]
	}
	return append(dq, e)
}

// pushMin keeps the deque increasing: the front is the window minimum.
func pushMin(dq []numAt, e numAt) []numAt {
	for len(dq) > 0 && dq[len(dq)-1].v >= e.v {
		dq = dq[:len(dq)-1]
	}
	return append(dq, e)
}
