package rule

// TriggerType discriminates the four trigger variants.
type TriggerType string

const (
	// TriggerEvent fires on events whose topic matches Topic (exact or
	// single-segment wildcard).
	TriggerEvent TriggerType = "event"

	// TriggerFact fires on fact changes whose key matches Pattern
	// (colon-segmented, wildcard segments allowed).
	TriggerFact TriggerType = "fact"

	// TriggerTimer fires on timer expiry. Timer is an exact name or pattern.
	TriggerTimer TriggerType = "timer"

	// TriggerTemporal fires when the referenced temporal pattern completes.
	TriggerTemporal TriggerType = "temporal"
)

// Trigger is the tagged trigger variant. Exactly the field set for its
// Type is populated; Validate enforces this.
type Trigger struct {
	Type     TriggerType      `json:"type"`
	Topic    string           `json:"topic,omitempty"`
	Pattern  string           `json:"pattern,omitempty"`
	Timer    string           `json:"timer,omitempty"`
	Temporal *TemporalPattern `json:"temporal,omitempty"`
}

func (t Trigger) clone() Trigger {
	c := t
	if t.Temporal != nil {
		tp := t.Temporal.clone()
		c.Temporal = &tp
	}
	return c
}

// TemporalKind discriminates the four temporal pattern kinds.
type TemporalKind string

const (
	// TemporalSequence matches an ordered run of events within a window.
	TemporalSequence TemporalKind = "sequence"

	// TemporalAbsence matches when an expected event fails to arrive
	// within the window.
	TemporalAbsence TemporalKind = "absence"

	// TemporalCount matches when enough events arrive within a sliding window.
	TemporalCount TemporalKind = "count"

	// TemporalAggregate matches when a rolling aggregate over a window
	// crosses a threshold.
	TemporalAggregate TemporalKind = "aggregate"
)

// CountOp values accepted by count patterns.
const (
	CountOpGTE = ">="
	CountOpGT  = ">"
	CountOpEQ  = "=="
)

// Aggregator names accepted by aggregate patterns.
const (
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
	AggCount = "count"
)

// TemporalPattern describes a windowed state machine. Events/Event/After
// are dot-segmented topic patterns under the shared wildcard grammar.
//
// GroupBy is a dotted path into event data; matches are tracked per
// distinct value of that path. Empty means one global instance.
type TemporalPattern struct {
	Kind TemporalKind `json:"kind"`

	// Sequence.
	Events []string `json:"events,omitempty"`

	// Absence, count, aggregate.
	Event string `json:"event,omitempty"`

	// Absence: arm the window on this topic instead of at registration.
	After string `json:"after,omitempty"`

	WithinMs int64 `json:"withinMs"`

	// Count.
	Threshold int    `json:"threshold,omitempty"`
	Op        string `json:"op,omitempty"`
	Repeat    bool   `json:"repeat,omitempty"`

	// Aggregate.
	Field      string  `json:"field,omitempty"`
	Aggregator string  `json:"aggregator,omitempty"`
	Value      float64 `json:"value,omitempty"`

	GroupBy string `json:"groupBy,omitempty"`
}

func (p TemporalPattern) clone() TemporalPattern {
	c := p
	if p.Events != nil {
		c.Events = append([]string(nil), p.Events...)
	}
	return c
}

// Topics returns every topic pattern the temporal pattern references.
// The pattern index subscribes the owning rule to the union.
func (p *TemporalPattern) Topics() []string {
	var topics []string
	switch p.Kind {
	case TemporalSequence:
		topics = append(topics, p.Events...)
	case TemporalAbsence:
		topics = append(topics, p.Event)
		if p.After != "" {
			topics = append(topics, p.After)
		}
	case TemporalCount, TemporalAggregate:
		topics = append(topics, p.Event)
	}
	return topics
}
