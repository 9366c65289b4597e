package rule

// SourceType discriminates condition value sources.
type SourceType string

const (
	// SourceFact resolves the first fact matching Pattern.
	SourceFact SourceType = "fact"

	// SourceEvent resolves a dotted path into the triggering event's data.
	SourceEvent SourceType = "event"

	// SourceContext reads an ambient key from the binding context.
	SourceContext SourceType = "context"

	// SourceLookup invokes a named lookup, optionally selecting a field
	// from its result.
	SourceLookup SourceType = "lookup"

	// SourceBaseline compares a live metric against its rolling baseline.
	SourceBaseline SourceType = "baseline"
)

// Baseline comparisons.
const (
	BaselineAbove    = "above"
	BaselineBelow    = "below"
	BaselineDeviates = "deviates"
)

// DefaultSensitivity is the baseline sensitivity when unspecified:
// standard deviations for "deviates", relative fraction for above/below.
const DefaultSensitivity = 2.0

// Source is the tagged condition-source variant.
type Source struct {
	Type SourceType `json:"type"`

	Pattern string `json:"pattern,omitempty"` // fact
	Field   string `json:"field,omitempty"`   // event path, lookup field
	Key     string `json:"key,omitempty"`     // context
	Name    string `json:"name,omitempty"`    // lookup

	Metric      string  `json:"metric,omitempty"`      // baseline
	Comparison  string  `json:"comparison,omitempty"`  // baseline
	Sensitivity float64 `json:"sensitivity,omitempty"` // baseline, 0 = default
}

// Operator is the closed comparison/combinator set.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "notIn"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpMatches    Operator = "matches"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "notExists"
	OpIsNull     Operator = "isNull"
	OpIsNotNull  Operator = "isNotNull"
	OpBetween    Operator = "between"
	OpAnd        Operator = "and"
	OpOr         Operator = "or"
	OpNot        Operator = "not"
)

// IsUnary reports whether the operator forbids a value.
func (o Operator) IsUnary() bool {
	switch o {
	case OpExists, OpNotExists, OpIsNull, OpIsNotNull:
		return true
	}
	return false
}

// IsCombinator reports whether the operator combines child conditions.
func (o Operator) IsCombinator() bool {
	switch o {
	case OpAnd, OpOr, OpNot:
		return true
	}
	return false
}

// Known reports whether the operator is in the closed set.
func (o Operator) Known() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn,
		OpContains, OpStartsWith, OpEndsWith, OpMatches,
		OpExists, OpNotExists, OpIsNull, OpIsNotNull, OpBetween,
		OpAnd, OpOr, OpNot:
		return true
	}
	return false
}

// Condition is one node of a condition tree. Leaf nodes carry a Source
// and comparison Operator; combinator nodes (and/or/not) carry child
// Conditions and no Source.
//
// Value is a JSON literal, or a reference object {"ref": "<path>"}
// resolved against the binding context at evaluation time.
type Condition struct {
	Source     *Source     `json:"source,omitempty"`
	Operator   Operator    `json:"operator"`
	Value      any         `json:"value,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// RefValue extracts the reference path if v is a {"ref": ...} object.
func RefValue(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	ref, ok := m["ref"].(string)
	return ref, ok
}

func cloneConditions(conds []Condition) []Condition {
	out := make([]Condition, len(conds))
	for i := range conds {
		c := conds[i]
		if c.Source != nil {
			src := *c.Source
			c.Source = &src
		}
		c.Value = CopyValue(c.Value)
		if c.Conditions != nil {
			c.Conditions = cloneConditions(c.Conditions)
		}
		out[i] = c
	}
	return out
}
