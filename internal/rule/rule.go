package rule

import (
	"encoding/json"
	"time"
)

// Rule is a declarative reaction: exactly one trigger, an ordered condition
// list (implicit AND), and an ordered action list.
//
// Version starts at 1 on registration and increments on every mutation;
// it never resets, even across rollback. Disabled rules never fire but
// remain indexed.
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Priority    int      `json:"priority"`
	Enabled     bool     `json:"enabled"`
	Version     int      `json:"version"`
	Tags        []string `json:"tags,omitempty"`
	Group       string   `json:"group,omitempty"`

	Trigger    Trigger     `json:"trigger"`
	Conditions []Condition `json:"conditions,omitempty"`
	Actions    []Action    `json:"actions,omitempty"`

	// StopOnActionError aborts the remaining actions of a firing after the
	// first action failure. Default is to continue.
	StopOnActionError bool `json:"stopOnActionError,omitempty"`

	// TimeoutMs overrides the engine's default per-rule evaluation timeout.
	TimeoutMs int64 `json:"timeoutMs,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Group gates a set of rules. A disabled group suppresses firing of every
// rule referencing it, regardless of the rules' own Enabled flags.
type Group struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Clone returns a deep copy. Snapshots handed to callers are always
// clones; callers never hold mutable aliases into registry state.
func (r *Rule) Clone() *Rule {
	c := *r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	c.Trigger = r.Trigger.clone()
	if r.Conditions != nil {
		c.Conditions = cloneConditions(r.Conditions)
	}
	if r.Actions != nil {
		c.Actions = make([]Action, len(r.Actions))
		for i := range r.Actions {
			c.Actions[i] = r.Actions[i].clone()
		}
	}
	return &c
}

// CopyValue deep-copies a JSON-shaped value (maps, slices, scalars).
// Unknown types are passed through by reference; rule documents decoded
// from JSON never contain them.
func CopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = CopyValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = CopyValue(e)
		}
		return s
	default:
		return v
	}
}

// CopyData deep-copies an event-data style map.
func CopyData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = CopyValue(v)
	}
	return c
}

// Equivalent reports whether two rules are equal over the diffable field
// set (metadata timestamps and version excluded). Comparison is by
// canonical JSON of each field, which sidesteps number-type drift between
// decoded documents and in-memory literals.
func Equivalent(a, b *Rule) bool {
	return len(Diff(a, b)) == 0
}

// FieldChange records one differing field between two rule versions.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// diffFields is the declared diff-field set. Versions store full
// snapshots; diffs are computed on demand against this set.
var diffFields = []struct {
	name string
	get  func(*Rule) any
}{
	{"name", func(r *Rule) any { return r.Name }},
	{"description", func(r *Rule) any { return r.Description }},
	{"priority", func(r *Rule) any { return r.Priority }},
	{"enabled", func(r *Rule) any { return r.Enabled }},
	{"tags", func(r *Rule) any { return r.Tags }},
	{"group", func(r *Rule) any { return r.Group }},
	{"trigger", func(r *Rule) any { return r.Trigger }},
	{"conditions", func(r *Rule) any { return r.Conditions }},
	{"actions", func(r *Rule) any { return r.Actions }},
}

// Diff compares two rules field-by-field over the declared diff-field set.
func Diff(a, b *Rule) []FieldChange {
	var changes []FieldChange
	for _, f := range diffFields {
		av, bv := f.get(a), f.get(b)
		if !jsonEqual(av, bv) {
			changes = append(changes, FieldChange{Field: f.name, Old: av, New: bv})
		}
	}
	return changes
}

func jsonEqual(a, b any) bool {
	aj, aerr := json.Marshal(a)
	bj, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(aj) == string(bj)
}
