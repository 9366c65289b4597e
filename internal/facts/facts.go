// Package facts implements the versioned key/value fact store.
//
// Keys are colon-segmented ("customer:42:score"). Queries accept the
// shared single-segment wildcard grammar. Every successful mutation is
// reported to the engine via the change callback so fact-triggered rules
// can be dispatched.
package facts

import (
	"sort"
	"sync"

	"github.com/emberfall/cinder/internal/clock"
	"github.com/emberfall/cinder/internal/faults"
	"github.com/emberfall/cinder/internal/pattern"
	"github.com/emberfall/cinder/internal/rule"
)

// Fact is a single versioned record. Version starts at 1 on create and
// increments per-key on every Set. Deleting a key discards its counter;
// a later Set restarts at 1.
type Fact struct {
	Key       string `json:"key"`
	Value     any    `json:"value"`
	UpdatedAt int64  `json:"updatedAt"` // ms epoch
	Version   int64  `json:"version"`
}

// Change describes one mutation. OldValue/NewValue are nil for create
// and delete respectively. Version is the post-mutation version (for
// deletes, the version that was removed).
type Change struct {
	Key      string
	OldValue any
	NewValue any
	Version  int64
	Deleted  bool
}

// ChangeFunc receives fact change notifications. The store invokes it
// synchronously inside the mutating call; the engine enqueues a
// dispatch notification and returns immediately.
type ChangeFunc func(Change)

// Store is the engine-owned fact map. External reads receive deep
// copies; callers never hold mutable aliases into store state.
type Store struct {
	mu     sync.RWMutex
	facts  map[string]*Fact
	clock  clock.Clock
	onChng ChangeFunc
}

// New creates an empty store using the given time source.
func New(c clock.Clock) *Store {
	return &Store{facts: make(map[string]*Fact), clock: c}
}

// OnChange installs the change callback. Must be set before the engine
// starts dispatching; not safe to swap concurrently with mutations.
func (s *Store) OnChange(fn ChangeFunc) { s.onChng = fn }

// Get returns a copy of the fact at key, or false if absent.
func (s *Store) Get(key string) (Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[key]
	if !ok {
		return Fact{}, false
	}
	return f.copy(), true
}

// Set creates or updates the fact at key, stamping UpdatedAt and bumping
// the per-key version. Returns the stored fact (copy).
func (s *Store) Set(key string, value any) (Fact, error) {
	if key == "" {
		return Fact{}, faults.Validation("fact key must be non-empty")
	}

	s.mu.Lock()
	var old any
	var hadOld bool
	f, ok := s.facts[key]
	if ok {
		old = f.Value
		hadOld = true
		f.Value = rule.CopyValue(value)
		f.Version++
	} else {
		f = &Fact{Key: key, Value: rule.CopyValue(value), Version: 1}
		s.facts[key] = f
	}
	f.UpdatedAt = clock.Millis(s.clock.Now())
	stored := f.copy()
	s.mu.Unlock()

	if s.onChng != nil {
		ch := Change{Key: key, NewValue: stored.Value, Version: stored.Version}
		if hadOld {
			ch.OldValue = old
		}
		s.onChng(ch)
	}
	return stored, nil
}

// Delete removes the fact at key entirely. Returns false if absent.
func (s *Store) Delete(key string) (bool, error) {
	if key == "" {
		return false, faults.Validation("fact key must be non-empty")
	}

	s.mu.Lock()
	f, ok := s.facts[key]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.facts, key)
	s.mu.Unlock()

	if s.onChng != nil {
		s.onChng(Change{Key: key, OldValue: f.Value, Version: f.Version, Deleted: true})
	}
	return true, nil
}

// All returns copies of every fact, ordered by key.
func (s *Store) All() []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Fact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, f.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Query returns copies of facts whose keys match the colon-segmented
// pattern, ordered by key. "*" matches one segment; "**" is not defined.
func (s *Store) Query(pat string) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Fact
	for key, f := range s.facts {
		if pattern.Match(pat, key, pattern.FactSep) {
			out = append(out, f.copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// First returns the first fact (by key order) matching the pattern.
// Condition evaluation uses this to resolve fact{} sources.
func (s *Store) First(pat string) (Fact, bool) {
	if !pattern.HasWildcard(pat, pattern.FactSep) {
		return s.Get(pat)
	}
	matches := s.Query(pat)
	if len(matches) == 0 {
		return Fact{}, false
	}
	return matches[0], true
}

// Len returns the number of stored facts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

func (f *Fact) copy() Fact {
	return Fact{Key: f.Key, Value: rule.CopyValue(f.Value), UpdatedAt: f.UpdatedAt, Version: f.Version}
}
