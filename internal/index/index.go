// Package index maintains the inverted trigger index: notification keys
// to candidate rule ids. Resolving a notification is a map lookup plus a
// scan of the wildcard bucket whose prefixes cover the key, so dispatch
// stays sub-linear in the rule count for exact triggers.
//
// The index only narrows: the dispatcher re-verifies the full trigger
// match (and extracts wildcard captures) per candidate.
package index

import (
	"strings"
	"sync"

	"github.com/emberfall/cinder/internal/pattern"
	"github.com/emberfall/cinder/internal/rule"
)

type wildcardEntry struct {
	prefix string
	ruleID string
}

type bucket struct {
	exact     map[string][]string // literal key -> rule ids
	wildcards []wildcardEntry
}

func newBucket() *bucket {
	return &bucket{exact: make(map[string][]string)}
}

func (b *bucket) add(pat, sep, ruleID string) {
	if pattern.HasWildcard(pat, sep) {
		b.wildcards = append(b.wildcards, wildcardEntry{prefix: pattern.Prefix(pat, sep), ruleID: ruleID})
		return
	}
	b.exact[pat] = append(b.exact[pat], ruleID)
}

func (b *bucket) remove(ruleID string) {
	for key, ids := range b.exact {
		b.exact[key] = removeID(ids, ruleID)
		if len(b.exact[key]) == 0 {
			delete(b.exact, key)
		}
	}
	kept := b.wildcards[:0]
	for _, w := range b.wildcards {
		if w.ruleID != ruleID {
			kept = append(kept, w)
		}
	}
	b.wildcards = kept
}

func (b *bucket) candidates(key string) []string {
	var out []string
	out = append(out, b.exact[key]...)
	for _, w := range b.wildcards {
		if strings.HasPrefix(key, w.prefix) {
			out = append(out, w.ruleID)
		}
	}
	return out
}

// Index is the engine-owned pattern index. Incremental Add/Remove keep
// it current across rule mutations; Rebuild is only needed at startup.
type Index struct {
	mu       sync.RWMutex
	events   *bucket // event triggers, by topic prefix
	facts    *bucket // fact triggers, by key prefix
	timers   *bucket // timer triggers, by exact name or pattern prefix
	temporal *bucket // temporal triggers, by referenced topic prefixes
}

// New creates an empty index.
func New() *Index {
	return &Index{
		events:   newBucket(),
		facts:    newBucket(),
		timers:   newBucket(),
		temporal: newBucket(),
	}
}

// Add indexes a rule's trigger. Disabled rules are indexed too; the
// dispatcher filters enabled state at firing time.
func (ix *Index) Add(r *rule.Rule) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	switch r.Trigger.Type {
	case rule.TriggerEvent:
		ix.events.add(r.Trigger.Topic, pattern.TopicSep, r.ID)
	case rule.TriggerFact:
		ix.facts.add(r.Trigger.Pattern, pattern.FactSep, r.ID)
	case rule.TriggerTimer:
		ix.timers.add(r.Trigger.Timer, pattern.TopicSep, r.ID)
	case rule.TriggerTemporal:
		for _, topic := range r.Trigger.Temporal.Topics() {
			ix.temporal.add(topic, pattern.TopicSep, r.ID)
		}
	}
}

// Remove drops every index entry for the rule id.
func (ix *Index) Remove(ruleID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.events.remove(ruleID)
	ix.facts.remove(ruleID)
	ix.timers.remove(ruleID)
	ix.temporal.remove(ruleID)
}

// Update reindexes a rule after mutation.
func (ix *Index) Update(r *rule.Rule) {
	ix.Remove(r.ID)
	ix.Add(r)
}

// Rebuild replaces the whole index from a rule set (startup path).
func (ix *Index) Rebuild(rules []*rule.Rule) {
	ix.mu.Lock()
	ix.events = newBucket()
	ix.facts = newBucket()
	ix.timers = newBucket()
	ix.temporal = newBucket()
	ix.mu.Unlock()
	for _, r := range rules {
		ix.Add(r)
	}
}

// EventCandidates returns rule ids whose event trigger may match topic.
func (ix *Index) EventCandidates(topic string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return dedupe(ix.events.candidates(topic))
}

// FactCandidates returns rule ids whose fact trigger may match key.
func (ix *Index) FactCandidates(key string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return dedupe(ix.facts.candidates(key))
}

// TimerCandidates returns rule ids whose timer trigger may match name.
func (ix *Index) TimerCandidates(name string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return dedupe(ix.timers.candidates(name))
}

// TemporalCandidates returns temporal rule ids referencing topic. The
// engine feeds matching events to those rules' pattern instances.
func (ix *Index) TemporalCandidates(topic string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return dedupe(ix.temporal.candidates(topic))
}

func removeID(ids []string, id string) []string {
	kept := ids[:0]
	for _, x := range ids {
		if x != id {
			kept = append(kept, x)
		}
	}
	return kept
}

func dedupe(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
