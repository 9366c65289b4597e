// Package registry owns the rule set: registration, updates, enable and
// disable, groups, append-only version history, and rollback. Every
// successful mutation bumps the rule version, appends a history entry,
// and reindexes the trigger index before it returns.
//
// Mutations are validated first; a rejected document leaves no trace.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/emberfall/cinder/internal/clock"
	"github.com/emberfall/cinder/internal/faults"
	"github.com/emberfall/cinder/internal/rule"
	"github.com/emberfall/cinder/internal/store"
)

// Reindexer receives rule mutations to keep the trigger index current.
// *index.Index satisfies it.
type Reindexer interface {
	Add(r *rule.Rule)
	Remove(ruleID string)
	Update(r *rule.Rule)
}

// TemporalRegistrar tracks pattern instances across rule mutations.
// *temporal.Matcher satisfies it.
type TemporalRegistrar interface {
	Register(ruleID string, p rule.TemporalPattern)
	Unregister(ruleID string)
}

// Registry is the rule store. Safe for concurrent use; API goroutines
// mutate under the registry lock while the dispatch loop reads.
type Registry struct {
	clk clock.Clock
	log *slog.Logger

	adapter  store.Adapter // nil disables persistence
	index    Reindexer
	temporal TemporalRegistrar

	mu       sync.RWMutex
	rules    map[string]*rule.Rule
	order    map[string]int // registration order, survives updates
	next     int
	groups   map[string]*rule.Group
	versions map[string][]rule.VersionEntry
}

// Option configures a Registry.
type Option func(*Registry)

// WithAdapter enables persistence through the storage adapter.
func WithAdapter(a store.Adapter) Option {
	return func(g *Registry) { g.adapter = a }
}

// WithIndex wires the trigger index for incremental reindexing.
func WithIndex(ix Reindexer) Option {
	return func(g *Registry) { g.index = ix }
}

// WithTemporal wires the temporal matcher for pattern instance lifecycle.
func WithTemporal(t TemporalRegistrar) Option {
	return func(g *Registry) { g.temporal = t }
}

// New creates an empty registry.
func New(c clock.Clock, log *slog.Logger, opts ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	g := &Registry{
		clk:      c,
		log:      log,
		rules:    make(map[string]*rule.Rule),
		order:    make(map[string]int),
		groups:   make(map[string]*rule.Group),
		versions: make(map[string][]rule.VersionEntry),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateInput checks a rule document without committing anything.
// Warnings cover suspicious-but-legal constructs such as template
// references to unknown binding roots.
func (g *Registry) ValidateInput(r *rule.Rule) ([]string, error) {
	return rule.Validate(r)
}

// Register adds a new rule. The stored rule starts at version 1 with
// fresh timestamps regardless of what the document carried.
func (g *Registry) Register(ctx context.Context, r *rule.Rule) (*rule.Rule, error) {
	warnings, err := rule.Validate(r)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		g.log.Warn("rule validation warning", "rule", r.ID, "warning", w)
	}

	g.mu.Lock()
	if _, exists := g.rules[r.ID]; exists {
		g.mu.Unlock()
		return nil, faults.Conflict("rule %q is already registered", r.ID)
	}
	now := g.clk.Now()
	stored := r.Clone()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	g.rules[stored.ID] = stored
	g.order[stored.ID] = g.next
	g.next++
	g.appendVersionLocked(stored, rule.ChangeRegistered, 0)
	g.mu.Unlock()

	g.reindexAdd(stored)
	g.persist(ctx, stored.ID)
	g.log.Info("rule registered", "rule", stored.ID, "name", stored.Name)
	return stored.Clone(), nil
}

// Update replaces a rule's definition. Version increments; CreatedAt and
// registration order are preserved.
func (g *Registry) Update(ctx context.Context, r *rule.Rule) (*rule.Rule, error) {
	warnings, err := rule.Validate(r)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		g.log.Warn("rule validation warning", "rule", r.ID, "warning", w)
	}

	g.mu.Lock()
	prev, exists := g.rules[r.ID]
	if !exists {
		g.mu.Unlock()
		return nil, faults.NotFound("rule %q", r.ID)
	}
	stored := r.Clone()
	stored.Version = prev.Version + 1
	stored.CreatedAt = prev.CreatedAt
	stored.UpdatedAt = g.clk.Now()
	g.rules[stored.ID] = stored
	g.appendVersionLocked(stored, rule.ChangeUpdated, 0)
	g.mu.Unlock()

	g.reindexUpdate(prev, stored)
	g.persist(ctx, stored.ID)
	g.log.Info("rule updated", "rule", stored.ID, "version", stored.Version)
	return stored.Clone(), nil
}

// Unregister removes a rule. Its version history remains, closed by an
// unregistered entry.
func (g *Registry) Unregister(ctx context.Context, id string) error {
	g.mu.Lock()
	prev, exists := g.rules[id]
	if !exists {
		g.mu.Unlock()
		return faults.NotFound("rule %q", id)
	}
	final := prev.Clone()
	final.Version = prev.Version + 1
	final.UpdatedAt = g.clk.Now()
	delete(g.rules, id)
	delete(g.order, id)
	g.appendVersionLocked(final, rule.ChangeUnregistered, 0)
	g.mu.Unlock()

	if g.index != nil {
		g.index.Remove(id)
	}
	if g.temporal != nil && prev.Trigger.Type == rule.TriggerTemporal {
		g.temporal.Unregister(id)
	}
	g.persist(ctx, id)
	g.log.Info("rule unregistered", "rule", id)
	return nil
}

// Enable marks a rule enabled. Idempotent: enabling an enabled rule does
// not bump the version.
func (g *Registry) Enable(ctx context.Context, id string) (*rule.Rule, error) {
	return g.setEnabled(ctx, id, true)
}

// Disable marks a rule disabled. The rule stays indexed but never fires.
func (g *Registry) Disable(ctx context.Context, id string) (*rule.Rule, error) {
	return g.setEnabled(ctx, id, false)
}

func (g *Registry) setEnabled(ctx context.Context, id string, enabled bool) (*rule.Rule, error) {
	g.mu.Lock()
	prev, exists := g.rules[id]
	if !exists {
		g.mu.Unlock()
		return nil, faults.NotFound("rule %q", id)
	}
	if prev.Enabled == enabled {
		out := prev.Clone()
		g.mu.Unlock()
		return out, nil
	}
	stored := prev.Clone()
	stored.Enabled = enabled
	stored.Version = prev.Version + 1
	stored.UpdatedAt = g.clk.Now()
	g.rules[id] = stored
	change := rule.ChangeDisabled
	if enabled {
		change = rule.ChangeEnabled
	}
	g.appendVersionLocked(stored, change, 0)
	g.mu.Unlock()

	g.persist(ctx, id)
	g.log.Info("rule toggled", "rule", id, "enabled", enabled)
	return stored.Clone(), nil
}

// Rollback restores a prior version's snapshot as a new version. The new
// entry is tagged rolled_back with the version that was current when the
// rollback happened.
func (g *Registry) Rollback(ctx context.Context, id string, version int) (*rule.Rule, error) {
	g.mu.Lock()
	prev, exists := g.rules[id]
	if !exists {
		g.mu.Unlock()
		return nil, faults.NotFound("rule %q", id)
	}
	var target *rule.Rule
	for i := range g.versions[id] {
		if g.versions[id][i].Version == version {
			target = g.versions[id][i].Snapshot.Clone()
			break
		}
	}
	if target == nil {
		g.mu.Unlock()
		return nil, faults.NotFound("rule %q has no version %d", id, version)
	}
	stored := target
	stored.ID = id
	stored.Version = prev.Version + 1
	stored.CreatedAt = prev.CreatedAt
	stored.UpdatedAt = g.clk.Now()
	g.rules[id] = stored
	g.appendVersionLocked(stored, rule.ChangeRolledBack, prev.Version)
	g.mu.Unlock()

	g.reindexUpdate(prev, stored)
	g.persist(ctx, id)
	g.log.Info("rule rolled back", "rule", id, "to", version, "from", prev.Version)
	return stored.Clone(), nil
}

// Get returns a snapshot of the rule.
func (g *Registry) Get(id string) (*rule.Rule, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, exists := g.rules[id]
	if !exists {
		return nil, faults.NotFound("rule %q", id)
	}
	return r.Clone(), nil
}

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	Group       string
	Tag         string
	EnabledOnly bool
}

// List returns matching rule snapshots in dispatch order: priority
// descending, registration order on ties.
func (g *Registry) List(f Filter) []*rule.Rule {
	g.mu.RLock()
	out := make([]*rule.Rule, 0, len(g.rules))
	for _, r := range g.rules {
		if f.Group != "" && r.Group != f.Group {
			continue
		}
		if f.Tag != "" && !hasTag(r, f.Tag) {
			continue
		}
		if f.EnabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r.Clone())
	}
	g.mu.RUnlock()
	g.sortDispatchOrder(out)
	return out
}

// History returns the rule's version entries, oldest first. Available
// for unregistered rules too.
func (g *Registry) History(id string) ([]rule.VersionEntry, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entries, exists := g.versions[id]
	if !exists {
		return nil, faults.NotFound("rule %q has no history", id)
	}
	out := make([]rule.VersionEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// UpsertGroup creates or replaces a group definition.
func (g *Registry) UpsertGroup(grp rule.Group) error {
	if grp.ID == "" {
		return faults.Validation("group id must not be empty")
	}
	g.mu.Lock()
	c := grp
	g.groups[grp.ID] = &c
	g.mu.Unlock()
	return nil
}

// EnableGroup re-enables a group's rules.
func (g *Registry) EnableGroup(id string) error { return g.setGroupEnabled(id, true) }

// DisableGroup suppresses every rule referencing the group, regardless
// of the rules' own enabled flags.
func (g *Registry) DisableGroup(id string) error { return g.setGroupEnabled(id, false) }

func (g *Registry) setGroupEnabled(id string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, exists := g.groups[id]
	if !exists {
		return faults.NotFound("group %q", id)
	}
	grp.Enabled = enabled
	return nil
}

// Groups returns all group definitions sorted by id.
func (g *Registry) Groups() []rule.Group {
	g.mu.RLock()
	out := make([]rule.Group, 0, len(g.groups))
	for _, grp := range g.groups {
		out = append(out, *grp)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select resolves candidate ids to firing-eligible rule snapshots in
// dispatch order. Disabled rules and rules in disabled groups drop out;
// rules referencing unknown groups are treated as ungated.
func (g *Registry) Select(ids []string) []*rule.Rule {
	g.mu.RLock()
	out := make([]*rule.Rule, 0, len(ids))
	for _, id := range ids {
		r, exists := g.rules[id]
		if !exists || !r.Enabled {
			continue
		}
		if r.Group != "" {
			if grp, known := g.groups[r.Group]; known && !grp.Enabled {
				continue
			}
		}
		out = append(out, r.Clone())
	}
	g.mu.RUnlock()
	g.sortDispatchOrder(out)
	return out
}

// TemporalPattern returns the temporal pattern of a rule, for engines
// rebuilding matcher state at startup.
func (g *Registry) TemporalPattern(id string) (rule.TemporalPattern, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, exists := g.rules[id]
	if !exists || r.Trigger.Type != rule.TriggerTemporal || r.Trigger.Temporal == nil {
		return rule.TemporalPattern{}, false
	}
	return *r.Trigger.Temporal, true
}

// Len reports the number of registered rules.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rules)
}

// sortDispatchOrder sorts by priority descending with registration-order
// ties. Rules no longer registered sort by id as a stable fallback.
func (g *Registry) sortDispatchOrder(rules []*rule.Rule) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		ao, aok := g.order[a.ID]
		bo, bok := g.order[b.ID]
		if aok && bok {
			return ao < bo
		}
		return a.ID < b.ID
	})
}

// appendVersionLocked records a history entry. Caller holds g.mu.
func (g *Registry) appendVersionLocked(r *rule.Rule, change rule.ChangeType, rolledBackFrom int) {
	g.versions[r.ID] = append(g.versions[r.ID], rule.VersionEntry{
		Version:        r.Version,
		Snapshot:       *r.Clone(),
		Timestamp:      r.UpdatedAt,
		ChangeType:     change,
		RolledBackFrom: rolledBackFrom,
	})
}

func (g *Registry) reindexAdd(r *rule.Rule) {
	if g.index != nil {
		g.index.Add(r)
	}
	if g.temporal != nil && r.Trigger.Type == rule.TriggerTemporal && r.Trigger.Temporal != nil {
		g.temporal.Register(r.ID, *r.Trigger.Temporal)
	}
}

func (g *Registry) reindexUpdate(prev, next *rule.Rule) {
	if g.index != nil {
		g.index.Update(next)
	}
	if g.temporal == nil {
		return
	}
	// A trigger change resets temporal state; re-registering replaces the
	// pattern instance wholesale.
	switch {
	case next.Trigger.Type == rule.TriggerTemporal && next.Trigger.Temporal != nil:
		g.temporal.Register(next.ID, *next.Trigger.Temporal)
	case prev.Trigger.Type == rule.TriggerTemporal:
		g.temporal.Unregister(next.ID)
	}
}

func hasTag(r *rule.Rule, tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
