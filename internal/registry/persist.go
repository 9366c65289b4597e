package registry

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/emberfall/cinder/internal/faults"
	"github.com/emberfall/cinder/internal/rule"
	"github.com/emberfall/cinder/internal/store"
)

// persistedState is the JSON blob stored under the rules key. Order
// preserves registration order across restarts so priority ties keep
// breaking the same way.
type persistedState struct {
	Rules  []*rule.Rule `json:"rules"`
	Groups []rule.Group `json:"groups,omitempty"`
	Order  []string     `json:"order"`
}

// persist writes the rule set and the mutated rule's version history.
// Persistence failures are logged, not surfaced: the in-memory mutation
// already happened and the next successful write converges.
func (g *Registry) persist(ctx context.Context, mutatedID string) {
	if g.adapter == nil {
		return
	}
	g.mu.RLock()
	state := persistedState{
		Rules:  make([]*rule.Rule, 0, len(g.rules)),
		Groups: make([]rule.Group, 0, len(g.groups)),
		Order:  make([]string, 0, len(g.order)),
	}
	for _, r := range g.rules {
		state.Rules = append(state.Rules, r.Clone())
	}
	for _, grp := range g.groups {
		state.Groups = append(state.Groups, *grp)
	}
	for id := range g.order {
		state.Order = append(state.Order, id)
	}
	history := make([]rule.VersionEntry, len(g.versions[mutatedID]))
	copy(history, g.versions[mutatedID])
	order := make(map[string]int, len(g.order))
	for id, n := range g.order {
		order[id] = n
	}
	g.mu.RUnlock()

	sort.Slice(state.Rules, func(i, j int) bool { return state.Rules[i].ID < state.Rules[j].ID })
	sort.Slice(state.Groups, func(i, j int) bool { return state.Groups[i].ID < state.Groups[j].ID })
	sort.Slice(state.Order, func(i, j int) bool { return order[state.Order[i]] < order[state.Order[j]] })

	blob, err := json.Marshal(state)
	if err != nil {
		g.log.Error("marshal rule state", "error", err)
		return
	}
	if err := g.adapter.Save(ctx, store.KeyRules, blob); err != nil {
		g.log.Error("persist rule state", "error", err)
	}

	hb, err := json.Marshal(history)
	if err != nil {
		g.log.Error("marshal version history", "rule", mutatedID, "error", err)
		return
	}
	if err := g.adapter.Save(ctx, store.KeyVersionPrefix+mutatedID, hb); err != nil {
		g.log.Error("persist version history", "rule", mutatedID, "error", err)
	}
}

// Load restores rules, groups, registration order, and version histories
// from the adapter. Call once before the engine starts dispatching; the
// caller rebuilds the trigger index afterwards.
func (g *Registry) Load(ctx context.Context) error {
	if g.adapter == nil {
		return nil
	}
	blob, found, err := g.adapter.Load(ctx, store.KeyRules)
	if err != nil {
		return faults.Wrap(faults.CodeUnavailable, err, "load rule state")
	}
	if found {
		var state persistedState
		if err := json.Unmarshal(blob, &state); err != nil {
			return faults.Wrap(faults.CodeInternal, err, "decode rule state")
		}
		g.mu.Lock()
		for i, id := range state.Order {
			g.order[id] = i
			if i >= g.next {
				g.next = i + 1
			}
		}
		for _, r := range state.Rules {
			g.rules[r.ID] = r
			if _, ok := g.order[r.ID]; !ok {
				g.order[r.ID] = g.next
				g.next++
			}
		}
		for i := range state.Groups {
			grp := state.Groups[i]
			g.groups[grp.ID] = &grp
		}
		g.mu.Unlock()
	}

	keys, err := g.adapter.ListKeys(ctx, store.KeyVersionPrefix)
	if err != nil {
		return faults.Wrap(faults.CodeUnavailable, err, "list version histories")
	}
	for _, key := range keys {
		id := strings.TrimPrefix(key, store.KeyVersionPrefix)
		hb, found, err := g.adapter.Load(ctx, key)
		if err != nil || !found {
			continue
		}
		var history []rule.VersionEntry
		if err := json.Unmarshal(hb, &history); err != nil {
			g.log.Warn("skipping corrupt version history", "rule", id, "error", err)
			continue
		}
		g.mu.Lock()
		g.versions[id] = history
		g.mu.Unlock()
	}

	g.mu.RLock()
	count := len(g.rules)
	g.mu.RUnlock()
	if count > 0 {
		g.log.Info("rule state restored", "rules", count)
	}
	return nil
}
