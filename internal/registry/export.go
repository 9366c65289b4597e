package registry

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/emberfall/cinder/internal/faults"
	"github.com/emberfall/cinder/internal/rule"
)

// Export renders the registered rules as a deterministic JSON document:
// an array sorted by rule id, indented, trailing newline. Suitable for
// version control and re-import.
func (g *Registry) Export() ([]byte, error) {
	g.mu.RLock()
	rules := make([]*rule.Rule, 0, len(g.rules))
	for _, r := range g.rules {
		rules = append(rules, r.Clone())
	}
	g.mu.RUnlock()
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	blob, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return nil, faults.Wrap(faults.CodeInternal, err, "encode rule export")
	}
	return append(blob, '\n'), nil
}

// importDoc tolerates a $schema field on single-rule documents.
type importDoc struct {
	Schema string `json:"$schema"`
	rule.Rule
}

// Import loads a rule document: either one rule object or an array of
// them. Existing ids are updated, new ids registered. Returns the number
// of rules applied; the first failure aborts the remainder.
func (g *Registry) Import(ctx context.Context, data []byte) (int, error) {
	rules, err := decodeRuleDoc(data)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, r := range rules {
		if _, gerr := g.Get(r.ID); gerr == nil {
			_, err = g.Update(ctx, r)
		} else {
			_, err = g.Register(ctx, r)
		}
		if err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// decodeRuleDoc parses a single rule or a top-level array.
func decodeRuleDoc(data []byte) ([]*rule.Rule, error) {
	trimmed := firstNonSpace(data)
	if trimmed == '[' {
		var docs []importDoc
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, faults.Wrap(faults.CodeValidation, err, "parse rule document array")
		}
		out := make([]*rule.Rule, len(docs))
		for i := range docs {
			r := docs[i].Rule
			out[i] = &r
		}
		return out, nil
	}
	var doc importDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, faults.Wrap(faults.CodeValidation, err, "parse rule document")
	}
	r := doc.Rule
	return []*rule.Rule{&r}, nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
