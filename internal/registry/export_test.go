package registry

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberfall/cinder/internal/faults"
	"github.com/emberfall/cinder/internal/rule"
)

func TestRegistry_Export_Golden(t *testing.T) {
	g, _ := newTestRegistry()
	ctx := context.Background()

	// Registered out of id order; the export sorts.
	escalate := &rule.Rule{
		ID:       "escalate",
		Name:     "Escalate stale orders",
		Priority: 5,
		Enabled:  true,
		Tags:     []string{"ops"},
		Trigger:  rule.Trigger{Type: rule.TriggerFact, Pattern: "order:*:status"},
		Actions: []rule.Action{
			{Type: rule.ActionSetFact, Key: "alerts:order:{{$1}}", Value: "stale"},
		},
	}
	audit := &rule.Rule{
		ID:      "audit",
		Name:    "Audit trail",
		Enabled: true,
		Trigger: rule.Trigger{Type: rule.TriggerEvent, Topic: "order.created"},
		Actions: []rule.Action{
			{Type: rule.ActionLog, Message: "order created"},
		},
	}
	_, err := g.Register(ctx, escalate)
	require.NoError(t, err)
	_, err = g.Register(ctx, audit)
	require.NoError(t, err)

	blob, err := g.Export()
	require.NoError(t, err)

	goldie.New(t).Assert(t, "export", blob)
}

func TestRegistry_Import_SingleObject(t *testing.T) {
	g, _ := newTestRegistry()

	doc := []byte(`{
		"$schema": "https://example.com/rule.schema.json",
		"id": "r-1",
		"name": "Imported",
		"enabled": true,
		"trigger": {"type": "event", "topic": "a.b"},
		"actions": [{"type": "log", "message": "hi"}]
	}`)

	applied, err := g.Import(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	r, err := g.Get("r-1")
	require.NoError(t, err)
	assert.Equal(t, "Imported", r.Name)
	assert.Equal(t, 1, r.Version)
}

func TestRegistry_Import_Array(t *testing.T) {
	g, _ := newTestRegistry()

	doc := []byte(`[
		{"id": "r-1", "name": "One", "enabled": true,
		 "trigger": {"type": "event", "topic": "a.b"},
		 "actions": [{"type": "log", "message": "x"}]},
		{"id": "r-2", "name": "Two", "enabled": true,
		 "trigger": {"type": "event", "topic": "c.d"},
		 "actions": [{"type": "log", "message": "y"}]}
	]`)

	applied, err := g.Import(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 2, g.Len())
}

func TestRegistry_Import_UpdatesExisting(t *testing.T) {
	g, _ := newTestRegistry()
	ctx := context.Background()

	_, err := g.Register(ctx, eventRule("r-1", "a.b"))
	require.NoError(t, err)

	doc := []byte(`{"id": "r-1", "name": "Replaced", "enabled": true,
		"trigger": {"type": "event", "topic": "a.c"},
		"actions": [{"type": "log", "message": "x"}]}`)

	applied, err := g.Import(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	r, err := g.Get("r-1")
	require.NoError(t, err)
	assert.Equal(t, "Replaced", r.Name)
	assert.Equal(t, 2, r.Version)
}

func TestRegistry_Import_AbortsOnFirstFailure(t *testing.T) {
	g, _ := newTestRegistry()

	// The second document is missing a name; the third is never reached.
	doc := []byte(`[
		{"id": "r-1", "name": "Ok", "enabled": true,
		 "trigger": {"type": "event", "topic": "a.b"},
		 "actions": [{"type": "log", "message": "x"}]},
		{"id": "r-2", "enabled": true,
		 "trigger": {"type": "event", "topic": "c.d"},
		 "actions": [{"type": "log", "message": "y"}]},
		{"id": "r-3", "name": "Unreached", "enabled": true,
		 "trigger": {"type": "event", "topic": "e.f"},
		 "actions": [{"type": "log", "message": "z"}]}
	]`)

	applied, err := g.Import(context.Background(), doc)
	require.Error(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, g.Len())
	_, err = g.Get("r-3")
	assert.Error(t, err)
}

func TestRegistry_Import_ParseError(t *testing.T) {
	g, _ := newTestRegistry()
	_, err := g.Import(context.Background(), []byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, faults.CodeValidation, faults.CodeOf(err))
}

func TestRegistry_ExportImport_RoundTrip(t *testing.T) {
	g, _ := newTestRegistry()
	ctx := context.Background()

	_, err := g.Register(ctx, eventRule("r-1", "a.b"))
	require.NoError(t, err)
	_, err = g.Register(ctx, eventRule("r-2", "c.d"))
	require.NoError(t, err)

	blob, err := g.Export()
	require.NoError(t, err)

	g2, _ := newTestRegistry()
	applied, err := g2.Import(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 2, g2.Len())
}
