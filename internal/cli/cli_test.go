package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberfall/cinder/internal/registry"
	"github.com/emberfall/cinder/internal/rule"
	"github.com/emberfall/cinder/internal/store"
	"github.com/emberfall/cinder/internal/testutil"
)

// runCommand executes the root command with args and captures output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validRuleDoc = `{
	"id": "audit",
	"name": "Audit",
	"enabled": true,
	"trigger": {"type": "event", "topic": "order.created"},
	"actions": [{"type": "log", "message": "hit"}]
}`

func TestRoot_InvalidFormat(t *testing.T) {
	path := writeFile(t, "rules.json", validRuleDoc)
	_, err := runCommand(t, "--format", "xml", "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestValidate_Ok(t *testing.T) {
	path := writeFile(t, "rules.json", validRuleDoc)

	out, err := runCommand(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (1 rules)")
}

func TestValidate_InvalidRuleFails(t *testing.T) {
	path := writeFile(t, "rules.json", `[
		{"id": "ok", "name": "Ok", "enabled": true,
		 "trigger": {"type": "event", "topic": "a.b"},
		 "actions": [{"type": "log", "message": "x"}]},
		{"id": "broken", "enabled": true,
		 "trigger": {"type": "event", "topic": "c.d"},
		 "actions": [{"type": "log", "message": "y"}]}
	]`)

	out, err := runCommand(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "error:")
}

func TestValidate_WarningsDoNotFail(t *testing.T) {
	path := writeFile(t, "rules.json", `{
		"id": "warned",
		"name": "Warned",
		"enabled": true,
		"trigger": {"type": "event", "topic": "a.b"},
		"actions": [{"type": "log", "message": "{{evnt.id}}"}]
	}`)

	out, err := runCommand(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "warning:")
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := runCommand(t, "validate", filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate_JSONFormat(t *testing.T) {
	path := writeFile(t, "rules.json", validRuleDoc)

	out, err := runCommand(t, "--format", "json", "validate", path)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   []struct {
			Path  string `json:"path"`
			Rules int    `json:"rules"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 1, resp.Data[0].Rules)
}

func TestValidate_CueDocument(t *testing.T) {
	path := writeFile(t, "rules.cue", `
rules: [{
	id:      "cue-rule"
	name:    "From CUE"
	enabled: true
	trigger: {type: "event", topic: "order.created"}
	actions: [{type: "log", message: "hit"}]
}]
`)

	out, err := runCommand(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (1 rules)")
}

func TestExport_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cinder.db")
	ctx := context.Background()

	// Seed the store the way a running engine would.
	adapter, err := store.OpenSQLite(dbPath)
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(testutil.NewManualClock(), log, registry.WithAdapter(adapter))
	_, err = reg.Register(ctx, &rule.Rule{
		ID: "audit", Name: "Audit", Enabled: true,
		Trigger: rule.Trigger{Type: rule.TriggerEvent, Topic: "order.created"},
		Actions: []rule.Action{{Type: rule.ActionLog, Message: "hit"}},
	})
	require.NoError(t, err)
	require.NoError(t, adapter.Close())

	cfgPath := writeFile(t, "cinder.yaml", "name: test\npersistence:\n  path: "+dbPath+"\n")

	out, err := runCommand(t, "export", "--config", cfgPath)
	require.NoError(t, err)

	var rules []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, "audit", rules[0]["id"])
}

func TestExport_WritesFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cinder.db")

	adapter, err := store.OpenSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, adapter.Close())

	cfgPath := writeFile(t, "cinder.yaml", "name: test\npersistence:\n  path: "+dbPath+"\n")
	outPath := filepath.Join(dir, "rules.json")

	out, err := runCommand(t, "export", "--config", cfgPath, "-o", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 0 rules")

	doc, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(doc))
}

func TestExport_RequiresPersistence(t *testing.T) {
	cfgPath := writeFile(t, "cinder.yaml", "name: test\n")
	_, err := runCommand(t, "export", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := WrapExitError(ExitCommandError, "read file", inner)

	assert.Equal(t, "read file: boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	bare := WrapExitError(ExitFailure, "just failed", nil)
	assert.Equal(t, "just failed", bare.Error())

	// Errors without an exit code default to failure.
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := &Formatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Success(map[string]any{"n": 1}))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])

	buf.Reset()
	f.Format = "text"
	require.NoError(t, f.Failure("bad input"))
	assert.Contains(t, buf.String(), "Error: bad input")
}

func TestRoot_UnknownCommand(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"bogus"})
	assert.Error(t, cmd.Execute())
}
