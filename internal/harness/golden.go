package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// snapshot is the serialized form compared against golden files.
type snapshot struct {
	Scenario string       `json:"scenario"`
	Trace    []TraceEvent `json:"trace"`
}

// RunWithGolden executes the scenario and compares its trace against
// testdata/<scenario-name>.golden. Regenerate with:
//
//	go test ./... -update
func RunWithGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()
	res := Run(t, s)

	blob, err := json.MarshalIndent(snapshot{Scenario: s.Name, Trace: res.Trace}, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, s.Name, append(blob, '\n'))
	return res
}
