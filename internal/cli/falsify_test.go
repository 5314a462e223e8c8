package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specterhq/specter/internal/store"
)

const brokenScenarioYAML = `
name: broken-baseline
machines: [broken.cue]
script:
  go:
    - {value: true}
expect:
  defects: [DANGLING_REFERENCE]
`

func newFalsifyCmd(format string) (*bytes.Buffer, *cobra.Command) {
	buf := &bytes.Buffer{}
	cmd := NewFalsifyCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return buf, cmd
}

func TestFalsify_AllMutationsCaught(t *testing.T) {
	_, _, scenarioPath := writePipelineFixtures(t)

	buf, cmd := newFalsifyCmd("text")
	cmd.SetArgs([]string{scenarioPath})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "0 missed")
	assert.Contains(t, out, "✓ remove-state-loading caught at validator/DANGLING_REFERENCE")
	assert.Contains(t, out, "✓ negate-invariant-ready caught at runtime/INVARIANT_VIOLATION")
	assert.Contains(t, out, "✓ tighten-time-budget-load caught at runtime/TIME_BUDGET_EXCEEDED")
	assert.Contains(t, out, "✓ tighten-memory-budget-load caught at runtime/MEMORY_BUDGET_EXCEEDED")
	assert.Contains(t, out, "✓ force-forbidden-edge-load caught at runtime/FORBIDDEN_TRANSITION")
}

func TestFalsify_JSONReportsAllCaught(t *testing.T) {
	_, _, scenarioPath := writePipelineFixtures(t)

	buf, cmd := newFalsifyCmd("json")
	cmd.SetArgs([]string{scenarioPath})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var report FalsifyReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.True(t, report.AllCaught)
	assert.Zero(t, report.Missed)
	assert.NotEmpty(t, report.Entries)
}

func TestFalsify_PersistsMatrix(t *testing.T) {
	dir, _, scenarioPath := writePipelineFixtures(t)
	dbPath := filepath.Join(dir, "specter.db")

	_, cmd := newFalsifyCmd("text")
	cmd.SetArgs([]string{scenarioPath, "--db", dbPath})

	require.NoError(t, cmd.Execute())

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	matrix, err := st.ReadMatrix(context.Background(), "pipeline")
	require.NoError(t, err)
	assert.True(t, matrix.AllCaught())
	assert.NotEmpty(t, matrix.Entries)
}

func TestFalsify_DefectiveBaselineRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.cue", brokenCUE)
	scenarioPath := writeFile(t, dir, "broken.yaml", brokenScenarioYAML)

	buf, cmd := newFalsifyCmd("text")
	cmd.SetArgs([]string{scenarioPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "defect(s)")
}

func TestFalsify_BadScenarioPath(t *testing.T) {
	_, cmd := newFalsifyCmd("text")
	cmd.SetArgs([]string{"/nonexistent/scenario.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
