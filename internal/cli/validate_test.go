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

func newValidateCmd(format string) (*bytes.Buffer, *cobra.Command) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return buf, cmd
}

func TestValidate_ValidMachine(t *testing.T) {
	_, machinePath, _ := writePipelineFixtures(t)

	buf, cmd := newValidateCmd("text")
	cmd.SetArgs([]string{machinePath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ pipeline")
	assert.Contains(t, buf.String(), "All machines valid")
}

func TestValidate_ValidMachineJSON(t *testing.T) {
	_, machinePath, _ := writePipelineFixtures(t)

	buf, cmd := newValidateCmd("json")
	cmd.SetArgs([]string{machinePath})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidate_DefectiveMachine(t *testing.T) {
	dir := t.TempDir()
	machinePath := writeFile(t, dir, "broken.cue", brokenCUE)

	buf, cmd := newValidateCmd("text")
	cmd.SetArgs([]string{machinePath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "Validation failed")
	assert.Contains(t, buf.String(), "DANGLING_REFERENCE")
	assert.Contains(t, buf.String(), "UNREACHABLE_STATE")
}

func TestValidate_NonExistentPath(t *testing.T) {
	buf, cmd := newValidateCmd("text")
	cmd.SetArgs([]string{"/nonexistent/machines"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, buf.String(), "not found")
}

func TestValidate_EmptyDirectory(t *testing.T) {
	buf, cmd := newValidateCmd("text")
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E003")
	assert.Contains(t, buf.String(), "no CUE files")
}

func TestValidate_PersistsDefects(t *testing.T) {
	dir := t.TempDir()
	machinePath := writeFile(t, dir, "broken.cue", brokenCUE)
	dbPath := filepath.Join(dir, "specter.db")

	_, cmd := newValidateCmd("text")
	cmd.SetArgs([]string{machinePath, "--db", dbPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	defects, err := st.ReadDefects(context.Background(), "broken")
	require.NoError(t, err)
	assert.Len(t, defects, 2)
}
