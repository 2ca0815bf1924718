package cli

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blqio/blq/internal/store"
)

func TestExecRecordsRun(t *testing.T) {
	dir := t.TempDir()

	out, _, err := execute(t, "--dir", dir, "exec", "--", "sh", "-c", "echo built")
	require.NoError(t, err)
	assert.Contains(t, out, "built")
	assert.Contains(t, out, "recorded run")

	st, err := store.Open(filepath.Join(dir, ".lq", "blq.db"))
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.ListInvocations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "sh -c echo built", runs[0].Cmd)
	require.NotNil(t, runs[0].ExitCode)
	assert.Equal(t, 0, *runs[0].ExitCode)
}

func TestExecWorkspaceLayout(t *testing.T) {
	dir := t.TempDir()

	// Emit well past the inline threshold so the output lands on disk.
	script := "i=0; while [ $i -lt 500 ]; do echo 'a line of build output to spill'; i=$((i+1)); done"
	_, _, err := execute(t, "--dir", dir, "exec", "--quiet", "--", "sh", "-c", script)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, ".lq", "blq.db"))
	matches, err := filepath.Glob(filepath.Join(dir, ".lq", "blobs", "content", "*", "*.bin"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestExecMirrorsChildFailure(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "--dir", dir, "exec", "--", "sh", "-c", "exit 7")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "exited with code 7")
}

func TestExecQuietSuppressesMirroring(t *testing.T) {
	dir := t.TempDir()

	out, _, err := execute(t, "--dir", dir, "exec", "--quiet", "--", "sh", "-c", "echo noisy")
	require.NoError(t, err)
	assert.NotContains(t, strings.SplitN(out, "recorded run", 2)[0], "noisy")

	// The output is still captured even though it was not mirrored.
	st, err := store.Open(filepath.Join(dir, ".lq", "blq.db"))
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.ListInvocations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	outputs, err := st.ReadOutputs(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
}

func TestExecJSONOutput(t *testing.T) {
	dir := t.TempDir()

	out, _, err := execute(t, "--dir", dir, "--format", "json", "exec", "--", "sh", "-c", "true")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
	assert.Contains(t, out, `"attempt_id"`)
}
