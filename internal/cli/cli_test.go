package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blqio/blq/internal/record"
	"github.com/blqio/blq/internal/store"
)

// execute runs the blq root command with the given args, capturing output.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// seedStore opens the workspace database directly, for tests that need
// deterministic rows the commands would otherwise generate.
func seedStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	lq := filepath.Join(dir, ".lq")
	require.NoError(t, os.MkdirAll(lq, 0o755))
	st, err := store.Open(filepath.Join(lq, "blq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedRun(t *testing.T, st *store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.EnsureSession(ctx, record.Session{
		SessionID:     "sess-1",
		ClientID:      "test",
		Invoker:       "test",
		InvokerType:   "cli",
		RegisteredAt:  1700000000000,
		DatePartition: "2023-11-14",
	}))
	require.NoError(t, st.WriteAttempt(ctx, record.Attempt{
		ID:            id,
		SessionID:     "sess-1",
		Cmd:           "go build ./...",
		Cwd:           "/src",
		Timestamp:     1700000000000,
		DatePartition: "2023-11-14",
	}))
	zero := 0
	require.NoError(t, st.WriteOutcome(ctx, record.Outcome{
		AttemptID:     id,
		ExitCode:      &zero,
		CompletedAt:   1700000004000,
		DurationMs:    4000,
		DatePartition: "2023-11-14",
	}))
	require.NoError(t, st.WriteInvocation(ctx, record.Invocation{
		ID:            id,
		SessionID:     "sess-1",
		RunNumber:     1,
		Cmd:           "go build ./...",
		Cwd:           "/src",
		Timestamp:     1700000000000,
		ExitCode:      &zero,
		DurationMs:    4000,
		DatePartition: "2023-11-14",
	}))
}
