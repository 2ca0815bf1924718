package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/blqio/blq/internal/record"
)

// createTestStore creates a file-backed store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blq.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ensureTestSession registers a session so attempt FK constraints hold.
func ensureTestSession(t *testing.T, s *Store, sessionID string) {
	t.Helper()
	sess := record.Session{
		SessionID:     sessionID,
		ClientID:      "test-client",
		Invoker:       "cli",
		InvokerType:   "test",
		RegisteredAt:  1700000000000,
		DatePartition: "2023-11-14",
	}
	if err := s.EnsureSession(context.Background(), sess); err != nil {
		t.Fatalf("EnsureSession() failed: %v", err)
	}
}

// createTestAttempt builds an attempt with minimal required fields.
func createTestAttempt(id, sessionID, cmd string, timestampMs int64) record.Attempt {
	return record.Attempt{
		ID:            id,
		SessionID:     sessionID,
		Cmd:           cmd,
		Cwd:           "/work",
		ClientID:      "test-client",
		Timestamp:     timestampMs,
		Executable:    "sh",
		Hostname:      "testhost",
		Username:      "tester",
		DatePartition: record.PartitionFor(timestampMs),
	}
}

// createTestInvocation builds an invocation sharing the attempt's ID.
func createTestInvocation(id, sessionID, cmd string, timestampMs int64, exitCode int) record.Invocation {
	return record.Invocation{
		ID:            id,
		SessionID:     sessionID,
		RunNumber:     1,
		Cmd:           cmd,
		Cwd:           "/work",
		Timestamp:     timestampMs,
		ExitCode:      &exitCode,
		DurationMs:    120,
		Hostname:      "testhost",
		DatePartition: record.PartitionFor(timestampMs),
	}
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }
