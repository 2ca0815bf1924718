package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"github.com/blqio/blq/internal/record"
)

// EnsureSession inserts a session row if it does not already exist.
// Idempotent: re-registering the same session_id is a no-op, so every
// command can call this unconditionally at startup.
func (s *Store) EnsureSession(ctx context.Context, sess record.Session) error {
	return s.retry.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions
			(session_id, client_id, invoker, invoker_type, invoker_pid, cwd, registered_at, date_partition)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO NOTHING
		`,
			sess.SessionID,
			sess.ClientID,
			sess.Invoker,
			sess.InvokerType,
			sess.InvokerPID,
			sess.Cwd,
			sess.RegisteredAt,
			sess.DatePartition,
		)
		if err != nil {
			return fmt.Errorf("ensure session: %w", err)
		}
		return nil
	})
}

// WriteAttempt inserts an attempt row: the command started, result unknown.
// No outcome row is implied to exist yet.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are
// silently ignored. Other constraint violations still return errors.
func (s *Store) WriteAttempt(ctx context.Context, a record.Attempt) error {
	envJSON, err := marshalStringMap(a.Env)
	if err != nil {
		return fmt.Errorf("write attempt: %w", err)
	}
	ciJSON, err := marshalStringMap(a.CI)
	if err != nil {
		return fmt.Errorf("write attempt: %w", err)
	}

	return s.retry.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO attempts
			(id, session_id, cmd, cwd, client_id, timestamp_ms, executable, format_hint,
			 hostname, username, pid, tag, source_name, source_type, env_json,
			 platform, arch, git_commit, git_branch, git_dirty, ci_json, date_partition)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			a.ID,
			a.SessionID,
			a.Cmd,
			a.Cwd,
			a.ClientID,
			a.Timestamp,
			a.Executable,
			a.FormatHint,
			a.Hostname,
			a.Username,
			nullInt(a.Pid),
			a.Tag,
			a.SourceName,
			a.SourceType,
			envJSON,
			a.Platform,
			a.Arch,
			a.GitCommit,
			a.GitBranch,
			boolToInt(a.GitDirty),
			ciJSON,
			a.DatePartition,
		)
		if err != nil {
			return fmt.Errorf("write attempt: %w", err)
		}
		return nil
	})
}

// WriteOutcome inserts the outcome row for an attempt.
// Each attempt can have exactly ONE outcome, enforced by the
// UNIQUE(attempt_id) constraint; a second write for the same attempt is
// silently ignored (ON CONFLICT DO NOTHING) rather than corrupting the
// first. A NULL exit code records an orphaned attempt: the process died
// without a normal exit.
//
// Note: the attempt referenced by AttemptID must exist (caller discipline;
// WriteAttempt always precedes WriteOutcome in the executor).
func (s *Store) WriteOutcome(ctx context.Context, o record.Outcome) error {
	return s.retry.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO outcomes
			(attempt_id, exit_code, completed_at_ms, duration_ms, signal, timed_out, date_partition)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(attempt_id) DO NOTHING
		`,
			o.AttemptID,
			nullInt(o.ExitCode),
			o.CompletedAt,
			o.DurationMs,
			nullInt(o.Signal),
			boolToInt(o.TimedOut),
			o.DatePartition,
		)
		if err != nil {
			return fmt.Errorf("write outcome: %w", err)
		}
		return nil
	})
}

// UpdateAttemptPid sets the process ID on an attempt after the child has
// been spawned. Permitted exactly once logically; multiple calls overwrite
// and last write wins - only the owning executor ever calls this, so no
// locking is needed.
func (s *Store) UpdateAttemptPid(ctx context.Context, attemptID string, pid int) error {
	return s.retry.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE attempts SET pid = ? WHERE id = ?
		`, pid, attemptID)
		if err != nil {
			return fmt.Errorf("update attempt pid: %w", err)
		}
		return nil
	})
}

// WriteInvocation inserts the denormalized record of a completed execution.
// The invocation shares its ID with the originating attempt for joinability.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteInvocation(ctx context.Context, inv record.Invocation) error {
	envJSON, err := marshalStringMap(inv.Env)
	if err != nil {
		return fmt.Errorf("write invocation: %w", err)
	}
	ciJSON, err := marshalStringMap(inv.CI)
	if err != nil {
		return fmt.Errorf("write invocation: %w", err)
	}

	return s.retry.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO invocations
			(id, session_id, run_number, cmd, cwd, client_id, timestamp_ms, executable,
			 exit_code, duration_ms, format_hint, hostname, username, tag, source_name,
			 source_type, env_json, platform, arch, git_commit, git_branch, git_dirty,
			 ci_json, date_partition)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			inv.ID,
			inv.SessionID,
			inv.RunNumber,
			inv.Cmd,
			inv.Cwd,
			inv.ClientID,
			inv.Timestamp,
			inv.Executable,
			nullInt(inv.ExitCode),
			inv.DurationMs,
			inv.FormatHint,
			inv.Hostname,
			inv.Username,
			inv.Tag,
			inv.SourceName,
			inv.SourceType,
			envJSON,
			inv.Platform,
			inv.Arch,
			inv.GitCommit,
			inv.GitBranch,
			boolToInt(inv.GitDirty),
			ciJSON,
			inv.DatePartition,
		)
		if err != nil {
			return fmt.Errorf("write invocation: %w", err)
		}
		return nil
	})
}

// WriteOutput inserts an output reference row for an invocation.
func (s *Store) WriteOutput(ctx context.Context, out record.Output) error {
	return s.retry.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO outputs
			(id, invocation_id, stream, content_hash, byte_length, storage_type,
			 storage_ref, content_type, date_partition)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			out.ID,
			out.InvocationID,
			out.Stream,
			out.ContentHash,
			out.ByteLength,
			out.StorageType,
			out.StorageRef,
			out.ContentType,
			out.DatePartition,
		)
		if err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	})
}

// DeleteOutput removes a single output reference row. Blob content is not
// freed here; CleanupOrphanedBlobs is the only deletion path for blobs, so
// content shared by several invocations survives until its last reference
// is gone.
func (s *Store) DeleteOutput(ctx context.Context, outputID string) error {
	return s.retry.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM outputs WHERE id = ?`, outputID)
		if err != nil {
			return fmt.Errorf("delete output: %w", err)
		}
		return nil
	})
}

// WriteEvents bulk-inserts parsed diagnostic events for an invocation in a
// single transaction and returns the number of rows written.
//
// Event ordering: if a parsed event carries its own index it is kept,
// otherwise the input position is used. Fields absent on a given event map
// to NULL, not a skipped row. An empty input is a no-op returning 0.
func (s *Store) WriteEvents(ctx context.Context, invocationID string, events []record.ParsedEvent, clientID, formatUsed, hostname string) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	partition := record.PartitionFor(s.now().UnixMilli())

	var written int
	err := s.retry.Do(ctx, func() error {
		written = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("write events: begin tx: %w", err)
		}
		defer tx.Rollback() // No-op if committed

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO events
			(id, invocation_id, event_index, client_id, severity, event_type,
			 ref_file, ref_line, ref_column, message, code, rule, tool_name,
			 category, fingerprint, log_line_start, log_line_end, context,
			 metadata_json, format_used, hostname, date_partition)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("write events: prepare: %w", err)
		}
		defer stmt.Close()

		for i, ev := range events {
			index := i
			if ev.EventIndex != nil {
				index = *ev.EventIndex
			}

			fingerprint := ev.Fingerprint
			if fingerprint == "" {
				fingerprint = Fingerprint(ev)
			}

			metaJSON, err := marshalStringMap(ev.Metadata)
			if err != nil {
				return fmt.Errorf("write events: %w", err)
			}

			_, err = stmt.ExecContext(ctx,
				s.ids.NewID(),
				invocationID,
				index,
				clientID,
				ev.Severity,
				ev.EventType,
				nullString(ev.RefFile),
				nullInt(ev.RefLine),
				nullInt(ev.RefColumn),
				ev.Message,
				nullString(ev.Code),
				nullString(ev.Rule),
				nullString(ev.ToolName),
				nullString(ev.Category),
				fingerprint,
				nullInt(ev.LogLineStart),
				nullInt(ev.LogLineEnd),
				nullString(ev.Context),
				metaJSON,
				formatUsed,
				hostname,
				partition,
			)
			if err != nil {
				return fmt.Errorf("write events: insert row %d: %w", i, err)
			}
			written++
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("write events: commit: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// Fingerprint derives a stable identity for a diagnostic's logical content,
// used for dedup and suppression across runs. Distinct from the output
// content hash, which identifies byte-exact captured text: two runs hitting
// the same compile error on the same line share a fingerprint even though
// their full logs differ.
func Fingerprint(ev record.ParsedEvent) string {
	parts := []string{ev.Severity, ev.EventType, ev.Message}
	if ev.RefFile != nil {
		parts = append(parts, *ev.RefFile)
	}
	if ev.RefLine != nil {
		parts = append(parts, strconv.Itoa(*ev.RefLine))
	}
	if ev.Code != nil {
		parts = append(parts, *ev.Code)
	}
	if ev.Rule != nil {
		parts = append(parts, *ev.Rule)
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("%x", h[:16])
}

// PruneBefore bulk-deletes rows whose date_partition sorts strictly before
// the given partition (YYYY-MM-DD). This is the only deletion path for
// attempts, outcomes, invocations, events, and output references; blob
// content freed as a consequence is reclaimed by the next
// CleanupOrphanedBlobs run. Returns the total number of rows deleted.
func (s *Store) PruneBefore(ctx context.Context, partition string) (int64, error) {
	var total int64
	err := s.retry.Do(ctx, func() error {
		total = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("prune: begin tx: %w", err)
		}
		defer tx.Rollback()

		// Children before parents to respect foreign keys.
		statements := []string{
			`DELETE FROM events WHERE date_partition < ?`,
			`DELETE FROM outputs WHERE date_partition < ?`,
			`DELETE FROM outcomes WHERE date_partition < ?`,
			`DELETE FROM invocations WHERE date_partition < ?`,
			`DELETE FROM attempts WHERE date_partition < ?
			   AND NOT EXISTS (SELECT 1 FROM outcomes o WHERE o.attempt_id = attempts.id)`,
			`DELETE FROM sessions WHERE date_partition < ?
			   AND NOT EXISTS (SELECT 1 FROM attempts a WHERE a.session_id = sessions.session_id)`,
		}
		for _, q := range statements {
			res, err := tx.ExecContext(ctx, q, partition)
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("prune: rows affected: %w", err)
			}
			total += n
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("prune: commit: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
