package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/blqio/blq/internal/record"
)

// AttemptStatus computes the derived lifecycle state of an attempt by
// left-joining attempts to outcomes. The join runs live on every call and
// is never cached: a concurrent writer may complete the attempt between
// calls. Returns ErrNotFound if no attempt row exists.
func (s *Store) AttemptStatus(ctx context.Context, attemptID string) (record.RunStatus, error) {
	var hasOutcome bool
	var exitCode sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT o.attempt_id IS NOT NULL, o.exit_code
		FROM attempts a
		LEFT JOIN outcomes o ON o.attempt_id = a.id
		WHERE a.id = ?
	`, attemptID).Scan(&hasOutcome, &exitCode)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("attempt %s: %w", attemptID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("attempt status: %w", err)
	}

	switch {
	case !hasOutcome:
		return record.StatusPending, nil
	case !exitCode.Valid:
		return record.StatusOrphaned, nil
	default:
		return record.StatusCompleted, nil
	}
}

// ListRunningAttempts returns attempts with no outcome row, newest first.
// ElapsedMs is computed at query time from the store's clock, so it changes
// between calls; callers must not assume stability.
func (s *Store) ListRunningAttempts(ctx context.Context) ([]record.RunningAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.session_id, a.timestamp_ms, a.cmd, a.source_name, a.tag, a.hostname
		FROM attempts a
		LEFT JOIN outcomes o ON o.attempt_id = a.id
		WHERE o.attempt_id IS NULL
		ORDER BY a.timestamp_ms DESC, a.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query running attempts: %w", err)
	}
	defer rows.Close()

	nowMs := s.now().UnixMilli()

	var running []record.RunningAttempt
	for rows.Next() {
		var r record.RunningAttempt
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Timestamp, &r.Cmd, &r.SourceName, &r.Tag, &r.Hostname); err != nil {
			return nil, fmt.Errorf("scan running attempt: %w", err)
		}
		r.ElapsedMs = nowMs - r.Timestamp
		running = append(running, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate running attempts: %w", err)
	}

	// Return empty slice instead of nil
	if running == nil {
		running = []record.RunningAttempt{}
	}

	return running, nil
}

// NextRunNumber returns count(invocations)+1 for human-facing sequential
// numbering. Explicitly NOT a stable identifier: concurrent writers can
// race on display ordering, which is acceptable because canonical identity
// is the attempt/invocation UUID.
func (s *Store) NextRunNumber(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("next run number: %w", err)
	}
	return count + 1, nil
}

// ReadAttempt retrieves a single attempt by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) ReadAttempt(ctx context.Context, id string) (record.Attempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, cmd, cwd, client_id, timestamp_ms, executable, format_hint,
		       hostname, username, pid, tag, source_name, source_type, env_json,
		       platform, arch, git_commit, git_branch, git_dirty, ci_json, date_partition
		FROM attempts
		WHERE id = ?
	`, id)

	var a record.Attempt
	var pid sql.NullInt64
	var gitDirty int
	var envJSON, ciJSON string

	err := row.Scan(
		&a.ID, &a.SessionID, &a.Cmd, &a.Cwd, &a.ClientID, &a.Timestamp, &a.Executable,
		&a.FormatHint, &a.Hostname, &a.Username, &pid, &a.Tag, &a.SourceName,
		&a.SourceType, &envJSON, &a.Platform, &a.Arch, &a.GitCommit, &a.GitBranch,
		&gitDirty, &ciJSON, &a.DatePartition,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Attempt{}, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return record.Attempt{}, fmt.Errorf("read attempt: %w", err)
	}

	a.Pid = fromNullInt(pid)
	a.GitDirty = gitDirty != 0
	if a.Env, err = unmarshalStringMap(envJSON); err != nil {
		return record.Attempt{}, fmt.Errorf("read attempt: %w", err)
	}
	if a.CI, err = unmarshalStringMap(ciJSON); err != nil {
		return record.Attempt{}, fmt.Errorf("read attempt: %w", err)
	}

	return a, nil
}

// ReadOutcome retrieves the outcome for an attempt.
// Returns ErrNotFound if no outcome has been written yet (pending attempt).
func (s *Store) ReadOutcome(ctx context.Context, attemptID string) (record.Outcome, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT attempt_id, exit_code, completed_at_ms, duration_ms, signal, timed_out, date_partition
		FROM outcomes
		WHERE attempt_id = ?
	`, attemptID)

	var o record.Outcome
	var exitCode, signal sql.NullInt64
	var timedOut int

	err := row.Scan(&o.AttemptID, &exitCode, &o.CompletedAt, &o.DurationMs, &signal, &timedOut, &o.DatePartition)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Outcome{}, fmt.Errorf("outcome for attempt %s: %w", attemptID, ErrNotFound)
	}
	if err != nil {
		return record.Outcome{}, fmt.Errorf("read outcome: %w", err)
	}

	o.ExitCode = fromNullInt(exitCode)
	o.Signal = fromNullInt(signal)
	o.TimedOut = timedOut != 0

	return o, nil
}

// ReadInvocation retrieves a single invocation by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) ReadInvocation(ctx context.Context, id string) (record.Invocation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, run_number, cmd, cwd, client_id, timestamp_ms, executable,
		       exit_code, duration_ms, format_hint, hostname, username, tag, source_name,
		       source_type, env_json, platform, arch, git_commit, git_branch, git_dirty,
		       ci_json, date_partition
		FROM invocations
		WHERE id = ?
	`, id)

	inv, err := scanInvocationRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Invocation{}, fmt.Errorf("invocation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return record.Invocation{}, fmt.Errorf("read invocation: %w", err)
	}
	return inv, nil
}

// ListInvocations returns the most recent invocations, newest first.
// A limit <= 0 returns all rows.
func (s *Store) ListInvocations(ctx context.Context, limit int) ([]record.Invocation, error) {
	query := `
		SELECT id, session_id, run_number, cmd, cwd, client_id, timestamp_ms, executable,
		       exit_code, duration_ms, format_hint, hostname, username, tag, source_name,
		       source_type, env_json, platform, arch, git_commit, git_branch, git_dirty,
		       ci_json, date_partition
		FROM invocations
		ORDER BY timestamp_ms DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	var invocations []record.Invocation
	for rows.Next() {
		inv, err := scanInvocationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		invocations = append(invocations, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocations: %w", err)
	}

	if invocations == nil {
		invocations = []record.Invocation{}
	}

	return invocations, nil
}

// scanner abstracts sql.Row and sql.Rows so invocation scanning is shared.
type scanner interface {
	Scan(dest ...any) error
}

func scanInvocationRow(row scanner) (record.Invocation, error) {
	var inv record.Invocation
	var exitCode sql.NullInt64
	var gitDirty int
	var envJSON, ciJSON string

	err := row.Scan(
		&inv.ID, &inv.SessionID, &inv.RunNumber, &inv.Cmd, &inv.Cwd, &inv.ClientID,
		&inv.Timestamp, &inv.Executable, &exitCode, &inv.DurationMs, &inv.FormatHint,
		&inv.Hostname, &inv.Username, &inv.Tag, &inv.SourceName, &inv.SourceType,
		&envJSON, &inv.Platform, &inv.Arch, &inv.GitCommit, &inv.GitBranch,
		&gitDirty, &ciJSON, &inv.DatePartition,
	)
	if err != nil {
		return record.Invocation{}, err
	}

	inv.ExitCode = fromNullInt(exitCode)
	inv.GitDirty = gitDirty != 0
	if inv.Env, err = unmarshalStringMap(envJSON); err != nil {
		return record.Invocation{}, err
	}
	if inv.CI, err = unmarshalStringMap(ciJSON); err != nil {
		return record.Invocation{}, err
	}

	return inv, nil
}

// ReadOutputs returns all output references for an invocation.
func (s *Store) ReadOutputs(ctx context.Context, invocationID string) ([]record.Output, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invocation_id, stream, content_hash, byte_length, storage_type,
		       storage_ref, content_type, date_partition
		FROM outputs
		WHERE invocation_id = ?
		ORDER BY stream ASC, id ASC
	`, invocationID)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer rows.Close()

	var outputs []record.Output
	for rows.Next() {
		var o record.Output
		if err := rows.Scan(
			&o.ID, &o.InvocationID, &o.Stream, &o.ContentHash, &o.ByteLength,
			&o.StorageType, &o.StorageRef, &o.ContentType, &o.DatePartition,
		); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		outputs = append(outputs, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}

	if outputs == nil {
		outputs = []record.Output{}
	}

	return outputs, nil
}

// ReadEvents returns all events for an invocation ordered by event_index.
func (s *Store) ReadEvents(ctx context.Context, invocationID string) ([]record.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invocation_id, event_index, client_id, severity, event_type,
		       ref_file, ref_line, ref_column, message, code, rule, tool_name,
		       category, fingerprint, log_line_start, log_line_end, context,
		       metadata_json, format_used, hostname, date_partition
		FROM events
		WHERE invocation_id = ?
		ORDER BY event_index ASC, id ASC
	`, invocationID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []record.Event
	for rows.Next() {
		var ev record.Event
		var refFile, code, rule, toolName, category, evCtx sql.NullString
		var refLine, refColumn, lineStart, lineEnd sql.NullInt64
		var metaJSON string

		if err := rows.Scan(
			&ev.ID, &ev.InvocationID, &ev.EventIndex, &ev.ClientID, &ev.Severity,
			&ev.EventType, &refFile, &refLine, &refColumn, &ev.Message, &code, &rule,
			&toolName, &category, &ev.Fingerprint, &lineStart, &lineEnd, &evCtx,
			&metaJSON, &ev.FormatUsed, &ev.Hostname, &ev.DatePartition,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		ev.RefFile = fromNullString(refFile)
		ev.RefLine = fromNullInt(refLine)
		ev.RefColumn = fromNullInt(refColumn)
		ev.Code = fromNullString(code)
		ev.Rule = fromNullString(rule)
		ev.ToolName = fromNullString(toolName)
		ev.Category = fromNullString(category)
		ev.LogLineStart = fromNullInt(lineStart)
		ev.LogLineEnd = fromNullInt(lineEnd)
		ev.Context = fromNullString(evCtx)
		if ev.Metadata, err = unmarshalStringMap(metaJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if events == nil {
		events = []record.Event{}
	}

	return events, nil
}

// CountEvents returns the number of events recorded for an invocation.
func (s *Store) CountEvents(ctx context.Context, invocationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE invocation_id = ?
	`, invocationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// ReadBlobEntry retrieves a blob registry row by content hash.
// Returns ErrNotFound if no blob with that hash has been written.
func (s *Store) ReadBlobEntry(ctx context.Context, contentHash string) (record.BlobEntry, error) {
	var e record.BlobEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, byte_length, storage_path, last_accessed_ms, ref_count
		FROM blob_registry
		WHERE content_hash = ?
	`, contentHash).Scan(&e.ContentHash, &e.ByteLength, &e.StoragePath, &e.LastAccessed, &e.RefCount)
	if errors.Is(err, sql.ErrNoRows) {
		return record.BlobEntry{}, fmt.Errorf("blob %s: %w", contentHash, ErrNotFound)
	}
	if err != nil {
		return record.BlobEntry{}, fmt.Errorf("read blob entry: %w", err)
	}
	return e, nil
}
