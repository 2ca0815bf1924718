package record

// RunStatus is the derived lifecycle state of an attempt.
// It is never stored; it is computed by left-joining attempts to outcomes.
type RunStatus string

const (
	// StatusPending means no outcome has been written for the attempt.
	StatusPending RunStatus = "pending"

	// StatusOrphaned means an outcome exists but its exit code is unknown
	// (the process died without a normal exit).
	StatusOrphaned RunStatus = "orphaned"

	// StatusCompleted means an outcome exists with a concrete exit code.
	StatusCompleted RunStatus = "completed"
)

// Session identifies an invoker context (cli, mcp, import, capture, record).
// Created once per logical invoker via ensure-or-create; never mutated.
type Session struct {
	SessionID     string `json:"session_id"`
	ClientID      string `json:"client_id"`
	Invoker       string `json:"invoker"`
	InvokerType   string `json:"invoker_type"`
	InvokerPID    int    `json:"invoker_pid"`
	Cwd           string `json:"cwd"`
	RegisteredAt  int64  `json:"registered_at"` // Unix milliseconds
	DatePartition string `json:"date_partition"`
}

// Attempt records a command starting, before its result is known.
// Written at command start; only Pid may be updated afterwards.
type Attempt struct {
	ID            string            `json:"id"` // UUIDv7, time-sortable
	SessionID     string            `json:"session_id"`
	Cmd           string            `json:"cmd"`
	Cwd           string            `json:"cwd"`
	ClientID      string            `json:"client_id"`
	Timestamp     int64             `json:"timestamp"` // Unix milliseconds
	Executable    string            `json:"executable"`
	FormatHint    string            `json:"format_hint"`
	Hostname      string            `json:"hostname"`
	Username      string            `json:"username"`
	Pid           *int              `json:"pid,omitempty"` // Set after spawn
	Tag           string            `json:"tag"`
	SourceName    string            `json:"source_name"`
	SourceType    string            `json:"source_type"`
	Env           map[string]string `json:"env,omitempty"`
	Platform      string            `json:"platform"`
	Arch          string            `json:"arch"`
	GitCommit     string            `json:"git_commit"`
	GitBranch     string            `json:"git_branch"`
	GitDirty      bool              `json:"git_dirty"`
	CI            map[string]string `json:"ci,omitempty"`
	DatePartition string            `json:"date_partition"`
}

// Outcome records a command's completion, 1:1 with an Attempt.
// Append-only; a nil ExitCode means the process died without a normal exit.
type Outcome struct {
	AttemptID     string `json:"attempt_id"`
	ExitCode      *int   `json:"exit_code,omitempty"`
	CompletedAt   int64  `json:"completed_at"` // Unix milliseconds
	DurationMs    int64  `json:"duration_ms"`
	Signal        *int   `json:"signal,omitempty"`
	TimedOut      bool   `json:"timed_out"`
	DatePartition string `json:"date_partition"`
}

// Status derives the lifecycle state this outcome implies for its attempt.
func (o Outcome) Status() RunStatus {
	if o.ExitCode == nil {
		return StatusOrphaned
	}
	return StatusCompleted
}

// Invocation is the denormalized record of a completed execution, written
// once the outcome is known. It shares its ID with the originating attempt
// so outputs and events join against either.
type Invocation struct {
	ID            string            `json:"id"`
	SessionID     string            `json:"session_id"`
	RunNumber     int64             `json:"run_number"` // Display only, not identity
	Cmd           string            `json:"cmd"`
	Cwd           string            `json:"cwd"`
	ClientID      string            `json:"client_id"`
	Timestamp     int64             `json:"timestamp"`
	Executable    string            `json:"executable"`
	ExitCode      *int              `json:"exit_code,omitempty"`
	DurationMs    int64             `json:"duration_ms"`
	FormatHint    string            `json:"format_hint"`
	Hostname      string            `json:"hostname"`
	Username      string            `json:"username"`
	Tag           string            `json:"tag"`
	SourceName    string            `json:"source_name"`
	SourceType    string            `json:"source_type"`
	Env           map[string]string `json:"env,omitempty"`
	Platform      string            `json:"platform"`
	Arch          string            `json:"arch"`
	GitCommit     string            `json:"git_commit"`
	GitBranch     string            `json:"git_branch"`
	GitDirty      bool              `json:"git_dirty"`
	CI            map[string]string `json:"ci,omitempty"`
	DatePartition string            `json:"date_partition"`
}

// Storage types for Output rows.
const (
	StorageInline = "inline"
	StorageBlob   = "blob"
)

// Stream names for Output rows and live channel files.
const (
	StreamStdout   = "stdout"
	StreamStderr   = "stderr"
	StreamCombined = "combined"
)

// Output references captured stream content for an invocation.
// ContentHash is the SHA-256 of the exact referenced bytes; StorageType is
// chosen against the inline threshold at write time and immutable after.
type Output struct {
	ID            string `json:"id"`
	InvocationID  string `json:"invocation_id"`
	Stream        string `json:"stream"` // stdout | stderr | combined
	ContentHash   string `json:"content_hash"`
	ByteLength    int64  `json:"byte_length"`
	StorageType   string `json:"storage_type"` // inline | blob
	StorageRef    string `json:"storage_ref"`  // self-describing reference
	ContentType   string `json:"content_type"`
	DatePartition string `json:"date_partition"`
}

// BlobEntry is one blob_registry row per distinct content hash ever written
// to blob storage. RefCount tracks how many writes produced this content.
type BlobEntry struct {
	ContentHash  string `json:"content_hash"`
	ByteLength   int64  `json:"byte_length"`
	StoragePath  string `json:"storage_path"`
	LastAccessed int64  `json:"last_accessed"` // Unix milliseconds
	RefCount     int64  `json:"ref_count"`
}

// Event is one parsed diagnostic attached to an invocation.
// Immutable after bulk insert; all diagnostic fields are optional.
type Event struct {
	ID            string            `json:"id"`
	InvocationID  string            `json:"invocation_id"`
	EventIndex    int               `json:"event_index"`
	ClientID      string            `json:"client_id"`
	Severity      string            `json:"severity"`
	EventType     string            `json:"event_type"`
	RefFile       *string           `json:"ref_file,omitempty"`
	RefLine       *int              `json:"ref_line,omitempty"`
	RefColumn     *int              `json:"ref_column,omitempty"`
	Message       string            `json:"message"`
	Code          *string           `json:"code,omitempty"`
	Rule          *string           `json:"rule,omitempty"`
	ToolName      *string           `json:"tool_name,omitempty"`
	Category      *string           `json:"category,omitempty"`
	Fingerprint   string            `json:"fingerprint"`
	LogLineStart  *int              `json:"log_line_start,omitempty"`
	LogLineEnd    *int              `json:"log_line_end,omitempty"`
	Context       *string           `json:"context,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	FormatUsed    string            `json:"format_used"`
	Hostname      string            `json:"hostname"`
	DatePartition string            `json:"date_partition"`
}

// ParsedEvent is the loosely-typed shape an external log-format parser
// produces. Every field is optional; the event sink normalizes these into
// the fixed Event shape, mapping absent fields to NULL.
type ParsedEvent struct {
	EventIndex   *int              `json:"event_index,omitempty"`
	Severity     string            `json:"severity,omitempty"`
	EventType    string            `json:"event_type,omitempty"`
	RefFile      *string           `json:"ref_file,omitempty"`
	RefLine      *int              `json:"ref_line,omitempty"`
	RefColumn    *int              `json:"ref_column,omitempty"`
	Message      string            `json:"message,omitempty"`
	Code         *string           `json:"code,omitempty"`
	Rule         *string           `json:"rule,omitempty"`
	ToolName     *string           `json:"tool_name,omitempty"`
	Category     *string           `json:"category,omitempty"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
	LogLineStart *int              `json:"log_line_start,omitempty"`
	LogLineEnd   *int              `json:"log_line_end,omitempty"`
	Context      *string           `json:"context,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RunningAttempt is one row of the running-attempts view: an attempt with no
// outcome. ElapsedMs is computed at query time and changes between calls.
type RunningAttempt struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Timestamp  int64  `json:"timestamp"`
	Cmd        string `json:"cmd"`
	SourceName string `json:"source_name"`
	Tag        string `json:"tag"`
	Hostname   string `json:"hostname"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}
