package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/blqio/blq/internal/liveout"
	"github.com/blqio/blq/internal/record"
	"github.com/blqio/blq/internal/store"
)

// Parser turns captured output into diagnostic events. The hint names the
// log format when the caller knows it; parsers may ignore it.
type Parser func(text, hint string) ([]record.ParsedEvent, error)

// Request describes one command execution to run and record.
type Request struct {
	Argv        []string
	Cwd         string
	SessionID   string
	ClientID    string
	Invoker     string
	InvokerType string
	Tag         string
	SourceName  string
	SourceType  string
	FormatHint  string
	Timeout     time.Duration

	// Tee mirrors the combined output as it is captured, typically to the
	// invoking terminal. Optional.
	Tee io.Writer

	// KeepLive skips the live directory cleanup after finalization.
	KeepLive bool
}

// Result summarizes one recorded execution.
type Result struct {
	AttemptID  string           `json:"attempt_id"`
	RunNumber  int64            `json:"run_number"`
	ExitCode   *int             `json:"exit_code,omitempty"`
	Signal     *int             `json:"signal,omitempty"`
	TimedOut   bool             `json:"timed_out"`
	DurationMs int64            `json:"duration_ms"`
	Status     record.RunStatus `json:"status"`
	EventCount int              `json:"event_count"`
}

// Runner executes commands and records them through the two-phase ledger:
// attempt first, outcome after, with live output visible in between.
type Runner struct {
	store         *store.Store
	blobs         *store.BlobStore
	live          *liveout.Channel
	ids           record.IDGenerator
	now           func() time.Time
	logger        *slog.Logger
	parser        Parser
	queueCapacity int
}

func New(st *store.Store, blobs *store.BlobStore, live *liveout.Channel, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		store:         st,
		blobs:         blobs,
		live:          live,
		ids:           record.UUIDv7Generator{},
		now:           time.Now,
		logger:        logger,
		queueCapacity: defaultQueueCapacity,
	}
}

// SetIDGenerator replaces the ID source, for deterministic tests.
func (r *Runner) SetIDGenerator(g record.IDGenerator) { r.ids = g }

// SetClock replaces the time source, for deterministic tests.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// SetParser installs the log-format parser applied after finalization.
// With no parser installed, executions record no events.
func (r *Runner) SetParser(p Parser) { r.parser = p }

// SetQueueCapacity bounds the line queue used on the timeout path.
func (r *Runner) SetQueueCapacity(n int) {
	if n > 0 {
		r.queueCapacity = n
	}
}

// Run executes the requested command and records attempt, outcome,
// invocation, output, and events. The attempt row is written before the
// child starts and the outcome row after it stops, so a crash in between
// leaves a pending attempt rather than a lie.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Argv) == 0 {
		return nil, errors.New("empty command")
	}
	if req.Cwd == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve cwd: %w", err)
		}
		req.Cwd = cwd
	}

	startMs := r.now().UnixMilli()
	attempt, err := r.openAttempt(ctx, req, startMs)
	if err != nil {
		return nil, err
	}

	if _, err := r.live.Create(attempt.ID, liveout.Meta{
		SessionID:   attempt.SessionID,
		Command:     attempt.Cmd,
		Cwd:         attempt.Cwd,
		StartedAtMs: startMs,
	}); err != nil {
		return nil, err
	}

	exitCode, sig, timedOut, runErr := r.supervise(ctx, req, attempt.ID)

	completedMs := r.now().UnixMilli()
	outcome := record.Outcome{
		AttemptID:     attempt.ID,
		ExitCode:      exitCode,
		CompletedAt:   completedMs,
		DurationMs:    completedMs - startMs,
		Signal:        sig,
		TimedOut:      timedOut,
		DatePartition: record.PartitionFor(completedMs),
	}
	if err := r.store.WriteOutcome(ctx, outcome); err != nil {
		return nil, fmt.Errorf("write outcome: %w", err)
	}
	if runErr != nil {
		// Spawn failure: the outcome row above records the orphan, the
		// live directory stays for inspection.
		return nil, runErr
	}

	runNumber, err := r.store.NextRunNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("assign run number: %w", err)
	}
	if err := r.store.WriteInvocation(ctx, InvocationFrom(attempt, outcome, runNumber)); err != nil {
		return nil, fmt.Errorf("write invocation: %w", err)
	}

	eventCount, err := r.finalize(ctx, attempt, req.FormatHint, completedMs)
	if err != nil {
		return nil, err
	}

	if !req.KeepLive {
		if err := r.live.Cleanup(attempt.ID); err != nil {
			r.logger.Warn("live cleanup failed", "attempt_id", attempt.ID, "error", err)
		}
	}

	return &Result{
		AttemptID:  attempt.ID,
		RunNumber:  runNumber,
		ExitCode:   exitCode,
		Signal:     sig,
		TimedOut:   timedOut,
		DurationMs: outcome.DurationMs,
		Status:     outcome.Status(),
		EventCount: eventCount,
	}, nil
}

// openAttempt ensures the session and writes the attempt row.
func (r *Runner) openAttempt(ctx context.Context, req Request, startMs int64) (record.Attempt, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = r.ids.NewID()
	}
	session := record.Session{
		SessionID:     sessionID,
		ClientID:      req.ClientID,
		Invoker:       req.Invoker,
		InvokerType:   req.InvokerType,
		InvokerPID:    os.Getpid(),
		Cwd:           req.Cwd,
		RegisteredAt:  startMs,
		DatePartition: record.PartitionFor(startMs),
	}
	if err := r.store.EnsureSession(ctx, session); err != nil {
		return record.Attempt{}, fmt.Errorf("ensure session: %w", err)
	}

	executable := req.Argv[0]
	if resolved, err := exec.LookPath(executable); err == nil {
		executable = resolved
	}
	git := CaptureGit(req.Cwd)
	attempt := record.Attempt{
		ID:            r.ids.NewID(),
		SessionID:     sessionID,
		Cmd:           strings.Join(req.Argv, " "),
		Cwd:           req.Cwd,
		ClientID:      req.ClientID,
		Timestamp:     startMs,
		Executable:    executable,
		FormatHint:    req.FormatHint,
		Hostname:      hostname(),
		Username:      username(),
		Tag:           req.Tag,
		SourceName:    req.SourceName,
		SourceType:    req.SourceType,
		Platform:      runtime.GOOS,
		Arch:          runtime.GOARCH,
		GitCommit:     git.Commit,
		GitBranch:     git.Branch,
		GitDirty:      git.Dirty,
		CI:            DetectCI(os.Environ()),
		DatePartition: record.PartitionFor(startMs),
	}
	if err := r.store.WriteAttempt(ctx, attempt); err != nil {
		return record.Attempt{}, fmt.Errorf("write attempt: %w", err)
	}
	return attempt, nil
}

// supervise spawns the child and streams its combined output into the
// live channel until it stops, the deadline passes, or the context is
// cancelled. The returned values classify how the child stopped; a
// non-nil error means the child never started.
func (r *Runner) supervise(ctx context.Context, req Request, attemptID string) (exitCode, sig *int, timedOut bool, err error) {
	w, err := r.live.OpenWriter(attemptID, record.StreamCombined)
	if err != nil {
		return nil, nil, false, err
	}
	defer w.Close()

	out := io.Writer(w)
	if req.Tee != nil {
		out = io.MultiWriter(w, req.Tee)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, false, fmt.Errorf("create pipe: %w", err)
	}

	cmd := exec.Command(req.Argv[0], req.Argv[1:]...)
	cmd.Dir = req.Cwd
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, nil, false, fmt.Errorf("start command: %w", err)
	}
	// The child holds its own copy of the write end.
	pw.Close()

	if err := r.store.UpdateAttemptPid(ctx, attemptID, cmd.Process.Pid); err != nil {
		r.logger.Warn("record pid failed", "attempt_id", attemptID, "error", err)
	}

	q := newLineQueue(r.queueCapacity)
	go func() {
		defer pr.Close()
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			q.Enqueue(sc.Text())
		}
		q.Close()
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var timerC <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	ctxC := ctx.Done()
	qWait := q.Wait()
	var waitErr error
	exited := false
	for {
		for {
			line, ok := q.TryDequeue()
			if !ok {
				break
			}
			fmt.Fprintln(out, line)
		}
		if exited && q.Closed() && q.Len() == 0 {
			break
		}
		select {
		case <-ctxC:
			r.kill(cmd, attemptID)
			ctxC = nil
		case <-timerC:
			timedOut = true
			r.kill(cmd, attemptID)
			timerC = nil
		case waitErr = <-waitCh:
			exited = true
		case <-qWait:
			if q.Closed() {
				qWait = nil
			}
		}
	}

	if dropped := q.Dropped(); dropped > 0 {
		r.logger.Warn("output lines shed", "attempt_id", attemptID, "dropped", dropped)
	}

	exitCode, sig = classifyExit(waitErr)
	return exitCode, sig, timedOut, nil
}

func (r *Runner) kill(cmd *exec.Cmd, attemptID string) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Warn("kill failed", "attempt_id", attemptID, "error", err)
	}
}

// classifyExit maps a Wait error to the ledger's exit shape: a concrete
// exit code for a normal exit, a signal number with no exit code for an
// abnormal death, and neither when the exit status is unknowable.
func classifyExit(waitErr error) (exitCode, sig *int) {
	if waitErr == nil {
		zero := 0
		return &zero, nil
	}
	var ee *exec.ExitError
	if !errors.As(waitErr, &ee) {
		return nil, nil
	}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		s := int(ws.Signal())
		return nil, &s
	}
	code := ee.ExitCode()
	if code < 0 {
		return nil, nil
	}
	return &code, nil
}

// finalize moves live content into the blob store, records the output
// row, and runs the parser over the captured text.
func (r *Runner) finalize(ctx context.Context, attempt record.Attempt, formatHint string, nowMs int64) (int, error) {
	out, err := r.live.Finalize(ctx, attempt.ID, record.StreamCombined, r.blobs.Put, nowMs)
	if err != nil {
		return 0, fmt.Errorf("finalize output: %w", err)
	}
	if out == nil {
		return 0, nil
	}
	out.ID = r.ids.NewID()
	if err := r.store.WriteOutput(ctx, *out); err != nil {
		return 0, fmt.Errorf("write output: %w", err)
	}

	if r.parser == nil {
		return 0, nil
	}
	text, err := r.live.Read(attempt.ID, record.StreamCombined, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("read for parse: %w", err)
	}
	events, err := r.parser(text, formatHint)
	if err != nil {
		r.logger.Warn("parse failed", "attempt_id", attempt.ID, "error", err)
		return 0, nil
	}
	count, err := r.store.WriteEvents(ctx, attempt.ID, events, attempt.ClientID, formatHint, attempt.Hostname)
	if err != nil {
		return 0, fmt.Errorf("write events: %w", err)
	}
	return count, nil
}

// InvocationFrom merges an attempt and its outcome into the invocation
// row written once a run is known to have completed.
func InvocationFrom(a record.Attempt, o record.Outcome, runNumber int64) record.Invocation {
	return record.Invocation{
		ID:            a.ID,
		SessionID:     a.SessionID,
		RunNumber:     runNumber,
		Cmd:           a.Cmd,
		Cwd:           a.Cwd,
		ClientID:      a.ClientID,
		Timestamp:     a.Timestamp,
		Executable:    a.Executable,
		ExitCode:      o.ExitCode,
		DurationMs:    o.DurationMs,
		FormatHint:    a.FormatHint,
		Hostname:      a.Hostname,
		Username:      a.Username,
		Tag:           a.Tag,
		SourceName:    a.SourceName,
		SourceType:    a.SourceType,
		Env:           a.Env,
		Platform:      a.Platform,
		Arch:          a.Arch,
		GitCommit:     a.GitCommit,
		GitBranch:     a.GitBranch,
		GitDirty:      a.GitDirty,
		CI:            a.CI,
		DatePartition: o.DatePartition,
	}
}
