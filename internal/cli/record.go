package cli

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blqio/blq/internal/record"
	"github.com/blqio/blq/internal/runner"
)

// RecordOptions holds flags shared by the record subcommands.
type RecordOptions struct {
	*RootOptions

	// IDGenerator overrides the ID source (for testing).
	IDGenerator record.IDGenerator

	// Now overrides the clock (for testing).
	Now func() time.Time
}

// NewRecordCommand creates the record command group: the passive
// two-phase flow for shell hooks and external wrappers that execute the
// command themselves.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record externally-executed commands",
		Long: `Record attempts and outcomes for commands something else executes.

A hook calls 'record attempt' before running the command and
'record outcome' after; anything that dies in between stays pending and
shows up in 'blq status'.`,
	}

	cmd.AddCommand(newRecordAttemptCommand(opts))
	cmd.AddCommand(newRecordOutcomeCommand(opts))
	cmd.AddCommand(newRecordPidCommand(opts))
	return cmd
}

func (o *RecordOptions) ids() record.IDGenerator {
	if o.IDGenerator != nil {
		return o.IDGenerator
	}
	return record.UUIDv7Generator{}
}

func (o *RecordOptions) nowMs() int64 {
	if o.Now != nil {
		return o.Now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

func newRecordAttemptCommand(opts *RecordOptions) *cobra.Command {
	var (
		sessionID  string
		clientID   string
		cmdline    string
		cwd        string
		tag        string
		source     string
		formatHint string
	)

	cmd := &cobra.Command{
		Use:           "attempt",
		Short:         "Record that a command is starting",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmdline == "" {
				return NewExitError(ExitCommandError, "--cmd is required")
			}
			ws, err := openWorkspace(opts.RootOptions)
			if err != nil {
				return err
			}
			defer ws.Close()
			out := formatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

			nowMs := opts.nowMs()
			ids := opts.ids()
			if cwd == "" {
				if cwd, err = os.Getwd(); err != nil {
					return WrapExitError(ExitCommandError, "resolve cwd", err)
				}
			}
			if sessionID == "" {
				sessionID = ids.NewID()
			}
			ctx := cmd.Context()
			if err := ws.store.EnsureSession(ctx, record.Session{
				SessionID:     sessionID,
				ClientID:      clientID,
				Invoker:       "blq",
				InvokerType:   "record",
				InvokerPID:    os.Getpid(),
				Cwd:           cwd,
				RegisteredAt:  nowMs,
				DatePartition: record.PartitionFor(nowMs),
			}); err != nil {
				return WrapExitError(ExitCommandError, "ensure session", err)
			}

			executable := ""
			if fields := strings.Fields(cmdline); len(fields) > 0 {
				executable = fields[0]
			}
			git := runner.CaptureGit(cwd)
			attempt := record.Attempt{
				ID:            ids.NewID(),
				SessionID:     sessionID,
				Cmd:           cmdline,
				Cwd:           cwd,
				ClientID:      clientID,
				Timestamp:     nowMs,
				Executable:    executable,
				FormatHint:    formatHint,
				Hostname:      hostnameOrEmpty(),
				Tag:           tag,
				SourceName:    source,
				SourceType:    "record",
				Platform:      runtime.GOOS,
				Arch:          runtime.GOARCH,
				GitCommit:     git.Commit,
				GitBranch:     git.Branch,
				GitDirty:      git.Dirty,
				CI:            runner.DetectCI(os.Environ()),
				DatePartition: record.PartitionFor(nowMs),
			}
			if err := ws.store.WriteAttempt(ctx, attempt); err != nil {
				return WrapExitError(ExitCommandError, "write attempt", err)
			}

			return out.Successf(map[string]string{
				"attempt_id": attempt.ID,
				"session_id": sessionID,
			}, "%s", attempt.ID)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (generated when omitted)")
	cmd.Flags().StringVar(&clientID, "client", "", "client identifier")
	cmd.Flags().StringVar(&cmdline, "cmd", "", "command line being executed (required)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory (defaults to current)")
	cmd.Flags().StringVar(&tag, "tag", "", "free-form tag")
	cmd.Flags().StringVar(&source, "source", "", "logical source name")
	cmd.Flags().StringVar(&formatHint, "format-hint", "", "log format hint")
	return cmd
}

func newRecordOutcomeCommand(opts *RecordOptions) *cobra.Command {
	var (
		attemptID  string
		exitCode   int
		signal     int
		timedOut   bool
		durationMs int64
	)

	cmd := &cobra.Command{
		Use:   "outcome",
		Short: "Record that a command has stopped",
		Long: `Record the outcome for a previously recorded attempt.

An exit code of -1 means the process died without one; pass --signal for
an abnormal death. A completion also records the run's invocation and
stores any output left in the live channel, so the run shows up in
'blq runs'. Writing a second outcome for the same attempt is ignored;
the first write wins.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if attemptID == "" {
				return NewExitError(ExitCommandError, "--attempt is required")
			}
			ws, err := openWorkspace(opts.RootOptions)
			if err != nil {
				return err
			}
			defer ws.Close()
			out := formatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

			nowMs := opts.nowMs()
			outcome := record.Outcome{
				AttemptID:     attemptID,
				CompletedAt:   nowMs,
				DurationMs:    durationMs,
				TimedOut:      timedOut,
				DatePartition: record.PartitionFor(nowMs),
			}
			if exitCode >= 0 {
				outcome.ExitCode = &exitCode
			}
			if signal > 0 {
				outcome.Signal = &signal
			}
			ctx := cmd.Context()
			if err := ws.store.WriteOutcome(ctx, outcome); err != nil {
				return WrapExitError(ExitCommandError, "write outcome", err)
			}
			// Read back so a duplicate call reports and reconciles the
			// outcome that actually won.
			stored, err := ws.store.ReadOutcome(ctx, attemptID)
			if err != nil {
				return WrapExitError(ExitCommandError, "read outcome", err)
			}
			if stored.Status() == record.StatusCompleted {
				if err := reconcileCompletion(ctx, ws, opts.ids(), attemptID, stored); err != nil {
					return err
				}
			}

			return out.Successf(map[string]any{
				"attempt_id": attemptID,
				"status":     stored.Status(),
			}, "%s %s", attemptID, stored.Status())
		},
	}

	cmd.Flags().StringVar(&attemptID, "attempt", "", "attempt ID from 'record attempt' (required)")
	cmd.Flags().IntVar(&exitCode, "exit-code", -1, "exit code (-1 = unknown)")
	cmd.Flags().IntVar(&signal, "signal", 0, "terminating signal number, if any")
	cmd.Flags().BoolVar(&timedOut, "timed-out", false, "the command was killed by a timeout")
	cmd.Flags().Int64Var(&durationMs, "duration-ms", 0, "run duration in milliseconds")
	return cmd
}

// reconcileCompletion promotes a completed attempt into an invocation and
// captures any live output a wrapper streamed into the channel, the same
// bookkeeping the executor does after its child exits. Every step is
// idempotent, so a repeated outcome call changes nothing.
func reconcileCompletion(ctx context.Context, ws *workspace, ids record.IDGenerator, attemptID string, outcome record.Outcome) error {
	attempt, err := ws.store.ReadAttempt(ctx, attemptID)
	if err != nil {
		return WrapExitError(ExitCommandError, "read attempt", err)
	}
	runNumber, err := ws.store.NextRunNumber(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "assign run number", err)
	}
	if err := ws.store.WriteInvocation(ctx, runner.InvocationFrom(attempt, outcome, runNumber)); err != nil {
		return WrapExitError(ExitCommandError, "write invocation", err)
	}

	output, err := ws.live.Finalize(ctx, attemptID, record.StreamCombined, ws.blobs.Put, outcome.CompletedAt)
	if err != nil {
		return WrapExitError(ExitCommandError, "finalize live output", err)
	}
	if output != nil {
		output.ID = ids.NewID()
		if err := ws.store.WriteOutput(ctx, *output); err != nil {
			return WrapExitError(ExitCommandError, "write output", err)
		}
	}
	if err := ws.live.Cleanup(attemptID); err != nil {
		slog.Warn("live cleanup failed", "attempt_id", attemptID, "error", err)
	}
	return nil
}

func newRecordPidCommand(opts *RecordOptions) *cobra.Command {
	var (
		attemptID string
		pid       int
	)

	cmd := &cobra.Command{
		Use:           "pid",
		Short:         "Attach the child process ID to an attempt",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if attemptID == "" || pid <= 0 {
				return NewExitError(ExitCommandError, "--attempt and --pid are required")
			}
			ws, err := openWorkspace(opts.RootOptions)
			if err != nil {
				return err
			}
			defer ws.Close()
			out := formatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

			if err := ws.store.UpdateAttemptPid(cmd.Context(), attemptID, pid); err != nil {
				return WrapExitError(ExitCommandError, "record pid", err)
			}
			return out.Successf(map[string]any{
				"attempt_id": attemptID,
				"pid":        pid,
			}, "%s pid %d", attemptID, pid)
		},
	}

	cmd.Flags().StringVar(&attemptID, "attempt", "", "attempt ID (required)")
	cmd.Flags().IntVar(&pid, "pid", 0, "child process ID (required)")
	return cmd
}

func hostnameOrEmpty() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
