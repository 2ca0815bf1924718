package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blqio/blq/internal/record"
	"github.com/blqio/blq/internal/runner"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Timeout    time.Duration
	Tag        string
	FormatHint string
	Source     string
	Quiet      bool
	KeepLive   bool

	// IDGenerator overrides the attempt ID source (for testing).
	IDGenerator record.IDGenerator
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec [flags] -- <cmd> [args...]",
		Short: "Run a command and record it",
		Long: `Run a command synchronously, mirroring its output while recording it.

The attempt is written before the child starts and the outcome after it
stops; while the command runs, its combined output is visible to
'blq info --follow' from another terminal.

Example:
  blq exec -- go test ./...
  blq exec --timeout 5m --tag ci -- make build`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "kill the command after this duration (0 = none)")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "free-form tag stored on the run")
	cmd.Flags().StringVar(&opts.FormatHint, "format-hint", "", "log format hint for the event parser")
	cmd.Flags().StringVar(&opts.Source, "source", "", "logical source name (defaults to the executable)")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "do not mirror output to the terminal")
	cmd.Flags().BoolVar(&opts.KeepLive, "keep-live", false, "keep the live directory after the run")

	return cmd
}

func runExec(opts *ExecOptions, argv []string, cmd *cobra.Command) error {
	ws, err := openWorkspace(opts.RootOptions)
	if err != nil {
		return err
	}
	defer ws.Close()

	out := formatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	r := runner.New(ws.store, ws.blobs, ws.live, nil)
	if opts.IDGenerator != nil {
		r.SetIDGenerator(opts.IDGenerator)
	}

	req := runner.Request{
		Argv:        argv,
		SessionID:   "",
		ClientID:    "blq-cli",
		Invoker:     "blq",
		InvokerType: "cli",
		Tag:         opts.Tag,
		SourceName:  opts.Source,
		SourceType:  "exec",
		FormatHint:  opts.FormatHint,
		Timeout:     opts.Timeout,
		KeepLive:    opts.KeepLive,
	}
	if req.SourceName == "" {
		req.SourceName = argv[0]
	}
	if !opts.Quiet && !out.JSON() {
		req.Tee = cmd.OutOrStdout()
	}

	res, err := r.Run(cmd.Context(), req)
	if err != nil {
		return WrapExitError(ExitCommandError, "exec failed", err)
	}

	if err := out.Successf(res, "recorded run %s (exit %s, %dms, %d events)",
		res.AttemptID, formatExit(res), res.DurationMs, res.EventCount); err != nil {
		return err
	}

	// Mirror the child's failure in blq's own exit status.
	switch {
	case res.TimedOut:
		return NewExitError(ExitFailure, fmt.Sprintf("command timed out after %s", opts.Timeout))
	case res.ExitCode == nil:
		return NewExitError(ExitFailure, "command died without a normal exit")
	case *res.ExitCode != 0:
		return NewExitError(ExitFailure, fmt.Sprintf("command exited with code %d", *res.ExitCode))
	}
	return nil
}

func formatExit(res *runner.Result) string {
	switch {
	case res.ExitCode != nil:
		return fmt.Sprintf("%d", *res.ExitCode)
	case res.Signal != nil:
		return fmt.Sprintf("signal %d", *res.Signal)
	default:
		return "unknown"
	}
}
