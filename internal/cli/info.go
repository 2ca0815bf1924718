package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blqio/blq/internal/record"
	"github.com/blqio/blq/internal/store"
)

// InfoOptions holds flags for the info command.
type InfoOptions struct {
	*RootOptions
	Stream string
	Tail   int
	Head   int
	Follow bool
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InfoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "info <attempt-id>",
		Short: "Read a running attempt's live output",
		Long: `Read the live output of a still-running attempt.

--tail and --head trim the printed lines; when both are given, --tail
wins. --follow streams new lines until the attempt stops. Live output
only exists while the attempt is pending (or its directory was kept);
use 'blq runs' for completed output.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", record.StreamCombined, "stream to read (stdout|stderr|combined)")
	cmd.Flags().IntVar(&opts.Tail, "tail", 0, "show only the last N lines")
	cmd.Flags().IntVar(&opts.Head, "head", 0, "show only the first N lines")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "stream lines until the attempt stops")
	return cmd
}

func runInfo(opts *InfoOptions, attemptID string, cmd *cobra.Command) error {
	ws, err := requireWorkspace(opts.RootOptions)
	if err != nil {
		return err
	}
	defer ws.Close()

	if opts.Follow {
		status := func(ctx context.Context) (record.RunStatus, error) {
			st, err := ws.store.AttemptStatus(ctx, attemptID)
			if errors.Is(err, store.ErrNotFound) {
				// Unrecorded attempt: no ledger row will ever complete it.
				return record.StatusOrphaned, nil
			}
			return st, err
		}
		err := ws.live.Follow(cmd.Context(), attemptID, opts.Stream, status, func(line string) error {
			_, werr := fmt.Fprintln(cmd.OutOrStdout(), line)
			return werr
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "follow live output", err)
		}
		return nil
	}

	content, err := ws.live.Read(attemptID, opts.Stream, opts.Tail, opts.Head)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewExitError(ExitCommandError,
				fmt.Sprintf("no live output for attempt %s", attemptID))
		}
		return WrapExitError(ExitCommandError, "read live output", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), content)
	return nil
}
