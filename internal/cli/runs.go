package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blqio/blq/internal/store"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, or show one run in detail",
		Long: `List completed runs, newest first. With --id, show one run together
with its stored outputs and its event count.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := requireWorkspace(rootOpts)
			if err != nil {
				return err
			}
			defer ws.Close()
			out := formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())

			if runID != "" {
				view, err := ws.queries().RunView(cmd.Context(), runID)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return NewExitError(ExitCommandError, fmt.Sprintf("run %s not found", runID))
					}
					return WrapExitError(ExitCommandError, "load run", err)
				}
				if out.JSON() {
					return out.Success(view)
				}
				inv := view.Invocation
				fmt.Fprintf(cmd.OutOrStdout(), "run %s (#%d)\n", inv.ID, inv.RunNumber)
				fmt.Fprintf(cmd.OutOrStdout(), "  cmd:      %s\n", inv.Cmd)
				fmt.Fprintf(cmd.OutOrStdout(), "  exit:     %s\n", formatInvExit(inv.ExitCode))
				fmt.Fprintf(cmd.OutOrStdout(), "  duration: %s\n", time.Duration(inv.DurationMs)*time.Millisecond)
				fmt.Fprintf(cmd.OutOrStdout(), "  events:   %d\n", view.EventCount)
				for _, o := range view.Outputs {
					fmt.Fprintf(cmd.OutOrStdout(), "  output:   %s %s (%d bytes, %s)\n",
						o.Stream, shortHash(o.ContentHash), o.ByteLength, o.StorageType)
				}
				return nil
			}

			runs, err := ws.queries().ListRuns(cmd.Context(), limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "list runs", err)
			}
			if out.JSON() {
				return out.Success(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recorded runs")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  #%-4d  exit %-7s  %s\n",
					r.ID, r.RunNumber, formatInvExit(r.ExitCode), r.Cmd)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list (0 = all)")
	cmd.Flags().StringVar(&runID, "id", "", "show one run in detail")
	return cmd
}

func formatInvExit(code *int) string {
	if code == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *code)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
