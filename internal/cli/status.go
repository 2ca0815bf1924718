package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blqio/blq/internal/query"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var attemptID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show running attempts, or one attempt's status",
		Long: `Without flags, list attempts that have no outcome yet, newest first.
With --attempt, show the merged status of one attempt, including whether
its live directory is still present.`,
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

			if attemptID != "" {
				view, err := ws.queries().Status(cmd.Context(), attemptID)
				if err != nil {
					return WrapExitError(ExitCommandError, "attempt status", err)
				}
				return out.Successf(view, "%s", renderStatus(view))
			}

			running, err := ws.queries().Running(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "list running attempts", err)
			}
			if out.JSON() {
				return out.Success(running)
			}
			if len(running) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no running attempts")
				return nil
			}
			for _, r := range running {
				elapsed := time.Duration(r.ElapsedMs) * time.Millisecond
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s  %s\n",
					r.ID, elapsed.Round(time.Second), r.Cmd)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&attemptID, "attempt", "", "show one attempt instead of the running list")
	return cmd
}

func renderStatus(view *query.StatusView) string {
	parts := []string{view.AttemptID}
	if view.Recorded {
		parts = append(parts, string(view.Status))
	} else {
		parts = append(parts, "unrecorded")
	}
	if view.LiveDir {
		parts = append(parts, "live-dir")
	}
	if view.StaleLiveDir {
		parts = append(parts, "stale-live-dir")
	}
	return strings.Join(parts, "  ")
}
