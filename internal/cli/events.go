package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blqio/blq/internal/record"
)

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	var severity string

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show a run's parsed diagnostic events",
		Long: `Show the diagnostic events parsed out of a run's output, in the
order the parser emitted them. An unknown run, or a run whose output
produced no events, prints nothing.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := requireWorkspace(rootOpts)
			if err != nil {
				return err
			}
			defer ws.Close()
			out := formatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())

			events, err := ws.queries().EventsForRun(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "load events", err)
			}
			if severity != "" {
				events = filterSeverity(events, severity)
			}
			if out.JSON() {
				return out.Success(events)
			}
			for _, e := range events {
				fmt.Fprintln(cmd.OutOrStdout(), renderEvent(e))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&severity, "severity", "", "only show events with this severity")
	return cmd
}

func filterSeverity(events []record.Event, severity string) []record.Event {
	filtered := events[:0:0]
	for _, e := range events {
		if e.Severity == severity {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func renderEvent(e record.Event) string {
	loc := ""
	if e.RefFile != nil {
		loc = *e.RefFile
		if e.RefLine != nil {
			loc = fmt.Sprintf("%s:%d", loc, *e.RefLine)
		}
		loc += "  "
	}
	return fmt.Sprintf("[%s] %s%s", e.Severity, loc, e.Message)
}
