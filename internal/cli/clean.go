package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// CleanOptions holds flags for the clean command.
type CleanOptions struct {
	*RootOptions
	Blobs  bool
	Live   bool
	Before string
}

// NewCleanCommand creates the clean command.
func NewCleanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CleanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove orphaned blobs and stale live directories",
		Long: `Reclaim storage the normal lifecycle left behind.

--blobs deletes blob files no output row references. --live removes live
directories whose attempt already has an outcome, or that the ledger
never saw. --before additionally prunes ledger rows older than the given
UTC date (YYYY-MM-DD). With no selection flags, blobs and live dirs are
both cleaned.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Blobs, "blobs", false, "clean orphaned blob files")
	cmd.Flags().BoolVar(&opts.Live, "live", false, "clean stale live directories")
	cmd.Flags().StringVar(&opts.Before, "before", "", "prune ledger rows older than this date (YYYY-MM-DD)")
	return cmd
}

type cleanSummary struct {
	BlobsDeleted int   `json:"blobs_deleted"`
	BytesFreed   int64 `json:"bytes_freed"`
	LiveRemoved  int   `json:"live_removed"`
	RowsPruned   int64 `json:"rows_pruned"`
}

func runClean(opts *CleanOptions, cmd *cobra.Command) error {
	ws, err := requireWorkspace(opts.RootOptions)
	if err != nil {
		return err
	}
	defer ws.Close()
	out := formatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	// No selection means everything except the destructive row prune.
	all := !opts.Blobs && !opts.Live
	ctx := cmd.Context()
	var summary cleanSummary

	if opts.Before != "" {
		pruned, err := ws.store.PruneBefore(ctx, opts.Before)
		if err != nil {
			return WrapExitError(ExitCommandError, "prune ledger", err)
		}
		summary.RowsPruned = pruned
	}

	if opts.Live || all {
		stale, err := ws.queries().StaleLiveDirs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "find stale live dirs", err)
		}
		for _, o := range stale {
			if err := ws.live.Cleanup(o.AttemptID); err != nil {
				return WrapExitError(ExitCommandError, "remove live dir", err)
			}
			out.VerboseLog("removed live dir %s", o.AttemptID)
			summary.LiveRemoved++
		}
	}

	if opts.Blobs || all {
		deleted, freed, err := ws.blobs.CleanupOrphanedBlobs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "clean blobs", err)
		}
		summary.BlobsDeleted = deleted
		summary.BytesFreed = freed
	}

	return out.Successf(summary, "%s", renderCleanSummary(summary))
}

func renderCleanSummary(s cleanSummary) string {
	msg := fmt.Sprintf("removed %d blobs (%d bytes), %d live dirs", s.BlobsDeleted, s.BytesFreed, s.LiveRemoved)
	if s.RowsPruned > 0 {
		msg += fmt.Sprintf(", pruned %d rows", s.RowsPruned)
	}
	return msg
}
