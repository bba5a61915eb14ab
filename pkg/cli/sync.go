package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wurt83ow/checkin-client/pkg/services"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Deliver queued scans now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.svc.SyncNow(ctx)
			switch {
			case errors.Is(err, services.ErrNothingToSync):
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to sync")
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d: %d sent, %d retrying, %d rejected, %d abandoned, %d still pending\n",
				summary.Processed, summary.Succeeded, summary.Retried, summary.Rejected, summary.Abandoned, a.queue.Len())
			return nil
		},
	}
}

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	*RootOptions
	Yes bool
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Yes {
				return NewExitError(ExitCommandError, "refusing to discard offline data without --yes")
			}
			a, err := openApp(cmd.Context(), opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.ClearOffline(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Discarded %d queued scans\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm discarding offline data")

	return cmd
}
