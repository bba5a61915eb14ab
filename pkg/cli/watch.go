package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Deliver queued scans whenever the service is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			return watch(ctx, a, cmd)
		},
	}
}

func watch(ctx context.Context, a *app, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	a.engine.Start(ctx)
	defer a.engine.Stop()
	a.monitor.Start(ctx)
	defer a.monitor.Stop()

	online, cancelOnline := a.monitor.Subscribe()
	defer cancelOnline()
	snapshots, cancelQueue := a.queue.Subscribe()
	defer cancelQueue()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Stopping")
			return nil
		case up, ok := <-online:
			if !ok {
				return nil
			}
			if up {
				fmt.Fprintln(out, "Service reachable")
			} else {
				fmt.Fprintln(out, "Service unreachable, scans will be queued")
			}
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "%d pending\n", len(snap.Operations))
		}
	}
}
