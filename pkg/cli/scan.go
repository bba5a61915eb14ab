package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wurt83ow/checkin-client/pkg/client"
	"github.com/wurt83ow/checkin-client/pkg/models"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	EventID  string
	KindName string
	Checkout bool
}

// Kind returns the operation the flags select. --checkout wins over --kind.
func (o *ScanOptions) Kind() (models.OperationKind, error) {
	if o.Checkout {
		return models.KindCheckOut, nil
	}
	return models.ParseOperationKind(o.KindName)
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan [CODE...]",
		Short: "Check codes in or out, queueing them while offline",
		Long: "Send each CODE to the check-in service. Without arguments an interactive " +
			"console reads one code per line, as typed by a keyboard-wedge scanner.",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := opts.Kind()
			if err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				return runConsole(ctx, a, opts.EventID, kind)
			}

			a.probe(ctx)

			failed := 0
			for _, code := range args {
				res, err := a.svc.Scan(ctx, code, opts.EventID, kind)
				fmt.Fprintln(cmd.OutOrStdout(), client.Describe(res, err))
				if err != nil && !res.Queued() {
					failed++
				}
			}
			if failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scans rejected", failed, len(args)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.EventID, "event", "", "event to check in to")
	cmd.Flags().StringVar(&opts.KindName, "kind", "checkin", "operation (checkin|checkout)")
	cmd.Flags().BoolVar(&opts.Checkout, "checkout", false, "shorthand for --kind checkout")
	cmd.MarkFlagRequired("event")

	return cmd
}

// runConsole keeps probing and delivering in the background while the
// operator scans, so the session recovers from an outage by itself.
func runConsole(ctx context.Context, a *app, eventID string, kind models.OperationKind) error {
	a.probe(ctx)

	ctx, cancel := context.WithCancel(ctx)
	a.engine.Start(ctx)
	defer a.engine.Stop()
	a.monitor.Start(ctx)
	defer a.monitor.Stop()
	// a pass in flight is abandoned before the loops are waited for
	defer cancel()

	console, err := client.NewConsole(a.svc, eventID, kind)
	if err != nil {
		return err
	}
	defer console.Close()
	return console.Run(ctx)
}
