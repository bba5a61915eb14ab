package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wurt83ow/checkin-client/pkg/logger"
	"github.com/wurt83ow/checkin-client/pkg/services"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Format string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queued scans and the last sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.Format); err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			a.probe(cmd.Context())
			st := a.svc.Status()
			if opts.Format == "json" {
				return writeStatusJSON(cmd.OutOrStdout(), st)
			}
			writeStatusText(cmd.OutOrStdout(), st, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	return cmd
}

func writeStatusJSON(w io.Writer, st services.Status) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func writeStatusText(w io.Writer, st services.Status, now time.Time) {
	state := "offline"
	if st.Online {
		state = "online"
	}
	fmt.Fprintf(w, "Service:  %s\n", state)
	fmt.Fprintf(w, "Pending:  %d\n", st.Pending)

	if st.LastPass != nil {
		p := st.LastPass
		fmt.Fprintf(w, "Last sync: %s, %d sent, %d retrying, %d rejected, %d abandoned\n",
			humanize.RelTime(p.FinishedAt, now, "ago", "from now"), p.Succeeded, p.Retried, p.Rejected, p.Abandoned)
	} else {
		fmt.Fprintln(w, "Last sync: never")
	}
	if st.LastSuccess != nil {
		fmt.Fprintf(w, "Last full delivery: %s\n", humanize.RelTime(*st.LastSuccess, now, "ago", "from now"))
	}

	for _, op := range st.Operations {
		fmt.Fprintf(w, "  %-8s %-10s %s  queued %s, attempt %d/%d\n",
			op.Kind, op.EventID, logger.MaskCode(op.QRCode),
			humanize.RelTime(op.CreatedAt, now, "ago", "from now"), op.RetryCount, st.MaxRetry)
	}
}
