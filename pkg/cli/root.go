// Package cli is the checkin command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wurt83ow/checkin-client/pkg/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Flags *config.Flags
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the checkin CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Event check-in client with an offline queue",
		Long: "Scan member QR codes into events. Scans that cannot reach the check-in " +
			"service are kept in a local queue and delivered when it is reachable again.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.Flags = config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewDevServerCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func checkFormat(format string) error {
	if !isValidFormat(format) {
		return fmt.Errorf("invalid format %q: must be one of %v", format, ValidFormats)
	}
	return nil
}
