package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wurt83ow/checkin-client/pkg/checkin"
	"github.com/wurt83ow/checkin-client/pkg/devserver"
	"github.com/wurt83ow/checkin-client/pkg/logger"
)

// DevServerOptions holds flags for the devserver command.
type DevServerOptions struct {
	*RootOptions
	Addr        string
	SeedFile    string
	RequireAuth bool
}

// NewDevServerCommand creates the devserver command.
func NewDevServerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DevServerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve a local check-in API for trying the client",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed := checkin.DemoSeed()
			if opts.SeedFile != "" {
				var err error
				if seed, err = checkin.LoadSeed(opts.SeedFile); err != nil {
					return err
				}
			}
			backend, err := checkin.NewMemory(seed)
			if err != nil {
				return err
			}
			backend.RequireAuth = opts.RequireAuth

			log, closer, err := logger.NewLogger(logger.Config{Level: "info", Verbose: true})
			if err != nil {
				return err
			}
			defer closer.Close()

			srv := &http.Server{
				Addr:              opts.Addr,
				Handler:           devserver.New(backend, log).Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "Serving GraphQL on http://%s/graphql\n", opts.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "localhost:4000", "listen address")
	cmd.Flags().StringVar(&opts.SeedFile, "seed", "", "YAML seed file (demo data when empty)")
	cmd.Flags().BoolVar(&opts.RequireAuth, "require-auth", false, "reject calls without a valid bearer token")

	return cmd
}
