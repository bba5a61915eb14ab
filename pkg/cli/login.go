package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wurt83ow/checkin-client/pkg/client"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Email    string
	Password string
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as staff and keep the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Password == "" {
				pw, err := client.ReadPassword("Password: ")
				if err != nil {
					return err
				}
				opts.Password = pw
			}

			a, err := openApp(cmd.Context(), opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.Login(cmd.Context(), opts.Email, opts.Password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", opts.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "staff email")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password (prompted when empty)")
	cmd.MarkFlagRequired("email")

	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.svc.Logout()
		},
	}
}
