package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teemow/invoicer/internal/prompt"
)

func newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize invoicer with your Google account",
		Long: `Print the Google consent URL, read the authorization code and store the
resulting token in the credentials file, replacing any stored token.

Use this when the stored token was revoked or the required scopes changed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := setup(ctx, os.Stderr, prompt.New(os.Stdin, os.Stderr))
			if err != nil {
				return err
			}
			defer closeApp(a)

			if _, err := a.Authenticate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", a.Store.Path())
			return nil
		},
	}
}
