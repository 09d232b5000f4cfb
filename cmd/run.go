package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/invoicer/internal/app"
	"github.com/teemow/invoicer/internal/pipeline"
	"github.com/teemow/invoicer/internal/prompt"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	var (
		assumeYes bool
		noSend    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create, export and send today's invoice",
		Long: `Copy the invoice template into the invoices folder under today's name,
write today's date into the configured cell range, export the copy as PDF and
save it to the output directory. Unless --no-send is given, the PDF is then
emailed to the configured recipient after a confirmation prompt.

The first run asks for an OAuth authorization code; the resulting token is
stored in the credentials file and refreshed automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := setup(ctx, os.Stderr, prompt.New(os.Stdin, os.Stderr))
			if err != nil {
				return err
			}
			defer closeApp(a)

			return runInvoice(ctx, a, cmd.OutOrStdout(), app.RunOptions{
				Send:      !noSend,
				AssumeYes: assumeYes,
			})
		},
	}

	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Send without asking for confirmation")
	cmd.Flags().BoolVar(&noSend, "no-send", false, "Stop after saving the PDF locally")

	return cmd
}

func runInvoice(ctx context.Context, a *app.App, out io.Writer, opts app.RunOptions) error {
	res, err := a.RunInvoice(ctx, opts)
	if res != nil && res.Artifact != nil {
		printArtifact(out, res.Artifact)
	}
	if err != nil {
		return err
	}

	switch {
	case res.Sent:
		fmt.Fprintf(out, "Sent to %s (message %s)\n", res.Recipient, res.MessageID)
	case opts.Send:
		fmt.Fprintln(out, "Not sent.")
	}
	return nil
}

func printArtifact(out io.Writer, art *pipeline.Artifact) {
	fmt.Fprintf(out, "Created %s (%s)\n", art.Document.Name, art.Document.ID)
	if art.Document.WebViewLink != "" {
		fmt.Fprintf(out, "  %s\n", art.Document.WebViewLink)
	}
	fmt.Fprintf(out, "Saved %s (%d bytes", art.Path, len(art.Bytes))
	if art.Pages > 0 {
		fmt.Fprintf(out, ", %d pages", art.Pages)
	}
	fmt.Fprintln(out, ")")
	if art.ArchiveURL != "" {
		fmt.Fprintf(out, "Archived %s\n", art.ArchiveURL)
	}
}
