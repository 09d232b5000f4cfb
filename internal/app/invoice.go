package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teemow/invoicer/internal/drive"
	"github.com/teemow/invoicer/internal/gmail"
	"github.com/teemow/invoicer/internal/logging"
	"github.com/teemow/invoicer/internal/pipeline"
	"github.com/teemow/invoicer/internal/prompt"
)

// RunOptions controls one invoice run.
type RunOptions struct {
	// Send emails the invoice after it is written.
	Send bool
	// AssumeYes skips the send confirmation.
	AssumeYes bool
}

// Result is the outcome of RunInvoice.
type Result struct {
	Artifact  *pipeline.Artifact
	Recipient string
	MessageID string
	Sent      bool
}

// RunInvoice produces today's invoice and, when asked, emails it to the
// configured recipient after confirmation.
func (a *App) RunInvoice(ctx context.Context, opts RunOptions) (*Result, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	logger := a.logger()

	cred, err := a.Credential(ctx)
	if err != nil {
		return nil, err
	}

	req := pipeline.NewRequest(a.Config, a.now())
	orch := a.Orchestrator(cred)
	art, err := orch.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &Result{Artifact: art, Recipient: a.Config.Email.Recipient}
	if !opts.Send {
		return res, nil
	}

	token := orch.Credential().AccessToken
	identity, err := a.Gateway.Identity(ctx, token)
	if err != nil {
		return res, fmt.Errorf("invoice saved to %s but not sent: %w", art.Path, err)
	}

	msg, err := gmail.Compose(identity, art.Bytes, req.ISODate, a.Config.Email.Recipient,
		gmail.WithBoundary(a.Config.Email.Boundary))
	if err != nil {
		return res, fmt.Errorf("invoice saved to %s but not sent: %w", art.Path, err)
	}

	if a.Config.Email.Confirm && !opts.AssumeYes {
		ok, err := prompt.Confirm(ctx, a.Prompter, confirmQuestion(identity, msg, len(art.Bytes)))
		if err != nil {
			return res, err
		}
		if !ok {
			logger.Info("sending skipped", slog.String("path", art.Path))
			return res, nil
		}
	}

	id, err := a.Mailer.Send(ctx, art.RunID, msg, token)
	if err != nil {
		return res, fmt.Errorf("invoice saved to %s but not sent: %w", art.Path, err)
	}
	res.MessageID = id
	res.Sent = true

	if a.Ledger != nil {
		if err := a.Ledger.MarkSent(ctx, art.RunID, id); err != nil {
			logger.Warn("failed to record sent invoice", logging.Err(err))
		}
	}
	return res, nil
}

func confirmQuestion(identity drive.Identity, msg *gmail.Message, size int) string {
	sender := identity.EmailAddress
	if identity.DisplayName != "" {
		sender = fmt.Sprintf("%s <%s>", identity.DisplayName, identity.EmailAddress)
	}
	return fmt.Sprintf("Send %s (%d bytes) from %s to %s? [y/N] ", msg.AttachmentName, size, sender, msg.To)
}
