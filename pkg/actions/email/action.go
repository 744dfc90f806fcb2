// Package email provides the outbound email executor.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nocodile/docflow/pkg/actions"
	"github.com/nocodile/docflow/pkg/directory"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/template"
)

// Executor renders and sends the email of one email node through the
// configured Mailer.
type Executor struct {
	config *models.EmailConfig
	mailer actions.Mailer
	roles  directory.RoleMembership
}

func NewExecutor(config *models.EmailConfig, mailer actions.Mailer, roles directory.RoleMembership) *Executor {
	return &Executor{config: config, mailer: mailer, roles: roles}
}

func (e *Executor) Execute(ctx context.Context, input actions.Input, logger *slog.Logger) (actions.Result, error) {
	logger = logger.With("module", "email_action", "node_id", input.Node.ID)

	recipients, err := actions.ResolveRecipients(ctx, e.config.Recipients, input, e.roles)
	if err != nil {
		return actions.Result{}, fmt.Errorf("failed to resolve email recipients: %w", err)
	}

	data := template.Context(input.Document, input.SubmitterAttrs)
	subject := template.Render(e.config.Subject, data)
	body := template.Render(e.config.Body, data)

	if err := e.mailer.SendMail(ctx, recipients, subject, body); err != nil {
		return actions.Result{}, fmt.Errorf("failed to send email: %w", err)
	}

	logger.InfoContext(ctx, "Email sent", "recipients", len(recipients))

	return actions.Result{}, nil
}
