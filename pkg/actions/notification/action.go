// Package notification provides the in-app notification executor.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nocodile/docflow/pkg/actions"
	"github.com/nocodile/docflow/pkg/directory"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/template"
)

// Executor delivers the notification of one notification node through the
// configured Notifier.
type Executor struct {
	config   *models.NotificationConfig
	notifier actions.Notifier
	roles    directory.RoleMembership
}

func NewExecutor(config *models.NotificationConfig, notifier actions.Notifier, roles directory.RoleMembership) *Executor {
	return &Executor{config: config, notifier: notifier, roles: roles}
}

func (e *Executor) Execute(ctx context.Context, input actions.Input, logger *slog.Logger) (actions.Result, error) {
	logger = logger.With("module", "notification_action", "node_id", input.Node.ID)

	recipients, err := actions.ResolveRecipients(ctx, e.config.Recipients, input, e.roles)
	if err != nil {
		return actions.Result{}, fmt.Errorf("failed to resolve notification recipients: %w", err)
	}

	data := template.Context(input.Document, input.SubmitterAttrs)
	title := template.Render(e.config.Title, data)
	message := template.Render(e.config.Message, data)

	if err := e.notifier.Notify(ctx, recipients, title, message); err != nil {
		return actions.Result{}, fmt.Errorf("failed to deliver notification: %w", err)
	}

	logger.InfoContext(ctx, "Notification delivered", "recipients", len(recipients))

	return actions.Result{}, nil
}

// LogNotifier writes notifications to the logger. It is the default Notifier
// when no delivery integration is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userIDs []string, title, _ string) error {
	slog.Info("Notification", "recipients", userIDs, "title", title)

	return nil
}

var _ actions.Notifier = LogNotifier{}

// LogMailer writes emails to the logger. It is the default Mailer when no
// SMTP integration is configured.
type LogMailer struct{}

func (LogMailer) SendMail(_ context.Context, to []string, subject, _ string) error {
	slog.Info("Email", "to", to, "subject", subject)

	return nil
}

var _ actions.Mailer = LogMailer{}
