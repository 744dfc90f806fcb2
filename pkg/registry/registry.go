// Package registry maps side effect node types to executor factories.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/nocodile/docflow/pkg/actions"
	"github.com/nocodile/docflow/pkg/actions/email"
	"github.com/nocodile/docflow/pkg/actions/notification"
	"github.com/nocodile/docflow/pkg/actions/webhook"
	"github.com/nocodile/docflow/pkg/directory"
	"github.com/nocodile/docflow/pkg/models"
)

// Factory builds an executor for one node instance.
type Factory func(node *models.Node) (actions.Executor, error)

type Registry struct {
	logger    *slog.Logger
	factories map[models.NodeType]Factory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[models.NodeType]Factory),
	}
}

func (r *Registry) Register(nodeType models.NodeType, factory Factory) {
	r.factories[nodeType] = factory
}

// RegisterDefaults wires the built-in executors for webhook, email, and
// notification nodes.
func (r *Registry) RegisterDefaults(mailer actions.Mailer, notifier actions.Notifier, roles directory.RoleMembership) {
	r.Register(models.NodeTypeWebhook, func(node *models.Node) (actions.Executor, error) {
		config, ok := node.Config.(*models.WebhookConfig)
		if !ok {
			return nil, fmt.Errorf("node %q is not a webhook node", node.ID)
		}

		return webhook.NewExecutor(config)
	})

	r.Register(models.NodeTypeEmail, func(node *models.Node) (actions.Executor, error) {
		config, ok := node.Config.(*models.EmailConfig)
		if !ok {
			return nil, fmt.Errorf("node %q is not an email node", node.ID)
		}

		return email.NewExecutor(config, mailer, roles), nil
	})

	r.Register(models.NodeTypeNotification, func(node *models.Node) (actions.Executor, error) {
		config, ok := node.Config.(*models.NotificationConfig)
		if !ok {
			return nil, fmt.Errorf("node %q is not a notification node", node.ID)
		}

		return notification.NewExecutor(config, notifier, roles), nil
	})
}

// Create builds an executor for the node, or errors when its type has no
// registered factory.
func (r *Registry) Create(node *models.Node) (actions.Executor, error) {
	factory, ok := r.factories[node.Type]
	if !ok {
		return nil, fmt.Errorf("node type %q not registered", node.Type)
	}

	return factory(node)
}

// Supports reports whether the node type has a registered factory.
func (r *Registry) Supports(nodeType models.NodeType) bool {
	_, ok := r.factories[nodeType]

	return ok
}
