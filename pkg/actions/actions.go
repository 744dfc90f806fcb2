// Package actions defines the side effect executor contract shared by
// notification, email, and webhook nodes.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nocodile/docflow/pkg/directory"
	"github.com/nocodile/docflow/pkg/models"
)

// Input carries the document context a side effect executes against.
type Input struct {
	Graph          *models.WorkflowGraph
	Node           *models.Node
	Document       *models.Document
	SubmitterAttrs map[string]any

	// CurrentApprovers are the approvers of the document's pending tasks,
	// used to resolve the "approvers" recipient type.
	CurrentApprovers []string
}

// Result is the outcome of one side effect execution. Branch is set only by
// executors that select an outgoing socket based on their result.
type Result struct {
	Branch string
	Output map[string]any
}

// Executor runs one side effect node.
type Executor interface {
	Execute(ctx context.Context, input Input, logger *slog.Logger) (Result, error)
}

// Mailer is the outbound email port.
type Mailer interface {
	SendMail(ctx context.Context, to []string, subject, body string) error
}

// Notifier is the in-app notification port.
type Notifier interface {
	Notify(ctx context.Context, userIDs []string, title, message string) error
}

var ErrUnresolvedRecipient = errors.New("recipient resolved to no users")

// ResolveRecipients expands abstract recipient references into user ids,
// deduplicated in first-seen order. Role expansions are sorted so delivery
// order is stable.
func ResolveRecipients(ctx context.Context, recipients []models.RecipientConfig, input Input, roles directory.RoleMembership) ([]string, error) {
	var out []string

	seen := make(map[string]bool)

	add := func(ids ...string) {
		for _, id := range ids {
			if id != "" && !seen[id] {
				seen[id] = true

				out = append(out, id)
			}
		}
	}

	for _, recipient := range recipients {
		switch recipient.Type {
		case models.RecipientSubmitter:
			add(input.Document.CreatedByID)
		case models.RecipientApprovers:
			add(input.CurrentApprovers...)
		case models.RecipientRole:
			members, err := roles.UsersInRole(ctx, recipient.RoleID)
			if err != nil {
				return nil, fmt.Errorf("failed to expand role %q: %w", recipient.RoleID, err)
			}

			sort.Strings(members)
			add(members...)
		case models.RecipientUser:
			add(recipient.UserID)
		case models.RecipientDynamic:
			value, ok := input.Document.Field(recipient.FieldKey)
			if !ok {
				continue
			}

			switch v := value.(type) {
			case string:
				add(v)
			case []string:
				add(v...)
			case []any:
				for _, item := range v {
					if s, ok := item.(string); ok {
						add(s)
					}
				}
			}
		default:
			return nil, fmt.Errorf("unknown recipient type %q", recipient.Type)
		}
	}

	if len(out) == 0 {
		return nil, ErrUnresolvedRecipient
	}

	return out, nil
}
