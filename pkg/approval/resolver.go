// Package approval resolves the concrete approver set of an approval node and
// tracks completion under the node's single/all/any barrier.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nocodile/docflow/pkg/condition"
	"github.com/nocodile/docflow/pkg/directory"
	"github.com/nocodile/docflow/pkg/models"
)

var (
	// ErrNoApprovers is returned when resolution yields an empty set; an
	// approval node nobody can act on would strand the document.
	ErrNoApprovers = errors.New("approval node resolves to no approvers")
)

// Resolution is the outcome of approver resolution for one document at one
// approval node.
type Resolution struct {
	ApproverIDs []string
	Type        models.ApprovalType
	// MatchedRule is the index of the user-approval rule that replaced the
	// defaults, or -1 when the defaults applied.
	MatchedRule int
}

// Resolver expands abstract approver references against the organization
// directory.
type Resolver struct {
	dir    directory.Directory
	logger *slog.Logger
}

// NewResolver creates an approver resolver.
func NewResolver(dir directory.Directory, logger *slog.Logger) *Resolver {
	return &Resolver{dir: dir, logger: logger.With("module", "approval_resolver")}
}

// Resolve computes the required approver set for a document at an approval
// node. User-approval rules are evaluated in declaration order against the
// document's submitter; the first matching rule's approvers replace the
// default set entirely. The expansions of the chosen approver list are
// unioned and returned sorted.
func (r *Resolver) Resolve(
	ctx context.Context,
	config *models.ApprovalConfig,
	doc *models.Document,
	submitterAttrs map[string]any,
) (*Resolution, error) {
	approvers := config.DefaultApprovers
	matched := -1

	for i, rule := range config.UserApprovalRules {
		ok, err := r.matchesSubmitter(ctx, rule.SubmitterCondition, doc, submitterAttrs)
		if err != nil {
			return nil, fmt.Errorf("evaluating approval rule %d: %w", i, err)
		}

		if ok {
			approvers = rule.Approvers
			matched = i

			break
		}
	}

	set := make(map[string]bool)

	for _, approver := range approvers {
		ids, err := r.expand(ctx, approver, doc)
		if err != nil {
			return nil, err
		}

		for _, id := range ids {
			if id != "" {
				set[id] = true
			}
		}
	}

	if len(set) == 0 {
		return nil, ErrNoApprovers
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	r.logger.DebugContext(ctx, "Resolved approvers",
		"document_id", doc.ID,
		"approvers", ids,
		"matched_rule", matched,
	)

	return &Resolution{
		ApproverIDs: ids,
		Type:        config.ApprovalType,
		MatchedRule: matched,
	}, nil
}

func (r *Resolver) matchesSubmitter(
	ctx context.Context,
	cond models.SubmitterCondition,
	doc *models.Document,
	submitterAttrs map[string]any,
) (bool, error) {
	operator := cond.Operator
	if operator == "" {
		operator = models.OpEqual
	}

	switch cond.Type {
	case "user":
		return condition.Compare(doc.CreatedByID, operator, cond.Value), nil
	case "role":
		roles, err := r.dir.RolesOf(ctx, doc.CreatedByID)
		if err != nil {
			return false, fmt.Errorf("looking up submitter roles: %w", err)
		}

		// Membership tests ignore the configured operator shape: the rule
		// matches when the submitter holds the referenced role.
		for _, role := range roles {
			if condition.Compare(role, operator, cond.Value) {
				return true, nil
			}
		}

		return false, nil
	case "department":
		dept, present := submitterAttrs["department"]
		if !present {
			return false, nil
		}

		return condition.Compare(dept, operator, cond.Value), nil
	case "attribute":
		value, present := submitterAttrs[cond.Attribute]
		if !present {
			return false, nil
		}

		return condition.Compare(value, operator, cond.Value), nil
	default:
		return false, fmt.Errorf("unknown submitter condition type %q", cond.Type)
	}
}

// expand turns one abstract approver reference into concrete user ids.
func (r *Resolver) expand(ctx context.Context, approver models.ApproverConfig, doc *models.Document) ([]string, error) {
	switch approver.Type {
	case models.ApproverTypeUser:
		return []string{approver.UserID}, nil
	case models.ApproverTypeRole:
		ids, err := r.dir.UsersInRole(ctx, approver.RoleID)
		if err != nil {
			return nil, fmt.Errorf("expanding role %q: %w", approver.RoleID, err)
		}

		return ids, nil
	case models.ApproverTypeSubmitterManager:
		manager, err := r.dir.ManagerOf(ctx, doc.CreatedByID)
		if err != nil {
			return nil, fmt.Errorf("looking up manager of %q: %w", doc.CreatedByID, err)
		}

		if manager == "" {
			return nil, nil
		}

		return []string{manager}, nil
	case models.ApproverTypeDepartment:
		ids, err := r.dir.UsersInDepartment(ctx, approver.DepartmentKey)
		if err != nil {
			return nil, fmt.Errorf("expanding department %q: %w", approver.DepartmentKey, err)
		}

		return ids, nil
	case models.ApproverTypeDynamic:
		return dynamicApprovers(doc, approver.FieldKey), nil
	default:
		return nil, fmt.Errorf("unknown approver type %q", approver.Type)
	}
}

// dynamicApprovers reads a user id, or a list of user ids, from the
// document's own field data.
func dynamicApprovers(doc *models.Document, fieldKey string) []string {
	value, present := doc.Field(fieldKey)
	if !present {
		return nil
	}

	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		var ids []string

		for _, item := range v {
			if id, ok := item.(string); ok {
				ids = append(ids, id)
			}
		}

		return ids
	default:
		return nil
	}
}
