// Package permission computes a user's view/edit rights over a document from
// the permission rules of its current state node.
package permission

import (
	"context"
	"fmt"

	"github.com/nocodile/docflow/pkg/directory"
	"github.com/nocodile/docflow/pkg/models"
)

// ChildFormSet names the child forms a user may edit: either all of them or
// an explicit id list.
type ChildFormSet struct {
	All bool     `json:"all"`
	IDs []string `json:"ids,omitempty"`
}

// Rights is the resolved permission set for one user and one document state.
type Rights struct {
	CanViewMain       bool         `json:"canViewMain"`
	CanEditMain       bool         `json:"canEditMain"`
	CanViewChildForms bool         `json:"canViewChildForms"`
	CanEditChildForms ChildFormSet `json:"canEditChildForms"`
}

// Input carries the per-document context a resolution needs beyond the state
// node itself.
type Input struct {
	Document *models.Document
	// CurrentApprovers are the users with a pending approval task on the
	// document.
	CurrentApprovers []string
	// Grants are view_permission overlays accumulated by the document's
	// path through the workflow.
	Grants []*models.ViewGrant
}

// Resolver answers permission questions against role membership.
type Resolver struct {
	roles directory.RoleMembership
}

// NewResolver creates a permission resolver.
func NewResolver(roles directory.RoleMembership) *Resolver {
	return &Resolver{roles: roles}
}

// Resolve computes the rights of a user over a document in a given state.
// View access unions submitter/approver/role/user sources; edit access is
// gated by the edit flag and the intersection of the restriction lists (an
// empty or absent list leaves that dimension unrestricted).
func (r *Resolver) Resolve(ctx context.Context, state *models.StateConfig, userID string, in Input) (*Rights, error) {
	userRoles, err := r.roles.RolesOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up roles of %q: %w", userID, err)
	}

	roleSet := make(map[string]bool, len(userRoles))
	for _, role := range userRoles {
		roleSet[role] = true
	}

	perms := state.Permissions

	canView := r.canView(perms.View, userID, roleSet, in)

	canEditMain := perms.EditMainForm &&
		restrictionAllows(perms.EditMainFormRoles, roleSet) &&
		restrictionAllowsUser(perms.EditMainFormUsers, userID)

	childForms := ChildFormSet{}

	canEditChild := perms.EditChildForms &&
		restrictionAllows(perms.EditChildFormsRoles, roleSet) &&
		restrictionAllowsUser(perms.EditChildFormsUsers, userID)

	if canEditChild {
		if len(perms.SpecificChildForms) == 0 {
			childForms.All = true
		} else {
			childForms.IDs = append([]string(nil), perms.SpecificChildForms...)
		}
	}

	return &Rights{
		CanViewMain:       canView,
		CanEditMain:       canEditMain,
		CanViewChildForms: canView,
		CanEditChildForms: childForms,
	}, nil
}

func (r *Resolver) canView(view models.ViewPermissions, userID string, roleSet map[string]bool, in Input) bool {
	if view.SubmitterIncluded() && in.Document != nil && in.Document.CreatedByID == userID {
		return true
	}

	if view.ApproversIncluded() {
		for _, approver := range in.CurrentApprovers {
			if approver == userID {
				return true
			}
		}
	}

	for _, role := range view.Roles {
		if roleSet[role] {
			return true
		}
	}

	for _, id := range view.Users {
		if id == userID {
			return true
		}
	}

	for _, grant := range in.Grants {
		for _, role := range grant.Roles {
			if roleSet[role] {
				return true
			}
		}

		for _, id := range grant.Users {
			if id == userID {
				return true
			}
		}
	}

	return false
}

// restrictionAllows applies the intersect-not-union rule: a non-empty role
// list restricts to those roles; an empty list is unrestricted.
func restrictionAllows(allowedRoles []string, roleSet map[string]bool) bool {
	if len(allowedRoles) == 0 {
		return true
	}

	for _, role := range allowedRoles {
		if roleSet[role] {
			return true
		}
	}

	return false
}

func restrictionAllowsUser(allowedUsers []string, userID string) bool {
	if len(allowedUsers) == 0 {
		return true
	}

	for _, id := range allowedUsers {
		if id == userID {
			return true
		}
	}

	return false
}
