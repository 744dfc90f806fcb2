// Package directory abstracts the organization directory the engine resolves
// approvers and permissions against: role membership, reporting lines, and
// department rosters. Deployments back it with their identity provider; tests
// and single-tenant installs use the static implementation.
package directory

import "context"

// RoleMembership answers role questions for approver expansion and
// permission checks.
type RoleMembership interface {
	// UsersInRole returns the user ids holding a role.
	UsersInRole(ctx context.Context, roleID string) ([]string, error)
	// RolesOf returns the role ids a user holds.
	RolesOf(ctx context.Context, userID string) ([]string, error)
}

// UserDirectory answers identity questions about individual users.
type UserDirectory interface {
	// ManagerOf returns the user id of a user's manager, or "" when the
	// user has none.
	ManagerOf(ctx context.Context, userID string) (string, error)
	// UsersInDepartment returns the user ids tagged with a department key.
	UsersInDepartment(ctx context.Context, departmentKey string) ([]string, error)
	// AttributesOf returns a user's directory attributes (department,
	// location, grade, ...) for submitter-condition matching.
	AttributesOf(ctx context.Context, userID string) (map[string]any, error)
}

// Directory bundles both collaborator views.
type Directory interface {
	RoleMembership
	UserDirectory
}
