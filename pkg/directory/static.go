package directory

import (
	"context"
	"sync"
)

// StaticUser is one user record of a static directory.
type StaticUser struct {
	ID         string         `json:"id"`
	ManagerID  string         `json:"manager_id,omitempty"`
	Roles      []string       `json:"roles,omitempty"`
	Department string         `json:"department,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Static is an in-memory Directory. Safe for concurrent use.
type Static struct {
	mu    sync.RWMutex
	users map[string]StaticUser
}

// NewStatic builds a static directory from user records.
func NewStatic(users ...StaticUser) *Static {
	s := &Static{users: make(map[string]StaticUser, len(users))}
	for _, user := range users {
		s.users[user.ID] = user
	}

	return s
}

// AddUser inserts or replaces a user record.
func (s *Static) AddUser(user StaticUser) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = user
}

func (s *Static) UsersInRole(_ context.Context, roleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string

	for _, user := range s.users {
		for _, role := range user.Roles {
			if role == roleID {
				ids = append(ids, user.ID)

				break
			}
		}
	}

	return ids, nil
}

func (s *Static) RolesOf(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}

	return append([]string(nil), user.Roles...), nil
}

func (s *Static) ManagerOf(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.users[userID].ManagerID, nil
}

func (s *Static) UsersInDepartment(_ context.Context, departmentKey string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string

	for _, user := range s.users {
		if user.Department == departmentKey {
			ids = append(ids, user.ID)
		}
	}

	return ids, nil
}

func (s *Static) AttributesOf(_ context.Context, userID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return map[string]any{}, nil
	}

	attrs := make(map[string]any, len(user.Attributes)+2)
	for k, v := range user.Attributes {
		attrs[k] = v
	}

	if user.Department != "" {
		attrs["department"] = user.Department
	}

	if user.ManagerID != "" {
		attrs["manager"] = user.ManagerID
	}

	return attrs, nil
}
