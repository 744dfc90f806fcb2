package directory

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile builds a static directory from a JSON file holding an array of
// user records. Single-tenant installs point the binaries at such a file
// instead of an identity provider.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	var users []StaticUser
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to parse directory file %q: %w", path, err)
	}

	for i, user := range users {
		if user.ID == "" {
			return nil, fmt.Errorf("directory file %q: user at index %d has no id", path, i)
		}
	}

	return NewStatic(users...), nil
}
