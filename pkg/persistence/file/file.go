// Package file provides file-based persistence for graphs, documents, and run
// state. Entities are stored as one JSON file each; a process-wide mutex per
// store backs the compare-and-swap state write. Suitable for development and
// single-process deployments.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nocodile/docflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root      string
	graphs    *GraphRepository
	documents *DocumentRepository
	runState  *RunStateRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.TrimPrefix(root, "file://")

	return &Persistence{
		root:      cleanRoot,
		graphs:    NewGraphRepository(cleanRoot),
		documents: NewDocumentRepository(cleanRoot),
		runState:  NewRunStateRepository(cleanRoot),
	}
}

func (p *Persistence) Graphs() persistence.GraphRepository { return p.graphs }

func (p *Persistence) Documents() persistence.DocumentRepository { return p.documents }

func (p *Persistence) RunState() persistence.RunStateRepository { return p.runState }

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// writeJSON atomically persists an entity as pretty-printed JSON.
func writeJSON(dir, id string, entity any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	target := filepath.Join(dir, id+".json")
	temp := target + ".tmp"

	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", temp, err)
	}

	return os.Rename(temp, target)
}

// readJSON loads an entity, returning notFound when the file does not exist.
func readJSON(dir, id string, target any, notFound error) error {
	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return notFound
		}

		return fmt.Errorf("failed to read %s: %w", id, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return nil
}

// readAll loads every entity in a directory via the decode callback.
func readAll(dir string, decode func(data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		if err := decode(data); err != nil {
			return err
		}
	}

	return nil
}
