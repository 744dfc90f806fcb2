package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
)

// GraphRepository stores workflow graphs under <root>/graphs.
type GraphRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewGraphRepository creates a graph repository rooted at the given directory.
func NewGraphRepository(root string) *GraphRepository {
	return &GraphRepository{dir: filepath.Join(root, "graphs")}
}

func (r *GraphRepository) GetByID(_ context.Context, workflowID string) (*models.WorkflowGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var graph models.WorkflowGraph
	if err := readJSON(r.dir, workflowID, &graph, persistence.ErrGraphNotFound); err != nil {
		return nil, err
	}

	return &graph, nil
}

func (r *GraphRepository) Save(_ context.Context, graph *models.WorkflowGraph) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(r.dir, graph.WorkflowID, graph)
}

func (r *GraphRepository) List(_ context.Context) ([]*models.WorkflowGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	graphs := make([]*models.WorkflowGraph, 0)

	err := readAll(r.dir, func(data []byte) error {
		var graph models.WorkflowGraph
		if err := json.Unmarshal(data, &graph); err != nil {
			return err
		}

		graphs = append(graphs, &graph)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return graphs, nil
}

func (r *GraphRepository) Delete(_ context.Context, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(filepath.Join(r.dir, workflowID+".json"))
	if os.IsNotExist(err) {
		return persistence.ErrGraphNotFound
	}

	return err
}
