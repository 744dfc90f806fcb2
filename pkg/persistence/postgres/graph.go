package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
)

type GraphRepository struct {
	db *sql.DB
}

func (r *GraphRepository) GetByID(ctx context.Context, workflowID string) (*models.WorkflowGraph, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, `SELECT data FROM graphs WHERE workflow_id = $1`, workflowID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrGraphNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query graph: %w", err)
	}

	var graph models.WorkflowGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}

	return &graph, nil
}

func (r *GraphRepository) Save(ctx context.Context, graph *models.WorkflowGraph) error {
	data, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO graphs (workflow_id, data, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (workflow_id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, graph.WorkflowID, data)
	if err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}

	return nil
}

func (r *GraphRepository) List(ctx context.Context) ([]*models.WorkflowGraph, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM graphs ORDER BY workflow_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}
	defer rows.Close()

	var graphs []*models.WorkflowGraph

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		var graph models.WorkflowGraph
		if err := json.Unmarshal(data, &graph); err != nil {
			return nil, fmt.Errorf("failed to decode graph: %w", err)
		}

		graphs = append(graphs, &graph)
	}

	return graphs, rows.Err()
}

func (r *GraphRepository) Delete(ctx context.Context, workflowID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM graphs WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete graph: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrGraphNotFound
	}

	return nil
}
