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

type DocumentRepository struct {
	db *sql.DB
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var (
		data    []byte
		stateID string
		version int64
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT data, state_id, version FROM documents WHERE id = $1`, id,
	).Scan(&data, &stateID, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrDocumentNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	// The extracted columns are authoritative for state and version.
	doc.WorkflowStateID = stateID
	doc.Version = version

	return &doc, nil
}

func (r *DocumentRepository) Save(ctx context.Context, doc *models.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO documents (id, workflow_id, state_id, version, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			state_id = EXCLUDED.state_id,
			version = EXCLUDED.version,
			data = EXCLUDED.data
	`, doc.ID, doc.WorkflowID, doc.WorkflowStateID, doc.Version, data)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	return nil
}

// UpdateState moves a document to a new state only when its version still
// matches fromVersion. A concurrent writer that got there first makes the
// conditional UPDATE match zero rows, which surfaces as ErrVersionConflict.
func (r *DocumentRepository) UpdateState(ctx context.Context, id string, fromVersion int64, newStateID string) (*models.Document, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, `
		UPDATE documents
		SET state_id = $1,
			version = version + 1,
			data = jsonb_set(jsonb_set(data, '{workflowStateId}', to_jsonb($1::text)), '{version}', to_jsonb(version + 1))
		WHERE id = $2 AND version = $3
		RETURNING data
	`, newStateID, id, fromVersion).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return nil, err
		}

		if !exists {
			return nil, persistence.ErrDocumentNotFound
		}

		return nil, persistence.ErrVersionConflict
	}

	if err != nil {
		return nil, fmt.Errorf("failed to update document state: %w", err)
	}

	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	return &doc, nil
}

func (r *DocumentRepository) AppendHistory(ctx context.Context, entry *models.StateHistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO state_history (id, document_id, at, data) VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.DocumentID, entry.At, data)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	return nil
}

func (r *DocumentRepository) History(ctx context.Context, documentID string) ([]*models.StateHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT data FROM state_history WHERE document_id = $1 ORDER BY at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*models.StateHistoryEntry

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		var entry models.StateHistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
