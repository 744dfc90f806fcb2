package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
)

// DocumentRepository stores documents under docflow:document:<id> and history
// entries in a per-document list.
type DocumentRepository struct {
	client *redis.Client
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := getJSON(ctx, r.client, key("document", id), &doc, persistence.ErrDocumentNotFound); err != nil {
		return nil, err
	}

	return &doc, nil
}

func (r *DocumentRepository) Save(ctx context.Context, doc *models.Document) error {
	return setJSON(ctx, r.client, key("document", doc.ID), doc)
}

// UpdateState runs the compare-and-swap inside a WATCH transaction: if the
// document key changes between read and write the transaction aborts and the
// conflict sentinel is returned.
func (r *DocumentRepository) UpdateState(ctx context.Context, id string, fromVersion int64, newStateID string) (*models.Document, error) {
	docKey := key("document", id)

	var updated *models.Document

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, docKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return persistence.ErrDocumentNotFound
		}

		if err != nil {
			return err
		}

		var doc models.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}

		if doc.Version != fromVersion {
			return persistence.ErrVersionConflict
		}

		doc.WorkflowStateID = newStateID
		doc.Version++
		updated = &doc

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return setJSON(ctx, pipe, docKey, &doc)
		})

		return err
	}

	err := r.client.Watch(ctx, txn, docKey)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer touched the key mid-transaction.
		return nil, persistence.ErrVersionConflict
	}

	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *DocumentRepository) AppendHistory(ctx context.Context, entry *models.StateHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return r.client.RPush(ctx, key("history", entry.DocumentID), data).Err()
}

func (r *DocumentRepository) History(ctx context.Context, documentID string) ([]*models.StateHistoryEntry, error) {
	raw, err := r.client.LRange(ctx, key("history", documentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading history of %s: %w", documentID, err)
	}

	entries := make([]*models.StateHistoryEntry, 0, len(raw))

	for _, item := range raw {
		var entry models.StateHistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, err
		}

		entries = append(entries, &entry)
	}

	return entries, nil
}
