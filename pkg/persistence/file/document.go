package file

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
)

// DocumentRepository stores documents under <root>/documents and their
// transition history under <root>/history/<document id>.
type DocumentRepository struct {
	docDir     string
	historyDir string
	mu         sync.Mutex
}

// NewDocumentRepository creates a document repository rooted at the given
// directory.
func NewDocumentRepository(root string) *DocumentRepository {
	return &DocumentRepository{
		docDir:     filepath.Join(root, "documents"),
		historyDir: filepath.Join(root, "history"),
	}
}

func (r *DocumentRepository) GetByID(_ context.Context, id string) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load(id)
}

func (r *DocumentRepository) load(id string) (*models.Document, error) {
	var doc models.Document
	if err := readJSON(r.docDir, id, &doc, persistence.ErrDocumentNotFound); err != nil {
		return nil, err
	}

	return &doc, nil
}

func (r *DocumentRepository) Save(_ context.Context, doc *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(r.docDir, doc.ID, doc)
}

// UpdateState applies the optimistic state write under the repository mutex:
// read, compare version, write. This is the single mutation point for
// WorkflowStateID.
func (r *DocumentRepository) UpdateState(_ context.Context, id string, fromVersion int64, newStateID string) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load(id)
	if err != nil {
		return nil, err
	}

	if doc.Version != fromVersion {
		return nil, persistence.ErrVersionConflict
	}

	doc.WorkflowStateID = newStateID
	doc.Version++

	if err := writeJSON(r.docDir, doc.ID, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

func (r *DocumentRepository) AppendHistory(_ context.Context, entry *models.StateHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	dir := filepath.Join(r.historyDir, entry.DocumentID)

	return writeJSON(dir, entry.ID, entry)
}

func (r *DocumentRepository) History(_ context.Context, documentID string) ([]*models.StateHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*models.StateHistoryEntry, 0)

	err := readAll(filepath.Join(r.historyDir, documentID), func(data []byte) error {
		var entry models.StateHistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}

		entries = append(entries, &entry)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].At.Before(entries[j].At)
	})

	return entries, nil
}
