package models

import "time"

// Document is the external entity moved through a workflow. The engine treats
// Data as an opaque field-key to value mapping for condition evaluation and
// template substitution. WorkflowStateID is mutated exclusively by the
// transition executor; Version backs the optimistic single-writer discipline
// for that write.
type Document struct {
	ID               string         `json:"id"              validate:"required"`
	WorkflowID       string         `json:"workflowId"      validate:"required"`
	Data             map[string]any `json:"data"`
	WorkflowStateID  string         `json:"workflowStateId"`
	Version          int64          `json:"version"`
	IsSubmitted      bool           `json:"isSubmitted"`
	CreatedByID      string         `json:"createdById"`
	ParentDocumentID string         `json:"parentDocumentId,omitempty"`
}

// Field returns a document data value and whether it is present.
func (d *Document) Field(key string) (any, bool) {
	if d.Data == nil {
		return nil, false
	}

	value, ok := d.Data[key]

	return value, ok
}

// StateHistoryEntry records one committed state transition for the audit
// trail.
type StateHistoryEntry struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"document_id"`
	FromStateID string         `json:"from_state_id"`
	ToStateID   string         `json:"to_state_id"`
	ByUserID    string         `json:"by_user_id"`
	ActionKey   string         `json:"action_key,omitempty"`
	ActionLabel string         `json:"action_label,omitempty"`
	Comment     string         `json:"comment,omitempty"`
	At          time.Time      `json:"at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
