// Package web provides HTTP request and response types for the document
// workflow API.
package web

import (
	"github.com/nocodile/docflow/pkg/graph"
	"github.com/nocodile/docflow/pkg/models"
)

// CreateDocumentRequest represents the request body for submitting a new
// document into a workflow.
type CreateDocumentRequest struct {
	WorkflowID       string         `json:"workflowId"                 validate:"required"`
	Data             map[string]any `json:"data"`
	CreatedByID      string         `json:"createdById"                validate:"required"`
	ParentDocumentID string         `json:"parentDocumentId,omitempty"`
}

// TransitionDocumentRequest represents the request body for performing one
// action on a document.
type TransitionDocumentRequest struct {
	ConnectionID string `json:"connectionId" validate:"required"`
	ActingUserID string `json:"actingUserId" validate:"required"`
	Comment      string `json:"comment,omitempty"`
}

// ValidateGraphResponse reports the structural findings for a submitted
// workflow graph. Valid is false only when at least one finding has error
// severity; warnings alone leave the graph executable.
type ValidateGraphResponse struct {
	Valid    bool                    `json:"valid"`
	Findings []graph.StructuralError `json:"findings"`
}

// TaskResponse represents the filtered response for a pending approval task.
// Decisions are omitted so approvers cannot see each other's votes before the
// barrier commits.
type TaskResponse struct {
	ID          string              `json:"id"`
	DocumentID  string              `json:"documentId"`
	NodeID      string              `json:"nodeId"`
	Type        models.ApprovalType `json:"approvalType"`
	ApproverIDs []string            `json:"approverIds"`
	Escalated   bool                `json:"escalated"`
	CreatedAt   string              `json:"createdAt"`
}

// TransformTaskResponse transforms an ApprovalTask into a TaskResponse.
func TransformTaskResponse(task *models.ApprovalTask) TaskResponse {
	return TaskResponse{
		ID:          task.ID,
		DocumentID:  task.DocumentID,
		NodeID:      task.NodeID,
		Type:        task.Type,
		ApproverIDs: task.ApproverIDs,
		Escalated:   task.Escalated,
		CreatedAt:   task.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}
