package engine

import (
	"context"

	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/permission"
)

// AvailableActions returns the action buttons a user may press on a document:
// the current state's actions when the user may edit the document there, plus
// the actions of every approval node with a pending task assigned to the user.
func (e *Engine) AvailableActions(ctx context.Context, documentID, userID string) ([]models.ActionDescriptor, error) {
	const op = "engine.actions"

	doc, err := e.persistence.Documents().GetByID(ctx, documentID)
	if err != nil {
		return nil, newEngineError(op, "document_not_found", err)
	}

	graph, err := e.persistence.Graphs().GetByID(ctx, doc.WorkflowID)
	if err != nil {
		return nil, newEngineError(op, "graph_not_found", err)
	}

	var out []models.ActionDescriptor

	rights, err := e.Permissions(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}

	if rights.CanEditMain {
		out = append(out, graph.AvailableActions(doc.WorkflowStateID)...)
	}

	tasks, err := e.persistence.RunState().PendingTasksForDocument(ctx, documentID)
	if err != nil {
		return nil, newEngineError(op, "task_lookup_failed", err)
	}

	for _, task := range tasks {
		if task.Assigned(userID) {
			out = append(out, graph.AvailableActions(task.NodeID)...)
		}
	}

	return out, nil
}

// Permissions resolves a user's rights over a document in its current state,
// including view grants accumulated along the document's path.
func (e *Engine) Permissions(ctx context.Context, documentID, userID string) (*permission.Rights, error) {
	const op = "engine.permissions"

	doc, err := e.persistence.Documents().GetByID(ctx, documentID)
	if err != nil {
		return nil, newEngineError(op, "document_not_found", err)
	}

	graph, err := e.persistence.Graphs().GetByID(ctx, doc.WorkflowID)
	if err != nil {
		return nil, newEngineError(op, "graph_not_found", err)
	}

	stateNode := graph.NodeByID(doc.WorkflowStateID)
	if stateNode == nil || stateNode.StateConfig() == nil {
		// A document without a resolvable state is visible to nobody.
		return &permission.Rights{}, nil
	}

	approvers, err := e.currentApprovers(ctx, documentID)
	if err != nil {
		return nil, err
	}

	grants, err := e.persistence.RunState().ViewGrants(ctx, documentID)
	if err != nil {
		return nil, newEngineError(op, "grant_lookup_failed", err)
	}

	rights, err := e.permissions.Resolve(ctx, stateNode.StateConfig(), userID, permission.Input{
		Document:         doc,
		CurrentApprovers: approvers,
		Grants:           grants,
	})
	if err != nil {
		return nil, newEngineError(op, "resolution_failed", err)
	}

	return rights, nil
}

// History returns the document's committed transition audit trail.
func (e *Engine) History(ctx context.Context, documentID string) ([]*models.StateHistoryEntry, error) {
	entries, err := e.persistence.Documents().History(ctx, documentID)
	if err != nil {
		return nil, newEngineError("engine.history", "history_failed", err)
	}

	return entries, nil
}
