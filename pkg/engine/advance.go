package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nocodile/docflow/pkg/actions"
	"github.com/nocodile/docflow/pkg/condition"
	"github.com/nocodile/docflow/pkg/events"
	"github.com/nocodile/docflow/pkg/models"
)

// maxWalkDepth bounds one transition walk. Validated graphs are small; the
// limit only guards against cyclic side effect chains.
const maxWalkDepth = 64

// walk carries the mutable context of one transition traversal.
type walk struct {
	graph *models.WorkflowGraph
	doc   *models.Document
	attrs map[string]any

	actor       string
	comment     string
	actionKey   string
	actionLabel string
	fromStateID string

	// Fork branch context; empty outside a fork/join region.
	forkRunID string
	branchID  string

	depth int
}

// advance walks the graph from a node until the token commits at a state,
// suspends at a barrier, or fails.
func (e *Engine) advance(ctx context.Context, w *walk, nodeID string) (*TransitionResult, error) {
	const op = "engine.advance"

	w.depth++
	if w.depth > maxWalkDepth {
		return nil, newEngineError(op, "depth_exceeded",
			fmt.Errorf("%w at node %q", ErrWalkDepthExceeded, nodeID))
	}

	node := w.graph.NodeByID(nodeID)
	if node == nil {
		return nil, newEngineError(op, "unknown_node",
			fmt.Errorf("%w: node %q", ErrUnknownConnection, nodeID))
	}

	switch {
	case node.StateNode():
		return e.commitState(ctx, w, node)
	case node.Type == models.NodeTypeApproval:
		return e.activateApproval(ctx, w, node)
	case node.Type == models.NodeTypeCondition:
		return e.routeCondition(ctx, w, node)
	case node.SideEffectNode():
		return e.runSideEffect(ctx, w, node)
	case node.Type == models.NodeTypeTimer:
		return e.suspendOnTimer(ctx, w, node)
	case node.Type == models.NodeTypeChildFormEntry:
		return e.recordChildFormRequest(ctx, w, node)
	case node.Type == models.NodeTypeViewPermission:
		return e.recordViewGrant(ctx, w, node)
	case node.Type == models.NodeTypeFork:
		return e.startFork(ctx, w, node)
	case node.Type == models.NodeTypeJoin:
		return e.arriveAtJoin(ctx, w, node)
	default:
		return nil, newEngineError(op, "unsupported_node",
			fmt.Errorf("node %q has unsupported type %q", node.ID, node.Type))
	}
}

// commitState performs the single document state write of a walk. The version
// check makes concurrent walks race safely: exactly one writer wins.
func (e *Engine) commitState(ctx context.Context, w *walk, node *models.Node) (*TransitionResult, error) {
	const op = "engine.advance"

	updated, err := e.persistence.Documents().UpdateState(ctx, w.doc.ID, w.doc.Version, node.ID)
	if err != nil {
		e.publish(ctx, w.doc.ID, events.DocumentTransitionFailed{
			BaseEvent: events.NewBaseEvent(events.DocumentTransitionFailedEvent, w.doc.WorkflowID, w.doc.ID),
			Error:     err.Error(),
		})

		return nil, newEngineError(op, "state_write_failed", err)
	}

	*w.doc = *updated

	if err := e.persistence.Documents().AppendHistory(ctx, &models.StateHistoryEntry{
		ID:          uuid.New().String(),
		DocumentID:  w.doc.ID,
		FromStateID: w.fromStateID,
		ToStateID:   node.ID,
		ByUserID:    w.actor,
		ActionKey:   w.actionKey,
		ActionLabel: w.actionLabel,
		Comment:     w.comment,
		At:          e.now(),
	}); err != nil {
		return nil, newEngineError(op, "history_failed", err)
	}

	// A committed state supersedes the document's other pending approvals,
	// except inside a fork where sibling branches stay live.
	if w.forkRunID == "" {
		if err := e.cancelPendingTasks(ctx, w.doc.ID, ""); err != nil {
			return nil, err
		}
	}

	if err := e.activateAdjacentApprovals(ctx, w, node); err != nil {
		return nil, err
	}

	config := node.StateConfig()
	isFinal := config != nil && config.IsFinal

	e.publish(ctx, w.doc.ID, events.DocumentTransitioned{
		BaseEvent:   events.NewBaseEvent(events.DocumentTransitionedEvent, w.doc.WorkflowID, w.doc.ID),
		FromStateID: w.fromStateID,
		ToStateID:   node.ID,
		ActionKey:   w.actionKey,
		ByUserID:    w.actor,
		IsFinal:     isFinal,
	})

	return &TransitionResult{
		Status:      StatusCompleted,
		FromStateID: w.fromStateID,
		NewStateID:  node.ID,
		Document:    w.doc,
	}, nil
}

// activateAdjacentApprovals creates pending tasks for approval nodes directly
// connected to a state the document just entered. Task creation is idempotent
// per document and node.
func (e *Engine) activateAdjacentApprovals(ctx context.Context, w *walk, state *models.Node) error {
	for _, conn := range w.graph.Outgoing(state.ID) {
		target := w.graph.NodeByID(conn.TargetNodeID)
		if target == nil || target.Type != models.NodeTypeApproval {
			continue
		}

		if _, err := e.activateApproval(ctx, w, target); err != nil {
			return err
		}
	}

	return nil
}

// activateApproval resolves the approver set and creates the pending task.
// When a pending task for the node already exists it is left untouched.
func (e *Engine) activateApproval(ctx context.Context, w *walk, node *models.Node) (*TransitionResult, error) {
	const op = "engine.advance"

	config, ok := node.Config.(*models.ApprovalConfig)
	if !ok {
		return nil, newEngineError(op, "invalid_config",
			fmt.Errorf("approval node %q has no approval config", node.ID))
	}

	resolution, err := e.approvers.Resolve(ctx, config, w.doc, w.attrs)
	if err != nil {
		return nil, newEngineError(op, "approver_resolution_failed", err)
	}

	task := &models.ApprovalTask{
		ID:          uuid.New().String(),
		DocumentID:  w.doc.ID,
		NodeID:      node.ID,
		Status:      models.TaskStatusPending,
		ApproverIDs: resolution.ApproverIDs,
		Type:        resolution.Type,
		ForkRunID:   w.forkRunID,
		BranchID:    w.branchID,
		CreatedAt:   e.now(),
	}

	if config.TimeoutDays > 0 {
		due := e.now().AddDate(0, 0, config.TimeoutDays)
		task.DueAt = &due
	}

	task, created, err := e.persistence.RunState().CreateApprovalTask(ctx, task)
	if err != nil {
		return nil, newEngineError(op, "task_create_failed", err)
	}

	if created {
		e.publish(ctx, w.doc.ID, events.ApprovalTaskCreated{
			BaseEvent:   events.NewBaseEvent(events.ApprovalTaskCreatedEvent, w.doc.WorkflowID, w.doc.ID),
			TaskID:      task.ID,
			NodeID:      node.ID,
			ApproverIDs: task.ApproverIDs,
			DueAt:       task.DueAt,
		})
	}

	return &TransitionResult{Status: StatusPending, FromStateID: w.fromStateID, Document: w.doc}, nil
}

// routeCondition selects a branch by first match and follows its connection.
func (e *Engine) routeCondition(ctx context.Context, w *walk, node *models.Node) (*TransitionResult, error) {
	const op = "engine.advance"

	config, ok := node.Config.(*models.ConditionConfig)
	if !ok {
		return nil, newEngineError(op, "invalid_config",
			fmt.Errorf("condition node %q has no condition config", node.ID))
	}

	branch := condition.SelectBranch(config, w.doc, w.attrs)

	conn := e.outgoingFor(w.graph, node.ID, branch)
	if conn == nil {
		return nil, newEngineError(op, "no_branch_connection",
			fmt.Errorf("%w: condition %q branch %q", ErrNoBranchSocket, node.ID, branch))
	}

	return e.advance(ctx, w, conn.TargetNodeID)
}

// runSideEffect executes a notification, email, or webhook node and continues
// along its selected output.
func (e *Engine) runSideEffect(ctx context.Context, w *walk, node *models.Node) (*TransitionResult, error) {
	const op = "engine.advance"

	executor, err := e.registry.Create(node)
	if err != nil {
		return nil, newEngineError(op, "executor_create_failed", err)
	}

	approvers, err := e.currentApprovers(ctx, w.doc.ID)
	if err != nil {
		return nil, err
	}

	input := actions.Input{
		Graph:            w.graph,
		Node:             node,
		Document:         w.doc,
		SubmitterAttrs:   w.attrs,
		CurrentApprovers: approvers,
	}

	result, execErr := executor.Execute(ctx, input, e.logger)
	if execErr != nil {
		e.publish(ctx, w.doc.ID, events.SideEffectFailed{
			BaseEvent: events.NewBaseEvent(events.SideEffectFailedEvent, w.doc.WorkflowID, w.doc.ID),
			NodeID:    node.ID,
			NodeType:  string(node.Type),
			Error:     execErr.Error(),
		})

		if e.failsTransition(node) {
			return nil, newEngineError(op, "side_effect_failed", execErr)
		}

		e.logger.WarnContext(ctx, "Side effect failed, continuing",
			"node_id", node.ID, "node_type", node.Type, "error", execErr)
	}

	conn := e.outgoingFor(w.graph, node.ID, result.Branch)
	if conn == nil {
		return nil, newEngineError(op, "no_branch_connection",
			fmt.Errorf("%w: node %q socket %q", ErrNoBranchSocket, node.ID, result.Branch))
	}

	return e.advance(ctx, w, conn.TargetNodeID)
}

// failsTransition reports whether a side effect error aborts the walk.
// Webhooks follow their configured policy; notifications and emails are
// best-effort.
func (e *Engine) failsTransition(node *models.Node) bool {
	config, ok := node.Config.(*models.WebhookConfig)
	if !ok {
		return false
	}

	return config.OnError != models.WebhookErrorContinue
}

// suspendOnTimer persists a resumption and suspends. An external scheduler
// redelivers it when due.
func (e *Engine) suspendOnTimer(ctx context.Context, w *walk, node *models.Node) (*TransitionResult, error) {
	const op = "engine.advance"

	config, ok := node.Config.(*models.TimerConfig)
	if !ok {
		return nil, newEngineError(op, "invalid_config",
			fmt.Errorf("timer node %q has no timer config", node.ID))
	}

	resumption := &models.PendingResumption{
		ID:         uuid.New().String(),
		Kind:       models.ResumptionTimer,
		DocumentID: w.doc.ID,
		NodeID:     node.ID,
		ResumeAt:   resumeAt(e.now(), config),
		ForkRunID:  w.forkRunID,
		BranchID:   w.branchID,
		CreatedAt:  e.now(),
	}

	if err := e.persistence.RunState().ScheduleResumption(ctx, resumption); err != nil {
		return nil, newEngineError(op, "schedule_failed", err)
	}

	e.publish(ctx, w.doc.ID, events.TimerScheduled{
		BaseEvent:    events.NewBaseEvent(events.TimerScheduledEvent, w.doc.WorkflowID, w.doc.ID),
		ResumptionID: resumption.ID,
		NodeID:       node.ID,
		ResumeAt:     resumption.ResumeAt,
	})

	return &TransitionResult{Status: StatusPending, FromStateID: w.fromStateID, Document: w.doc}, nil
}

func (e *Engine) recordChildFormRequest(ctx context.Context, w *walk, node *models.Node) (*TransitionResult, error) {
	const op = "engine.advance"

	config, ok := node.Config.(*models.ChildFormEntryConfig)
	if !ok {
		return nil, newEngineError(op, "invalid_config",
			fmt.Errorf("child form node %q has no config", node.ID))
	}

	if err := e.persistence.RunState().SaveChildFormRequest(ctx, &models.ChildFormRequest{
		DocumentID:  w.doc.ID,
		NodeID:      node.ID,
		FormKey:     config.FormKey,
		Required:    config.Required,
		RequestedAt: e.now(),
	}); err != nil {
		return nil, newEngineError(op, "child_form_save_failed", err)
	}

	return e.continueAlongOutput(ctx, w, node)
}

func (e *Engine) recordViewGrant(ctx context.Context, w *walk, node *models.Node) (*TransitionResult, error) {
	const op = "engine.advance"

	config, ok := node.Config.(*models.ViewPermissionConfig)
	if !ok {
		return nil, newEngineError(op, "invalid_config",
			fmt.Errorf("view permission node %q has no config", node.ID))
	}

	if err := e.persistence.RunState().SaveViewGrant(ctx, &models.ViewGrant{
		DocumentID: w.doc.ID,
		NodeID:     node.ID,
		Roles:      config.Roles,
		Users:      config.Users,
		GrantedAt:  e.now(),
	}); err != nil {
		return nil, newEngineError(op, "view_grant_save_failed", err)
	}

	return e.continueAlongOutput(ctx, w, node)
}

func (e *Engine) continueAlongOutput(ctx context.Context, w *walk, node *models.Node) (*TransitionResult, error) {
	conn := e.outgoingFor(w.graph, node.ID, "")
	if conn == nil {
		return nil, newEngineError("engine.advance", "no_branch_connection",
			fmt.Errorf("%w: node %q has no outgoing connection", ErrNoBranchSocket, node.ID))
	}

	return e.advance(ctx, w, conn.TargetNodeID)
}

// outgoingFor picks the outgoing connection serving a socket. An empty socket
// matches the node's single output.
func (e *Engine) outgoingFor(graph *models.WorkflowGraph, nodeID, socket string) *models.Connection {
	outgoing := graph.Outgoing(nodeID)

	if socket == "" {
		if len(outgoing) > 0 {
			return outgoing[0]
		}

		return nil
	}

	for _, conn := range outgoing {
		if conn.BranchKey() == socket {
			return conn
		}
	}

	return nil
}

func (e *Engine) currentApprovers(ctx context.Context, documentID string) ([]string, error) {
	tasks, err := e.persistence.RunState().PendingTasksForDocument(ctx, documentID)
	if err != nil {
		return nil, newEngineError("engine.advance", "task_lookup_failed", err)
	}

	var out []string

	seen := make(map[string]bool)

	for _, task := range tasks {
		for _, id := range task.ApproverIDs {
			if !seen[id] {
				seen[id] = true

				out = append(out, id)
			}
		}
	}

	return out, nil
}

// cancelPendingTasks cancels the document's pending approval tasks. A
// non-empty forkRunID restricts cancellation to that run's tasks.
func (e *Engine) cancelPendingTasks(ctx context.Context, documentID, forkRunID string) error {
	tasks, err := e.persistence.RunState().PendingTasksForDocument(ctx, documentID)
	if err != nil {
		return newEngineError("engine.advance", "task_lookup_failed", err)
	}

	for _, task := range tasks {
		if forkRunID != "" && task.ForkRunID != forkRunID {
			continue
		}

		task.Status = models.TaskStatusCancelled

		if err := e.persistence.RunState().SaveApprovalTask(ctx, task); err != nil {
			return newEngineError("engine.advance", "task_save_failed", err)
		}
	}

	return nil
}
