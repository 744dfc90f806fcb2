// Package engine executes document transitions over validated workflow
// graphs: user actions, approval barriers, condition routing, fork/join
// synchronization, side effects, and scheduler-driven resumptions.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nocodile/docflow/pkg/approval"
	"github.com/nocodile/docflow/pkg/directory"
	"github.com/nocodile/docflow/pkg/eventbus"
	"github.com/nocodile/docflow/pkg/events"
	"github.com/nocodile/docflow/pkg/forkjoin"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/otelhelper"
	"github.com/nocodile/docflow/pkg/permission"
	"github.com/nocodile/docflow/pkg/persistence"
	"github.com/nocodile/docflow/pkg/registry"
)

// TransitionStatus classifies the outcome of one transition request.
type TransitionStatus string

const (
	// StatusCompleted means the document committed to a new state.
	StatusCompleted TransitionStatus = "completed"
	// StatusPending means the walk suspended at a barrier (approval task,
	// timer, or join) without changing the document's state.
	StatusPending TransitionStatus = "pending"
	// StatusNoOp means the request had no effect, typically a repeated
	// action on an already completed barrier.
	StatusNoOp TransitionStatus = "noop"
)

// TransitionRequest is one user action on a document.
type TransitionRequest struct {
	DocumentID   string
	ConnectionID string
	ActingUserID string
	Comment      string
}

// TransitionResult reports where a transition request left the document.
type TransitionResult struct {
	Status      TransitionStatus `json:"status"`
	FromStateID string           `json:"fromStateId,omitempty"`
	NewStateID  string           `json:"newStateId,omitempty"`
	Document    *models.Document `json:"document,omitempty"`
}

// Engine is the transition executor. It is safe for concurrent use; all
// mutable state lives in persistence, guarded by the document version check.
type Engine struct {
	persistence persistence.Persistence
	dir         directory.Directory
	approvers   *approval.Resolver
	permissions *permission.Resolver
	coordinator *forkjoin.Coordinator
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewEngine wires a transition executor. The publisher may be nil, in which
// case events are dropped.
func NewEngine(
	p persistence.Persistence,
	dir directory.Directory,
	reg *registry.Registry,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		persistence: p,
		dir:         dir,
		approvers:   approval.NewResolver(dir, logger),
		permissions: permission.NewResolver(dir),
		coordinator: forkjoin.NewCoordinator(),
		registry:    reg,
		publisher:   publisher,
		logger:      logger.With("module", "engine"),
		tracer:      otel.Tracer("docflow/engine"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start places a document at its workflow's initial state and activates any
// approval nodes adjacent to it.
func (e *Engine) Start(ctx context.Context, doc *models.Document) error {
	graph, err := e.persistence.Graphs().GetByID(ctx, doc.WorkflowID)
	if err != nil {
		return newEngineError("engine.start", "graph_not_found", err)
	}

	initial := graph.InitialState()
	if initial == nil {
		return newEngineError("engine.start", "no_initial_state",
			fmt.Errorf("workflow %q has no initial state", doc.WorkflowID))
	}

	doc.WorkflowStateID = initial.ID
	doc.IsSubmitted = true

	if err := e.persistence.Documents().Save(ctx, doc); err != nil {
		return newEngineError("engine.start", "save_failed", err)
	}

	if err := e.persistence.Documents().AppendHistory(ctx, &models.StateHistoryEntry{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		ToStateID:  initial.ID,
		ByUserID:   doc.CreatedByID,
		ActionKey:  "created",
		At:         e.now(),
	}); err != nil {
		return newEngineError("engine.start", "history_failed", err)
	}

	attrs, err := e.submitterAttrs(ctx, doc)
	if err != nil {
		return err
	}

	w := &walk{graph: graph, doc: doc, attrs: attrs, actor: doc.CreatedByID}
	if err := e.activateAdjacentApprovals(ctx, w, initial); err != nil {
		return err
	}

	e.publish(ctx, doc.ID, events.DocumentTransitioned{
		BaseEvent: events.NewBaseEvent(events.DocumentTransitionedEvent, doc.WorkflowID, doc.ID),
		ToStateID: initial.ID,
		ByUserID:  doc.CreatedByID,
		ActionKey: "created",
	})

	return nil
}

// Transition executes one user action. Valid actions originate either at the
// document's current state node or at an approval node with a pending task.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) (result *TransitionResult, err error) {
	const op = "engine.transition"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, op,
		attribute.String(otelhelper.DocumentIDKey, req.DocumentID),
		attribute.String(otelhelper.ConnectionIDKey, req.ConnectionID),
	)
	defer func() {
		if err != nil {
			otelhelper.SetError(span, err)
		}

		span.End()
	}()

	doc, err := e.persistence.Documents().GetByID(ctx, req.DocumentID)
	if err != nil {
		return nil, newEngineError(op, "document_not_found", err)
	}

	graph, err := e.persistence.Graphs().GetByID(ctx, doc.WorkflowID)
	if err != nil {
		return nil, newEngineError(op, "graph_not_found", err)
	}

	conn := graph.ConnectionByID(req.ConnectionID)
	if conn == nil {
		return nil, newEngineError(op, "unknown_connection",
			fmt.Errorf("%w: %q", ErrUnknownConnection, req.ConnectionID))
	}

	source := graph.NodeByID(conn.SourceNodeID)
	if source == nil {
		return nil, newEngineError(op, "unknown_connection",
			fmt.Errorf("%w: source of %q", ErrUnknownConnection, conn.ID))
	}

	attrs, err := e.submitterAttrs(ctx, doc)
	if err != nil {
		return nil, err
	}

	w := &walk{
		graph:       graph,
		doc:         doc,
		attrs:       attrs,
		actor:       req.ActingUserID,
		comment:     req.Comment,
		fromStateID: doc.WorkflowStateID,
	}

	if conn.ActionConfig != nil && conn.ActionConfig.Label != "" {
		w.actionLabel = conn.ActionConfig.Label
		w.actionKey = models.ActionKey(conn.ActionConfig.Label)
	}

	switch {
	case source.Type == models.NodeTypeApproval:
		return e.transitionFromApproval(ctx, w, source, conn)
	case source.StateNode():
		return e.transitionFromState(ctx, w, source, conn)
	default:
		return nil, newEngineError(op, "wrong_source_node",
			fmt.Errorf("%w: node %q is a %s node", ErrWrongSourceNode, source.ID, source.Type))
	}
}

func (e *Engine) transitionFromState(ctx context.Context, w *walk, source *models.Node, conn *models.Connection) (*TransitionResult, error) {
	const op = "engine.transition"

	if source.ID != w.doc.WorkflowStateID {
		return nil, newEngineError(op, "wrong_source_node",
			fmt.Errorf("%w: document is at %q, action starts at %q",
				ErrWrongSourceNode, w.doc.WorkflowStateID, source.ID))
	}

	if conn.ActionConfig != nil && conn.ActionConfig.RequiresComment && w.comment == "" {
		return nil, newEngineError(op, "comment_required", ErrCommentRequired)
	}

	return e.advance(ctx, w, conn.TargetNodeID)
}

func (e *Engine) transitionFromApproval(ctx context.Context, w *walk, source *models.Node, conn *models.Connection) (*TransitionResult, error) {
	const op = "engine.transition"

	config, ok := source.Config.(*models.ApprovalConfig)
	if !ok {
		return nil, newEngineError(op, "invalid_config",
			fmt.Errorf("approval node %q has no approval config", source.ID))
	}

	task, err := e.persistence.RunState().PendingTask(ctx, w.doc.ID, source.ID)
	if persistence.IsNotFound(err) {
		return nil, newEngineError(op, "no_pending_task",
			fmt.Errorf("%w: node %q", ErrNoPendingTask, source.ID))
	}

	if err != nil {
		return nil, newEngineError(op, "task_lookup_failed", err)
	}

	if !task.Assigned(w.actor) {
		return nil, newEngineError(op, "unauthorized",
			fmt.Errorf("%w: %q", ErrUnauthorizedActor, w.actor))
	}

	requiresComment := config.RequiresComment ||
		(conn.ActionConfig != nil && conn.ActionConfig.RequiresComment)
	if requiresComment && w.comment == "" {
		return nil, newEngineError(op, "comment_required", ErrCommentRequired)
	}

	decision := models.ApprovalDecision{
		ApproverID:   w.actor,
		ConnectionID: conn.ID,
		ActionKey:    w.actionKey,
		Comment:      w.comment,
		At:           e.now(),
	}

	outcome, err := approval.RecordDecision(task, decision)
	if err != nil {
		return nil, newEngineError(op, "decision_rejected", err)
	}

	if err := e.persistence.RunState().SaveApprovalTask(ctx, task); err != nil {
		return nil, newEngineError(op, "task_save_failed", err)
	}

	e.publish(ctx, w.doc.ID, events.ApprovalDecisionRecorded{
		BaseEvent:  events.NewBaseEvent(events.ApprovalDecisionRecordedEvent, w.doc.WorkflowID, w.doc.ID),
		TaskID:     task.ID,
		NodeID:     source.ID,
		ApproverID: w.actor,
		ActionKey:  w.actionKey,
		Completed:  outcome == approval.OutcomeCommitted,
	})

	switch outcome {
	case approval.OutcomeNoOp:
		return &TransitionResult{Status: StatusNoOp, FromStateID: w.fromStateID, Document: w.doc}, nil
	case approval.OutcomePending:
		return &TransitionResult{Status: StatusPending, FromStateID: w.fromStateID, Document: w.doc}, nil
	default:
		w.forkRunID = task.ForkRunID
		w.branchID = task.BranchID

		return e.advance(ctx, w, conn.TargetNodeID)
	}
}

func (e *Engine) submitterAttrs(ctx context.Context, doc *models.Document) (map[string]any, error) {
	attrs, err := e.dir.AttributesOf(ctx, doc.CreatedByID)
	if err != nil {
		return nil, newEngineError("engine.transition", "directory_failed",
			fmt.Errorf("looking up submitter attributes: %w", err))
	}

	return attrs, nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}
