package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nocodile/docflow/pkg/events"
	"github.com/nocodile/docflow/pkg/models"
)

// resumeAt computes when a timer node's suspension ends. Business day counting
// skips Saturdays and Sundays; hours are added after the day delay.
func resumeAt(now time.Time, config *models.TimerConfig) time.Time {
	t := now

	if config.BusinessDays {
		for remaining := config.DelayDays; remaining > 0; {
			t = t.AddDate(0, 0, 1)

			if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
				remaining--
			}
		}
	} else {
		t = t.AddDate(0, 0, config.DelayDays)
	}

	return t.Add(time.Duration(config.DelayHours) * time.Hour)
}

// ResumeTimer continues a walk suspended at a timer node. The caller claims
// the resumption first; redelivered claims are no-ops before this runs.
func (e *Engine) ResumeTimer(ctx context.Context, resumption *models.PendingResumption) (*TransitionResult, error) {
	const op = "engine.resume"

	doc, err := e.persistence.Documents().GetByID(ctx, resumption.DocumentID)
	if err != nil {
		return nil, newEngineError(op, "document_not_found", err)
	}

	graph, err := e.persistence.Graphs().GetByID(ctx, doc.WorkflowID)
	if err != nil {
		return nil, newEngineError(op, "graph_not_found", err)
	}

	node := graph.NodeByID(resumption.NodeID)
	if node == nil {
		return nil, newEngineError(op, "unknown_node",
			fmt.Errorf("timer node %q no longer in graph", resumption.NodeID))
	}

	attrs, err := e.submitterAttrs(ctx, doc)
	if err != nil {
		return nil, err
	}

	w := &walk{
		graph:       graph,
		doc:         doc,
		attrs:       attrs,
		fromStateID: doc.WorkflowStateID,
		forkRunID:   resumption.ForkRunID,
		branchID:    resumption.BranchID,
	}

	return e.continueAlongOutput(ctx, w, node)
}

// HandleJoinTimeout applies a due join deadline to its fork run. Redelivery
// is idempotent: an already completed or timed out run is a no-op.
func (e *Engine) HandleJoinTimeout(ctx context.Context, resumption *models.PendingResumption) (*TransitionResult, error) {
	const op = "engine.join_timeout"

	run, err := e.persistence.RunState().ForkRun(ctx, resumption.ForkRunID)
	if err != nil {
		return nil, newEngineError(op, "run_lookup_failed", err)
	}

	doc, err := e.persistence.Documents().GetByID(ctx, run.DocumentID)
	if err != nil {
		return nil, newEngineError(op, "document_not_found", err)
	}

	outcome := e.coordinator.ApplyTimeout(run)
	if !outcome.Applied {
		return &TransitionResult{Status: StatusNoOp, Document: doc}, nil
	}

	if err := e.persistence.RunState().SaveForkRun(ctx, run); err != nil {
		return nil, newEngineError(op, "run_save_failed", err)
	}

	e.publish(ctx, doc.ID, events.JoinTimedOut{
		BaseEvent:   events.NewBaseEvent(events.JoinTimedOutEvent, doc.WorkflowID, doc.ID),
		ForkRunID:   run.ID,
		JoinID:      run.JoinNodeID,
		Action:      string(outcome.Action),
		Outstanding: run.Outstanding(),
	})

	switch outcome.Action {
	case models.TimeoutContinue:
		return e.timeoutContinue(ctx, run, doc)
	case models.TimeoutEscalate:
		return e.timeoutEscalate(ctx, run, doc)
	default:
		return e.timeoutCancel(ctx, run, doc)
	}
}

// timeoutContinue treats the barrier as satisfied with whatever arrived and
// continues past the join. Outstanding branch tasks are cancelled.
func (e *Engine) timeoutContinue(ctx context.Context, run *models.ForkRun, doc *models.Document) (*TransitionResult, error) {
	if err := e.cancelPendingTasks(ctx, doc.ID, run.ID); err != nil {
		return nil, err
	}

	graph, err := e.persistence.Graphs().GetByID(ctx, doc.WorkflowID)
	if err != nil {
		return nil, newEngineError("engine.join_timeout", "graph_not_found", err)
	}

	joinNode := graph.NodeByID(run.JoinNodeID)
	if joinNode == nil {
		return nil, newEngineError("engine.join_timeout", "unknown_node",
			fmt.Errorf("join node %q no longer in graph", run.JoinNodeID))
	}

	attrs, err := e.submitterAttrs(ctx, doc)
	if err != nil {
		return nil, err
	}

	w := &walk{graph: graph, doc: doc, attrs: attrs, fromStateID: doc.WorkflowStateID}

	return e.continueAlongOutput(ctx, w, joinNode)
}

// timeoutEscalate keeps the barrier waiting but escalates the run's pending
// tasks: each task is marked and widened with the managers of its approvers.
func (e *Engine) timeoutEscalate(ctx context.Context, run *models.ForkRun, doc *models.Document) (*TransitionResult, error) {
	const op = "engine.join_timeout"

	tasks, err := e.persistence.RunState().PendingTasksForDocument(ctx, doc.ID)
	if err != nil {
		return nil, newEngineError(op, "task_lookup_failed", err)
	}

	for _, task := range tasks {
		if task.ForkRunID != run.ID || task.Escalated {
			continue
		}

		task.Escalated = true

		for _, approverID := range append([]string(nil), task.ApproverIDs...) {
			manager, err := e.dir.ManagerOf(ctx, approverID)
			if err != nil {
				return nil, newEngineError(op, "directory_failed", err)
			}

			if manager != "" && !task.Assigned(manager) {
				task.ApproverIDs = append(task.ApproverIDs, manager)
			}
		}

		if err := e.persistence.RunState().SaveApprovalTask(ctx, task); err != nil {
			return nil, newEngineError(op, "task_save_failed", err)
		}
	}

	return &TransitionResult{Status: StatusPending, FromStateID: doc.WorkflowStateID, Document: doc}, nil
}

// timeoutCancel abandons the run: its pending tasks are cancelled and the
// document stays where it is.
func (e *Engine) timeoutCancel(ctx context.Context, run *models.ForkRun, doc *models.Document) (*TransitionResult, error) {
	if err := e.cancelPendingTasks(ctx, doc.ID, run.ID); err != nil {
		return nil, err
	}

	e.publish(ctx, doc.ID, events.DocumentTransitionFailed{
		BaseEvent: events.NewBaseEvent(events.DocumentTransitionFailedEvent, doc.WorkflowID, doc.ID),
		Error:     fmt.Sprintf("join %s timed out, run cancelled", run.JoinNodeID),
	})

	return &TransitionResult{Status: StatusNoOp, FromStateID: doc.WorkflowStateID, Document: doc}, nil
}
