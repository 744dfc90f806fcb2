package engine

import (
	"context"
	"fmt"

	"github.com/nocodile/docflow/pkg/events"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
)

// startFork creates the run record and walks every branch in declaration
// order. Branches are walked sequentially; parallelism here is about workflow
// semantics, not machine concurrency, and sequential token delivery keeps the
// single-writer discipline on the document.
func (e *Engine) startFork(ctx context.Context, w *walk, node *models.Node) (*TransitionResult, error) {
	const op = "engine.fork"

	config, ok := node.Config.(*models.ForkConfig)
	if !ok {
		return nil, newEngineError(op, "invalid_config",
			fmt.Errorf("fork node %q has no fork config", node.ID))
	}

	// Re-entering an active fork is a no-op; the first entry owns the run.
	if _, err := e.persistence.RunState().ActiveForkRun(ctx, w.doc.ID, node.ID); err == nil {
		return &TransitionResult{Status: StatusNoOp, FromStateID: w.fromStateID, Document: w.doc}, nil
	} else if !persistence.IsNotFound(err) {
		return nil, newEngineError(op, "run_lookup_failed", err)
	}

	joinNode := e.findJoin(w.graph, node)
	if joinNode == nil {
		return nil, newEngineError(op, "no_join",
			fmt.Errorf("fork %q has no reachable join", node.ID))
	}

	joinConfig, ok := joinNode.Config.(*models.JoinConfig)
	if !ok {
		return nil, newEngineError(op, "invalid_config",
			fmt.Errorf("join node %q has no join config", joinNode.ID))
	}

	run := e.coordinator.StartRun(w.doc, node, config, joinNode.ID, joinConfig)
	if err := e.persistence.RunState().SaveForkRun(ctx, run); err != nil {
		return nil, newEngineError(op, "run_save_failed", err)
	}

	if run.Deadline != nil {
		if err := e.persistence.RunState().ScheduleResumption(ctx, &models.PendingResumption{
			ID:         run.ID + ":timeout",
			Kind:       models.ResumptionJoinTimeout,
			DocumentID: w.doc.ID,
			NodeID:     joinNode.ID,
			ResumeAt:   *run.Deadline,
			ForkRunID:  run.ID,
			CreatedAt:  e.now(),
		}); err != nil {
			return nil, newEngineError(op, "schedule_failed", err)
		}
	}

	var final *TransitionResult

	for _, branch := range config.Branches {
		conn := e.outgoingFor(w.graph, node.ID, branch.ID)
		if conn == nil {
			return nil, newEngineError(op, "no_branch_connection",
				fmt.Errorf("%w: fork %q branch %q", ErrNoBranchSocket, node.ID, branch.ID))
		}

		branchWalk := *w
		branchWalk.forkRunID = run.ID
		branchWalk.branchID = branch.ID

		result, err := e.advance(ctx, &branchWalk, conn.TargetNodeID)
		if err != nil {
			return nil, err
		}

		if result.Status == StatusCompleted {
			final = result
		}
	}

	if final != nil {
		return final, nil
	}

	return &TransitionResult{Status: StatusPending, FromStateID: w.fromStateID, Document: w.doc}, nil
}

// arriveAtJoin delivers the walk's branch token to the join barrier. The
// arrival that completes the barrier continues past the join with the fork
// context cleared.
func (e *Engine) arriveAtJoin(ctx context.Context, w *walk, node *models.Node) (*TransitionResult, error) {
	const op = "engine.join"

	if w.forkRunID == "" {
		return nil, newEngineError(op, "no_fork_context",
			fmt.Errorf("join %q reached outside a fork run", node.ID))
	}

	run, err := e.persistence.RunState().ForkRun(ctx, w.forkRunID)
	if err != nil {
		return nil, newEngineError(op, "run_lookup_failed", err)
	}

	arrival, err := e.coordinator.Arrive(run, w.branchID)
	if err != nil {
		return nil, newEngineError(op, "arrival_rejected", err)
	}

	if err := e.persistence.RunState().SaveForkRun(ctx, run); err != nil {
		return nil, newEngineError(op, "run_save_failed", err)
	}

	e.publish(ctx, w.doc.ID, events.BranchArrived{
		BaseEvent: events.NewBaseEvent(events.BranchArrivedEvent, w.doc.WorkflowID, w.doc.ID),
		ForkRunID: run.ID,
		BranchID:  w.branchID,
		JoinID:    node.ID,
	})

	if arrival.NoOp {
		return &TransitionResult{Status: StatusNoOp, FromStateID: w.fromStateID, Document: w.doc}, nil
	}

	if !arrival.Completed {
		return &TransitionResult{Status: StatusPending, FromStateID: w.fromStateID, Document: w.doc}, nil
	}

	e.publish(ctx, w.doc.ID, events.JoinCompleted{
		BaseEvent: events.NewBaseEvent(events.JoinCompletedEvent, w.doc.WorkflowID, w.doc.ID),
		ForkRunID: run.ID,
		JoinID:    node.ID,
		Arrived:   run.Arrived,
	})

	return e.continuePastJoin(ctx, w, node)
}

func (e *Engine) continuePastJoin(ctx context.Context, w *walk, joinNode *models.Node) (*TransitionResult, error) {
	joined := *w
	joined.forkRunID = ""
	joined.branchID = ""

	return e.continueAlongOutput(ctx, &joined, joinNode)
}

// findJoin locates the join node of a fork by breadth-first search. Graph
// validation guarantees each fork reaches exactly one join.
func (e *Engine) findJoin(graph *models.WorkflowGraph, forkNode *models.Node) *models.Node {
	visited := map[string]bool{forkNode.ID: true}
	queue := []string{forkNode.ID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, conn := range graph.Outgoing(current) {
			if visited[conn.TargetNodeID] {
				continue
			}

			visited[conn.TargetNodeID] = true

			target := graph.NodeByID(conn.TargetNodeID)
			if target == nil {
				continue
			}

			if target.Type == models.NodeTypeJoin {
				return target
			}

			queue = append(queue, conn.TargetNodeID)
		}
	}

	return nil
}
