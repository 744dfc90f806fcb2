package approval

import (
	"errors"
	"time"

	"github.com/nocodile/docflow/pkg/models"
)

var (
	// ErrNotAnApprover is returned when the acting user is not in the
	// task's resolved approver set.
	ErrNotAnApprover = errors.New("acting user is not a resolved approver")
	// ErrConflictingDecision is returned under the "all" barrier when an
	// approver picks a different action than earlier approvers.
	ErrConflictingDecision = errors.New("conflicting approval decision")
)

// Outcome classifies the effect of recording one approval decision.
type Outcome int

const (
	// OutcomeCommitted means the barrier is satisfied and the transition
	// proceeds along the decided connection.
	OutcomeCommitted Outcome = iota
	// OutcomePending means the decision was recorded but the "all" barrier
	// still waits for other approvers.
	OutcomePending
	// OutcomeNoOp means the task already completed; the decision has no
	// effect and no state is mutated.
	OutcomeNoOp
)

// RecordDecision applies one approver's decision to a task under its barrier
// semantics and mutates the task accordingly. The caller persists the task
// and, on OutcomeCommitted, advances the document.
func RecordDecision(task *models.ApprovalTask, decision models.ApprovalDecision) (Outcome, error) {
	if task.Status != models.TaskStatusPending {
		return OutcomeNoOp, nil
	}

	if !task.Assigned(decision.ApproverID) {
		return OutcomeNoOp, ErrNotAnApprover
	}

	if task.Decisions == nil {
		task.Decisions = make(map[string]models.ApprovalDecision)
	}

	switch task.Type {
	case models.ApprovalTypeAll:
		if _, already := task.DecisionFor(decision.ApproverID); already {
			return OutcomeNoOp, nil
		}

		for _, earlier := range task.Decisions {
			if earlier.ActionKey != decision.ActionKey {
				return OutcomePending, ErrConflictingDecision
			}
		}

		task.Decisions[decision.ApproverID] = decision

		if len(task.Decisions) < len(task.ApproverIDs) {
			return OutcomePending, nil
		}

		complete(task, decision)

		return OutcomeCommitted, nil
	default:
		// single and any: the first action commits immediately.
		task.Decisions[decision.ApproverID] = decision
		complete(task, decision)

		return OutcomeCommitted, nil
	}
}

func complete(task *models.ApprovalTask, decision models.ApprovalDecision) {
	now := decision.At
	if now.IsZero() {
		now = time.Now().UTC()
	}

	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &now
	task.CompletedBy = decision.ApproverID
	task.ActionTaken = decision.ActionKey
	task.Comment = decision.Comment
}
