package approval_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocodile/docflow/pkg/approval"
	"github.com/nocodile/docflow/pkg/models"
)

func pendingTask(approvalType models.ApprovalType, approvers ...string) *models.ApprovalTask {
	return &models.ApprovalTask{
		ID:          "task-1",
		DocumentID:  "doc-1",
		NodeID:      "n-review",
		Status:      models.TaskStatusPending,
		ApproverIDs: approvers,
		Type:        approvalType,
		CreatedAt:   time.Now().UTC(),
	}
}

func decision(approverID, actionKey string) models.ApprovalDecision {
	return models.ApprovalDecision{
		ApproverID:   approverID,
		ConnectionID: "c-approve",
		ActionKey:    actionKey,
		At:           time.Now().UTC(),
	}
}

func TestRecordDecision_SingleCommitsImmediately(t *testing.T) {
	task := pendingTask(models.ApprovalTypeSingle, "alice")

	outcome, err := approval.RecordDecision(task, decision("alice", "approve"))
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeCommitted, outcome)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, "alice", task.CompletedBy)
	assert.Equal(t, "approve", task.ActionTaken)
	require.NotNil(t, task.CompletedAt)
}

func TestRecordDecision_AnyFirstActionWins(t *testing.T) {
	task := pendingTask(models.ApprovalTypeAny, "alice", "bob")

	outcome, err := approval.RecordDecision(task, decision("bob", "approve"))
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeCommitted, outcome)

	// The task already completed; a later action is discarded.
	outcome, err = approval.RecordDecision(task, decision("alice", "approve"))
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeNoOp, outcome)
	assert.Equal(t, "bob", task.CompletedBy)
}

func TestRecordDecision_AllWaitsForEveryApprover(t *testing.T) {
	task := pendingTask(models.ApprovalTypeAll, "alice", "bob", "carol")

	outcome, err := approval.RecordDecision(task, decision("alice", "approve"))
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomePending, outcome)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	outcome, err = approval.RecordDecision(task, decision("carol", "approve"))
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomePending, outcome)

	outcome, err = approval.RecordDecision(task, decision("bob", "approve"))
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeCommitted, outcome)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Len(t, task.Decisions, 3)
}

func TestRecordDecision_AllRepeatedApproverIsNoOp(t *testing.T) {
	task := pendingTask(models.ApprovalTypeAll, "alice", "bob")

	_, err := approval.RecordDecision(task, decision("alice", "approve"))
	require.NoError(t, err)

	outcome, err := approval.RecordDecision(task, decision("alice", "approve"))
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeNoOp, outcome)
	assert.Len(t, task.Decisions, 1)
}

func TestRecordDecision_AllConflictingActionRejected(t *testing.T) {
	task := pendingTask(models.ApprovalTypeAll, "alice", "bob")

	_, err := approval.RecordDecision(task, decision("alice", "approve"))
	require.NoError(t, err)

	outcome, err := approval.RecordDecision(task, decision("bob", "reject"))
	require.Error(t, err)
	assert.ErrorIs(t, err, approval.ErrConflictingDecision)
	assert.Equal(t, approval.OutcomePending, outcome)

	// The conflicting decision left no trace; agreeing still completes.
	outcome, err = approval.RecordDecision(task, decision("bob", "approve"))
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeCommitted, outcome)
}

func TestRecordDecision_UnassignedUserRejected(t *testing.T) {
	task := pendingTask(models.ApprovalTypeSingle, "alice")

	outcome, err := approval.RecordDecision(task, decision("mallory", "approve"))
	require.Error(t, err)
	assert.ErrorIs(t, err, approval.ErrNotAnApprover)
	assert.Equal(t, approval.OutcomeNoOp, outcome)
	assert.Equal(t, models.TaskStatusPending, task.Status)
}

func TestRecordDecision_CompletedTaskIsInert(t *testing.T) {
	task := pendingTask(models.ApprovalTypeSingle, "alice")
	task.Status = models.TaskStatusCancelled

	outcome, err := approval.RecordDecision(task, decision("alice", "approve"))
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeNoOp, outcome)
	assert.Equal(t, models.TaskStatusCancelled, task.Status)
}
