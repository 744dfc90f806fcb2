package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
	"github.com/nocodile/docflow/pkg/persistence/file"
)

func setup(t *testing.T) persistence.Persistence {
	t.Helper()

	return file.NewPersistence(t.TempDir())
}

func TestGraphRepository_Lifecycle(t *testing.T) {
	p := setup(t)
	ctx := context.Background()

	graph := &models.WorkflowGraph{
		WorkflowID: "wf-1",
		Nodes: []*models.Node{{
			ID:     "n-draft",
			Type:   models.NodeTypeState,
			Config: &models.StateConfig{StateKey: "draft", IsInitial: true},
		}},
	}

	require.NoError(t, p.Graphs().Save(ctx, graph))

	loaded, err := p.Graphs().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", loaded.WorkflowID)
	require.Len(t, loaded.Nodes, 1)

	config := loaded.Nodes[0].StateConfig()
	require.NotNil(t, config)
	assert.True(t, config.IsInitial)

	graphs, err := p.Graphs().List(ctx)
	require.NoError(t, err)
	assert.Len(t, graphs, 1)

	require.NoError(t, p.Graphs().Delete(ctx, "wf-1"))

	_, err = p.Graphs().GetByID(ctx, "wf-1")
	assert.True(t, persistence.IsNotFound(err))

	err = p.Graphs().Delete(ctx, "wf-1")
	assert.True(t, persistence.IsNotFound(err))
}

func TestDocumentRepository_UpdateState(t *testing.T) {
	p := setup(t)
	ctx := context.Background()

	doc := &models.Document{ID: "doc-1", WorkflowID: "wf-1", WorkflowStateID: "n-draft", Version: 3}
	require.NoError(t, p.Documents().Save(ctx, doc))

	updated, err := p.Documents().UpdateState(ctx, "doc-1", 3, "n-pending")
	require.NoError(t, err)
	assert.Equal(t, "n-pending", updated.WorkflowStateID)
	assert.Equal(t, int64(4), updated.Version)

	// A writer holding the superseded version loses the race.
	_, err = p.Documents().UpdateState(ctx, "doc-1", 3, "n-rejected")
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	_, err = p.Documents().UpdateState(ctx, "doc-missing", 0, "n-pending")
	assert.True(t, persistence.IsNotFound(err))
}

func TestDocumentRepository_HistoryOrder(t *testing.T) {
	p := setup(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, state := range []string{"n-draft", "n-pending", "n-approved"} {
		require.NoError(t, p.Documents().AppendHistory(ctx, &models.StateHistoryEntry{
			DocumentID: "doc-1",
			ToStateID:  state,
			At:         base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := p.Documents().History(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "n-draft", entries[0].ToStateID)
	assert.Equal(t, "n-approved", entries[2].ToStateID)
}

func TestRunState_PendingTaskUniqueness(t *testing.T) {
	p := setup(t)
	ctx := context.Background()

	task := &models.ApprovalTask{
		DocumentID:  "doc-1",
		NodeID:      "n-review",
		Status:      models.TaskStatusPending,
		ApproverIDs: []string{"alice"},
		Type:        models.ApprovalTypeSingle,
	}

	created, wasNew, err := p.RunState().CreateApprovalTask(ctx, task)
	require.NoError(t, err)
	require.True(t, wasNew)
	assert.NotEmpty(t, created.ID)

	// A second activation returns the live task instead of a duplicate.
	duplicate := &models.ApprovalTask{
		DocumentID:  "doc-1",
		NodeID:      "n-review",
		Status:      models.TaskStatusPending,
		ApproverIDs: []string{"bob"},
	}

	existing, wasNew, err := p.RunState().CreateApprovalTask(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, wasNew)
	assert.Equal(t, created.ID, existing.ID)
	assert.Equal(t, []string{"alice"}, existing.ApproverIDs)

	// Completing the task reopens the slot.
	existing.Status = models.TaskStatusCompleted
	require.NoError(t, p.RunState().SaveApprovalTask(ctx, existing))

	_, wasNew, err = p.RunState().CreateApprovalTask(ctx, duplicate)
	require.NoError(t, err)
	assert.True(t, wasNew)
}

func TestRunState_TaskQueries(t *testing.T) {
	p := setup(t)
	ctx := context.Background()

	mkTask := func(docID, nodeID string, approvers ...string) {
		_, _, err := p.RunState().CreateApprovalTask(ctx, &models.ApprovalTask{
			DocumentID:  docID,
			NodeID:      nodeID,
			Status:      models.TaskStatusPending,
			ApproverIDs: approvers,
		})
		require.NoError(t, err)
	}

	mkTask("doc-1", "n-legal", "dana")
	mkTask("doc-1", "n-finance", "alice", "bob")
	mkTask("doc-2", "n-legal", "dana")

	tasks, err := p.RunState().PendingTasksForDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = p.RunState().PendingTasksForUser(ctx, "dana")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = p.RunState().PendingTasksForUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "n-finance", tasks[0].NodeID)
}

func TestRunState_ForkRuns(t *testing.T) {
	p := setup(t)
	ctx := context.Background()

	run := &models.ForkRun{
		ID:         "run-1",
		DocumentID: "doc-1",
		ForkNodeID: "n-fork",
		JoinNodeID: "n-join",
		JoinType:   models.JoinAll,
		Expected:   []string{"legal", "finance"},
		Status:     models.ForkRunPending,
		StartedAt:  time.Now().UTC(),
	}

	require.NoError(t, p.RunState().SaveForkRun(ctx, run))

	active, err := p.RunState().ActiveForkRun(ctx, "doc-1", "n-fork")
	require.NoError(t, err)
	assert.Equal(t, "run-1", active.ID)

	run.Status = models.ForkRunCompleted
	require.NoError(t, p.RunState().SaveForkRun(ctx, run))

	_, err = p.RunState().ActiveForkRun(ctx, "doc-1", "n-fork")
	assert.True(t, persistence.IsNotFound(err))

	loaded, err := p.RunState().ForkRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.ForkRunCompleted, loaded.Status)
}

func TestRunState_Resumptions(t *testing.T) {
	p := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, p.RunState().ScheduleResumption(ctx, &models.PendingResumption{
		ID:         "r-1",
		Kind:       models.ResumptionTimer,
		DocumentID: "doc-1",
		NodeID:     "n-wait",
		ResumeAt:   now.Add(-time.Minute),
	}))
	require.NoError(t, p.RunState().ScheduleResumption(ctx, &models.PendingResumption{
		ID:         "r-2",
		Kind:       models.ResumptionTimer,
		DocumentID: "doc-1",
		NodeID:     "n-wait-2",
		ResumeAt:   now.Add(time.Hour),
	}))

	due, err := p.RunState().DueResumptions(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "r-1", due[0].ID)

	claimed, err := p.RunState().ClaimResumption(ctx, "r-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	// The claim is one-shot; redelivery attempts lose.
	claimed, err = p.RunState().ClaimResumption(ctx, "r-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	due, err = p.RunState().DueResumptions(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = p.RunState().ClaimResumption(ctx, "r-unknown")
	assert.True(t, persistence.IsNotFound(err))
}

func TestRunState_GrantsAndChildForms(t *testing.T) {
	p := setup(t)
	ctx := context.Background()

	require.NoError(t, p.RunState().SaveViewGrant(ctx, &models.ViewGrant{
		DocumentID: "doc-1",
		NodeID:     "n-grant",
		Roles:      []string{"auditors"},
		GrantedAt:  time.Now().UTC(),
	}))

	// Re-traversal overwrites rather than duplicates.
	require.NoError(t, p.RunState().SaveViewGrant(ctx, &models.ViewGrant{
		DocumentID: "doc-1",
		NodeID:     "n-grant",
		Roles:      []string{"auditors", "managers"},
		GrantedAt:  time.Now().UTC(),
	}))

	grants, err := p.RunState().ViewGrants(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, []string{"auditors", "managers"}, grants[0].Roles)

	require.NoError(t, p.RunState().SaveChildFormRequest(ctx, &models.ChildFormRequest{
		DocumentID: "doc-1",
		NodeID:     "n-budget",
		FormKey:    "budget",
		Required:   true,
	}))

	requests, err := p.RunState().ChildFormRequests(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "budget", requests[0].FormKey)
}
