package postgres_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
	pgstore "github.com/nocodile/docflow/pkg/persistence/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *tcpostgres.PostgresContainer

func dropDB(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{
		"child_form_requests", "view_grants", "resumptions", "fork_runs",
		"approval_tasks", "state_history", "documents", "graphs", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*pgstore.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("docflow_test"),
			tcpostgres.WithUsername("docflow"),
			tcpostgres.WithPassword("docflow"),
			tcpostgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDB(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := pgstore.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDB(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'documents')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "documents table should exist")

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestGraphRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	graph := &models.WorkflowGraph{
		WorkflowID: uuid.NewString(),
		Name:       "Expense Approval",
		Nodes: []*models.Node{
			{ID: "draft", Type: models.NodeTypeState, Label: "Draft", Config: &models.StateConfig{StateKey: "draft", IsInitial: true}},
			{ID: "done", Type: models.NodeTypeState, Label: "Done", Config: &models.StateConfig{StateKey: "done", IsFinal: true}},
		},
		Connections: []*models.Connection{
			{ID: "c1", SourceNodeID: "draft", TargetNodeID: "done", SourceOutput: models.SocketOutput},
		},
	}

	err := p.Graphs().Save(ctx, graph)
	require.NoError(t, err)

	retrieved, err := p.Graphs().GetByID(ctx, graph.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, graph.Name, retrieved.Name)
	assert.Len(t, retrieved.Nodes, 2)
	assert.Len(t, retrieved.Connections, 1)

	state := retrieved.Nodes[0].StateConfig()
	require.NotNil(t, state)
	assert.True(t, state.IsInitial)

	list, err := p.Graphs().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	err = p.Graphs().Delete(ctx, graph.WorkflowID)
	require.NoError(t, err)

	_, err = p.Graphs().GetByID(ctx, graph.WorkflowID)
	assert.True(t, persistence.IsNotFound(err))

	err = p.Graphs().Delete(ctx, uuid.NewString())
	assert.True(t, persistence.IsNotFound(err))
}

func TestDocumentRepository_UpdateState(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	doc := &models.Document{
		ID:              uuid.NewString(),
		WorkflowID:      "wf-1",
		WorkflowStateID: "draft",
		Version:         3,
		Data:            map[string]any{"amount": 250},
		CreatedByID:     "user-1",
	}

	err := p.Documents().Save(ctx, doc)
	require.NoError(t, err)

	updated, err := p.Documents().UpdateState(ctx, doc.ID, 3, "pending")
	require.NoError(t, err)
	assert.Equal(t, "pending", updated.WorkflowStateID)
	assert.Equal(t, int64(4), updated.Version)

	// The stale writer lost the race.
	_, err = p.Documents().UpdateState(ctx, doc.ID, 3, "approved")
	assert.True(t, persistence.IsVersionConflict(err))

	_, err = p.Documents().UpdateState(ctx, uuid.NewString(), 0, "pending")
	assert.True(t, persistence.IsNotFound(err))

	retrieved, err := p.Documents().GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", retrieved.WorkflowStateID)
	assert.Equal(t, int64(4), retrieved.Version)
	assert.Equal(t, float64(250), retrieved.Data["amount"])
}

func TestDocumentRepository_History(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	docID := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, action := range []string{"submit", "approve"} {
		err := p.Documents().AppendHistory(ctx, &models.StateHistoryEntry{
			ID:         uuid.NewString(),
			DocumentID: docID,
			ActionKey:  action,
			At:         base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	entries, err := p.Documents().History(ctx, docID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "submit", entries[0].ActionKey)
	assert.Equal(t, "approve", entries[1].ActionKey)
}

func TestRunStateRepository_ApprovalTasks(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	task := &models.ApprovalTask{
		ID:          uuid.NewString(),
		DocumentID:  "doc-1",
		NodeID:      "approval-1",
		Status:      models.TaskStatusPending,
		ApproverIDs: []string{"alice", "bob"},
		Type:        models.ApprovalTypeAll,
		CreatedAt:   time.Now().UTC(),
	}

	created, wasCreated, err := p.RunState().CreateApprovalTask(ctx, task)
	require.NoError(t, err)
	assert.True(t, wasCreated)
	assert.Equal(t, task.ID, created.ID)

	// A second create for the same document and node returns the first task.
	duplicate := &models.ApprovalTask{
		ID:         uuid.NewString(),
		DocumentID: "doc-1",
		NodeID:     "approval-1",
		Status:     models.TaskStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	existing, wasCreated, err := p.RunState().CreateApprovalTask(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, wasCreated)
	assert.Equal(t, task.ID, existing.ID)

	forAlice, err := p.RunState().PendingTasksForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, forAlice, 1)
	assert.Equal(t, task.ID, forAlice[0].ID)

	forCarol, err := p.RunState().PendingTasksForUser(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, forCarol)

	task.Status = models.TaskStatusCompleted
	err = p.RunState().SaveApprovalTask(ctx, task)
	require.NoError(t, err)

	_, err = p.RunState().PendingTask(ctx, "doc-1", "approval-1")
	assert.True(t, persistence.IsNotFound(err))

	// With the first task completed a new pending task can be created.
	_, wasCreated, err = p.RunState().CreateApprovalTask(ctx, duplicate)
	require.NoError(t, err)
	assert.True(t, wasCreated)
}

func TestRunStateRepository_ForkRuns(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	run := &models.ForkRun{
		ID:         uuid.NewString(),
		DocumentID: "doc-1",
		ForkNodeID: "fork-1",
		JoinNodeID: "join-1",
		JoinType:   models.JoinAll,
		Expected:   []string{"legal", "finance"},
		Status:     models.ForkRunPending,
		StartedAt:  time.Now().UTC(),
	}

	err := p.RunState().SaveForkRun(ctx, run)
	require.NoError(t, err)

	active, err := p.RunState().ActiveForkRun(ctx, "doc-1", "fork-1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, active.ID)

	run.Arrived = []string{"legal", "finance"}
	run.Status = models.ForkRunCompleted
	err = p.RunState().SaveForkRun(ctx, run)
	require.NoError(t, err)

	_, err = p.RunState().ActiveForkRun(ctx, "doc-1", "fork-1")
	assert.True(t, persistence.IsNotFound(err))

	retrieved, err := p.RunState().ForkRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ForkRunCompleted, retrieved.Status)
	assert.Empty(t, retrieved.Outstanding())
}

func TestRunStateRepository_Resumptions(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	now := time.Now().UTC()

	past := &models.PendingResumption{
		ID:         uuid.NewString(),
		Kind:       models.ResumptionTimer,
		DocumentID: "doc-1",
		NodeID:     "timer-1",
		ResumeAt:   now.Add(-time.Minute),
		CreatedAt:  now,
	}
	future := &models.PendingResumption{
		ID:         uuid.NewString(),
		Kind:       models.ResumptionJoinTimeout,
		DocumentID: "doc-1",
		NodeID:     "join-1",
		ResumeAt:   now.Add(time.Hour),
		CreatedAt:  now,
	}

	require.NoError(t, p.RunState().ScheduleResumption(ctx, past))
	require.NoError(t, p.RunState().ScheduleResumption(ctx, future))

	due, err := p.RunState().DueResumptions(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, past.ID, due[0].ID)

	claimed, err := p.RunState().ClaimResumption(ctx, past.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = p.RunState().ClaimResumption(ctx, past.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim should be a no-op")

	due, err = p.RunState().DueResumptions(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRunStateRepository_GrantsAndChildForms(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	grant := &models.ViewGrant{
		DocumentID: "doc-1",
		NodeID:     "vp-1",
		Roles:      []string{"auditor"},
		GrantedAt:  time.Now().UTC(),
	}
	require.NoError(t, p.RunState().SaveViewGrant(ctx, grant))
	require.NoError(t, p.RunState().SaveViewGrant(ctx, grant))

	grants, err := p.RunState().ViewGrants(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, []string{"auditor"}, grants[0].Roles)

	request := &models.ChildFormRequest{
		DocumentID:  "doc-1",
		NodeID:      "cf-1",
		FormKey:     "expense_lines",
		Required:    true,
		RequestedAt: time.Now().UTC(),
	}
	require.NoError(t, p.RunState().SaveChildFormRequest(ctx, request))

	requests, err := p.RunState().ChildFormRequests(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "expense_lines", requests[0].FormKey)
	assert.True(t, requests[0].Required)
}
