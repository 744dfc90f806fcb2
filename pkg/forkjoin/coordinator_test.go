package forkjoin_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocodile/docflow/pkg/forkjoin"
	"github.com/nocodile/docflow/pkg/models"
)

func testForkNode() *models.Node {
	return &models.Node{ID: "n-fork", Type: models.NodeTypeFork}
}

func testForkConfig() *models.ForkConfig {
	return &models.ForkConfig{Branches: []models.ForkBranch{
		{ID: "legal"},
		{ID: "finance"},
	}}
}

func startRun(t *testing.T, joinConfig *models.JoinConfig) (*forkjoin.Coordinator, *models.ForkRun) {
	t.Helper()

	c := forkjoin.NewCoordinator()
	doc := &models.Document{ID: "doc-1", WorkflowID: "wf"}
	run := c.StartRun(doc, testForkNode(), testForkConfig(), "n-join", joinConfig)
	require.NotEmpty(t, run.ID)

	return c, run
}

func TestStartRun_ExpectsAllForkBranchesByDefault(t *testing.T) {
	_, run := startRun(t, &models.JoinConfig{JoinType: models.JoinAll})

	assert.Equal(t, []string{"legal", "finance"}, run.Expected)
	assert.Equal(t, models.ForkRunPending, run.Status)
	assert.Nil(t, run.Deadline)
}

func TestStartRun_ExplicitExpectedBranches(t *testing.T) {
	_, run := startRun(t, &models.JoinConfig{
		JoinType:         models.JoinAll,
		ExpectedBranches: []string{"legal"},
	})

	assert.Equal(t, []string{"legal"}, run.Expected)
}

func TestStartRun_TimeoutArmsDeadline(t *testing.T) {
	_, run := startRun(t, &models.JoinConfig{
		JoinType: models.JoinAll,
		Timeout:  &models.JoinTimeout{Enabled: true, Days: 3, Action: models.TimeoutEscalate},
	})

	require.NotNil(t, run.Deadline)
	assert.Equal(t, models.TimeoutEscalate, run.TimeoutAction)
	assert.WithinDuration(t, run.StartedAt.AddDate(0, 0, 3), *run.Deadline, time.Second)
}

func TestArrive_AllJoinWaitsForEveryBranch(t *testing.T) {
	c, run := startRun(t, &models.JoinConfig{JoinType: models.JoinAll})

	arrival, err := c.Arrive(run, "legal")
	require.NoError(t, err)
	assert.False(t, arrival.Completed)
	assert.False(t, arrival.NoOp)
	assert.Equal(t, []string{"finance"}, run.Outstanding())

	arrival, err = c.Arrive(run, "finance")
	require.NoError(t, err)
	assert.True(t, arrival.Completed)
	assert.Equal(t, models.ForkRunCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
}

func TestArrive_DuplicateBranchIsNoOp(t *testing.T) {
	c, run := startRun(t, &models.JoinConfig{JoinType: models.JoinAll})

	_, err := c.Arrive(run, "legal")
	require.NoError(t, err)

	arrival, err := c.Arrive(run, "legal")
	require.NoError(t, err)
	assert.True(t, arrival.NoOp)
	assert.Equal(t, []string{"legal"}, run.Arrived)
}

func TestArrive_AnyJoinFirstArrivalWins(t *testing.T) {
	c, run := startRun(t, &models.JoinConfig{JoinType: models.JoinAny})

	arrival, err := c.Arrive(run, "finance")
	require.NoError(t, err)
	assert.True(t, arrival.Completed)
	assert.Equal(t, models.ForkRunCompleted, run.Status)

	// The abandoned branch's token is discarded.
	arrival, err = c.Arrive(run, "legal")
	require.NoError(t, err)
	assert.True(t, arrival.NoOp)
}

func TestArrive_UnknownBranchIsRejected(t *testing.T) {
	c, run := startRun(t, &models.JoinConfig{JoinType: models.JoinAll})

	_, err := c.Arrive(run, "marketing")
	require.Error(t, err)
	assert.ErrorIs(t, err, forkjoin.ErrUnknownBranch)
}

func expiredRun(t *testing.T, action models.TimeoutAction) (*forkjoin.Coordinator, *models.ForkRun) {
	t.Helper()

	past := time.Now().UTC().Add(-time.Hour)
	c := forkjoin.NewCoordinatorAt(func() time.Time { return past })
	doc := &models.Document{ID: "doc-1", WorkflowID: "wf"}
	run := c.StartRun(doc, testForkNode(), testForkConfig(), "n-join", &models.JoinConfig{
		JoinType: models.JoinAll,
		Timeout:  &models.JoinTimeout{Enabled: true, Days: 0, Action: action},
	})

	// Evaluate the timeout with the real clock, an hour past the deadline.
	return forkjoin.NewCoordinator(), run
}

func TestApplyTimeout_BeforeDeadlineDoesNothing(t *testing.T) {
	c, run := startRun(t, &models.JoinConfig{
		JoinType: models.JoinAll,
		Timeout:  &models.JoinTimeout{Enabled: true, Days: 5, Action: models.TimeoutCancel},
	})

	outcome := c.ApplyTimeout(run)
	assert.False(t, outcome.Applied)
	assert.Equal(t, models.ForkRunPending, run.Status)
}

func TestApplyTimeout_Continue(t *testing.T) {
	c, run := expiredRun(t, models.TimeoutContinue)

	outcome := c.ApplyTimeout(run)
	require.True(t, outcome.Applied)
	assert.Equal(t, models.TimeoutContinue, outcome.Action)
	assert.Equal(t, models.ForkRunCompleted, run.Status)
}

func TestApplyTimeout_EscalateKeepsRunPending(t *testing.T) {
	c, run := expiredRun(t, models.TimeoutEscalate)

	outcome := c.ApplyTimeout(run)
	require.True(t, outcome.Applied)
	assert.Equal(t, models.TimeoutEscalate, outcome.Action)
	assert.Equal(t, models.ForkRunPending, run.Status)
	assert.Nil(t, run.Deadline)

	// With the deadline cleared, redelivery is a no-op and branches may
	// still arrive.
	outcome = c.ApplyTimeout(run)
	assert.False(t, outcome.Applied)

	arrival, err := c.Arrive(run, "legal")
	require.NoError(t, err)
	assert.False(t, arrival.NoOp)
}

func TestApplyTimeout_Cancel(t *testing.T) {
	c, run := expiredRun(t, models.TimeoutCancel)

	outcome := c.ApplyTimeout(run)
	require.True(t, outcome.Applied)
	assert.Equal(t, models.TimeoutCancel, outcome.Action)
	assert.Equal(t, models.ForkRunTimedOut, run.Status)

	// A settled run ignores both redelivery and stray tokens.
	assert.False(t, c.ApplyTimeout(run).Applied)

	arrival, err := c.Arrive(run, "legal")
	require.NoError(t, err)
	assert.True(t, arrival.NoOp)
}

func TestApplyTimeout_MissingActionDefaultsToCancel(t *testing.T) {
	c, run := expiredRun(t, "")

	outcome := c.ApplyTimeout(run)
	require.True(t, outcome.Applied)
	assert.Equal(t, models.TimeoutCancel, outcome.Action)
	assert.Equal(t, models.ForkRunTimedOut, run.Status)
}
