package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocodile/docflow/pkg/actions/notification"
	"github.com/nocodile/docflow/pkg/directory"
	"github.com/nocodile/docflow/pkg/engine"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
	"github.com/nocodile/docflow/pkg/persistence/file"
	"github.com/nocodile/docflow/pkg/registry"
)

func timerGraph() *models.WorkflowGraph {
	state := func(id, key string, initial bool) *models.Node {
		return &models.Node{
			ID:     id,
			Type:   models.NodeTypeState,
			Config: &models.StateConfig{StateKey: key, IsInitial: initial},
		}
	}

	return &models.WorkflowGraph{
		WorkflowID: "wf-timer",
		Nodes: []*models.Node{
			state("n-draft", "draft", true),
			state("n-review", "review", false),
			{
				ID:     "n-wait",
				Type:   models.NodeTypeTimer,
				Config: &models.TimerConfig{DelayHours: 2},
			},
		},
		Connections: []*models.Connection{
			{
				ID: "c-submit", SourceNodeID: "n-draft", TargetNodeID: "n-wait",
				SourceOutput: models.SocketOutput,
				ActionConfig: &models.ActionConfig{Label: "Submit"},
			},
			{
				ID: "c-wait-out", SourceNodeID: "n-wait", TargetNodeID: "n-review",
				SourceOutput: models.SocketOutput,
			},
		},
	}
}

func setup(t *testing.T) (*Scheduler, *engine.Engine, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	dir := directory.NewStatic(directory.StaticUser{ID: "carol"})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaults(notification.LogMailer{}, notification.LogNotifier{}, dir)

	require.NoError(t, p.Graphs().Save(context.Background(), timerGraph()))

	e := engine.NewEngine(p, dir, reg, nil, logger)

	return NewScheduler(p, e, logger), e, p
}

func suspendedDocument(t *testing.T, e *engine.Engine) *models.Document {
	t.Helper()
	ctx := context.Background()

	doc := &models.Document{ID: "doc-1", WorkflowID: "wf-timer", CreatedByID: "carol"}
	require.NoError(t, e.Start(ctx, doc))

	result, err := e.Transition(ctx, engine.TransitionRequest{
		DocumentID:   doc.ID,
		ConnectionID: "c-submit",
		ActingUserID: "carol",
	})
	require.NoError(t, err)
	require.Equal(t, engine.StatusPending, result.Status)

	return doc
}

func TestRunOnce_SkipsResumptionsNotYetDue(t *testing.T) {
	s, e, p := setup(t)
	ctx := context.Background()

	doc := suspendedDocument(t, e)

	require.NoError(t, s.RunOnce(ctx))

	reloaded, err := p.Documents().GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "n-draft", reloaded.WorkflowStateID)
}

func TestRunOnce_DeliversDueTimer(t *testing.T) {
	s, e, p := setup(t)
	ctx := context.Background()

	doc := suspendedDocument(t, e)

	s.now = func() time.Time { return time.Now().UTC().Add(3 * time.Hour) }

	require.NoError(t, s.RunOnce(ctx))

	reloaded, err := p.Documents().GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "n-review", reloaded.WorkflowStateID)

	// The resumption was consumed; polling again changes nothing.
	require.NoError(t, s.RunOnce(ctx))

	due, err := p.RunState().DueResumptions(ctx, s.now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestStartStop(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx)) // idempotent

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
