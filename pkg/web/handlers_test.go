package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocodile/docflow/pkg/actions/notification"
	"github.com/nocodile/docflow/pkg/directory"
	"github.com/nocodile/docflow/pkg/engine"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
	"github.com/nocodile/docflow/pkg/persistence/file"
	"github.com/nocodile/docflow/pkg/registry"
	"github.com/nocodile/docflow/pkg/web"
)

func testDirectory() *directory.Static {
	return directory.NewStatic(
		directory.StaticUser{ID: "alice", Roles: []string{"finance"}, ManagerID: "frank"},
		directory.StaticUser{ID: "bob", Roles: []string{"finance"}, ManagerID: "frank"},
		directory.StaticUser{ID: "carol", Department: "sales", ManagerID: "mia"},
		directory.StaticUser{ID: "frank"},
	)
}

func setupTestApp(t *testing.T) (*fiber.App, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	dir := testDirectory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaults(notification.LogMailer{}, notification.LogNotifier{}, dir)

	eng := engine.NewEngine(p, dir, reg, nil, logger)
	validate := validator.New(validator.WithRequiredStructEnabled())
	handlers := web.NewAPIHandlers(eng, p, validate, reg)

	app := fiber.New()

	d := app.Group("/documents")
	d.Post("/", handlers.CreateDocument)
	d.Get("/:id", handlers.GetDocument)
	d.Post("/:id/transition", handlers.TransitionDocument)
	d.Get("/:id/permissions", handlers.GetDocumentPermissions)
	d.Get("/:id/actions", handlers.GetDocumentActions)
	d.Get("/:id/history", handlers.GetDocumentHistory)
	d.Get("/:id/tasks", handlers.GetDocumentTasks)

	app.Get("/users/:id/tasks", handlers.GetUserTasks)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.SaveWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/validate", handlers.ValidateWorkflow)

	app.Get("/health", handlers.HealthCheck)

	return app, p
}

func approvalGraph() *models.WorkflowGraph {
	state := func(id, key string, initial, final bool) *models.Node {
		return &models.Node{
			ID:   id,
			Type: models.NodeTypeState,
			Config: &models.StateConfig{
				StateKey:  key,
				IsInitial: initial,
				IsFinal:   final,
				Permissions: models.StatePermissions{
					EditMainForm: initial,
				},
			},
		}
	}

	return &models.WorkflowGraph{
		WorkflowID: "wf-approval",
		Nodes: []*models.Node{
			state("n-draft", "draft", true, false),
			state("n-pending", "pending_approval", false, false),
			state("n-approved", "approved", false, true),
			{
				ID:   "n-review",
				Type: models.NodeTypeApproval,
				Config: &models.ApprovalConfig{
					ApprovalType:     models.ApprovalTypeAny,
					DefaultApprovers: []models.ApproverConfig{{Type: models.ApproverTypeRole, RoleID: "finance"}},
				},
			},
		},
		Connections: []*models.Connection{
			{
				ID: "c-submit", SourceNodeID: "n-draft", TargetNodeID: "n-pending",
				SourceOutput: models.SocketOutput,
				ActionConfig: &models.ActionConfig{Label: "Submit"},
			},
			{
				ID: "c-activate", SourceNodeID: "n-pending", TargetNodeID: "n-review",
				SourceOutput: models.SocketOutput,
			},
			{
				ID: "c-approve", SourceNodeID: "n-review", TargetNodeID: "n-approved",
				SourceOutput: models.SocketOutput,
				ActionConfig: &models.ActionConfig{Label: "Approve"},
			},
		},
	}
}

func saveApprovalGraph(t *testing.T, p persistence.Persistence) {
	t.Helper()
	require.NoError(t, p.Graphs().Save(context.Background(), approvalGraph()))
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body []byte

	switch v := payload.(type) {
	case nil:
	case string:
		body = []byte(v)
	default:
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func createDocument(t *testing.T, app *fiber.App) models.Document {
	t.Helper()

	resp, raw := doJSON(t, app, http.MethodPost, "/documents", web.CreateDocumentRequest{
		WorkflowID:  "wf-approval",
		Data:        map[string]any{"amount": 1500},
		CreatedByID: "carol",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var doc models.Document
	require.NoError(t, json.Unmarshal(raw, &doc))

	return doc
}

func TestAPIHandlers_CreateDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful creation",
			requestBody: web.CreateDocumentRequest{
				WorkflowID:  "wf-approval",
				Data:        map[string]any{"amount": 1500},
				CreatedByID: "carol",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "validation error - missing workflow id",
			requestBody: web.CreateDocumentRequest{
				CreatedByID: "carol",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - missing submitter",
			requestBody: web.CreateDocumentRequest{
				WorkflowID: "wf-approval",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown workflow",
			requestBody: web.CreateDocumentRequest{
				WorkflowID:  "wf-missing",
				CreatedByID: "carol",
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, p := setupTestApp(t)
			saveApprovalGraph(t, p)

			resp, raw := doJSON(t, app, http.MethodPost, "/documents", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				var doc models.Document
				require.NoError(t, json.Unmarshal(raw, &doc))
				assert.NotEmpty(t, doc.ID)
				assert.Equal(t, "n-draft", doc.WorkflowStateID)
				assert.Equal(t, "carol", doc.CreatedByID)
			}
		})
	}
}

func TestAPIHandlers_TransitionDocument(t *testing.T) {
	t.Parallel()

	app, p := setupTestApp(t)
	saveApprovalGraph(t, p)
	doc := createDocument(t, app)

	resp, raw := doJSON(t, app, http.MethodPost, "/documents/"+doc.ID+"/transition",
		web.TransitionDocumentRequest{ConnectionID: "c-submit", ActingUserID: "carol"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result engine.TransitionResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, engine.StatusCompleted, result.Status)
	assert.Equal(t, "n-pending", result.NewStateID)
}

func TestAPIHandlers_TransitionDocument_Errors(t *testing.T) {
	t.Parallel()

	app, p := setupTestApp(t)
	saveApprovalGraph(t, p)
	doc := createDocument(t, app)

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "unknown connection",
			requestBody: web.TransitionDocumentRequest{
				ConnectionID: "c-missing", ActingUserID: "carol",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "wrong source node",
			requestBody: web.TransitionDocumentRequest{
				ConnectionID: "c-approve", ActingUserID: "alice",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing acting user",
			requestBody: web.TransitionDocumentRequest{
				ConnectionID: "c-submit",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "{",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, app, http.MethodPost, "/documents/"+doc.ID+"/transition", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestAPIHandlers_TransitionDocument_ForbiddenForNonApprover(t *testing.T) {
	t.Parallel()

	app, p := setupTestApp(t)
	saveApprovalGraph(t, p)
	doc := createDocument(t, app)

	resp, _ := doJSON(t, app, http.MethodPost, "/documents/"+doc.ID+"/transition",
		web.TransitionDocumentRequest{ConnectionID: "c-submit", ActingUserID: "carol"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// carol submitted but is not in the finance role, so she may not approve.
	resp, _ = doJSON(t, app, http.MethodPost, "/documents/"+doc.ID+"/transition",
		web.TransitionDocumentRequest{ConnectionID: "c-approve", ActingUserID: "carol"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPIHandlers_GetDocument(t *testing.T) {
	t.Parallel()

	app, p := setupTestApp(t)
	saveApprovalGraph(t, p)
	doc := createDocument(t, app)

	resp, raw := doJSON(t, app, http.MethodGet, "/documents/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Document
	require.NoError(t, json.Unmarshal(raw, &fetched))
	assert.Equal(t, doc.ID, fetched.ID)

	resp, _ = doJSON(t, app, http.MethodGet, "/documents/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_GetDocumentPermissions(t *testing.T) {
	t.Parallel()

	app, p := setupTestApp(t)
	saveApprovalGraph(t, p)
	doc := createDocument(t, app)

	resp, raw := doJSON(t, app, http.MethodGet, "/documents/"+doc.ID+"/permissions?user_id=carol", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rights struct {
		CanViewMain bool `json:"canViewMain"`
		CanEditMain bool `json:"canEditMain"`
	}
	require.NoError(t, json.Unmarshal(raw, &rights))
	assert.True(t, rights.CanViewMain)
	assert.True(t, rights.CanEditMain)

	resp, _ = doJSON(t, app, http.MethodGet, "/documents/"+doc.ID+"/permissions", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_GetDocumentActions(t *testing.T) {
	t.Parallel()

	app, p := setupTestApp(t)
	saveApprovalGraph(t, p)
	doc := createDocument(t, app)

	resp, raw := doJSON(t, app, http.MethodGet, "/documents/"+doc.ID+"/actions?user_id=carol", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Actions []models.ActionDescriptor `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Len(t, payload.Actions, 1)
	assert.Equal(t, "c-submit", payload.Actions[0].ConnectionID)

	// A bystander sees no actions but gets a valid response.
	resp, raw = doJSON(t, app, http.MethodGet, "/documents/"+doc.ID+"/actions?user_id=frank", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Empty(t, payload.Actions)
}

func TestAPIHandlers_GetDocumentHistory(t *testing.T) {
	t.Parallel()

	app, p := setupTestApp(t)
	saveApprovalGraph(t, p)
	doc := createDocument(t, app)

	resp, _ := doJSON(t, app, http.MethodPost, "/documents/"+doc.ID+"/transition",
		web.TransitionDocumentRequest{ConnectionID: "c-submit", ActingUserID: "carol"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := doJSON(t, app, http.MethodGet, "/documents/"+doc.ID+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		History []*models.StateHistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Len(t, payload.History, 2)
	assert.Equal(t, "created", payload.History[0].ActionKey)
	assert.Equal(t, "n-pending", payload.History[1].ToStateID)
}

func TestAPIHandlers_Tasks(t *testing.T) {
	t.Parallel()

	app, p := setupTestApp(t)
	saveApprovalGraph(t, p)
	doc := createDocument(t, app)

	resp, _ := doJSON(t, app, http.MethodPost, "/documents/"+doc.ID+"/transition",
		web.TransitionDocumentRequest{ConnectionID: "c-submit", ActingUserID: "carol"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := doJSON(t, app, http.MethodGet, "/documents/"+doc.ID+"/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Tasks []web.TaskResponse `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Len(t, payload.Tasks, 1)
	assert.Equal(t, "n-review", payload.Tasks[0].NodeID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, payload.Tasks[0].ApproverIDs)

	resp, raw = doJSON(t, app, http.MethodGet, "/users/alice/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Len(t, payload.Tasks, 1)
	assert.Equal(t, doc.ID, payload.Tasks[0].DocumentID)

	resp, raw = doJSON(t, app, http.MethodGet, "/users/carol/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Empty(t, payload.Tasks)
}

func TestAPIHandlers_SaveWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	envelope := `{
		"workflowId": "wf-simple",
		"nodes": [
			{"id": "n-draft", "type": "state", "config": {"stateKey": "draft", "isInitial": true}},
			{"id": "n-done", "type": "state", "config": {"stateKey": "done", "isFinal": true}}
		],
		"connections": [
			{"id": "c1", "sourceNodeId": "n-draft", "targetNodeId": "n-done",
				"actionConfig": {"label": "Finish"}}
		]
	}`

	resp, _ := doJSON(t, app, http.MethodPut, "/workflows/wf-simple", envelope)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := doJSON(t, app, http.MethodGet, "/workflows/wf-simple", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var g models.WorkflowGraph
	require.NoError(t, json.Unmarshal(raw, &g))
	assert.Len(t, g.Nodes, 2)

	resp, _ = doJSON(t, app, http.MethodPut, "/workflows/wf-other", envelope)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_SaveWorkflow_RejectsStructuralErrors(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	// No initial state and a dangling connection target.
	envelope := `{
		"workflowId": "wf-broken",
		"nodes": [
			{"id": "n-a", "type": "state", "config": {"stateKey": "a"}}
		],
		"connections": [
			{"id": "c1", "sourceNodeId": "n-a", "targetNodeId": "n-ghost",
				"actionConfig": {"label": "Go"}}
		]
	}`

	resp, raw := doJSON(t, app, http.MethodPut, "/workflows/wf-broken", envelope)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var result web.ValidateGraphResponse
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Findings)

	resp, _ = doJSON(t, app, http.MethodGet, "/workflows/wf-broken", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ValidateWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectValid    bool
	}{
		{
			name: "clean graph",
			body: `{
				"workflowId": "wf-ok",
				"nodes": [
					{"id": "n-a", "type": "state", "config": {"stateKey": "a", "isInitial": true}},
					{"id": "n-b", "type": "state", "config": {"stateKey": "b", "isFinal": true}}
				],
				"connections": [
					{"id": "c1", "sourceNodeId": "n-a", "targetNodeId": "n-b",
						"actionConfig": {"label": "Go"}}
				]
			}`,
			expectedStatus: http.StatusOK,
			expectValid:    true,
		},
		{
			name: "graph with error findings",
			body: `{
				"workflowId": "wf-bad",
				"nodes": [
					{"id": "n-a", "type": "state", "config": {"stateKey": "a", "isInitial": true}}
				],
				"connections": [
					{"id": "c1", "sourceNodeId": "n-a", "targetNodeId": "n-ghost",
						"actionConfig": {"label": "Go"}}
				]
			}`,
			expectedStatus: http.StatusOK,
			expectValid:    false,
		},
		{
			name: "missing initial state is a warning only",
			body: `{
				"workflowId": "wf-warn",
				"nodes": [
					{"id": "n-a", "type": "state", "config": {"stateKey": "a"}}
				],
				"connections": []
			}`,
			expectedStatus: http.StatusOK,
			expectValid:    true,
		},
		{
			name:           "invalid envelope",
			body:           `{"nodes": []}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := doJSON(t, app, http.MethodPost, "/workflows/validate", tt.body)
			require.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var result web.ValidateGraphResponse
				require.NoError(t, json.Unmarshal(raw, &result))
				assert.Equal(t, tt.expectValid, result.Valid)
			}
		})
	}
}

func TestAPIHandlers_DeleteWorkflow(t *testing.T) {
	t.Parallel()

	app, p := setupTestApp(t)
	saveApprovalGraph(t, p)

	resp, _ := doJSON(t, app, http.MethodDelete, "/workflows/wf-approval", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/workflows/wf-approval", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, raw := doJSON(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(raw, &health))
	assert.Equal(t, "healthy", health.Status)
}
