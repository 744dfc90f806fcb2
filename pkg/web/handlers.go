// Package web provides HTTP handlers and REST API endpoints for the document
// workflow engine.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/nocodile/docflow/pkg/engine"
	"github.com/nocodile/docflow/pkg/graph"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
	"github.com/nocodile/docflow/pkg/registry"
)

type APIHandlers struct {
	engine      *engine.Engine
	persistence persistence.Persistence
	validator   *validator.Validate
	registry    *registry.Registry
}

func NewAPIHandlers(
	eng *engine.Engine,
	persistence persistence.Persistence,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		engine:      eng,
		persistence: persistence,
		validator:   validator,
		registry:    registry,
	}
}

func (h *APIHandlers) CreateDocument(c fiber.Ctx) error {
	var req CreateDocumentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	doc := &models.Document{
		ID:               uuid.New().String(),
		WorkflowID:       req.WorkflowID,
		Data:             req.Data,
		CreatedByID:      req.CreatedByID,
		ParentDocumentID: req.ParentDocumentID,
	}

	if err := h.engine.Start(c.Context(), doc); err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(doc)
}

func (h *APIHandlers) GetDocument(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Document ID is required")
	}

	doc, err := h.persistence.Documents().GetByID(c.Context(), id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Document not found")
		}

		return internalError(c, err)
	}

	return c.JSON(doc)
}

func (h *APIHandlers) TransitionDocument(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Document ID is required")
	}

	var req TransitionDocumentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.Transition(c.Context(), engine.TransitionRequest{
		DocumentID:   id,
		ConnectionID: req.ConnectionID,
		ActingUserID: req.ActingUserID,
		Comment:      req.Comment,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetDocumentPermissions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Document ID is required")
	}

	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter is required")
	}

	rights, err := h.engine.Permissions(c.Context(), id, userID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(rights)
}

func (h *APIHandlers) GetDocumentActions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Document ID is required")
	}

	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter is required")
	}

	actions, err := h.engine.AvailableActions(c.Context(), id, userID)
	if err != nil {
		return handleEngineError(c, err)
	}

	if actions == nil {
		actions = []models.ActionDescriptor{}
	}

	return c.JSON(fiber.Map{"actions": actions})
}

func (h *APIHandlers) GetDocumentHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Document ID is required")
	}

	history, err := h.engine.History(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"history": history})
}

func (h *APIHandlers) GetDocumentTasks(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Document ID is required")
	}

	tasks, err := h.persistence.RunState().PendingTasksForDocument(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"tasks": transformTasks(tasks)})
}

func (h *APIHandlers) GetUserTasks(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "User ID is required")
	}

	tasks, err := h.persistence.RunState().PendingTasksForUser(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"tasks": transformTasks(tasks)})
}

func transformTasks(tasks []*models.ApprovalTask) []TaskResponse {
	responses := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		responses = append(responses, TransformTaskResponse(task))
	}

	return responses
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	graphs, err := h.persistence.Graphs().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": graphs})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	g, err := h.persistence.Graphs().GetByID(c.Context(), id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(g)
}

// SaveWorkflow stores a workflow graph after normalizing it and checking its
// structural invariants. Graphs with error-severity findings are rejected;
// warnings are returned alongside the saved graph.
func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	g, err := graph.Load(c.Body())
	if err != nil {
		return badRequest(c, err.Error())
	}

	if g.WorkflowID != id {
		return badRequest(c, "Workflow ID in body does not match URL")
	}

	graph.Normalize(g)

	findings := graph.Validate(g)
	if graph.HasErrors(findings) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ValidateGraphResponse{
			Valid:    false,
			Findings: findings,
		})
	}

	if err := h.persistence.Graphs().Save(c.Context(), g); err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflow": g,
		"findings": findings,
	})
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.persistence.Graphs().Delete(c.Context(), id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ValidateWorkflow checks a graph without persisting it. The response always
// carries the full finding list so an editor can surface warnings too.
func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	g, err := graph.Load(c.Body())
	if err != nil {
		return badRequest(c, err.Error())
	}

	graph.Normalize(g)

	findings := graph.Validate(g)
	if findings == nil {
		findings = []graph.StructuralError{}
	}

	return c.JSON(ValidateGraphResponse{
		Valid:    !graph.HasErrors(findings),
		Findings: findings,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck := "ok"
	repOk := true

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		repositoryCheck = err.Error()
		repOk = false
	}

	registryCheck := "ok"
	regOk := h.registry.Supports(models.NodeTypeWebhook) &&
		h.registry.Supports(models.NodeTypeEmail) &&
		h.registry.Supports(models.NodeTypeNotification)

	if !regOk {
		registryCheck = "missing executor factories"
	}

	status := "unhealthy"
	message := "Docflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Docflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
