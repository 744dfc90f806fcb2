// Package persistence provides the storage abstraction the engine writes
// document state and run state through. The engine requires a single-writer
// discipline per document; implementations provide it with an optimistic
// version check on the state write.
package persistence

import (
	"context"
	"time"

	"github.com/nocodile/docflow/pkg/models"
)

// Persistence bundles every repository of one storage backend.
type Persistence interface {
	Graphs() GraphRepository
	Documents() DocumentRepository
	RunState() RunStateRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// GraphRepository stores workflow graphs. Graphs are read-only to the engine;
// Save exists for the editor-facing API.
type GraphRepository interface {
	GetByID(ctx context.Context, workflowID string) (*models.WorkflowGraph, error)
	Save(ctx context.Context, graph *models.WorkflowGraph) error
	List(ctx context.Context) ([]*models.WorkflowGraph, error)
	Delete(ctx context.Context, workflowID string) error
}

// DocumentRepository stores documents and their transition history.
type DocumentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
	Save(ctx context.Context, doc *models.Document) error

	// UpdateState performs the compare-and-swap state write: it moves the
	// document to newStateID only when its version still equals
	// fromVersion, incrementing the version. Returns ErrVersionConflict
	// when another writer got there first.
	UpdateState(ctx context.Context, id string, fromVersion int64, newStateID string) (*models.Document, error)

	AppendHistory(ctx context.Context, entry *models.StateHistoryEntry) error
	History(ctx context.Context, documentID string) ([]*models.StateHistoryEntry, error)
}

// RunStateRepository stores per-execution run state: approval tasks, fork/join
// runs, pending resumptions, and permission overlays.
type RunStateRepository interface {
	// CreateApprovalTask persists a new task unless a pending task for the
	// same document and node already exists, in which case the existing
	// task is returned with created=false.
	CreateApprovalTask(ctx context.Context, task *models.ApprovalTask) (existing *models.ApprovalTask, created bool, err error)
	SaveApprovalTask(ctx context.Context, task *models.ApprovalTask) error
	PendingTask(ctx context.Context, documentID, nodeID string) (*models.ApprovalTask, error)
	PendingTasksForDocument(ctx context.Context, documentID string) ([]*models.ApprovalTask, error)
	PendingTasksForUser(ctx context.Context, userID string) ([]*models.ApprovalTask, error)

	SaveForkRun(ctx context.Context, run *models.ForkRun) error
	ForkRun(ctx context.Context, id string) (*models.ForkRun, error)
	ActiveForkRun(ctx context.Context, documentID, forkNodeID string) (*models.ForkRun, error)

	ScheduleResumption(ctx context.Context, resumption *models.PendingResumption) error
	DueResumptions(ctx context.Context, now time.Time) ([]*models.PendingResumption, error)
	// ClaimResumption marks a resumption delivered. It returns false when
	// the resumption was already delivered, making scheduler redelivery
	// idempotent.
	ClaimResumption(ctx context.Context, id string) (bool, error)

	SaveViewGrant(ctx context.Context, grant *models.ViewGrant) error
	ViewGrants(ctx context.Context, documentID string) ([]*models.ViewGrant, error)

	SaveChildFormRequest(ctx context.Context, request *models.ChildFormRequest) error
	ChildFormRequests(ctx context.Context, documentID string) ([]*models.ChildFormRequest, error)
}
