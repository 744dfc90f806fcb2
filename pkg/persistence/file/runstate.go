package file

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
)

// RunStateRepository stores approval tasks, fork runs, pending resumptions,
// and permission overlays under <root>/runstate.
type RunStateRepository struct {
	taskDir       string
	runDir        string
	resumptionDir string
	grantDir      string
	childFormDir  string
	mu            sync.Mutex
}

// NewRunStateRepository creates a run state repository rooted at the given
// directory.
func NewRunStateRepository(root string) *RunStateRepository {
	base := filepath.Join(root, "runstate")

	return &RunStateRepository{
		taskDir:       filepath.Join(base, "tasks"),
		runDir:        filepath.Join(base, "runs"),
		resumptionDir: filepath.Join(base, "resumptions"),
		grantDir:      filepath.Join(base, "grants"),
		childFormDir:  filepath.Join(base, "childforms"),
	}
}

func (r *RunStateRepository) CreateApprovalTask(_ context.Context, task *models.ApprovalTask) (*models.ApprovalTask, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.pendingTask(task.DocumentID, task.NodeID)
	if err == nil {
		return existing, false, nil
	}

	if !errors.Is(err, persistence.ErrTaskNotFound) {
		return nil, false, err
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	if err := writeJSON(r.taskDir, task.ID, task); err != nil {
		return nil, false, err
	}

	return task, true, nil
}

func (r *RunStateRepository) SaveApprovalTask(_ context.Context, task *models.ApprovalTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(r.taskDir, task.ID, task)
}

func (r *RunStateRepository) PendingTask(_ context.Context, documentID, nodeID string) (*models.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pendingTask(documentID, nodeID)
}

func (r *RunStateRepository) pendingTask(documentID, nodeID string) (*models.ApprovalTask, error) {
	var found *models.ApprovalTask

	err := r.eachTask(func(task *models.ApprovalTask) {
		if task.DocumentID == documentID && task.NodeID == nodeID && task.Status == models.TaskStatusPending {
			found = task
		}
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, persistence.ErrTaskNotFound
	}

	return found, nil
}

func (r *RunStateRepository) PendingTasksForDocument(_ context.Context, documentID string) ([]*models.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]*models.ApprovalTask, 0)

	err := r.eachTask(func(task *models.ApprovalTask) {
		if task.DocumentID == documentID && task.Status == models.TaskStatusPending {
			tasks = append(tasks, task)
		}
	})
	if err != nil {
		return nil, err
	}

	sortTasks(tasks)

	return tasks, nil
}

func (r *RunStateRepository) PendingTasksForUser(_ context.Context, userID string) ([]*models.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]*models.ApprovalTask, 0)

	err := r.eachTask(func(task *models.ApprovalTask) {
		if task.Status == models.TaskStatusPending && task.Assigned(userID) {
			tasks = append(tasks, task)
		}
	})
	if err != nil {
		return nil, err
	}

	sortTasks(tasks)

	return tasks, nil
}

func (r *RunStateRepository) eachTask(visit func(*models.ApprovalTask)) error {
	return readAll(r.taskDir, func(data []byte) error {
		var task models.ApprovalTask
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}

		visit(&task)

		return nil
	})
}

func sortTasks(tasks []*models.ApprovalTask) {
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func (r *RunStateRepository) SaveForkRun(_ context.Context, run *models.ForkRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(r.runDir, run.ID, run)
}

func (r *RunStateRepository) ForkRun(_ context.Context, id string) (*models.ForkRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var run models.ForkRun
	if err := readJSON(r.runDir, id, &run, persistence.ErrRunNotFound); err != nil {
		return nil, err
	}

	return &run, nil
}

func (r *RunStateRepository) ActiveForkRun(_ context.Context, documentID, forkNodeID string) (*models.ForkRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *models.ForkRun

	err := readAll(r.runDir, func(data []byte) error {
		var run models.ForkRun
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}

		if run.DocumentID == documentID && run.ForkNodeID == forkNodeID && run.Status == models.ForkRunPending {
			found = &run
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, persistence.ErrRunNotFound
	}

	return found, nil
}

func (r *RunStateRepository) ScheduleResumption(_ context.Context, resumption *models.PendingResumption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if resumption.ID == "" {
		resumption.ID = uuid.New().String()
	}

	if resumption.CreatedAt.IsZero() {
		resumption.CreatedAt = time.Now().UTC()
	}

	return writeJSON(r.resumptionDir, resumption.ID, resumption)
}

func (r *RunStateRepository) DueResumptions(_ context.Context, now time.Time) ([]*models.PendingResumption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]*models.PendingResumption, 0)

	err := readAll(r.resumptionDir, func(data []byte) error {
		var resumption models.PendingResumption
		if err := json.Unmarshal(data, &resumption); err != nil {
			return err
		}

		if !resumption.Delivered && !resumption.ResumeAt.After(now) {
			due = append(due, &resumption)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ResumeAt.Before(due[j].ResumeAt)
	})

	return due, nil
}

func (r *RunStateRepository) ClaimResumption(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var resumption models.PendingResumption
	if err := readJSON(r.resumptionDir, id, &resumption, persistence.ErrResumptionNotFound); err != nil {
		return false, err
	}

	if resumption.Delivered {
		return false, nil
	}

	resumption.Delivered = true

	if err := writeJSON(r.resumptionDir, id, &resumption); err != nil {
		return false, err
	}

	return true, nil
}

func (r *RunStateRepository) SaveViewGrant(_ context.Context, grant *models.ViewGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(r.grantDir, grant.DocumentID+"-"+grant.NodeID, grant)
}

func (r *RunStateRepository) ViewGrants(_ context.Context, documentID string) ([]*models.ViewGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	grants := make([]*models.ViewGrant, 0)

	err := readAll(r.grantDir, func(data []byte) error {
		var grant models.ViewGrant
		if err := json.Unmarshal(data, &grant); err != nil {
			return err
		}

		if grant.DocumentID == documentID {
			grants = append(grants, &grant)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return grants, nil
}

func (r *RunStateRepository) SaveChildFormRequest(_ context.Context, request *models.ChildFormRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(r.childFormDir, request.DocumentID+"-"+request.NodeID, request)
}

func (r *RunStateRepository) ChildFormRequests(_ context.Context, documentID string) ([]*models.ChildFormRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	requests := make([]*models.ChildFormRequest, 0)

	err := readAll(r.childFormDir, func(data []byte) error {
		var request models.ChildFormRequest
		if err := json.Unmarshal(data, &request); err != nil {
			return err
		}

		if request.DocumentID == documentID {
			requests = append(requests, &request)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return requests, nil
}
