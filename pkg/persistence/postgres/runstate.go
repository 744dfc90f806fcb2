package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
)

type RunStateRepository struct {
	db *sql.DB
}

// CreateApprovalTask relies on the partial unique index over pending tasks:
// a concurrent insert for the same document and node loses the race and
// returns the task that won.
func (r *RunStateRepository) CreateApprovalTask(ctx context.Context, task *models.ApprovalTask) (*models.ApprovalTask, bool, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode approval task: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO approval_tasks (id, document_id, node_id, status, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id, node_id) WHERE status = 'pending' DO NOTHING
	`, task.ID, task.DocumentID, task.NodeID, task.Status, data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create approval task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	if affected == 0 {
		existing, err := r.PendingTask(ctx, task.DocumentID, task.NodeID)
		if err != nil {
			return nil, false, err
		}

		return existing, false, nil
	}

	return task, true, nil
}

func (r *RunStateRepository) SaveApprovalTask(ctx context.Context, task *models.ApprovalTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode approval task: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE approval_tasks SET status = $1, data = $2 WHERE id = $3
	`, task.Status, data, task.ID)
	if err != nil {
		return fmt.Errorf("failed to save approval task: %w", err)
	}

	return nil
}

func (r *RunStateRepository) PendingTask(ctx context.Context, documentID, nodeID string) (*models.ApprovalTask, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM approval_tasks
		WHERE document_id = $1 AND node_id = $2 AND status = 'pending'
	`, documentID, nodeID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTaskNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query approval task: %w", err)
	}

	return decodeTask(data)
}

func (r *RunStateRepository) PendingTasksForDocument(ctx context.Context, documentID string) ([]*models.ApprovalTask, error) {
	return r.queryTasks(ctx, `
		SELECT data FROM approval_tasks
		WHERE document_id = $1 AND status = 'pending'
		ORDER BY id
	`, documentID)
}

func (r *RunStateRepository) PendingTasksForUser(ctx context.Context, userID string) ([]*models.ApprovalTask, error) {
	return r.queryTasks(ctx, `
		SELECT data FROM approval_tasks
		WHERE status = 'pending' AND data->'approver_ids' ? $1
		ORDER BY id
	`, userID)
}

func (r *RunStateRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*models.ApprovalTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.ApprovalTask

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		task, err := decodeTask(data)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func decodeTask(data []byte) (*models.ApprovalTask, error) {
	var task models.ApprovalTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to decode approval task: %w", err)
	}

	return &task, nil
}

func (r *RunStateRepository) SaveForkRun(ctx context.Context, run *models.ForkRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode fork run: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO fork_runs (id, document_id, fork_node_id, status, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data
	`, run.ID, run.DocumentID, run.ForkNodeID, run.Status, data)
	if err != nil {
		return fmt.Errorf("failed to save fork run: %w", err)
	}

	return nil
}

func (r *RunStateRepository) ForkRun(ctx context.Context, id string) (*models.ForkRun, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, `SELECT data FROM fork_runs WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrRunNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query fork run: %w", err)
	}

	return decodeRun(data)
}

func (r *RunStateRepository) ActiveForkRun(ctx context.Context, documentID, forkNodeID string) (*models.ForkRun, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM fork_runs
		WHERE document_id = $1 AND fork_node_id = $2 AND status = 'branches_pending'
	`, documentID, forkNodeID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrRunNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query fork run: %w", err)
	}

	return decodeRun(data)
}

func decodeRun(data []byte) (*models.ForkRun, error) {
	var run models.ForkRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode fork run: %w", err)
	}

	return &run, nil
}

func (r *RunStateRepository) ScheduleResumption(ctx context.Context, resumption *models.PendingResumption) error {
	data, err := json.Marshal(resumption)
	if err != nil {
		return fmt.Errorf("failed to encode resumption: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO resumptions (id, resume_at, delivered, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, resumption.ID, resumption.ResumeAt, resumption.Delivered, data)
	if err != nil {
		return fmt.Errorf("failed to schedule resumption: %w", err)
	}

	return nil
}

func (r *RunStateRepository) DueResumptions(ctx context.Context, now time.Time) ([]*models.PendingResumption, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT data FROM resumptions
		WHERE delivered = FALSE AND resume_at <= $1
		ORDER BY resume_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query resumptions: %w", err)
	}
	defer rows.Close()

	var due []*models.PendingResumption

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		var resumption models.PendingResumption
		if err := json.Unmarshal(data, &resumption); err != nil {
			return nil, fmt.Errorf("failed to decode resumption: %w", err)
		}

		due = append(due, &resumption)
	}

	return due, rows.Err()
}

func (r *RunStateRepository) ClaimResumption(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE resumptions
		SET delivered = TRUE, data = jsonb_set(data, '{delivered}', 'true')
		WHERE id = $1 AND delivered = FALSE
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim resumption: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *RunStateRepository) SaveViewGrant(ctx context.Context, grant *models.ViewGrant) error {
	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("failed to encode view grant: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO view_grants (document_id, node_id, data) VALUES ($1, $2, $3)
		ON CONFLICT (document_id, node_id) DO UPDATE SET data = EXCLUDED.data
	`, grant.DocumentID, grant.NodeID, data)
	if err != nil {
		return fmt.Errorf("failed to save view grant: %w", err)
	}

	return nil
}

func (r *RunStateRepository) ViewGrants(ctx context.Context, documentID string) ([]*models.ViewGrant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT data FROM view_grants WHERE document_id = $1 ORDER BY node_id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query view grants: %w", err)
	}
	defer rows.Close()

	var grants []*models.ViewGrant

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		var grant models.ViewGrant
		if err := json.Unmarshal(data, &grant); err != nil {
			return nil, fmt.Errorf("failed to decode view grant: %w", err)
		}

		grants = append(grants, &grant)
	}

	return grants, rows.Err()
}

func (r *RunStateRepository) SaveChildFormRequest(ctx context.Context, request *models.ChildFormRequest) error {
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode child form request: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO child_form_requests (document_id, node_id, data) VALUES ($1, $2, $3)
		ON CONFLICT (document_id, node_id) DO UPDATE SET data = EXCLUDED.data
	`, request.DocumentID, request.NodeID, data)
	if err != nil {
		return fmt.Errorf("failed to save child form request: %w", err)
	}

	return nil
}

func (r *RunStateRepository) ChildFormRequests(ctx context.Context, documentID string) ([]*models.ChildFormRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT data FROM child_form_requests WHERE document_id = $1 ORDER BY node_id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query child form requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.ChildFormRequest

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		var request models.ChildFormRequest
		if err := json.Unmarshal(data, &request); err != nil {
			return nil, fmt.Errorf("failed to decode child form request: %w", err)
		}

		requests = append(requests, &request)
	}

	return requests, rows.Err()
}
