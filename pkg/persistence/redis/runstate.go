package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
)

// RunStateRepository stores run state with secondary index sets per document
// and user, and a sorted set over resumption due times.
type RunStateRepository struct {
	client *redis.Client
}

func (r *RunStateRepository) CreateApprovalTask(ctx context.Context, task *models.ApprovalTask) (*models.ApprovalTask, bool, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	// Pending uniqueness per document+node is enforced with SETNX on a
	// dedicated marker key.
	pendingKey := key("task", "pending", task.DocumentID, task.NodeID)

	created, err := r.client.SetNX(ctx, pendingKey, task.ID, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claiming pending task slot: %w", err)
	}

	if !created {
		existingID, err := r.client.Get(ctx, pendingKey).Result()
		if err != nil {
			return nil, false, err
		}

		existing, err := r.task(ctx, existingID)
		if err != nil {
			return nil, false, err
		}

		return existing, false, nil
	}

	if err := r.saveTask(ctx, task); err != nil {
		return nil, false, err
	}

	return task, true, nil
}

func (r *RunStateRepository) SaveApprovalTask(ctx context.Context, task *models.ApprovalTask) error {
	if task.Status != models.TaskStatusPending {
		// Release the pending slot when the task ends.
		pendingKey := key("task", "pending", task.DocumentID, task.NodeID)

		current, err := r.client.Get(ctx, pendingKey).Result()
		if err == nil && current == task.ID {
			if err := r.client.Del(ctx, pendingKey).Err(); err != nil {
				return err
			}
		}
	}

	return r.saveTask(ctx, task)
}

func (r *RunStateRepository) saveTask(ctx context.Context, task *models.ApprovalTask) error {
	if err := setJSON(ctx, r.client, key("task", task.ID), task); err != nil {
		return err
	}

	if err := r.client.SAdd(ctx, key("tasks", "doc", task.DocumentID), task.ID).Err(); err != nil {
		return err
	}

	for _, approver := range task.ApproverIDs {
		if err := r.client.SAdd(ctx, key("tasks", "user", approver), task.ID).Err(); err != nil {
			return err
		}
	}

	return nil
}

func (r *RunStateRepository) task(ctx context.Context, id string) (*models.ApprovalTask, error) {
	var task models.ApprovalTask
	if err := getJSON(ctx, r.client, key("task", id), &task, persistence.ErrTaskNotFound); err != nil {
		return nil, err
	}

	return &task, nil
}

func (r *RunStateRepository) PendingTask(ctx context.Context, documentID, nodeID string) (*models.ApprovalTask, error) {
	id, err := r.client.Get(ctx, key("task", "pending", documentID, nodeID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrTaskNotFound
	}

	if err != nil {
		return nil, err
	}

	return r.task(ctx, id)
}

func (r *RunStateRepository) PendingTasksForDocument(ctx context.Context, documentID string) ([]*models.ApprovalTask, error) {
	return r.pendingTasksIn(ctx, key("tasks", "doc", documentID))
}

func (r *RunStateRepository) PendingTasksForUser(ctx context.Context, userID string) ([]*models.ApprovalTask, error) {
	return r.pendingTasksIn(ctx, key("tasks", "user", userID))
}

func (r *RunStateRepository) pendingTasksIn(ctx context.Context, indexKey string) ([]*models.ApprovalTask, error) {
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*models.ApprovalTask, 0, len(ids))

	for _, id := range ids {
		task, err := r.task(ctx, id)
		if errors.Is(err, persistence.ErrTaskNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if task.Status == models.TaskStatusPending {
			tasks = append(tasks, task)
		}
	}

	return tasks, nil
}

func (r *RunStateRepository) SaveForkRun(ctx context.Context, run *models.ForkRun) error {
	if err := setJSON(ctx, r.client, key("run", run.ID), run); err != nil {
		return err
	}

	activeKey := key("run", "active", run.DocumentID, run.ForkNodeID)

	if run.Status == models.ForkRunPending {
		return r.client.Set(ctx, activeKey, run.ID, 0).Err()
	}

	return r.client.Del(ctx, activeKey).Err()
}

func (r *RunStateRepository) ForkRun(ctx context.Context, id string) (*models.ForkRun, error) {
	var run models.ForkRun
	if err := getJSON(ctx, r.client, key("run", id), &run, persistence.ErrRunNotFound); err != nil {
		return nil, err
	}

	return &run, nil
}

func (r *RunStateRepository) ActiveForkRun(ctx context.Context, documentID, forkNodeID string) (*models.ForkRun, error) {
	id, err := r.client.Get(ctx, key("run", "active", documentID, forkNodeID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrRunNotFound
	}

	if err != nil {
		return nil, err
	}

	return r.ForkRun(ctx, id)
}

func (r *RunStateRepository) ScheduleResumption(ctx context.Context, resumption *models.PendingResumption) error {
	if resumption.ID == "" {
		resumption.ID = uuid.New().String()
	}

	if resumption.CreatedAt.IsZero() {
		resumption.CreatedAt = time.Now().UTC()
	}

	if err := setJSON(ctx, r.client, key("resumption", resumption.ID), resumption); err != nil {
		return err
	}

	return r.client.ZAdd(ctx, key("resumptions", "due"), redis.Z{
		Score:  float64(resumption.ResumeAt.Unix()),
		Member: resumption.ID,
	}).Err()
}

func (r *RunStateRepository) DueResumptions(ctx context.Context, now time.Time) ([]*models.PendingResumption, error) {
	ids, err := r.client.ZRangeByScore(ctx, key("resumptions", "due"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	due := make([]*models.PendingResumption, 0, len(ids))

	for _, id := range ids {
		var resumption models.PendingResumption

		err := getJSON(ctx, r.client, key("resumption", id), &resumption, persistence.ErrResumptionNotFound)
		if errors.Is(err, persistence.ErrResumptionNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if !resumption.Delivered {
			due = append(due, &resumption)
		}
	}

	return due, nil
}

// ClaimResumption flips the delivered flag inside a WATCH transaction; only
// one scheduler delivery wins.
func (r *RunStateRepository) ClaimResumption(ctx context.Context, id string) (bool, error) {
	resumptionKey := key("resumption", id)
	claimed := false

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, resumptionKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return persistence.ErrResumptionNotFound
		}

		if err != nil {
			return err
		}

		var resumption models.PendingResumption
		if err := json.Unmarshal(data, &resumption); err != nil {
			return err
		}

		if resumption.Delivered {
			return nil
		}

		resumption.Delivered = true
		claimed = true

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := setJSON(ctx, pipe, resumptionKey, &resumption); err != nil {
				return err
			}

			return pipe.ZRem(ctx, key("resumptions", "due"), id).Err()
		})

		return err
	}

	err := r.client.Watch(ctx, txn, resumptionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return claimed, nil
}

func (r *RunStateRepository) SaveViewGrant(ctx context.Context, grant *models.ViewGrant) error {
	data, err := json.Marshal(grant)
	if err != nil {
		return err
	}

	return r.client.HSet(ctx, key("grants", grant.DocumentID), grant.NodeID, data).Err()
}

func (r *RunStateRepository) ViewGrants(ctx context.Context, documentID string) ([]*models.ViewGrant, error) {
	raw, err := r.client.HGetAll(ctx, key("grants", documentID)).Result()
	if err != nil {
		return nil, err
	}

	grants := make([]*models.ViewGrant, 0, len(raw))

	for _, item := range raw {
		var grant models.ViewGrant
		if err := json.Unmarshal([]byte(item), &grant); err != nil {
			return nil, err
		}

		grants = append(grants, &grant)
	}

	return grants, nil
}

func (r *RunStateRepository) SaveChildFormRequest(ctx context.Context, request *models.ChildFormRequest) error {
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}

	return r.client.HSet(ctx, key("childforms", request.DocumentID), request.NodeID, data).Err()
}

func (r *RunStateRepository) ChildFormRequests(ctx context.Context, documentID string) ([]*models.ChildFormRequest, error) {
	raw, err := r.client.HGetAll(ctx, key("childforms", documentID)).Result()
	if err != nil {
		return nil, err
	}

	requests := make([]*models.ChildFormRequest, 0, len(raw))

	for _, item := range raw {
		var request models.ChildFormRequest
		if err := json.Unmarshal([]byte(item), &request); err != nil {
			return nil, err
		}

		requests = append(requests, &request)
	}

	return requests, nil
}
