// Package forkjoin manages the parallel branch tokens created by a fork node
// and their synchronization at the matching join node. The coordinator is a
// pure state machine over ForkRun records; callers persist the run between
// steps, which keeps timeout handling idempotent under scheduler redelivery.
package forkjoin

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nocodile/docflow/pkg/models"
)

var (
	// ErrUnknownBranch is returned when an arriving token names a branch
	// the run does not expect.
	ErrUnknownBranch = errors.New("branch not expected by join")
)

// Coordinator drives fork/join runs. It holds no per-run state of its own.
type Coordinator struct {
	now func() time.Time
}

// NewCoordinator creates a coordinator using wall-clock time.
func NewCoordinator() *Coordinator {
	return &Coordinator{now: func() time.Time { return time.Now().UTC() }}
}

// NewCoordinatorAt creates a coordinator with an injected clock.
func NewCoordinatorAt(now func() time.Time) *Coordinator {
	return &Coordinator{now: now}
}

// StartRun creates the run record for one document entering a fork node: one
// pending branch token per configured branch, and the join barrier armed with
// the join node's expectations. When the join config does not list expected
// branches, every fork branch is expected.
func (c *Coordinator) StartRun(
	doc *models.Document,
	forkNode *models.Node,
	forkConfig *models.ForkConfig,
	joinNodeID string,
	joinConfig *models.JoinConfig,
) *models.ForkRun {
	expected := joinConfig.ExpectedBranches
	if len(expected) == 0 {
		expected = make([]string, 0, len(forkConfig.Branches))
		for _, branch := range forkConfig.Branches {
			expected = append(expected, branch.ID)
		}
	}

	run := &models.ForkRun{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		ForkNodeID: forkNode.ID,
		JoinNodeID: joinNodeID,
		JoinType:   joinConfig.JoinType,
		Expected:   append([]string(nil), expected...),
		Status:     models.ForkRunPending,
		StartedAt:  c.now(),
	}

	if joinConfig.Timeout != nil && joinConfig.Timeout.Enabled {
		deadline := run.StartedAt.AddDate(0, 0, joinConfig.Timeout.Days)
		run.Deadline = &deadline
		run.TimeoutAction = joinConfig.Timeout.Action
	}

	return run
}

// Arrival is the result of one branch token reaching the join.
type Arrival struct {
	// Completed is true when this arrival satisfied the barrier. Exactly
	// one arrival per run completes it; the caller continues past the join
	// for that arrival only.
	Completed bool
	// NoOp is true when the run was already completed or timed out; the
	// token is discarded without effect.
	NoOp bool
}

// Arrive records a branch token reaching the join. For an "all" join the run
// completes once every expected branch has arrived; for an "any" join the
// first arrival completes it and later arrivals are no-ops (abandoned
// branches are not compensated).
func (c *Coordinator) Arrive(run *models.ForkRun, branchID string) (Arrival, error) {
	if run.Status != models.ForkRunPending {
		return Arrival{NoOp: true}, nil
	}

	expected := false

	for _, id := range run.Expected {
		if id == branchID {
			expected = true

			break
		}
	}

	if !expected {
		return Arrival{}, fmt.Errorf("%w: %q", ErrUnknownBranch, branchID)
	}

	if run.HasArrived(branchID) {
		return Arrival{NoOp: true}, nil
	}

	run.Arrived = append(run.Arrived, branchID)

	switch run.JoinType {
	case models.JoinAny:
		c.complete(run)

		return Arrival{Completed: true}, nil
	default: // all
		if len(run.Outstanding()) == 0 {
			c.complete(run)

			return Arrival{Completed: true}, nil
		}

		return Arrival{}, nil
	}
}

// TimeoutResult is the outcome of applying a join timeout.
type TimeoutResult struct {
	// Applied is false when the run already completed or timed out;
	// redelivered timeouts are no-ops.
	Applied bool
	Action  models.TimeoutAction
}

// ApplyTimeout transitions a pending run whose deadline has passed. The
// configured action decides what the caller does next: continue treats the
// run as completed with whatever arrived, escalate keeps the barrier waiting
// while the caller widens the pending approvals, cancel abandons the run.
func (c *Coordinator) ApplyTimeout(run *models.ForkRun) TimeoutResult {
	if run.Status != models.ForkRunPending {
		return TimeoutResult{}
	}

	if run.Deadline == nil || c.now().Before(*run.Deadline) {
		return TimeoutResult{}
	}

	action := run.TimeoutAction
	if action == "" {
		action = models.TimeoutCancel
	}

	switch action {
	case models.TimeoutContinue:
		c.complete(run)
	case models.TimeoutEscalate:
		// The run stays pending; clearing the deadline makes a second
		// delivery a no-op.
		run.Deadline = nil
	default:
		now := c.now()
		run.Status = models.ForkRunTimedOut
		run.CompletedAt = &now
	}

	return TimeoutResult{Applied: true, Action: action}
}

func (c *Coordinator) complete(run *models.ForkRun) {
	now := c.now()
	run.Status = models.ForkRunCompleted
	run.CompletedAt = &now
}
