package models

import "time"

// Run state: per-document execution bookkeeping owned by the engine. These
// records live outside the Document itself and are destroyed or retained per
// their own lifecycle (approval tasks keep an audit trail, fork runs end at
// their join, resumptions are consumed on delivery).

// ApprovalTaskStatus is the lifecycle of one approval task.
type ApprovalTaskStatus string

const (
	TaskStatusPending   ApprovalTaskStatus = "pending"
	TaskStatusCompleted ApprovalTaskStatus = "completed"
	TaskStatusCancelled ApprovalTaskStatus = "cancelled"
)

// ApprovalDecision is one approver's recorded action on a task.
type ApprovalDecision struct {
	ApproverID   string    `json:"approver_id"`
	ConnectionID string    `json:"connection_id"`
	ActionKey    string    `json:"action_key"`
	Comment      string    `json:"comment,omitempty"`
	At           time.Time `json:"at"`
}

// ApprovalTask is the pending work item created when a document activates an
// approval node. Approvers are resolved once at creation; re-resolution only
// happens on escalation.
type ApprovalTask struct {
	ID          string             `json:"id"`
	DocumentID  string             `json:"document_id"`
	NodeID      string             `json:"node_id"`
	Status      ApprovalTaskStatus `json:"status"`
	ApproverIDs []string           `json:"approver_ids"`
	Type        ApprovalType       `json:"approval_type"`

	// Decisions keyed by approver id, for the "all" barrier.
	Decisions map[string]ApprovalDecision `json:"decisions,omitempty"`

	// Fork branch context, set when the approval node sits inside a
	// fork/join region.
	ForkRunID string `json:"fork_run_id,omitempty"`
	BranchID  string `json:"branch_id,omitempty"`

	DueAt       *time.Time `json:"due_at,omitempty"`
	Escalated   bool       `json:"escalated"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
	ActionTaken string     `json:"action_taken,omitempty"`
	Comment     string     `json:"comment,omitempty"`
}

// DecisionFor returns the recorded decision of one approver, if any.
func (t *ApprovalTask) DecisionFor(approverID string) (ApprovalDecision, bool) {
	decision, ok := t.Decisions[approverID]

	return decision, ok
}

// Assigned reports whether the user is one of the task's resolved approvers.
func (t *ApprovalTask) Assigned(userID string) bool {
	for _, id := range t.ApproverIDs {
		if id == userID {
			return true
		}
	}

	return false
}

// ForkRunStatus is the barrier state of one fork/join pass.
type ForkRunStatus string

const (
	ForkRunPending   ForkRunStatus = "branches_pending"
	ForkRunCompleted ForkRunStatus = "completed"
	ForkRunTimedOut  ForkRunStatus = "timed_out"
)

// ForkRun tracks one document's single pass through a fork/join subgraph.
// Branch tokens are the keys of Outstanding; they move to Arrived as each
// branch reaches the join.
type ForkRun struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	ForkNodeID string        `json:"fork_node_id"`
	JoinNodeID string        `json:"join_node_id"`
	JoinType   JoinType      `json:"join_type"`
	Expected   []string      `json:"expected"`
	Arrived    []string      `json:"arrived,omitempty"`
	Status     ForkRunStatus `json:"status"`

	TimeoutAction TimeoutAction `json:"timeout_action,omitempty"`
	Deadline      *time.Time    `json:"deadline,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HasArrived reports whether the branch token already reached the join.
func (r *ForkRun) HasArrived(branchID string) bool {
	for _, id := range r.Arrived {
		if id == branchID {
			return true
		}
	}

	return false
}

// Outstanding returns the expected branches that have not arrived yet.
func (r *ForkRun) Outstanding() []string {
	var out []string

	for _, id := range r.Expected {
		if !r.HasArrived(id) {
			out = append(out, id)
		}
	}

	return out
}

// ResumptionKind discriminates scheduler-delivered resumptions.
type ResumptionKind string

const (
	ResumptionTimer       ResumptionKind = "timer"
	ResumptionJoinTimeout ResumptionKind = "join_timeout"
)

// PendingResumption is a persisted suspension point waiting for an external
// scheduler. Delivery is guarded by a one-shot claim so that a retrying
// scheduler cannot double-apply the effect.
type PendingResumption struct {
	ID         string         `json:"id"`
	Kind       ResumptionKind `json:"kind"`
	DocumentID string         `json:"document_id"`
	NodeID     string         `json:"node_id"`
	ResumeAt   time.Time      `json:"resume_at"`
	Delivered  bool           `json:"delivered"`

	// Fork branch context for timers inside a fork/join region; ForkRunID
	// alone for join timeouts.
	ForkRunID string `json:"fork_run_id,omitempty"`
	BranchID  string `json:"branch_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ViewGrant is the overlay produced by traversing a view_permission node.
type ViewGrant struct {
	DocumentID string    `json:"document_id"`
	NodeID     string    `json:"node_id"`
	Roles      []string  `json:"roles,omitempty"`
	Users      []string  `json:"users,omitempty"`
	GrantedAt  time.Time `json:"granted_at"`
}

// ChildFormRequest records a child_form_entry checkpoint traversal.
type ChildFormRequest struct {
	DocumentID  string    `json:"document_id"`
	NodeID      string    `json:"node_id"`
	FormKey     string    `json:"form_key"`
	Required    bool      `json:"required"`
	RequestedAt time.Time `json:"requested_at"`
}
