// Package events defines event types published on document lifecycle changes.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const Topic = "docflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Document lifecycle events.
	DocumentTransitionedEvent     EventType = "document.transitioned"
	DocumentTransitionFailedEvent EventType = "document.transition.failed"

	// Approval events.
	ApprovalTaskCreatedEvent      EventType = "approval.task.created"
	ApprovalDecisionRecordedEvent EventType = "approval.decision.recorded"

	// Fork/join events.
	BranchArrivedEvent EventType = "branch.arrived"
	JoinCompletedEvent EventType = "join.completed"
	JoinTimedOutEvent  EventType = "join.timedout"

	// Scheduler and side effect events.
	TimerScheduledEvent   EventType = "timer.scheduled"
	SideEffectFailedEvent EventType = "sideeffect.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	DocumentID string         `json:"document_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type DocumentTransitioned struct {
	BaseEvent

	FromStateID string `json:"from_state_id"`
	ToStateID   string `json:"to_state_id"`
	ActionKey   string `json:"action_key,omitempty"`
	ByUserID    string `json:"by_user_id,omitempty"`
	IsFinal     bool   `json:"is_final"`
}

func (e DocumentTransitioned) GetType() EventType {
	return DocumentTransitionedEvent
}

type DocumentTransitionFailed struct {
	BaseEvent

	ConnectionID string `json:"connection_id,omitempty"`
	Error        string `json:"error"`
}

func (e DocumentTransitionFailed) GetType() EventType {
	return DocumentTransitionFailedEvent
}

type ApprovalTaskCreated struct {
	BaseEvent

	TaskID      string     `json:"task_id"`
	NodeID      string     `json:"node_id"`
	ApproverIDs []string   `json:"approver_ids"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

func (e ApprovalTaskCreated) GetType() EventType {
	return ApprovalTaskCreatedEvent
}

type ApprovalDecisionRecorded struct {
	BaseEvent

	TaskID     string `json:"task_id"`
	NodeID     string `json:"node_id"`
	ApproverID string `json:"approver_id"`
	ActionKey  string `json:"action_key"`
	Completed  bool   `json:"completed"`
}

func (e ApprovalDecisionRecorded) GetType() EventType {
	return ApprovalDecisionRecordedEvent
}

type BranchArrived struct {
	BaseEvent

	ForkRunID string `json:"fork_run_id"`
	BranchID  string `json:"branch_id"`
	JoinID    string `json:"join_id"`
}

func (e BranchArrived) GetType() EventType {
	return BranchArrivedEvent
}

type JoinCompleted struct {
	BaseEvent

	ForkRunID string   `json:"fork_run_id"`
	JoinID    string   `json:"join_id"`
	Arrived   []string `json:"arrived"`
}

func (e JoinCompleted) GetType() EventType {
	return JoinCompletedEvent
}

type JoinTimedOut struct {
	BaseEvent

	ForkRunID   string   `json:"fork_run_id"`
	JoinID      string   `json:"join_id"`
	Action      string   `json:"action"`
	Outstanding []string `json:"outstanding,omitempty"`
}

func (e JoinTimedOut) GetType() EventType {
	return JoinTimedOutEvent
}

type TimerScheduled struct {
	BaseEvent

	ResumptionID string    `json:"resumption_id"`
	NodeID       string    `json:"node_id"`
	ResumeAt     time.Time `json:"resume_at"`
}

func (e TimerScheduled) GetType() EventType {
	return TimerScheduledEvent
}

type SideEffectFailed struct {
	BaseEvent

	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type"`
	Error    string `json:"error"`
}

func (e SideEffectFailed) GetType() EventType {
	return SideEffectFailedEvent
}

func NewBaseEvent(eventType EventType, workflowID, documentID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		DocumentID: documentID,
		Metadata:   make(map[string]any),
	}
}
