package engine

import (
	"errors"
	"fmt"

	"github.com/nocodile/docflow/pkg/approval"
	"github.com/nocodile/docflow/pkg/persistence"
)

// Request errors (4xx responses).
var (
	ErrUnknownConnection = errors.New("connection not found in workflow graph")
	ErrWrongSourceNode   = errors.New("action does not originate at the document's position")
	ErrCommentRequired   = errors.New("action requires a comment")
	ErrNoPendingTask     = errors.New("no pending approval task for this node")
	ErrUnauthorizedActor = errors.New("acting user may not perform this action")
	ErrNoBranchSocket    = errors.New("no connection for selected branch")
	ErrWalkDepthExceeded = errors.New("transition walk exceeded depth limit")
)

// EngineError wraps a failed engine operation with its operation name and an
// API-facing code.
type EngineError struct {
	Op   string
	Code string
	Err  error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError reports whether an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrUnknownConnection) ||
		errors.Is(err, ErrWrongSourceNode) ||
		errors.Is(err, ErrCommentRequired) ||
		errors.Is(err, ErrNoPendingTask) ||
		errors.Is(err, ErrNoBranchSocket) ||
		errors.Is(err, approval.ErrConflictingDecision)
}

// IsAuthorizationError reports whether an error should map to HTTP 403.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrUnauthorizedActor) ||
		errors.Is(err, approval.ErrNotAnApprover)
}

// IsConflictError reports whether an error should map to HTTP 409. A version
// conflict means a concurrent writer moved the document first.
func IsConflictError(err error) bool {
	return persistence.IsVersionConflict(err)
}

func newEngineError(op, code string, err error) *EngineError {
	return &EngineError{Op: op, Code: code, Err: err}
}
