package engine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nocodile/docflow/pkg/approval"
	"github.com/nocodile/docflow/pkg/engine"
	"github.com/nocodile/docflow/pkg/persistence"
)

func TestEngineError(t *testing.T) {
	t.Parallel()

	t.Run("message carries op and cause", func(t *testing.T) {
		err := &engine.EngineError{Op: "Transition", Code: "comment_required", Err: engine.ErrCommentRequired}

		assert.Contains(t, err.Error(), "Transition")
		assert.Contains(t, err.Error(), "action requires a comment")
	})

	t.Run("unwraps to the sentinel", func(t *testing.T) {
		err := &engine.EngineError{Op: "Transition", Code: "unknown_connection", Err: engine.ErrUnknownConnection}

		assert.True(t, errors.Is(err, engine.ErrUnknownConnection))
		assert.False(t, errors.Is(err, engine.ErrCommentRequired))
	})
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	wrap := func(cause error) error {
		return &engine.EngineError{Op: "Transition", Code: "test", Err: cause}
	}

	t.Run("validation errors", func(t *testing.T) {
		assert.True(t, engine.IsValidationError(wrap(engine.ErrUnknownConnection)))
		assert.True(t, engine.IsValidationError(wrap(engine.ErrWrongSourceNode)))
		assert.True(t, engine.IsValidationError(wrap(engine.ErrCommentRequired)))
		assert.True(t, engine.IsValidationError(wrap(engine.ErrNoPendingTask)))
		assert.True(t, engine.IsValidationError(wrap(approval.ErrConflictingDecision)))
		assert.False(t, engine.IsValidationError(wrap(engine.ErrUnauthorizedActor)))
	})

	t.Run("authorization errors", func(t *testing.T) {
		assert.True(t, engine.IsAuthorizationError(wrap(engine.ErrUnauthorizedActor)))
		assert.True(t, engine.IsAuthorizationError(wrap(approval.ErrNotAnApprover)))
		assert.False(t, engine.IsAuthorizationError(wrap(engine.ErrCommentRequired)))
	})

	t.Run("conflict errors", func(t *testing.T) {
		assert.True(t, engine.IsConflictError(wrap(persistence.ErrVersionConflict)))
		assert.False(t, engine.IsConflictError(wrap(engine.ErrUnknownConnection)))
	})
}
