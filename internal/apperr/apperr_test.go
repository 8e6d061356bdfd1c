package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("student_not_found", "")))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("wrapped: %w", Conflict("already_marked", ""))))
	assert.Equal(t, KindStorage, KindOf(errors.New("boom")))
}

func TestStorageKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Storage("insert attendance", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "server_error", err.Code)
	assert.Equal(t, "internal server error", err.Message)
	assert.Contains(t, err.Error(), "insert attendance")
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Policy("weekend_blocked", "weekend"))
	assert.True(t, HasCode(err, "weekend_blocked"))
	assert.False(t, HasCode(err, "already_marked"))
	assert.False(t, HasCode(nil, "weekend_blocked"))
}

func TestDuplicateError(t *testing.T) {
	err := fmt.Errorf("insert: %w", &DuplicateError{Constraint: "students_email_key"})

	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, "students_email_key", Constraint(err))
	assert.Equal(t, "", Constraint(ErrNotFound))
}
