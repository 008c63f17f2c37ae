package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"not found", NotFound("request", 7), ErrCodeNotFound},
		{"validation", InvalidInput("title", "required"), ErrCodeValidation},
		{"permission", Forbidden("no"), ErrCodePermission},
		{"state", InvalidState("already approved"), ErrCodeState},
		{"conflict", Conflict("lost race"), ErrCodeConflict},
		{"wrapped by fmt", fmt.Errorf("outer: %w", NotFound("workflow", 1)), ErrCodeNotFound},
		{"plain error", stderrors.New("boom"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestWrapKeepsExistingCode(t *testing.T) {
	inner := InvalidState("request is already approved")
	err := Wrap(inner, ErrCodeInternal, "failed to decide")
	assert.True(t, IsState(err))

	wrapped := Wrap(stderrors.New("connection reset"), ErrCodeInternal, "failed to load request")
	assert.Equal(t, ErrCodeInternal, CodeOf(wrapped))
	assert.Equal(t, "failed to load request", Message(wrapped))
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "unused"))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "title: must not be empty", Message(InvalidInput("title", "must not be empty")))
	assert.Equal(t, "request 3 not found", Message(NotFound("request", 3)))
	assert.Equal(t, "internal error", Message(stderrors.New("pq: secret detail")))
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("ctx: %w", NotFound("request", 1))
	assert.True(t, stderrors.Is(err, &Error{Code: ErrCodeNotFound}))
	assert.False(t, stderrors.Is(err, &Error{Code: ErrCodeState}))
}
