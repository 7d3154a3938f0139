package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := NewError(ErrCodeMissingCheckpoint, "u1", "no checkpoint recorded", nil)
	assert.Equal(t, "MISSING_CHECKPOINT: no checkpoint recorded (unit=u1)", err.Error())

	cause := errors.New("connection refused")
	err = NewError(ErrCodeBackendUnavailable, "", "commit failed", cause)
	assert.Equal(t, "BACKEND_UNAVAILABLE: commit failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("cycle aborted: %w", NewError(ErrCodeBackendProtocol, "u2", "empty hash", nil))

	assert.Equal(t, ErrCodeBackendProtocol, CodeOf(err))
	assert.True(t, IsBackendFailure(err))
	assert.False(t, IsMissingCheckpoint(err))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestIndexOf(t *testing.T) {
	units := []Unit{{ID: "a", Kind: UnitKindCode}, {ID: "b", Kind: UnitKindMarkdown}}

	assert.Equal(t, 1, IndexOf(units, "b"))
	assert.Equal(t, -1, IndexOf(units, "c"))
	assert.True(t, units[0].Runnable())
	assert.False(t, units[1].Runnable())
}
