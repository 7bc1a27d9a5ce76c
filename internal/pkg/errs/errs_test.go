package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError_StatusFollowsKind(t *testing.T) {
	tests := []struct {
		code   int
		status int
	}{
		{ErrMissingField, http.StatusBadRequest},
		{ErrInvalidMeetingID, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrMeetingPassword, http.StatusUnauthorized},
		{ErrNotHost, http.StatusForbidden},
		{ErrMeetingNotFound, http.StatusNotFound},
		{ErrMeetingFull, http.StatusConflict},
		{ErrMeetingExpired, http.StatusGone},
		{ErrRateLimitExceeded, http.StatusTooManyRequests},
		{ErrUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := NewError(tt.code)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.status, err.Status)
		})
	}
}

func TestErrorMap_NoImplicitOK(t *testing.T) {
	for code, tmpl := range errorMap {
		assert.NotZero(t, tmpl.Status, "code %d has no status", code)
		assert.NotEqual(t, http.StatusOK, tmpl.Status, "code %d maps to 200", code)
	}
}

func TestNewError_FormatsTemplate(t *testing.T) {
	err := NewError(ErrMissingField, "name")
	assert.Equal(t, "Missing required field: name.", err.Message)

	// the template itself must stay untouched
	assert.Equal(t, "Missing required field: %s.", errorMap[ErrMissingField].Message)
}

func TestNewError_UnknownCode(t *testing.T) {
	err := NewError(987654)
	assert.Equal(t, ErrUnknown, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestIs_MatchesWrappedCode(t *testing.T) {
	wrapped := fmt.Errorf("join: %w", NewError(ErrMeetingFull))

	assert.True(t, errors.Is(wrapped, NewError(ErrMeetingFull)))
	assert.False(t, errors.Is(wrapped, NewError(ErrMeetingExpired)))
	assert.True(t, HasCode(wrapped, ErrMeetingFull))
	assert.Equal(t, http.StatusConflict, StatusOf(wrapped))
}

func TestFrom(t *testing.T) {
	require.Nil(t, From(nil))

	custom := NewError(ErrNotHost)
	assert.Same(t, custom, From(fmt.Errorf("wrap: %w", custom)))

	plain := From(errors.New("connection reset"))
	assert.Equal(t, ErrUnknown, plain.Code)
	assert.NotContains(t, plain.Message, "connection reset")
}
