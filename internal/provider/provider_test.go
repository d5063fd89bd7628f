package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Retryable(t *testing.T) {
	cases := []struct {
		kind   ErrorKind
		status int
		want   bool
	}{
		{ConnectionError, 0, true},
		{RateLimitExceeded, 0, true},
		{ApiError, 429, true},
		{ApiError, 500, true},
		{ApiError, 404, false},
		{AuthError, 0, false},
		{ParseError, 0, false},
		{RequestFailed, 0, false},
	}
	for _, c := range cases {
		e := &Error{Kind: c.kind, Status: c.status}
		assert.Equal(t, c.want, e.Retryable(), "kind=%v status=%d", c.kind, c.status)
	}
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(&Error{Kind: AuthError}))
	assert.False(t, IsAuthError(&Error{Kind: ConnectionError}))
	assert.False(t, IsAuthError(errors.New("plain error")))
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	e := &Error{Kind: ConnectionError, Cause: cause}
	assert.ErrorIs(t, e, cause)
}
