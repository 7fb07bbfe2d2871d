package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorFormatting(t *testing.T) {
	err := UnavailableError("origin", fmt.Errorf("connection refused"))
	assert.Contains(t, err.Error(), "unavailable")
	assert.Contains(t, err.Error(), "origin")
	assert.Contains(t, err.Error(), "connection refused")

	withCtx := err.WithContext("ip", "1.2.3.4")
	assert.Contains(t, withCtx.Error(), "ip=1.2.3.4")
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := UnavailableError("origin", cause)
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, cause))
}

func TestIsType(t *testing.T) {
	err := RateLimitError("reputation")
	assert.True(t, IsType(err, ErrTypeRateLimit))
	assert.False(t, IsType(err, ErrTypeUnavailable))

	// Wrapped errors still classify by their AppError type.
	wrapped := fmt.Errorf("during batch: %w", err)
	assert.True(t, IsType(wrapped, ErrTypeRateLimit))

	assert.False(t, IsType(fmt.Errorf("plain"), ErrTypeRateLimit))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrTypeConfig, GetType(ConfigError("bad setting")))
	assert.Equal(t, ErrTypeNotFound, GetType(NotFoundError("ip record")))
	assert.Equal(t, ErrTypeInternal, GetType(fmt.Errorf("plain")))
	assert.Equal(t, ErrorType(""), GetType(nil))
}
