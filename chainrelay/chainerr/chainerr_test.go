package chainerr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := NewRetryable(ErrCodeRPCTimeout, "rpc call timed out", cause)
	assert.Contains(t, err.Error(), ErrCodeRPCTimeout)
	assert.Contains(t, err.Error(), "timeout")
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewFatal(ErrCodeStateCorrupt, "state corrupted", cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestClassificationPredicates(t *testing.T) {
	retryable := NewRetryable(ErrCodeRPCTimeout, "x", nil)
	nonRetryable := NewNonRetryable(ErrCodeInvalidAddress, "x", nil)
	userIntervention := NewUserIntervention(ErrCodeFeeTooLow, "x", nil)
	fatal := NewFatal(ErrCodeStateCorrupt, "x", nil)

	assert.True(t, IsRetryable(retryable))
	assert.False(t, IsRetryable(nonRetryable))

	assert.True(t, IsNonRetryable(nonRetryable))
	assert.True(t, IsUserIntervention(userIntervention))
	assert.True(t, IsFatal(fatal))

	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestClassificationPredicatesUnwrapWrappedErrors(t *testing.T) {
	base := NewRetryable(ErrCodeRPCUnavailable, "no peers", nil)
	wrapped := fmt.Errorf("listener: %w", base)

	assert.True(t, IsRetryable(wrapped))
}

func TestNewRetryableAfterSetsDuration(t *testing.T) {
	err := NewRetryableAfter(ErrCodeNetworkCongestion, "busy", 10*time.Second, nil)
	if assert.NotNil(t, err.RetryAfter) {
		assert.Equal(t, 10*time.Second, *err.RetryAfter)
	}
}

func TestClassificationString(t *testing.T) {
	assert.Equal(t, "Retryable", Retryable.String())
	assert.Equal(t, "NonRetryable", NonRetryable.String())
	assert.Equal(t, "UserIntervention", UserIntervention.String())
	assert.Equal(t, "Fatal", Fatal.String())
}
