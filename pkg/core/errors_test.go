package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError(ErrorTypeClientRequest, 400, "Invalid symbol.").WithCode(-1121)
	assert.Equal(t, "CLIENT_REQUEST (400/-1121): Invalid symbol.", err.Error())

	err = NewAPIError(ErrorTypeServer, 502, "Bad Gateway")
	assert.Equal(t, "SERVER_ERROR (502): Bad Gateway", err.Error())

	err = NewAPIError(ErrorTypeTimeout, 0, "no response within deadline")
	assert.Equal(t, "TIMEOUT: no response within deadline", err.Error())
}

func TestAPIError_Retryable(t *testing.T) {
	retryable := []ErrorType{
		ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeNetwork,
		ErrorTypeConnectionLost, ErrorTypeTimeout,
	}
	for _, et := range retryable {
		assert.True(t, NewAPIError(et, 0, "x").Retryable(), et.String())
	}

	terminal := []ErrorType{
		ErrorTypeInvalidCredentials, ErrorTypeClientRequest,
		ErrorTypeForbidden, ErrorTypeIPBan, ErrorTypeConnectionClosed,
	}
	for _, et := range terminal {
		assert.False(t, NewAPIError(et, 0, "x").Retryable(), et.String())
	}
}

func TestAPIError_TypePredicates(t *testing.T) {
	wrapped := fmt.Errorf("request failed: %w", NewAPIError(ErrorTypeIPBan, 418, "banned"))

	assert.True(t, IsBanned(wrapped), "predicates must see through wrapping")
	assert.False(t, IsRateLimit(wrapped))
	assert.False(t, IsBanned(ErrNotConnected))
}

func TestAPIError_WithRetryAfter(t *testing.T) {
	until := time.Now().Add(2 * time.Minute)
	err := NewAPIError(ErrorTypeRateLimit, 429, "slow down").WithRetryAfter(until)

	require.True(t, IsRateLimit(err))
	assert.Equal(t, until, err.RetryAfter)
	assert.False(t, err.Timestamp.IsZero())
}
