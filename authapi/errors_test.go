package authapi_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prepdeck/go-auth-client/authapi"
)

// TestSentinelCodeRoundTrip tests that every wire code maps to a sentinel and
// back
func TestSentinelCodeRoundTrip(t *testing.T) {
	codes := []string{
		authapi.CodeInvalidCredentials,
		authapi.CodeEmailTaken,
		authapi.CodeValidationError,
		authapi.CodeRefreshTokenInvalid,
		authapi.CodeProviderError,
		authapi.CodeUnauthorized,
	}

	for _, code := range codes {
		sentinel, ok := authapi.SentinelForCode(code)
		require.True(t, ok, code)
		require.Equal(t, code, authapi.CodeForSentinel(sentinel), code)
	}
}

// TestSentinelForCode_Unknown tests that unrecognized codes map to nothing
func TestSentinelForCode_Unknown(t *testing.T) {
	_, ok := authapi.SentinelForCode("surprise_code")
	require.False(t, ok)

	_, ok = authapi.SentinelForCode("")
	require.False(t, ok)
}

// TestCodeForSentinel_Wrapped tests that classification sees through error
// wrapping
func TestCodeForSentinel_Wrapped(t *testing.T) {
	err := fmt.Errorf("login: %w", authapi.ErrInvalidCredentials)
	require.Equal(t, authapi.CodeInvalidCredentials, authapi.CodeForSentinel(err))

	require.Empty(t, authapi.CodeForSentinel(fmt.Errorf("plain failure")))
}
