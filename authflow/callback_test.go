package authflow_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prepdeck/go-auth-client/authapi"
	"github.com/prepdeck/go-auth-client/authflow"
)

func startCallbackServer(t *testing.T) *authflow.CallbackServer {
	t.Helper()

	srv, err := authflow.NewCallbackServer("")
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func get(t *testing.T, rawURL string) *http.Response {
	t.Helper()

	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

// TestCallbackServer_DeliversCodeAndState tests that a provider redirect is
// handed to the waiting caller
func TestCallbackServer_DeliversCodeAndState(t *testing.T) {
	srv := startCallbackServer(t)

	get(t, srv.RedirectURL()+"?code=code-1&state=state-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, state, err := srv.Wait(ctx)

	require.NoError(t, err)
	require.Equal(t, "code-1", code)
	require.Equal(t, "state-1", state)
}

// TestCallbackServer_ProviderDenial tests that a provider error lands as a
// provider-class failure
func TestCallbackServer_ProviderDenial(t *testing.T) {
	srv := startCallbackServer(t)

	get(t, srv.RedirectURL()+"?error=access_denied")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := srv.Wait(ctx)

	require.ErrorIs(t, err, authapi.ErrProvider)
	require.ErrorContains(t, err, "access_denied")
}

// TestCallbackServer_IgnoresStrayRequests tests that a request without a
// code/state pair neither satisfies nor poisons the wait
func TestCallbackServer_IgnoresStrayRequests(t *testing.T) {
	srv := startCallbackServer(t)

	resp := get(t, srv.RedirectURL())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	get(t, srv.RedirectURL()+"?code=code-1&state=state-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, _, err := srv.Wait(ctx)

	require.NoError(t, err)
	require.Equal(t, "code-1", code)
}

// TestCallbackServer_WaitHonorsContext tests that an abandoned sign-in does
// not block forever
func TestCallbackServer_WaitHonorsContext(t *testing.T) {
	srv := startCallbackServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := srv.Wait(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
}
