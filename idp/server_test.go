package idp_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prepdeck/go-auth-client/authapi"
	"github.com/prepdeck/go-auth-client/idp"
)

const (
	testEmail    = "a@b.com"
	testPassword = "password123"
	testName     = "Ada"
)

type serverFixture struct {
	provider *idp.Server
	baseURL  string
}

func setupIdentityServer(t *testing.T, options ...idp.ServerOption) *serverFixture {
	t.Helper()

	users := idp.NewInMemoryUserRepo()
	tokens := idp.NewTokenManager(idp.NewHMACSigner("test-secret"), users, idp.NewInMemoryRefreshRepo())
	provider := idp.NewServer(tokens, users, options...)

	ts := httptest.NewServer(provider.Handler())
	t.Cleanup(ts.Close)

	return &serverFixture{provider: provider, baseURL: ts.URL}
}

func (f *serverFixture) postJSON(t *testing.T, path, bearer string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.baseURL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (f *serverFixture) get(t *testing.T, path, bearer string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, f.baseURL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// register creates an account and returns its token pair.
func (f *serverFixture) register(t *testing.T) authapi.TokenResponse {
	t.Helper()

	resp := f.postJSON(t, idp.RouteRegister, "", authapi.RegisterRequest{
		Name:     testName,
		Email:    testEmail,
		Password: testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeTokens(t, resp)
}

func decodeTokens(t *testing.T, resp *http.Response) authapi.TokenResponse {
	t.Helper()
	defer resp.Body.Close()

	var tr authapi.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	return tr
}

func decodeFailure(t *testing.T, resp *http.Response) authapi.ErrorBody {
	t.Helper()
	defer resp.Body.Close()

	var body authapi.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// TestRegister_CreatesAccountAndSignsIn tests that registration returns a
// full token pair for the normalized account
func TestRegister_CreatesAccountAndSignsIn(t *testing.T) {
	f := setupIdentityServer(t)

	resp := f.postJSON(t, idp.RouteRegister, "", authapi.RegisterRequest{
		Name:     testName,
		Email:    "  Ada@B.CoM ",
		Password: testPassword,
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decodeTokens(t, resp)
	require.NotEmpty(t, tr.AccessToken)
	require.NotNil(t, tr.RefreshToken)
	require.NotEmpty(t, *tr.RefreshToken)
	require.Equal(t, "bearer", tr.TokenType)
	require.Equal(t, 1800, tr.ExpiresIn)
	require.NotNil(t, tr.User)
	require.Equal(t, "ada@b.com", tr.User.Email)
	require.Equal(t, testName, tr.User.Name)
	require.Equal(t, "member", tr.User.Role)
	require.Nil(t, tr.CSRFToken)
}

// TestRegister_DuplicateEmail tests the duplicate-account rejection
func TestRegister_DuplicateEmail(t *testing.T) {
	f := setupIdentityServer(t)
	f.register(t)

	resp := f.postJSON(t, idp.RouteRegister, "", authapi.RegisterRequest{
		Name:     "Someone Else",
		Email:    testEmail,
		Password: "different-pass",
	})

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeFailure(t, resp)
	require.Equal(t, "Email already registered", body.Detail)
	require.Equal(t, authapi.CodeEmailTaken, body.Code)
}

// TestRegister_RejectsInvalidEmail tests the email shape check
func TestRegister_RejectsInvalidEmail(t *testing.T) {
	f := setupIdentityServer(t)

	resp := f.postJSON(t, idp.RouteRegister, "", authapi.RegisterRequest{
		Name:     testName,
		Email:    "not-an-email",
		Password: testPassword,
	})

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, authapi.CodeValidationError, decodeFailure(t, resp).Code)
}

// TestRegister_RejectsShortPassword tests the password policy
func TestRegister_RejectsShortPassword(t *testing.T) {
	f := setupIdentityServer(t)

	resp := f.postJSON(t, idp.RouteRegister, "", authapi.RegisterRequest{
		Name:     testName,
		Email:    testEmail,
		Password: "short",
	})

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, authapi.CodeValidationError, decodeFailure(t, resp).Code)
}

// TestLogin_Success tests signing in with registered credentials
func TestLogin_Success(t *testing.T) {
	f := setupIdentityServer(t)
	f.register(t)

	resp := f.postJSON(t, idp.RouteLogin, "", authapi.LoginRequest{
		Email:    testEmail,
		Password: testPassword,
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decodeTokens(t, resp)
	require.NotEmpty(t, tr.AccessToken)
	require.Equal(t, testEmail, tr.User.Email)
}

// TestLogin_WrongPassword tests that bad credentials are indistinguishable
// from an unknown account
func TestLogin_WrongPassword(t *testing.T) {
	f := setupIdentityServer(t)
	f.register(t)

	resp := f.postJSON(t, idp.RouteLogin, "", authapi.LoginRequest{
		Email:    testEmail,
		Password: "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeFailure(t, resp)
	require.Equal(t, "Incorrect email or password", body.Detail)
	require.Equal(t, authapi.CodeInvalidCredentials, body.Code)

	resp = f.postJSON(t, idp.RouteLogin, "", authapi.LoginRequest{
		Email:    "nobody@b.com",
		Password: testPassword,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Incorrect email or password", decodeFailure(t, resp).Detail)
}

// TestLogin_SeededUser tests the dev-seeding path end to end
func TestLogin_SeededUser(t *testing.T) {
	f := setupIdentityServer(t)
	_, err := f.provider.Seed("a@b.com", "secret1", "Ada")
	require.NoError(t, err)

	resp := f.postJSON(t, idp.RouteLogin, "", authapi.LoginRequest{
		Email:    "a@b.com",
		Password: "secret1",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "a@b.com", decodeTokens(t, resp).User.Email)
}

// TestRefresh_RotatesRefreshToken tests that each refresh spends the
// presented token and issues a replacement
func TestRefresh_RotatesRefreshToken(t *testing.T) {
	f := setupIdentityServer(t)
	first := f.register(t)

	resp := f.postJSON(t, idp.RouteRefresh, "", authapi.RefreshRequest{RefreshToken: *first.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeTokens(t, resp)
	require.NotEqual(t, *first.RefreshToken, *second.RefreshToken)

	// The spent token is dead.
	resp = f.postJSON(t, idp.RouteRefresh, "", authapi.RefreshRequest{RefreshToken: *first.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, authapi.CodeRefreshTokenInvalid, decodeFailure(t, resp).Code)

	// Its replacement is live.
	resp = f.postJSON(t, idp.RouteRefresh, "", authapi.RefreshRequest{RefreshToken: *second.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeTokens(t, resp)

	require.Equal(t, int64(3), f.provider.RefreshCalls())
}

// TestRefresh_MissingToken tests the empty-body rejection
func TestRefresh_MissingToken(t *testing.T) {
	f := setupIdentityServer(t)

	resp := f.postJSON(t, idp.RouteRefresh, "", authapi.RefreshRequest{})

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, authapi.CodeRefreshTokenInvalid, decodeFailure(t, resp).Code)
}

// TestLogout_RevokesRefreshToken tests that logout kills the server-side
// refresh token
func TestLogout_RevokesRefreshToken(t *testing.T) {
	f := setupIdentityServer(t)
	tr := f.register(t)

	resp := f.postJSON(t, idp.RouteLogout, tr.AccessToken, struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.postJSON(t, idp.RouteRefresh, "", authapi.RefreshRequest{RefreshToken: *tr.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, authapi.CodeRefreshTokenInvalid, decodeFailure(t, resp).Code)
}

// TestLogout_RequiresValidToken tests that logout authenticates the caller
func TestLogout_RequiresValidToken(t *testing.T) {
	f := setupIdentityServer(t)

	resp := f.postJSON(t, idp.RouteLogout, "", struct{}{})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, authapi.CodeUnauthorized, decodeFailure(t, resp).Code)

	resp = f.postJSON(t, idp.RouteLogout, "garbage-token", struct{}{})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

// TestMe_ReturnsProfile tests the authenticated profile endpoint
func TestMe_ReturnsProfile(t *testing.T) {
	f := setupIdentityServer(t)
	tr := f.register(t)

	resp := f.get(t, idp.RouteMe, tr.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload authapi.UserPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	require.Equal(t, tr.User.ID, payload.ID)
	require.Equal(t, testEmail, payload.Email)
	require.Equal(t, testName, payload.Name)
	require.Equal(t, "member", payload.Role)

	resp = f.get(t, idp.RouteMe, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

// TestExchange_SingleUseCode tests that a granted authorization code signs
// its user in exactly once
func TestExchange_SingleUseCode(t *testing.T) {
	f := setupIdentityServer(t)

	user := &idp.User{Email: "oauth@b.com", Name: "Grace", Role: "member", Provider: "google"}
	code, err := f.provider.GrantOAuthCode("google", user)
	require.NoError(t, err)

	resp := f.postJSON(t, idp.RouteExchange, "", authapi.ExchangeRequest{Provider: "google", Code: code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decodeTokens(t, resp)
	require.Equal(t, "oauth@b.com", tr.User.Email)

	// Replay is refused.
	resp = f.postJSON(t, idp.RouteExchange, "", authapi.ExchangeRequest{Provider: "google", Code: code})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeFailure(t, resp)
	require.Equal(t, "Invalid authorization code", body.Detail)
	require.Equal(t, authapi.CodeProviderError, body.Code)
}

// TestExchange_ProviderBoundCode tests that a code granted for one provider
// cannot be exchanged under another
func TestExchange_ProviderBoundCode(t *testing.T) {
	f := setupIdentityServer(t)

	user := &idp.User{Email: "oauth@b.com", Name: "Grace", Role: "member", Provider: "google"}
	code, err := f.provider.GrantOAuthCode("google", user)
	require.NoError(t, err)

	resp := f.postJSON(t, idp.RouteExchange, "", authapi.ExchangeRequest{Provider: "github", Code: code})

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, authapi.CodeProviderError, decodeFailure(t, resp).Code)
}

// TestCSRF_MintedWhenEnabled tests the optional CSRF token issuance
func TestCSRF_MintedWhenEnabled(t *testing.T) {
	f := setupIdentityServer(t, idp.WithCSRF())

	tr := f.register(t)

	require.NotNil(t, tr.CSRFToken)
	require.NotEmpty(t, *tr.CSRFToken)
}
