package idp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prepdeck/go-auth-client/idp"
)

type tokenFixture struct {
	users   *idp.InMemoryUserRepo
	refresh *idp.InMemoryRefreshRepo
	tokens  *idp.TokenManager
	user    *idp.User
}

func setupTokenManager(t *testing.T, options ...idp.TokenManagerOption) *tokenFixture {
	t.Helper()

	f := &tokenFixture{
		users:   idp.NewInMemoryUserRepo(),
		refresh: idp.NewInMemoryRefreshRepo(),
		user: &idp.User{
			ID:          "user-1",
			Email:       testEmail,
			Name:        testName,
			Role:        "member",
			Permissions: []string{"practice:write"},
		},
	}
	require.NoError(t, f.users.Upsert(f.user))

	f.tokens = idp.NewTokenManager(idp.NewHMACSigner("test-secret"), f.users, f.refresh, options...)
	return f
}

// TestIssueTokens_Shape tests the token response fields
func TestIssueTokens_Shape(t *testing.T) {
	f := setupTokenManager(t, idp.WithTokenExpiry(15*time.Minute, time.Hour))

	tr, err := f.tokens.IssueTokens(f.user)

	require.NoError(t, err)
	require.NotEmpty(t, tr.AccessToken)
	require.NotNil(t, tr.RefreshToken)
	require.Len(t, *tr.RefreshToken, 64)
	require.Equal(t, "bearer", tr.TokenType)
	require.Equal(t, 900, tr.ExpiresIn)
	require.Equal(t, "user-1", tr.User.ID)
}

// TestIntrospect_RoundTrip tests that the identity written into the access
// token claims reads back out
func TestIntrospect_RoundTrip(t *testing.T) {
	f := setupTokenManager(t)

	tr, err := f.tokens.IssueTokens(f.user)
	require.NoError(t, err)

	identity, err := f.tokens.Introspect(tr.AccessToken)

	require.NoError(t, err)
	require.Equal(t, "user-1", identity.ID)
	require.Equal(t, testEmail, identity.Email)
	require.Equal(t, testName, identity.Name)
	require.Equal(t, "member", identity.Role)
	require.Equal(t, []string{"practice:write"}, identity.Permissions)
}

// TestIntrospect_Expired tests that a token past its exp claim is refused
func TestIntrospect_Expired(t *testing.T) {
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	f := setupTokenManager(t,
		idp.WithNowFunc(func() time.Time { return current }),
		idp.WithTokenExpiry(30*time.Minute, time.Hour),
	)

	tr, err := f.tokens.IssueTokens(f.user)
	require.NoError(t, err)

	current = current.Add(31 * time.Minute)
	_, err = f.tokens.Introspect(tr.AccessToken)

	require.ErrorIs(t, err, idp.ErrInvalidToken)
}

// TestIntrospect_Tampered tests that a doctored token fails verification
func TestIntrospect_Tampered(t *testing.T) {
	f := setupTokenManager(t)

	tr, err := f.tokens.IssueTokens(f.user)
	require.NoError(t, err)

	_, err = f.tokens.Introspect(tr.AccessToken + "x")
	require.ErrorIs(t, err, idp.ErrInvalidToken)

	_, err = f.tokens.Introspect("")
	require.ErrorIs(t, err, idp.ErrInvalidToken)
}

// TestIntrospect_ForeignSignature tests that a token minted under another
// secret is refused
func TestIntrospect_ForeignSignature(t *testing.T) {
	f := setupTokenManager(t)
	other := idp.NewTokenManager(idp.NewHMACSigner("other-secret"), f.users, idp.NewInMemoryRefreshRepo())

	tr, err := other.IssueTokens(f.user)
	require.NoError(t, err)

	_, err = f.tokens.Introspect(tr.AccessToken)
	require.ErrorIs(t, err, idp.ErrInvalidToken)
}

// TestHandleRefresh_Rotates tests that a refresh spends the presented token
func TestHandleRefresh_Rotates(t *testing.T) {
	f := setupTokenManager(t)

	first, err := f.tokens.IssueTokens(f.user)
	require.NoError(t, err)

	second, err := f.tokens.HandleRefresh(*first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, *first.RefreshToken, *second.RefreshToken)

	_, err = f.tokens.HandleRefresh(*first.RefreshToken)
	require.ErrorIs(t, err, idp.ErrInvalidRefreshToken)
}

// TestHandleRefresh_ExpiredToken tests that an aged-out refresh token is
// spent, not honored
func TestHandleRefresh_ExpiredToken(t *testing.T) {
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	f := setupTokenManager(t,
		idp.WithNowFunc(func() time.Time { return current }),
		idp.WithTokenExpiry(30*time.Minute, time.Hour),
	)

	tr, err := f.tokens.IssueTokens(f.user)
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	_, err = f.tokens.HandleRefresh(*tr.RefreshToken)
	require.ErrorIs(t, err, idp.ErrInvalidRefreshToken)

	// Spent on arrival: rewinding the clock cannot revive it.
	current = current.Add(-2 * time.Hour)
	_, err = f.tokens.HandleRefresh(*tr.RefreshToken)
	require.ErrorIs(t, err, idp.ErrInvalidRefreshToken)
}

// TestIssueTokens_ReplacesRefreshToken tests the one-live-token-per-user rule
func TestIssueTokens_ReplacesRefreshToken(t *testing.T) {
	f := setupTokenManager(t)

	first, err := f.tokens.IssueTokens(f.user)
	require.NoError(t, err)
	second, err := f.tokens.IssueTokens(f.user)
	require.NoError(t, err)

	_, err = f.tokens.HandleRefresh(*first.RefreshToken)
	require.ErrorIs(t, err, idp.ErrInvalidRefreshToken)

	_, err = f.tokens.HandleRefresh(*second.RefreshToken)
	require.NoError(t, err)
}

// TestRevokeForUser tests that revocation kills the user's refresh token
func TestRevokeForUser(t *testing.T) {
	f := setupTokenManager(t)

	tr, err := f.tokens.IssueTokens(f.user)
	require.NoError(t, err)

	f.tokens.RevokeForUser("user-1")

	_, err = f.tokens.HandleRefresh(*tr.RefreshToken)
	require.ErrorIs(t, err, idp.ErrInvalidRefreshToken)
}

// TestPasswordHashing tests the bcrypt helpers
func TestPasswordHashing(t *testing.T) {
	hash, err := idp.HashPassword(testPassword)
	require.NoError(t, err)
	require.NotEqual(t, testPassword, hash)

	require.True(t, idp.CheckPasswordHash(testPassword, hash))
	require.False(t, idp.CheckPasswordHash("wrong-password", hash))
}

// TestValidatePassword tests the minimum length policy
func TestValidatePassword(t *testing.T) {
	require.Error(t, idp.ValidatePassword("short"))
	require.NoError(t, idp.ValidatePassword("long enough"))
}
