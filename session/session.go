// Package session owns the client-side credential lifecycle: the durable
// Session snapshot, the stores that persist it, and the Manager state machine
// that keeps it valid for the life of a process.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// State identifies a position in the session lifecycle.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"

	// StateDegraded means the session is live in memory but its last
	// persistence attempt failed; a process restart would lose it. The
	// failure kind is carried in Session.LastError.
	StateDegraded State = "degraded"
)

// ProviderCredentials marks a session created by email/password sign-in.
// Third-party sessions use OAuthProvider(name).
const ProviderCredentials = "credentials"

// OAuthProvider returns the provider tag for a third-party session,
// e.g. OAuthProvider("google") == "oauth:google".
func OAuthProvider(name string) string {
	return "oauth:" + name
}

// LastErrorStorage is the Session.LastError value set when a state
// transition succeeded but writing the snapshot to the Store did not.
const LastErrorStorage = "storage_error"

// User is the minimal profile snapshot carried with a session. It is
// replaced wholesale whenever a token response includes a fresh profile.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// Session is the single durable entity of the subsystem: the token pair, the
// profile snapshot, and enough metadata to schedule refreshes. A Session is
// either fully populated or absent; Valid distinguishes the two.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	CSRFToken    string    `json:"csrf_token,omitempty"`
	User         User      `json:"user"`
	Provider     string    `json:"provider"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastError    string    `json:"last_error,omitempty"`
}

// Valid reports whether every required field is populated. Stores treat an
// invalid record as absent so a partially written snapshot can never
// resurrect a half-session.
func (s *Session) Valid() bool {
	if s == nil {
		return false
	}
	return s.AccessToken != "" && s.RefreshToken != "" && s.Provider != "" && s.User.ID != ""
}

// Clone returns a deep copy safe to hand outside the owning lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.User.Permissions != nil {
		c.User.Permissions = append([]string(nil), s.User.Permissions...)
	}
	return &c
}

// ExpiredBy reports whether the expiry hint has passed at the given time.
// A session without a hint is never expired by hint.
func (s *Session) ExpiredBy(now time.Time) bool {
	return s != nil && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// TokenExpiry extracts the expiry hint from a JWT access token without
// verifying its signature. Signature checks belong to the server; the client
// only needs the "exp" claim to schedule ahead of it.
func TokenExpiry(rawToken string) (time.Time, bool) {
	token, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
