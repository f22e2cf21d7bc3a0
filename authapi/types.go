// Package authapi defines the wire contract of the PrepDeck identity endpoints:
// the request and response payloads exchanged with /auth/*, and the error
// taxonomy clients use to classify failures.
package authapi

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh. The refresh token is
// single-use: the server invalidates it and issues a replacement.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ExchangeRequest is the body of POST /auth/oauth/exchange, finishing a
// third-party sign-in by trading the provider's authorization code for a
// first-party session.
type ExchangeRequest struct {
	// Provider names the third-party identity provider, e.g. "google".
	Provider string `json:"provider"`

	// Code is the single-use authorization code from the provider callback.
	Code string `json:"code"`

	// CodeVerifier is the PKCE verifier matching the code_challenge sent on
	// the authorization request. Forwarded so the server can complete the
	// provider-side exchange. Empty when the flow did not use PKCE.
	CodeVerifier string `json:"code_verifier,omitempty"`
}

// UserPayload is the minimal profile snapshot returned alongside tokens.
type UserPayload struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// TokenResponse is returned by the login, register, refresh, and OAuth
// exchange endpoints.
type TokenResponse struct {
	// AccessToken is the JWT presented as "Authorization: Bearer <token>"
	// on authenticated requests. Short-lived.
	AccessToken string `json:"access_token"`

	// RefreshToken is an opaque credential used solely to mint a new token
	// pair. Rotated on each use. Optional on refresh responses: absent means
	// the previous refresh token remains valid.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// TokenType is always "bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds. A hint only; the
	// authoritative expiry is the JWT "exp" claim.
	ExpiresIn int `json:"expires_in,omitempty"`

	// CSRFToken pairs with the session for state-changing requests when
	// cookie transport is in play. Optional.
	CSRFToken *string `json:"csrf_token,omitempty"`

	// User is the profile snapshot for the token's subject. Optional on
	// refresh responses: absent means the previous snapshot is still current.
	User *UserPayload `json:"user,omitempty"`
}

// ErrorBody is the error envelope used by every identity endpoint.
type ErrorBody struct {
	// Detail is a human-readable description, e.g. "Email already registered".
	Detail string `json:"detail"`

	// Code is a machine-readable classifier, one of the Code* constants.
	// Older server builds omit it; callers then fall back to HTTP status.
	Code string `json:"code,omitempty"`
}
