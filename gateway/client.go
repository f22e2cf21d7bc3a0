// Package gateway is the stateless network client for the PrepDeck identity
// endpoints. It keeps no session state of its own; every call takes what it
// needs and returns what the wire gave back, translated into the session
// model and the authapi failure taxonomy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepdeck/go-auth-client/authapi"
	"github.com/prepdeck/go-auth-client/internal/utils"
	"github.com/prepdeck/go-auth-client/session"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "prepdeck-auth-client/1"

	// maxBodyBytes bounds how much of any response body is read.
	maxBodyBytes = 1 << 20
)

var _ session.Gateway = (*Client)(nil)

// Client calls the identity endpoints. Calls carry a short client-side
// timeout and are never retried here; retry policy belongs to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	log        zerolog.Logger
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying HTTP client wholesale; its own
// timeout then governs.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a Client for the API base URL, e.g.
// "https://api.prepdeck.io/api".
func New(baseURL string, options ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[gateway.New] baseURL is required")
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		timeout:   defaultTimeout,
		userAgent: defaultUserAgent,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// BaseURL returns the backend API root the client talks to, without a
// trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login authenticates with email and password. Fails with
// ErrInvalidCredentials or ErrNetwork.
func (c *Client) Login(ctx context.Context, email, password string) (*session.Session, error) {
	var tr authapi.TokenResponse
	err := c.post(ctx, "/auth/login", "", authapi.LoginRequest{Email: email, Password: password}, &tr)
	if err != nil {
		return nil, sentinelOr(err, map[int]error{
			http.StatusUnauthorized:        authapi.ErrInvalidCredentials,
			http.StatusUnprocessableEntity: authapi.ErrValidation,
		})
	}
	return c.buildSession(&tr, session.ProviderCredentials, true)
}

// Register creates an account and signs it in. Fails with ErrEmailTaken,
// ErrValidation, or ErrNetwork.
func (c *Client) Register(ctx context.Context, name, email, password string) (*session.Session, error) {
	var tr authapi.TokenResponse
	err := c.post(ctx, "/auth/register", "", authapi.RegisterRequest{Name: name, Email: email, Password: password}, &tr)
	if err != nil {
		return nil, sentinelOr(err, map[int]error{
			http.StatusBadRequest:          authapi.ErrEmailTaken,
			http.StatusConflict:            authapi.ErrEmailTaken,
			http.StatusUnprocessableEntity: authapi.ErrValidation,
		})
	}
	return c.buildSession(&tr, session.ProviderCredentials, true)
}

// Refresh exchanges the refresh token for a new pair. Optional response
// fields are left zero for the scheduler to merge into the current session.
// Fails with ErrRefreshTokenInvalid or ErrNetwork.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	var tr authapi.TokenResponse
	err := c.post(ctx, "/auth/refresh", "", authapi.RefreshRequest{RefreshToken: refreshToken}, &tr)
	if err != nil {
		return nil, sentinelOr(err, map[int]error{
			http.StatusUnauthorized: authapi.ErrRefreshTokenInvalid,
			http.StatusBadRequest:   authapi.ErrRefreshTokenInvalid,
		})
	}
	return c.buildSession(&tr, "", false)
}

// Logout asks the server to invalidate the session. Callers clear local
// state regardless of this call's outcome.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	if err := c.post(ctx, "/auth/logout", accessToken, struct{}{}, nil); err != nil {
		return sentinelOr(err, nil)
	}
	return nil
}

// ExchangeOAuthCode finishes a third-party sign-in by trading the provider's
// authorization code, plus the PKCE verifier when one was used, for a
// first-party session. Fails with ErrProvider or ErrNetwork.
func (c *Client) ExchangeOAuthCode(ctx context.Context, provider, code, codeVerifier string) (*session.Session, error) {
	var tr authapi.TokenResponse
	err := c.post(ctx, "/auth/oauth/exchange", "", authapi.ExchangeRequest{
		Provider:     provider,
		Code:         code,
		CodeVerifier: codeVerifier,
	}, &tr)
	if err != nil {
		return nil, sentinelOr(err, map[int]error{
			http.StatusBadRequest:          authapi.ErrProvider,
			http.StatusUnauthorized:        authapi.ErrProvider,
			http.StatusForbidden:           authapi.ErrProvider,
			http.StatusUnprocessableEntity: authapi.ErrProvider,
		})
	}
	return c.buildSession(&tr, session.OAuthProvider(provider), true)
}

// buildSession converts a token response into a session. When the response
// carries no expires_in, the hint falls back to the access token's exp
// claim. requireFull enforces a complete session for sign-in responses;
// refresh responses may be partial.
func (c *Client) buildSession(tr *authapi.TokenResponse, provider string, requireFull bool) (*session.Session, error) {
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token in response", authapi.ErrNetwork)
	}

	sess := &session.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: utils.Value(tr.RefreshToken),
		CSRFToken:    utils.Value(tr.CSRFToken),
		Provider:     provider,
	}
	if tr.User != nil {
		sess.User = session.User{
			ID:          tr.User.ID,
			Email:       tr.User.Email,
			Name:        tr.User.Name,
			Role:        tr.User.Role,
			Permissions: tr.User.Permissions,
		}
	}
	if tr.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	} else if exp, ok := session.TokenExpiry(tr.AccessToken); ok {
		sess.ExpiresAt = exp
	}

	if requireFull && !sess.Valid() {
		return nil, fmt.Errorf("%w: incomplete token response", authapi.ErrNetwork)
	}
	return sess, nil
}

func (c *Client) post(ctx context.Context, path, bearer string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	c.log.Debug().Str("path", path).Msg("identity request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", authapi.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", authapi.ErrNetwork, err)
	}
	return nil
}
