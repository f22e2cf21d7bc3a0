package authclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepdeck/go-auth-client/authflow"
	"github.com/prepdeck/go-auth-client/gateway"
	"github.com/prepdeck/go-auth-client/session"
)

var errNoOAuth = errors.New("oauth providers are not configured")

// Config wires a Client to a backend and to local storage.
type Config struct {
	// APIBaseURL is the backend API root, e.g. https://api.prepdeck.io/api.
	APIBaseURL string

	// Store persists the session between runs. Defaults to a FileStore
	// under the user configuration directory.
	Store session.Store

	// HTTPClient is used for backend calls when set. Its transport also
	// becomes the base of the authenticated client from HTTPClient().
	HTTPClient *http.Client

	// DataDir holds session and flow files for the default stores. Defaults
	// to session.DefaultDir().
	DataDir string

	// OAuth enables browser-redirect sign-in when set.
	OAuth *OAuthConfig
}

// OAuthConfig describes the redirect half of third-party sign-in.
type OAuthConfig struct {
	// RedirectURL is where providers send the user back. It must match the
	// URL registered with each provider.
	RedirectURL string

	// Providers maps provider names to their client configuration.
	Providers map[string]authflow.ProviderConfig

	// FlowRepo overrides where pending flows are recorded. Defaults to a
	// file-backed repo under DataDir so flows survive process restarts.
	FlowRepo authflow.FlowRepo
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client and everything it wires up. The
// default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithRefreshLead overrides how long before expiry the background refresh
// runs.
func WithRefreshLead(lead time.Duration) Option {
	return func(c *Client) {
		c.refreshLead = lead
	}
}

// WithoutAutoRefresh disables the background refresh timer. Refreshes then
// happen only through Refresh and the authenticated HTTP client's retry.
func WithoutAutoRefresh() Option {
	return func(c *Client) {
		c.autoRefresh = false
	}
}

// Client is the top-level handle to the PrepDeck auth subsystem: one façade
// over the session manager, the HTTP gateway, and the OAuth coordinator.
type Client struct {
	gateway *gateway.Client
	manager *session.Manager
	flows   *authflow.Coordinator

	log         zerolog.Logger
	refreshLead time.Duration
	autoRefresh bool
	baseHTTP    *http.Client
	baseURL     string
	loading     atomic.Bool

	httpOnce   sync.Once
	httpClient *http.Client
}

// New builds a Client from cfg. The client starts in the loading state;
// call Start to restore any persisted session.
func New(cfg Config, options ...Option) (*Client, error) {
	c := &Client{
		log:         zerolog.Nop(),
		autoRefresh: true,
		baseHTTP:    cfg.HTTPClient,
	}
	for _, option := range options {
		option(c)
	}

	gatewayOptions := []gateway.ClientOption{
		gateway.WithLogger(c.log.With().Str("component", "gateway").Logger()),
	}
	if cfg.HTTPClient != nil {
		gatewayOptions = append(gatewayOptions, gateway.WithHTTPClient(cfg.HTTPClient))
	}
	gw, err := gateway.New(cfg.APIBaseURL, gatewayOptions...)
	if err != nil {
		return nil, err
	}
	c.gateway = gw
	c.baseURL = gw.BaseURL()

	store := cfg.Store
	dataDir := cfg.DataDir
	if store == nil || (cfg.OAuth != nil && cfg.OAuth.FlowRepo == nil) {
		if dataDir == "" {
			dataDir, err = session.DefaultDir()
			if err != nil {
				return nil, err
			}
		}
	}
	if store == nil {
		store, err = session.NewFileStore(dataDir)
		if err != nil {
			return nil, err
		}
	}

	managerOptions := []session.ManagerOption{
		session.WithLogger(c.log.With().Str("component", "session").Logger()),
	}
	if c.refreshLead > 0 {
		managerOptions = append(managerOptions, session.WithRefreshLead(c.refreshLead))
	}
	if !c.autoRefresh {
		managerOptions = append(managerOptions, session.WithoutAutoRefresh())
	}
	manager, err := session.NewManager(gw, store, managerOptions...)
	if err != nil {
		return nil, err
	}
	c.manager = manager

	if cfg.OAuth != nil && len(cfg.OAuth.Providers) > 0 {
		flowRepo := cfg.OAuth.FlowRepo
		if flowRepo == nil {
			flowRepo, err = authflow.NewFileFlowRepo(dataDir)
			if err != nil {
				manager.Close()
				return nil, err
			}
		}
		flows, err := authflow.NewCoordinator(gw, manager, flowRepo, cfg.OAuth.RedirectURL, cfg.OAuth.Providers,
			authflow.WithLogger(c.log.With().Str("component", "authflow").Logger()))
		if err != nil {
			manager.Close()
			return nil, err
		}
		c.flows = flows
	}

	c.loading.Store(true)
	return c, nil
}

// Start restores any persisted session and validates it against the backend
// with a single refresh. It never fails the caller: an invalid or missing
// session just leaves the client signed out. This is the only network call
// the client makes without being asked.
func (c *Client) Start(ctx context.Context) {
	defer c.loading.Store(false)

	if err := c.manager.Restore(ctx); err != nil {
		c.log.Info().Err(err).Msg("no session restored")
	}
}

// Close releases the background resources. The client is unusable after.
func (c *Client) Close() {
	c.manager.Close()
}

// IsLoading reports whether the initial restore is still in progress. It is
// true from New until Start completes.
func (c *Client) IsLoading() bool {
	return c.loading.Load()
}

// IsAuthenticated reports whether a signed-in session is present.
func (c *Client) IsAuthenticated() bool {
	return c.manager.IsAuthenticated()
}

// State exposes the session lifecycle state.
func (c *Client) State() session.State {
	return c.manager.State()
}

// CurrentUser returns the signed-in user, if any.
func (c *Client) CurrentUser() (session.User, bool) {
	return c.manager.CurrentUser()
}

// Session returns a copy of the active session, if any.
func (c *Client) Session() (*session.Session, bool) {
	return c.manager.Current()
}

// Subscribe registers fn for session lifecycle events and returns a cancel
// function.
func (c *Client) Subscribe(fn func(session.Event)) func() {
	return c.manager.Subscribe(fn)
}

// APIBaseURL returns the backend API root this client was configured with.
func (c *Client) APIBaseURL() string {
	return c.baseURL
}

// Login signs in with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (*session.Session, error) {
	return c.manager.Login(ctx, email, password)
}

// Register creates an account and signs in.
func (c *Client) Register(ctx context.Context, name, email, password string) (*session.Session, error) {
	return c.manager.Register(ctx, name, email, password)
}

// Logout ends the session locally and best-effort revokes it server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.manager.Logout(ctx)
}

// Refresh forces a token refresh.
func (c *Client) Refresh(ctx context.Context) (*session.Session, error) {
	return c.manager.Refresh(ctx)
}

// BeginOAuth starts a browser-redirect sign-in with the named provider.
func (c *Client) BeginOAuth(ctx context.Context, provider string) (*authflow.Redirect, error) {
	if c.flows == nil {
		return nil, errNoOAuth
	}
	return c.flows.BeginRedirect(ctx, provider)
}

// CompleteOAuth finishes a browser-redirect sign-in from the provider
// callback parameters.
func (c *Client) CompleteOAuth(ctx context.Context, provider, code, state string) (*session.Session, error) {
	if c.flows == nil {
		return nil, errNoOAuth
	}
	return c.flows.ResumeFromCallback(ctx, provider, code, state)
}

// HTTPClient returns an http.Client that attaches the session's credentials
// to every request and transparently refreshes on a 401. Built once; later
// calls return the same client.
func (c *Client) HTTPClient() *http.Client {
	c.httpOnce.Do(func() {
		base := http.RoundTripper(nil)
		var timeout time.Duration
		if c.baseHTTP != nil {
			base = c.baseHTTP.Transport
			timeout = c.baseHTTP.Timeout
		}
		c.httpClient = &http.Client{
			Transport: &session.Transport{Manager: c.manager, Base: base},
			Timeout:   timeout,
		}
	})
	return c.httpClient
}
