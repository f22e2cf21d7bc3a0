// Package authflow coordinates browser-redirect sign-in with third-party
// identity providers. BeginRedirect builds the provider authorization URL and
// records a single-use correlation state; ResumeFromCallback validates the
// returning state, exchanges the authorization code through the backend, and
// hands the resulting session to the session manager. A callback that cannot
// be tied back to a pending flow never creates a session.
package authflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/prepdeck/go-auth-client/authapi"
	"github.com/prepdeck/go-auth-client/session"
)

// ErrCorrelationMismatch reports a callback whose correlation state does not
// match a pending flow: unknown, expired, already used, or bound to a
// different provider. It is always fatal to the resume attempt.
var ErrCorrelationMismatch = errors.New("oauth correlation state mismatch")

// DefaultFlowTTL bounds how long a pending flow stays resumable.
const DefaultFlowTTL = 15 * time.Minute

// ProviderConfig describes one third-party sign-in provider.
type ProviderConfig struct {
	// ClientID is the OAuth2 client registered with the provider.
	ClientID string

	// AuthURL is the provider's authorization endpoint. Leave it empty and
	// set Issuer to discover the endpoint instead.
	AuthURL string

	// Issuer is the OIDC issuer used to discover the authorization endpoint
	// when AuthURL is empty.
	Issuer string

	// Scopes requested on the redirect. Defaults to openid, profile, email.
	Scopes []string
}

func (pc ProviderConfig) scopes() []string {
	if len(pc.Scopes) > 0 {
		return pc.Scopes
	}
	return []string{oidc.ScopeOpenID, "profile", "email"}
}

// Exchanger trades a provider authorization code for a first-party session.
type Exchanger interface {
	ExchangeOAuthCode(ctx context.Context, provider, code, codeVerifier string) (*session.Session, error)
}

// Adopter installs a completed session. *session.Manager satisfies it.
type Adopter interface {
	AdoptSession(sess *session.Session) (*session.Session, error)
}

// Redirect is the outcome of BeginRedirect: where to send the user and the
// correlation state the provider must echo back on the callback.
type Redirect struct {
	URL   string
	State string
}

// Coordinator drives the redirect handshake.
type Coordinator struct {
	exchanger   Exchanger
	adopter     Adopter
	repo        FlowRepo
	redirectURL string
	providers   map[string]ProviderConfig
	ttl         time.Duration
	nowFunc     func() time.Time
	log         zerolog.Logger

	endpointLock sync.RWMutex
	endpoints    map[string]oauth2.Endpoint
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithFlowTTL overrides how long a pending flow stays resumable.
func WithFlowTTL(ttl time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.ttl = ttl
	}
}

// WithNowFunc overrides the time source, for tests.
func WithNowFunc(nowFunc func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.nowFunc = nowFunc
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = log
	}
}

// NewCoordinator creates a Coordinator for the configured providers.
// redirectURL is where providers send the user back; it must match the URL
// registered with each provider.
func NewCoordinator(exchanger Exchanger, adopter Adopter, repo FlowRepo, redirectURL string, providers map[string]ProviderConfig, options ...CoordinatorOption) (*Coordinator, error) {
	if exchanger == nil {
		return nil, errors.New("[NewCoordinator] exchanger is required")
	}
	if adopter == nil {
		return nil, errors.New("[NewCoordinator] adopter is required")
	}
	if repo == nil {
		return nil, errors.New("[NewCoordinator] repo is required")
	}
	if redirectURL == "" {
		return nil, errors.New("[NewCoordinator] redirectURL is required")
	}
	if len(providers) == 0 {
		return nil, errors.New("[NewCoordinator] at least one provider is required")
	}

	configured := make(map[string]ProviderConfig, len(providers))
	for name, pc := range providers {
		configured[name] = pc
	}

	c := &Coordinator{
		exchanger:   exchanger,
		adopter:     adopter,
		repo:        repo,
		redirectURL: redirectURL,
		providers:   configured,
		ttl:         DefaultFlowTTL,
		nowFunc:     time.Now,
		log:         zerolog.Nop(),
		endpoints:   make(map[string]oauth2.Endpoint),
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// BeginRedirect starts a sign-in attempt with the named provider. It records
// a pending flow under a fresh correlation state and returns the provider
// authorization URL carrying that state and a PKCE challenge.
func (c *Coordinator) BeginRedirect(ctx context.Context, provider string) (*Redirect, error) {
	pc, ok := c.providers[provider]
	if !ok {
		return nil, errors.Errorf("[BeginRedirect] unknown provider %q", provider)
	}

	endpoint, err := c.endpointFor(ctx, provider, pc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", authapi.ErrProvider, err)
	}

	state := randomURLString(32)
	verifier := randomURLString(32)

	flow := &PendingFlow{
		Provider:     provider,
		CodeVerifier: verifier,
		CreatedAt:    c.nowFunc(),
	}
	if err := c.repo.Upsert(state, flow); err != nil {
		return nil, errors.Wrap(err, "record pending flow")
	}

	conf := &oauth2.Config{
		ClientID:    pc.ClientID,
		Endpoint:    endpoint,
		RedirectURL: c.redirectURL,
		Scopes:      pc.scopes(),
	}
	authURL := conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallengeS256(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	c.log.Debug().Str("provider", provider).Msg("oauth redirect started")
	return &Redirect{URL: authURL, State: state}, nil
}

// ResumeFromCallback completes a sign-in attempt from the provider callback.
// The correlation state is spent on arrival whatever the outcome; a second
// callback with the same state fails with ErrCorrelationMismatch.
func (c *Coordinator) ResumeFromCallback(ctx context.Context, provider, code, state string) (*session.Session, error) {
	flow, err := c.repo.Get(state)
	if err != nil || flow == nil {
		c.log.Warn().Str("provider", provider).Msg("oauth callback with unknown state")
		return nil, fmt.Errorf("%w: unknown state", ErrCorrelationMismatch)
	}
	if err := c.repo.Delete(state); err != nil {
		c.log.Warn().Err(err).Msg("pending flow delete failed")
	}

	if flow.Provider != provider {
		c.log.Warn().Str("provider", provider).Str("expected", flow.Provider).Msg("oauth callback provider mismatch")
		return nil, fmt.Errorf("%w: provider mismatch", ErrCorrelationMismatch)
	}
	if c.nowFunc().Sub(flow.CreatedAt) > c.ttl {
		return nil, fmt.Errorf("%w: flow expired", ErrCorrelationMismatch)
	}

	sess, err := c.exchanger.ExchangeOAuthCode(ctx, provider, code, flow.CodeVerifier)
	if err != nil {
		return nil, err
	}

	c.log.Info().Str("provider", provider).Msg("oauth sign-in completed")
	return c.adopter.AdoptSession(sess)
}

// endpointFor resolves the provider's authorization endpoint, discovering it
// from the issuer once and caching the result.
func (c *Coordinator) endpointFor(ctx context.Context, name string, pc ProviderConfig) (oauth2.Endpoint, error) {
	if pc.AuthURL != "" {
		return oauth2.Endpoint{AuthURL: pc.AuthURL}, nil
	}

	c.endpointLock.RLock()
	endpoint, ok := c.endpoints[name]
	c.endpointLock.RUnlock()
	if ok {
		return endpoint, nil
	}

	if pc.Issuer == "" {
		return oauth2.Endpoint{}, errors.Errorf("provider %q has neither auth URL nor issuer", name)
	}
	oidcProvider, err := oidc.NewProvider(ctx, pc.Issuer)
	if err != nil {
		return oauth2.Endpoint{}, errors.Wrapf(err, "discover %q endpoints", name)
	}
	endpoint = oidcProvider.Endpoint()

	c.endpointLock.Lock()
	c.endpoints[name] = endpoint
	c.endpointLock.Unlock()
	return endpoint, nil
}
