// Package config loads process configuration from the environment.
package config

import (
	"time"

	"github.com/joeshaw/envdecode"
)

// Config for the prepdeck CLI. Defaults can be loaded via envdecode.
type Config struct {
	// APIBaseURL is the backend API root. ENV: PREPDECK_API_URL
	APIBaseURL string `env:"PREPDECK_API_URL,default=https://api.prepdeck.io/api"`

	// DataDir overrides where session and flow files live. ENV: PREPDECK_DATA_DIR
	DataDir string `env:"PREPDECK_DATA_DIR"`

	// SessionKey is a 64-char hex key; when set the session file is
	// encrypted at rest. ENV: PREPDECK_SESSION_KEY
	SessionKey string `env:"PREPDECK_SESSION_KEY"`

	// OAuthRedirectURL is the loopback callback registered with providers.
	// ENV: PREPDECK_OAUTH_REDIRECT_URL
	OAuthRedirectURL string `env:"PREPDECK_OAUTH_REDIRECT_URL,default=http://127.0.0.1:8910/callback"`

	// GoogleClientID enables the google provider when set. ENV: PREPDECK_GOOGLE_CLIENT_ID
	GoogleClientID string `env:"PREPDECK_GOOGLE_CLIENT_ID"`

	// GoogleIssuer is the OIDC issuer used for endpoint discovery. ENV: PREPDECK_GOOGLE_ISSUER
	GoogleIssuer string `env:"PREPDECK_GOOGLE_ISSUER,default=https://accounts.google.com"`

	// GithubClientID enables the github provider when set. ENV: PREPDECK_GITHUB_CLIENT_ID
	GithubClientID string `env:"PREPDECK_GITHUB_CLIENT_ID"`

	// GithubAuthURL is github's authorization endpoint. ENV: PREPDECK_GITHUB_AUTH_URL
	GithubAuthURL string `env:"PREPDECK_GITHUB_AUTH_URL,default=https://github.com/login/oauth/authorize"`

	// Debug switches on console logging. ENV: PREPDECK_DEBUG
	Debug bool `env:"PREPDECK_DEBUG,default=false"`
}

// FromEnv builds a Config using envdecode to populate the struct.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IdPConfig for the prepdeck-idp development server.
type IdPConfig struct {
	// ListenAddr is the HTTP listen address. ENV: PREPDECK_IDP_ADDR
	ListenAddr string `env:"PREPDECK_IDP_ADDR,default=:9090"`

	// Secret signs access tokens. ENV: PREPDECK_IDP_SECRET
	Secret string `env:"PREPDECK_IDP_SECRET,default=dev-secret-change-me"`

	// AccessTokenTTL bounds access token life. ENV: PREPDECK_IDP_ACCESS_TTL
	AccessTokenTTL time.Duration `env:"PREPDECK_IDP_ACCESS_TTL,default=30m"`

	// RefreshTokenTTL bounds refresh token life. ENV: PREPDECK_IDP_REFRESH_TTL
	RefreshTokenTTL time.Duration `env:"PREPDECK_IDP_REFRESH_TTL,default=720h"`

	// SeedEmail and SeedPassword create a bootstrap account when both are
	// set. ENV: PREPDECK_IDP_SEED_EMAIL, PREPDECK_IDP_SEED_PASSWORD
	SeedEmail    string `env:"PREPDECK_IDP_SEED_EMAIL"`
	SeedPassword string `env:"PREPDECK_IDP_SEED_PASSWORD"`

	// CSRF switches on CSRF token issuance. ENV: PREPDECK_IDP_CSRF
	CSRF bool `env:"PREPDECK_IDP_CSRF,default=false"`
}

// IdPFromEnv builds an IdPConfig using envdecode to populate the struct.
func IdPFromEnv() (IdPConfig, error) {
	var cfg IdPConfig
	if err := envdecode.Decode(&cfg); err != nil {
		return IdPConfig{}, err
	}
	return cfg, nil
}
