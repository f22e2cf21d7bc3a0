// Package idp is a self-contained identity provider speaking the PrepDeck
// auth wire contract. It backs local development and integration tests with
// real password hashing, JWT access tokens, and rotating refresh tokens, so
// client code exercises the same protocol it meets in production.
package idp

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/prepdeck/go-auth-client/authapi"
	"github.com/prepdeck/go-auth-client/internal/utils"
)

// Route path constants
// All provider routes are defined here to ensure consistency and prevent typos
const (
	RouteLogin    = "/api/auth/login"
	RouteRegister = "/api/auth/register"
	RouteRefresh  = "/api/auth/refresh"
	RouteLogout   = "/api/auth/logout"
	RouteExchange = "/api/auth/oauth/exchange"
	RouteMe       = "/api/users/me"
)

const (
	contentTypeJSON = "application/json"
	maxRequestBytes = 1 << 20
	defaultRole     = "member"
)

// Server is the HTTP face of the identity provider.
type Server struct {
	users  UserRepo
	tokens *TokenManager
	log    zerolog.Logger

	issueCSRF bool

	codesLock sync.Mutex
	codes     map[string]string // provider:code to user id, single use

	refreshCalls atomic.Int64
}

type ServerOption func(*Server)

// WithCSRF makes the server mint a CSRF token alongside every token pair.
func WithCSRF() ServerOption {
	return func(s *Server) {
		s.issueCSRF = true
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

func NewServer(tokens *TokenManager, users UserRepo, options ...ServerOption) *Server {
	s := &Server{
		users:  users,
		tokens: tokens,
		log:    zerolog.Nop(),
		codes:  make(map[string]string),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Handler returns the provider's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RouteLogin, s.LoginHandler())
	mux.HandleFunc("POST "+RouteRegister, s.RegisterHandler())
	mux.HandleFunc("POST "+RouteRefresh, s.RefreshHandler())
	mux.HandleFunc("POST "+RouteLogout, s.LogoutHandler())
	mux.HandleFunc("POST "+RouteExchange, s.ExchangeHandler())
	mux.HandleFunc("GET "+RouteMe, s.MeHandler())
	return mux
}

// Seed creates a password account, for bootstrapping dev and test setups.
func (s *Server) Seed(email, password, name string) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, errors.Wrap(err, "Server.Seed HashPassword")
	}
	user := &User{
		Email:        normalizeEmail(email),
		Name:         name,
		PasswordHash: hash,
		Role:         defaultRole,
		DateJoined:   time.Now().UTC(),
	}
	if err := s.users.Upsert(user); err != nil {
		return nil, errors.Wrap(err, "Server.Seed Upsert")
	}
	return user, nil
}

// GrantOAuthCode registers a single-use authorization code that the exchange
// endpoint will accept for the given user, upserting the user first. It
// stands in for the provider half of a redirect flow.
func (s *Server) GrantOAuthCode(provider string, user *User) (string, error) {
	if err := s.users.Upsert(user); err != nil {
		return "", errors.Wrap(err, "Server.GrantOAuthCode Upsert")
	}

	code := randomHex(16)
	s.codesLock.Lock()
	s.codes[provider+":"+code] = user.ID
	s.codesLock.Unlock()
	return code, nil
}

// RefreshCalls reports how many refresh requests the server has received.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authapi.LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Malformed request body", "")
			return
		}

		user, err := s.users.GetByEmail(normalizeEmail(req.Email))
		if err != nil || !CheckPasswordHash(req.Password, user.PasswordHash) {
			s.writeError(w, http.StatusUnauthorized, "Incorrect email or password", authapi.CodeInvalidCredentials)
			return
		}

		user.LastLogin = time.Now().UTC()
		if err := s.users.Upsert(user); err != nil {
			s.log.Warn().Err(err).Msg("last login update failed")
		}

		s.log.Info().Str("email", user.Email).Msg("user logged in")
		s.issueResponse(w, user)
	}
}

func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authapi.RegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Malformed request body", "")
			return
		}

		email := normalizeEmail(req.Email)
		if email == "" || !strings.Contains(email, "@") {
			s.writeError(w, http.StatusUnprocessableEntity, "Invalid email address", authapi.CodeValidationError)
			return
		}
		if err := ValidatePassword(req.Password); err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error(), authapi.CodeValidationError)
			return
		}
		if _, err := s.users.GetByEmail(email); err == nil {
			s.writeError(w, http.StatusBadRequest, "Email already registered", authapi.CodeEmailTaken)
			return
		}

		hash, err := HashPassword(req.Password)
		if err != nil {
			s.log.Error().Err(err).Msg("password hash failed")
			s.writeError(w, http.StatusInternalServerError, "Could not create account", "")
			return
		}

		user := &User{
			Email:        email,
			Name:         req.Name,
			PasswordHash: hash,
			Role:         defaultRole,
			DateJoined:   time.Now().UTC(),
		}
		if err := s.users.Upsert(user); err != nil {
			s.log.Error().Err(err).Msg("user insert failed")
			s.writeError(w, http.StatusInternalServerError, "Could not create account", "")
			return
		}

		s.log.Info().Str("email", user.Email).Msg("user registered")
		s.issueResponse(w, user)
	}
}

func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)

		var req authapi.RefreshRequest
		if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
			s.writeError(w, http.StatusUnauthorized, "Invalid refresh token", authapi.CodeRefreshTokenInvalid)
			return
		}

		resp, err := s.tokens.HandleRefresh(req.RefreshToken)
		if err != nil {
			if errors.Is(err, ErrInvalidRefreshToken) {
				s.writeError(w, http.StatusUnauthorized, "Invalid refresh token", authapi.CodeRefreshTokenInvalid)
				return
			}
			s.log.Error().Err(err).Msg("refresh failed")
			s.writeError(w, http.StatusInternalServerError, "Could not refresh session", "")
			return
		}

		s.attachCSRF(resp)
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.bearerUser(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "Could not validate credentials", authapi.CodeUnauthorized)
			return
		}

		s.tokens.RevokeForUser(user.ID)
		s.log.Info().Str("email", user.Email).Msg("user logged out")
		writeJSON(w, http.StatusOK, map[string]string{"detail": "Successfully logged out"})
	}
}

func (s *Server) ExchangeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authapi.ExchangeRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Malformed request body", "")
			return
		}

		s.codesLock.Lock()
		userID, ok := s.codes[req.Provider+":"+req.Code]
		if ok {
			delete(s.codes, req.Provider+":"+req.Code)
		}
		s.codesLock.Unlock()

		if !ok {
			s.writeError(w, http.StatusBadRequest, "Invalid authorization code", authapi.CodeProviderError)
			return
		}

		user, err := s.users.GetByID(userID)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid authorization code", authapi.CodeProviderError)
			return
		}

		s.log.Info().Str("provider", req.Provider).Str("email", user.Email).Msg("oauth code exchanged")
		s.issueResponse(w, user)
	}
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.bearerUser(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "Could not validate credentials", authapi.CodeUnauthorized)
			return
		}

		user, err := s.users.GetByID(identity.ID)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "Could not validate credentials", authapi.CodeUnauthorized)
			return
		}

		writeJSON(w, http.StatusOK, userPayload(user))
	}
}

func (s *Server) issueResponse(w http.ResponseWriter, user *User) {
	resp, err := s.tokens.IssueTokens(user)
	if err != nil {
		s.log.Error().Err(err).Msg("token issue failed")
		s.writeError(w, http.StatusInternalServerError, "Could not issue tokens", "")
		return
	}
	s.attachCSRF(resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) attachCSRF(resp *authapi.TokenResponse) {
	if s.issueCSRF {
		resp.CSRFToken = utils.Ptr(randomHex(16))
	}
}

func (s *Server) bearerUser(r *http.Request) (*User, error) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return nil, ErrInvalidToken
	}
	return s.tokens.Introspect(strings.TrimSpace(strings.TrimPrefix(header, prefix)))
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail, code string) {
	writeJSON(w, status, authapi.ErrorBody{Detail: detail, Code: code})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
