package idp

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/prepdeck/go-auth-client/authapi"
	"github.com/prepdeck/go-auth-client/internal/utils"
)

// ErrInvalidRefreshToken reports a refresh token that is unknown, already
// rotated, or past its lifetime.
var ErrInvalidRefreshToken = errors.New("invalid refresh token")

// ErrInvalidToken reports an access token that failed verification.
var ErrInvalidToken = errors.New("invalid token")

const defaultIssuer = "prepdeck-idp"

// TokenManager issues and verifies access tokens and rotates refresh tokens.
type TokenManager struct {
	signer             Signer
	userRepo           UserRepo
	refreshRepo        RefreshRepo
	issuer             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	nowFunc            func() time.Time
}

type TokenManagerOption func(*TokenManager)

func WithTokenExpiry(accessTokenExpiry, refreshTokenExpiry time.Duration) TokenManagerOption {
	return func(m *TokenManager) {
		m.accessTokenExpiry = accessTokenExpiry
		m.refreshTokenExpiry = refreshTokenExpiry
	}
}

func WithNowFunc(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		m.nowFunc = now
	}
}

func WithIssuer(issuer string) TokenManagerOption {
	return func(m *TokenManager) {
		m.issuer = issuer
	}
}

func NewTokenManager(signer Signer, userRepo UserRepo, refreshRepo RefreshRepo, options ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		signer:      signer,
		userRepo:    userRepo,
		refreshRepo: refreshRepo,
		issuer:      defaultIssuer,
	}

	for _, opt := range options {
		opt(m)
	}

	if m.accessTokenExpiry == 0 {
		m.accessTokenExpiry = time.Minute * 30
	}
	if m.refreshTokenExpiry == 0 {
		m.refreshTokenExpiry = time.Hour * 24 * 30
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	return m
}

func (m *TokenManager) CreateAccessToken(user *User) (string, error) {
	claims := jwt.MapClaims{
		"iss":   m.issuer,                                           // The issuer of the token
		"sub":   user.ID,                                            // The subject, the user's unique ID
		"email": user.Email,                                         // Email for display without a profile fetch
		"name":  user.Name,                                          // Display name
		"role":  user.Role,                                          // Subscription role
		"iat":   int64(m.nowFunc().Unix()),                          // Issued At: the time at which the token was issued
		"exp":   int64(m.nowFunc().Add(m.accessTokenExpiry).Unix()), // Expiry: when the token will expire
		"jti":   uuid.New().String(),                                // Unique token ID
	}
	if len(user.Permissions) > 0 {
		claims["perms"] = user.Permissions
	}
	return m.signer.Sign(claims)
}

func (m *TokenManager) CreateRefreshToken(userID string) (string, error) {
	if existingToken, err := m.refreshRepo.GetByUserID(userID); err == nil && existingToken != nil {
		if err := m.refreshRepo.Delete(existingToken.Token); err != nil {
			return "", errors.Wrap(err, "TokenManager.CreateRefreshToken Delete")
		}
	}

	tokenStr := randomHex(32) // 256 bits
	if err := m.refreshRepo.Upsert(&StoredRefreshToken{
		Token:    tokenStr,
		UserID:   userID,
		IssuedAt: m.nowFunc(),
	}); err != nil {
		return "", errors.Wrap(err, "TokenManager.CreateRefreshToken Upsert")
	}

	return tokenStr, nil
}

// IssueTokens creates a fresh access and refresh token pair for a user.
func (m *TokenManager) IssueTokens(user *User) (*authapi.TokenResponse, error) {
	accessToken, err := m.CreateAccessToken(user)
	if err != nil {
		return nil, errors.Wrap(err, "TokenManager.IssueTokens CreateAccessToken")
	}
	refreshToken, err := m.CreateRefreshToken(user.ID)
	if err != nil {
		return nil, errors.Wrap(err, "TokenManager.IssueTokens CreateRefreshToken")
	}

	return &authapi.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: utils.Ptr(refreshToken),
		TokenType:    "bearer",
		ExpiresIn:    int(m.accessTokenExpiry.Seconds()),
		User:         userPayload(user),
	}, nil
}

// HandleRefresh exchanges a refresh token for a new token pair, rotating the
// refresh token. The presented token is spent whatever the outcome of the
// reissue.
func (m *TokenManager) HandleRefresh(refreshToken string) (*authapi.TokenResponse, error) {
	stored, err := m.refreshRepo.Get(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	if err := m.refreshRepo.Delete(refreshToken); err != nil {
		return nil, errors.Wrap(err, "TokenManager.HandleRefresh Delete")
	}

	if m.nowFunc().Sub(stored.IssuedAt) > m.refreshTokenExpiry {
		return nil, errors.Wrap(ErrInvalidRefreshToken, "refresh token expired")
	}

	user, err := m.userRepo.GetByID(stored.UserID)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRefreshToken, "user not found for refresh token")
	}

	return m.IssueTokens(user)
}

// RevokeForUser discards the user's refresh token, if any.
func (m *TokenManager) RevokeForUser(userID string) {
	if existingToken, err := m.refreshRepo.GetByUserID(userID); err == nil && existingToken != nil {
		_ = m.refreshRepo.Delete(existingToken.Token)
	}
}

// Introspect verifies a raw access token and returns the identity carried in
// its claims. Expired or tampered tokens fail with ErrInvalidToken.
func (m *TokenManager) Introspect(rawToken string) (*User, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.NewParser(jwt.WithTimeFunc(m.nowFunc)).Parse(rawToken, m.signer.GetVerificationKey)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("error extracting claims from token")
	}

	user := &User{}
	user.ID, _ = claims["sub"].(string)
	user.Email, _ = claims["email"].(string)
	user.Name, _ = claims["name"].(string)
	user.Role, _ = claims["role"].(string)
	if perms, ok := claims["perms"].([]any); ok {
		user.Permissions = utils.ToStringSlice(perms)
	}
	if user.ID == "" {
		return nil, errors.Wrap(ErrInvalidToken, "missing subject")
	}
	return user, nil
}

func userPayload(user *User) *authapi.UserPayload {
	return &authapi.UserPayload{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		Role:        user.Role,
		Permissions: user.Permissions,
	}
}

func randomHex(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return hex.EncodeToString(b)
}
