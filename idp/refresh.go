package idp

import (
	"errors"
	"sync"
	"time"
)

// StoredRefreshToken is an opaque refresh token held server-side. A user
// holds at most one at a time; issuing a new one revokes the previous.
type StoredRefreshToken struct {
	Token    string
	UserID   string
	IssuedAt time.Time
}

// RefreshRepo stores issued refresh tokens.
type RefreshRepo interface {
	Upsert(token *StoredRefreshToken) error
	Get(token string) (*StoredRefreshToken, error)
	GetByUserID(userID string) (*StoredRefreshToken, error)
	Delete(token string) error
}

var _ RefreshRepo = (*InMemoryRefreshRepo)(nil)

// InMemoryRefreshRepo is a thread-safe in-memory RefreshRepo.
type InMemoryRefreshRepo struct {
	byToken map[string]*StoredRefreshToken
	byUser  map[string]string // user id to token
	lock    sync.RWMutex
}

func NewInMemoryRefreshRepo() *InMemoryRefreshRepo {
	return &InMemoryRefreshRepo{
		byToken: make(map[string]*StoredRefreshToken),
		byUser:  make(map[string]string),
	}
}

func (rr *InMemoryRefreshRepo) Upsert(token *StoredRefreshToken) error {
	if token == nil || token.Token == "" {
		return errors.New("token cannot be empty")
	}

	rr.lock.Lock()
	defer rr.lock.Unlock()

	tokenCopy := *token
	rr.byToken[token.Token] = &tokenCopy
	rr.byUser[token.UserID] = token.Token
	return nil
}

func (rr *InMemoryRefreshRepo) Get(token string) (*StoredRefreshToken, error) {
	rr.lock.RLock()
	defer rr.lock.RUnlock()

	stored, ok := rr.byToken[token]
	if !ok {
		return nil, errors.New("not found")
	}
	tokenCopy := *stored
	return &tokenCopy, nil
}

func (rr *InMemoryRefreshRepo) GetByUserID(userID string) (*StoredRefreshToken, error) {
	rr.lock.RLock()
	defer rr.lock.RUnlock()

	token, ok := rr.byUser[userID]
	if !ok {
		return nil, errors.New("not found")
	}
	stored, ok := rr.byToken[token]
	if !ok {
		return nil, errors.New("not found")
	}
	tokenCopy := *stored
	return &tokenCopy, nil
}

func (rr *InMemoryRefreshRepo) Delete(token string) error {
	rr.lock.Lock()
	defer rr.lock.Unlock()

	stored, ok := rr.byToken[token]
	if !ok {
		return nil
	}
	delete(rr.byToken, token)
	if rr.byUser[stored.UserID] == token {
		delete(rr.byUser, stored.UserID)
	}
	return nil
}
