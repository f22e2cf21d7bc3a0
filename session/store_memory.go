package session

import (
	"errors"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the session in process memory. Suited to tests and to
// embedders that handle durability themselves.
type MemoryStore struct {
	mu      sync.RWMutex
	session *Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.session.Valid() {
		return nil, nil
	}
	// Return a copy to prevent external modifications
	return s.session.Clone(), nil
}

func (s *MemoryStore) Save(sess *Session) error {
	if sess == nil {
		return errors.New("session cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = sess.Clone()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	return nil
}
