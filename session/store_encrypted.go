package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	encryptedFileName = "session.enc"
	nonceSize         = 24
)

var _ Store = (*EncryptedFileStore)(nil)

// EncryptedFileStore seals the session record with NaCl secretbox before it
// touches disk. A record that fails to open, whether from a wrong key,
// tampering, or truncation, loads as absent.
type EncryptedFileStore struct {
	mu   sync.Mutex
	path string
	key  [32]byte
}

// NewEncryptedFileStore creates a store writing dir/session.enc sealed with
// the given key.
func NewEncryptedFileStore(dir string, key [32]byte) (*EncryptedFileStore, error) {
	if dir == "" {
		return nil, errors.New("[NewEncryptedFileStore] dir is required")
	}
	if key == [32]byte{} {
		return nil, errors.New("[NewEncryptedFileStore] key is required")
	}
	return &EncryptedFileStore{path: filepath.Join(dir, encryptedFileName), key: key}, nil
}

// KeyFromHex decodes a 64-character hex string into a sealing key.
func KeyFromHex(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("decode session key: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("session key must be %d bytes, got %d", len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func (s *EncryptedFileStore) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if len(data) < nonceSize {
		return nil, nil
	}

	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plaintext, ok := secretbox.Open(nil, data[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, nil
	}
	return decodeSession(plaintext), nil
}

func (s *EncryptedFileStore) Save(sess *Session) error {
	if sess == nil {
		return errors.New("session cannot be nil")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], data, &nonce, &s.key)

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path, sealed)
}

func (s *EncryptedFileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
