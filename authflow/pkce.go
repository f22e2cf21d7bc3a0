package authflow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// randomURLString creates a random base64url string
func randomURLString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// codeChallengeS256 creates a PKCE code challenge from a verifier
func codeChallengeS256(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
