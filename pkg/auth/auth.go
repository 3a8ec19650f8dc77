package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidKey = errors.New("invalid API key")

// KeySet holds bcrypt hashes of the API keys allowed to read the
// observation endpoint. Keys themselves are never stored.
type KeySet struct {
	mu     sync.RWMutex
	hashes [][]byte
	// verified caches SHA-256 digests of keys that already passed bcrypt,
	// so a Prometheus scrape does not pay the bcrypt cost every time.
	verified map[[sha256.Size]byte]struct{}
}

// NewKeySet creates an empty key set
func NewKeySet() *KeySet {
	return &KeySet{verified: make(map[[sha256.Size]byte]struct{})}
}

// GenerateKey returns a new random API key
func GenerateKey() (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(keyBytes), nil
}

// HashKey returns the bcrypt hash to put in configuration for key
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// Add accepts a plaintext key
func (k *KeySet) Add(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	hash, err := HashKey(key)
	if err != nil {
		return err
	}
	return k.AddHash(hash)
}

// AddHash accepts a bcrypt hash produced by HashKey
func (k *KeySet) AddHash(hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("not a bcrypt hash: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hashes = append(k.hashes, []byte(hash))
	return nil
}

// Len returns the number of accepted keys
func (k *KeySet) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.hashes)
}

// Validate checks key against every accepted hash
func (k *KeySet) Validate(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	digest := sha256.Sum256([]byte(key))

	k.mu.RLock()
	_, ok := k.verified[digest]
	hashes := k.hashes
	k.mu.RUnlock()
	if ok {
		return nil
	}

	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			k.mu.Lock()
			k.verified[digest] = struct{}{}
			k.mu.Unlock()
			return nil
		}
	}
	return ErrInvalidKey
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
