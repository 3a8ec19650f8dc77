package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestKeySet(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	other, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	keys := NewKeySet()
	assert.ErrorIs(t, keys.Validate(key), ErrInvalidKey)

	require.NoError(t, keys.Add(key))
	assert.Equal(t, 1, keys.Len())
	assert.NoError(t, keys.Validate(key))
	// second time is served from the cache
	assert.NoError(t, keys.Validate(key))
	assert.ErrorIs(t, keys.Validate(other), ErrInvalidKey)
	assert.ErrorIs(t, keys.Validate(""), ErrInvalidKey)
}

func TestAddHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("scrape-key"), bcrypt.MinCost)
	require.NoError(t, err)

	keys := NewKeySet()
	require.NoError(t, keys.AddHash(string(hash)))
	assert.NoError(t, keys.Validate("scrape-key"))

	assert.Error(t, keys.AddHash("scrape-key"))
	assert.ErrorIs(t, keys.Add(""), ErrInvalidKey)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare("abc", "abc"))
	assert.False(t, SecureCompare("abc", "abd"))
}
