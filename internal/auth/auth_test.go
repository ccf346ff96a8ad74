package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, CheckPassword("correct horse battery staple", hash))
	assert.False(t, CheckPassword("wrong password", hash))
	assert.False(t, CheckPassword("", hash))
}

func TestCheckPassword_InvalidHash(t *testing.T) {
	assert.False(t, CheckPassword("anything", "not-a-bcrypt-hash"))
}

func TestGenerateSessionToken(t *testing.T) {
	token, err := GenerateSessionToken()
	require.NoError(t, err)
	assert.Len(t, token, 64, "expected 32 random bytes hex-encoded")

	other, err := GenerateSessionToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other, "tokens must be unique")
}
