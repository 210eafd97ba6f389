package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndParseToken(t *testing.T) {
	key := []byte("test-secret")

	token, err := CreateToken("user-123", AccessTokenTTL, key)
	require.NoError(t, err)

	claims, err := ParseToken(token, key)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
}

func TestParseTokenWrongKey(t *testing.T) {
	token, err := CreateToken("user-123", AccessTokenTTL, []byte("right-key"))
	require.NoError(t, err)

	_, err = ParseToken(token, []byte("wrong-key"))
	assert.Error(t, err)
}

func TestParseTokenExpired(t *testing.T) {
	key := []byte("test-secret")
	token, err := CreateToken("user-123", -time.Minute, key)
	require.NoError(t, err)

	_, err = ParseToken(token, key)
	assert.Error(t, err)
}

func TestParseTokenGarbage(t *testing.T) {
	_, err := ParseToken("not.a.jwt", []byte("test-secret"))
	assert.Error(t, err)
}

func TestCheckPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	assert.True(t, CheckPasswordHash("correct horse battery staple", hash))
	assert.False(t, CheckPasswordHash("wrong password", hash))
}
