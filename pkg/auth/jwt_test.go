package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)
	userID := uuid.New()

	token, err := manager.GenerateToken(userID, "ab1234", "ab1234@nyu.edu")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "ab1234", claims.NetID)
	assert.Equal(t, "ab1234@nyu.edu", claims.Email)
	assert.Equal(t, "nyu-marketplace", claims.Issuer)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	_, err := manager.ValidateToken("not-a-token")
	assert.Error(t, err)

	_, err = manager.ValidateToken("")
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)
	other := NewJWTManager("other-secret", time.Hour)

	token, err := manager.GenerateToken(uuid.New(), "ab1234", "ab1234@nyu.edu")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	manager := NewJWTManager("test-secret", -time.Minute)

	token, err := manager.GenerateToken(uuid.New(), "ab1234", "ab1234@nyu.edu")
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}
