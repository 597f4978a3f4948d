package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewManager(t *testing.T) {
	secret := "test-secret-key-for-testing-purposes"
	accessExpiry := 15 * time.Minute
	refreshExpiry := 24 * time.Hour

	manager := NewManager(secret, accessExpiry, refreshExpiry)

	assert.NotNil(t, manager)
	assert.Equal(t, secret, manager.secretKey)
	assert.Equal(t, accessExpiry, manager.accessTokenDuration)
	assert.Equal(t, refreshExpiry, manager.refreshTokenDuration)
}

func TestGenerateAccessToken(t *testing.T) {
	manager := NewManager("test-secret", 15*time.Minute, 24*time.Hour)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser")

	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewManager("test-secret", 15*time.Minute, 24*time.Hour)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser")
	assert.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "testuser", claims.Username)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewManager("test-secret", 1*time.Nanosecond, 24*time.Hour)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser")
	assert.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_WrongSecret(t *testing.T) {
	manager := NewManager("test-secret", 15*time.Minute, 24*time.Hour)
	other := NewManager("other-secret", 15*time.Minute, 24*time.Hour)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser")
	assert.NoError(t, err)

	claims, err := other.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_Garbage(t *testing.T) {
	manager := NewManager("test-secret", 15*time.Minute, 24*time.Hour)

	claims, err := manager.ValidateToken("not-a-token")

	assert.Error(t, err)
	assert.Nil(t, claims)
}
