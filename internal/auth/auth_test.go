package auth

import (
	"testing"

	"scribeflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewAuthService("0123456789abcdef0123456789abcdef", 60)
	user := &models.User{ID: 7, Username: "alice"}

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthService("secret-a-secret-a-secret-a-secret", 60)
	verifier := NewAuthService("secret-b-secret-b-secret-b-secret", 60)

	token, err := issuer.GenerateToken(&models.User{ID: 1, Username: "alice"})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = verifier.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2!")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2!", hash)
	assert.True(t, CheckPassword("hunter2!", hash))
	assert.False(t, CheckPassword("wrong", hash))
}
