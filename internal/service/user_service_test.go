package service

import (
	"context"
	"testing"

	"scribeflow/internal/auth"
	"scribeflow/internal/models"
	"scribeflow/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newUserService(t *testing.T) UserService {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.APIKey{}, &models.RefreshToken{}))

	authService := auth.NewAuthService("0123456789abcdef0123456789abcdef", 60)
	return NewUserService(repository.NewUserRepository(db), authService)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "password1")
	require.NoError(t, err)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEqual(t, "password1", user.PasswordHash)

	token, loggedIn, err := svc.Login(ctx, "alice", "password1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, user.ID, loggedIn.ID)

	_, _, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "password1")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "alice", "other")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRefreshTokenRotation(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "password1")
	require.NoError(t, err)

	first, err := svc.IssueRefreshToken(ctx, user)
	require.NoError(t, err)

	access, second, err := svc.Refresh(ctx, first)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEqual(t, first, second)

	// Replay of the rotated-out token fails; the new one still works.
	_, _, err = svc.Refresh(ctx, first)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	_, _, err = svc.Refresh(ctx, second)
	require.NoError(t, err)

	_, _, err = svc.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestAPIKeyManagement(t *testing.T) {
	svc := newUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "password1")
	require.NoError(t, err)

	key, err := svc.CreateAPIKey(ctx, user.ID, "ci")
	require.NoError(t, err)
	assert.NotEmpty(t, key.Key)

	keys, err := svc.ListAPIKeys(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	// Another user cannot delete it.
	assert.ErrorIs(t, svc.DeleteAPIKey(ctx, user.ID+1, key.ID), repository.ErrNotFound)
	require.NoError(t, svc.DeleteAPIKey(ctx, user.ID, key.ID))

	keys, err = svc.ListAPIKeys(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
