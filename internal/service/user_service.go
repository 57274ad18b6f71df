package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"scribeflow/internal/auth"
	"scribeflow/internal/models"
	"scribeflow/internal/repository"
)

// ErrUsernameTaken is returned on duplicate signup; handlers map it to a
// conflict response.
var ErrUsernameTaken = errors.New("service: username already exists")

// ErrInvalidCredentials covers both unknown users and wrong passwords.
var ErrInvalidCredentials = errors.New("service: invalid credentials")

// ErrInvalidRefreshToken covers unknown, expired, and revoked refresh
// tokens alike.
var ErrInvalidRefreshToken = errors.New("service: invalid refresh token")

// refreshTokenTTL bounds how long a session can be silently renewed.
const refreshTokenTTL = 30 * 24 * time.Hour

// UserService handles account business logic.
type UserService interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, *models.User, error)
	ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error
	GetUser(ctx context.Context, userID uint) (*models.User, error)

	// IssueRefreshToken mints an opaque refresh token; only its hash is
	// stored.
	IssueRefreshToken(ctx context.Context, user *models.User) (string, error)
	// Refresh rotates the refresh token and mints a new access token.
	Refresh(ctx context.Context, refreshToken string) (access string, refresh string, err error)

	CreateAPIKey(ctx context.Context, userID uint, name string) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, userID uint) ([]models.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, keyID uint) error
}

type userService struct {
	userRepo    repository.UserRepository
	authService *auth.AuthService
}

// NewUserService wires the user service.
func NewUserService(userRepo repository.UserRepository, authService *auth.AuthService) UserService {
	return &userService{
		userRepo:    userRepo,
		authService: authService,
	}
}

func (s *userService) Register(ctx context.Context, username, password string) (*models.User, error) {
	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *userService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.authService.GenerateToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

func (s *userService) ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return s.userRepo.Update(ctx, user)
}

func (s *userService) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	return s.userRepo.FindByID(ctx, userID)
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *userService) IssueRefreshToken(ctx context.Context, user *models.User) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	token := hex.EncodeToString(raw)

	if err := s.userRepo.CreateRefreshToken(ctx, &models.RefreshToken{
		UserID:    user.ID,
		Hashed:    hashRefreshToken(token),
		ExpiresAt: time.Now().Add(refreshTokenTTL),
	}); err != nil {
		return "", err
	}
	return token, nil
}

func (s *userService) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	rt, err := s.userRepo.FindRefreshToken(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		return "", "", ErrInvalidRefreshToken
	}
	if time.Now().After(rt.ExpiresAt) {
		_ = s.userRepo.RevokeRefreshToken(ctx, rt.ID)
		return "", "", ErrInvalidRefreshToken
	}

	user, err := s.userRepo.FindByID(ctx, rt.UserID)
	if err != nil {
		return "", "", ErrInvalidRefreshToken
	}

	// Rotate: the presented token is spent either way.
	if err := s.userRepo.RevokeRefreshToken(ctx, rt.ID); err != nil {
		return "", "", err
	}
	next, err := s.IssueRefreshToken(ctx, user)
	if err != nil {
		return "", "", err
	}
	access, err := s.authService.GenerateToken(user)
	if err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	return access, next, nil
}

func (s *userService) CreateAPIKey(ctx context.Context, userID uint, name string) (*models.APIKey, error) {
	if name == "" {
		name = "api-key"
	}
	key := &models.APIKey{
		UserID:   userID,
		Name:     name,
		IsActive: true,
	}
	if err := s.userRepo.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *userService) ListAPIKeys(ctx context.Context, userID uint) ([]models.APIKey, error) {
	return s.userRepo.ListAPIKeys(ctx, userID)
}

func (s *userService) DeleteAPIKey(ctx context.Context, userID, keyID uint) error {
	return s.userRepo.DeleteAPIKey(ctx, userID, keyID)
}
