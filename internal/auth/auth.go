// Package auth issues and validates the JWTs and password hashes behind
// the service's authentication boundary. Successful validation yields an
// owner id, which every ownership check downstream keys on.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"scribeflow/internal/models"
)

// Claims is the JWT payload minted for an authenticated user.
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ErrInvalidToken is returned by ValidateToken for any malformed, expired,
// or signature-mismatched token.
var ErrInvalidToken = errors.New("auth: invalid token")

// AuthService mints and validates access tokens for a single JWT secret.
type AuthService struct {
	secret     []byte
	expiration time.Duration
}

// NewAuthService builds an AuthService around jwtSecret. expirationMinutes
// below 1 falls back to an hour.
func NewAuthService(jwtSecret string, expirationMinutes int) *AuthService {
	if expirationMinutes < 1 {
		expirationMinutes = 60
	}
	return &AuthService{
		secret:     []byte(jwtSecret),
		expiration: time.Duration(expirationMinutes) * time.Minute,
	}
}

// GenerateToken mints a short-lived access token for u.
func (s *AuthService) GenerateToken(u *models.User) (string, error) {
	return s.sign(u, s.expiration)
}

// GenerateLongLivedToken mints a token for non-interactive clients (CLI,
// API integrations) with a year-long expiration.
func (s *AuthService) GenerateLongLivedToken(u *models.User) (string, error) {
	return s.sign(u, 365*24*time.Hour)
}

func (s *AuthService) sign(u *models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies token, returning its claims.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
