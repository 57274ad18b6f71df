package repository

import (
	"context"
	"errors"

	"scribeflow/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned by repository lookups that find nothing, in
// place of leaking the underlying gorm.ErrRecordNotFound to callers.
var ErrNotFound = errors.New("repository: not found")

// UserRepository is the persistence boundary for User and APIKey rows.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	Update(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindAPIKey(ctx context.Context, key string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, ak *models.APIKey) error
	CreateAPIKey(ctx context.Context, ak *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uint) ([]models.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, id uint) error

	CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, hashed string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id uint) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository builds a UserRepository over db.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *userRepository) Update(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Save(u).Error
}

func (r *userRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) FindAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	var ak models.APIKey
	if err := r.db.WithContext(ctx).First(&ak, "key = ? AND is_active = ?", key, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ak, nil
}

func (r *userRepository) TouchAPIKey(ctx context.Context, ak *models.APIKey) error {
	return r.db.WithContext(ctx).Model(ak).Update("last_used", ak.LastUsed).Error
}

func (r *userRepository) CreateAPIKey(ctx context.Context, ak *models.APIKey) error {
	return r.db.WithContext(ctx).Create(ak).Error
}

func (r *userRepository) ListAPIKeys(ctx context.Context, userID uint) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

func (r *userRepository) DeleteAPIKey(ctx context.Context, userID, id uint) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.APIKey{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepository) CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	return r.db.WithContext(ctx).Create(rt).Error
}

func (r *userRepository) FindRefreshToken(ctx context.Context, hashed string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	err := r.db.WithContext(ctx).
		First(&rt, "hashed = ? AND revoked = ?", hashed, false).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rt, nil
}

func (r *userRepository) RevokeRefreshToken(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("id = ?", id).
		Update("revoked", true).Error
}
