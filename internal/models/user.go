package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an authenticated principal that owns jobs and live sessions.
type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Username     string    `json:"username" gorm:"uniqueIndex;not null;type:varchar(50)"`
	PasswordHash string    `json:"-" gorm:"not null;type:varchar(255)"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// APIKey is a long-lived credential usable in place of a JWT via the
// X-API-Key header.
type APIKey struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	UserID    uint       `json:"user_id" gorm:"not null;index"`
	Key       string     `json:"key" gorm:"uniqueIndex;not null;type:varchar(255)"`
	Name      string     `json:"name" gorm:"not null;type:varchar(100)"`
	IsActive  bool       `json:"is_active" gorm:"type:boolean;default:true"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeCreate assigns a random key if the caller did not already set one.
func (ak *APIKey) BeforeCreate(tx *gorm.DB) error {
	if ak.Key == "" {
		ak.Key = uuid.New().String()
	}
	return nil
}
