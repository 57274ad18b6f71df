package middleware

import (
	"net/http"
	"strings"
	"time"

	"scribeflow/internal/auth"
	"scribeflow/internal/database"
	"scribeflow/internal/models"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware accepts either an API key or a JWT. Both paths resolve
// to an owner id in the context, which every ownership check downstream
// relies on.
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// API key first
		if key := c.GetHeader("X-API-Key"); key != "" {
			if apiKey, ok := validateAPIKey(key); ok {
				c.Set("auth_type", "api_key")
				c.Set("user_id", apiKey.UserID)
				c.Next()
				return
			}
		}

		var token string
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
		if token == "" {
			if cookie, err := c.Cookie("scribeflow_access_token"); err == nil {
				token = cookie
			}
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set("auth_type", "jwt")
		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

// validateAPIKey checks the key against the database and touches its
// last-used timestamp.
func validateAPIKey(key string) (*models.APIKey, bool) {
	var apiKey models.APIKey
	result := database.DB.Where("key = ? AND is_active = ?", key, true).First(&apiKey)
	if result.Error != nil {
		return nil, false
	}

	now := time.Now()
	apiKey.LastUsed = &now
	database.DB.Save(&apiKey)

	return &apiKey, true
}

// JWTOnlyMiddleware rejects API keys; account management endpoints need a
// real user session.
func JWTOnlyMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set("auth_type", "jwt")
		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}
