package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"farmmarket/internal/apperror"
	"farmmarket/internal/models"
)

const currentUserKey = "current_user"

// Authenticator resolves an access token to a user allowed to act.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (models.User, error)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			AbortWithError(c, apperror.Unauthorized("missing_token", "Access token required"))
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(currentUserKey, user)
		c.Next()
	}
}

// OptionalAuth attaches the caller when a usable token is present and
// otherwise continues anonymously.
func OptionalAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if user, err := auth.Authenticate(c.Request.Context(), token); err == nil {
				c.Set(currentUserKey, user)
			}
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}
