package middleware

import (
	"github.com/gin-gonic/gin"

	"farmmarket/internal/apperror"
	"farmmarket/internal/models"
)

// RequireRoles must run after Auth. A missing identity means the route was
// wired without it and is answered 401.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	roleSet := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			AbortWithError(c, apperror.Unauthorized("unauthorized", "Authentication required"))
			return
		}

		if _, ok := roleSet[user.Role]; !ok {
			AbortWithError(c, apperror.Forbidden("forbidden", "Insufficient permissions"))
			return
		}

		c.Next()
	}
}

func RequireVerified() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			AbortWithError(c, apperror.Unauthorized("unauthorized", "Authentication required"))
			return
		}
		if !user.EmailVerified {
			AbortWithError(c, apperror.Forbidden("email_not_verified", "Please verify your email address"))
			return
		}
		c.Next()
	}
}
