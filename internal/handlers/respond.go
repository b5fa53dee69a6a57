package handlers

import (
	"github.com/gin-gonic/gin"

	"farmmarket/internal/middleware"
	"farmmarket/internal/models"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func fail(c *gin.Context, err error) {
	middleware.AbortWithError(c, err)
}

// bind decodes the JSON body into req and renders validation failures.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, validationError(err))
		return false
	}
	return true
}

// currentUser is only called behind middleware.Auth.
func currentUser(c *gin.Context) models.User {
	user, _ := middleware.CurrentUser(c)
	return user
}

type userData struct {
	User models.PublicUser `json:"user"`
}
