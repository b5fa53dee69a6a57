package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"farmmarket/internal/apperror"
)

// ErrorBody is the JSON envelope of every failed request.
type ErrorBody struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// AbortWithError renders err and stops the chain. Internal errors keep their
// cause on the context for the request logger and show a generic message.
func AbortWithError(c *gin.Context, err error) {
	appErr := apperror.As(err)
	if appErr.Kind == apperror.KindInternal {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(apperror.HTTPStatus(appErr.Kind), ErrorBody{
		Success: false,
		Error:   appErr.Code,
		Message: appErr.Message,
		Fields:  appErr.Fields,
	})
}

func abortStatus(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: code, Message: message})
}

func abortInternal(c *gin.Context) {
	abortStatus(c, http.StatusInternalServerError, "internal_error", "internal server error")
}
