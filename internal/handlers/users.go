package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"farmmarket/internal/apperror"
	"farmmarket/internal/middleware"
	"farmmarket/internal/models"
	"farmmarket/internal/service"
)

type updateProfileRequest struct {
	Name     *string          `json:"name" binding:"omitempty,max=100"`
	Phone    *string          `json:"phone" binding:"omitempty,kephone"`
	County   *string          `json:"county" binding:"omitempty,min=1"`
	Location *locationRequest `json:"location"`
}

func (h HandlerSet) UpdateMe(c *gin.Context) {
	var req updateProfileRequest
	if !bind(c, &req) {
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), currentUser(c), service.ProfileInput{
		Name:     req.Name,
		Phone:    req.Phone,
		County:   req.County,
		Location: req.Location.geoPoint(),
	})
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Profile updated successfully", userData{User: user.Public()})
}

func (h HandlerSet) UploadAvatar(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		fail(c, apperror.Validation("file is required", map[string]string{"file": "is required"}).Wrap(err))
		return
	}

	file, err := header.Open()
	if err != nil {
		fail(c, apperror.Internal(err))
		return
	}
	defer file.Close()

	user, err := h.users.UploadAvatar(c.Request.Context(), currentUser(c), file, header.Size)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Avatar updated", userData{User: user.Public()})
}

// GetUser shows contact details only to the user themself and to admins.
func (h HandlerSet) GetUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	view := user.Profile()
	if caller, ok := middleware.CurrentUser(c); ok && (caller.ID == user.ID || caller.Role == models.UserRoleAdmin) {
		view = user.Public()
	}
	respond(c, http.StatusOK, "", userData{User: view})
}

func (h HandlerSet) MyFarmerProfile(c *gin.Context) {
	profile, err := h.users.FarmerProfile(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "", gin.H{"profile": profile})
}

type statusRequest struct {
	IsActive *bool `json:"isActive"`
	IsBanned *bool `json:"isBanned"`
}

func (h HandlerSet) AdminSetStatus(c *gin.Context) {
	var req statusRequest
	if !bind(c, &req) {
		return
	}

	target := c.Param("id")
	if target == currentUser(c).ID {
		fail(c, apperror.Forbidden("forbidden", "Admins cannot change their own status"))
		return
	}

	user, err := h.users.SetStatus(c.Request.Context(), target, service.StatusInput{
		IsActive: req.IsActive,
		IsBanned: req.IsBanned,
	})
	if err != nil {
		fail(c, err)
		return
	}

	h.log.Info().Str("admin_id", currentUser(c).ID).Str("target_user_id", target).Msg("admin changed user status")
	respond(c, http.StatusOK, "User status updated", userData{User: user.Public()})
}
