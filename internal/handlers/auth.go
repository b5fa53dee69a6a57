package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"farmmarket/internal/models"
	"farmmarket/internal/service"
)

type locationRequest struct {
	Type        string    `json:"type" binding:"required,eq=Point"`
	Coordinates []float64 `json:"coordinates" binding:"required,len=2"`
}

func (l *locationRequest) geoPoint() *models.GeoPoint {
	if l == nil {
		return nil
	}
	return &models.GeoPoint{Type: l.Type, Coordinates: [2]float64{l.Coordinates[0], l.Coordinates[1]}}
}

type registerRequest struct {
	Name     string           `json:"name" binding:"required,max=100"`
	Email    string           `json:"email" binding:"required,email"`
	Phone    string           `json:"phone" binding:"required,kephone"`
	Password string           `json:"password" binding:"required,min=6"`
	Role     string           `json:"role" binding:"omitempty,oneof=buyer farmer"`
	County   string           `json:"county" binding:"required"`
	Location *locationRequest `json:"location"`
}

type authData struct {
	User         models.PublicUser `json:"user"`
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
}

func newAuthData(result service.AuthResult) authData {
	return authData{
		User:         result.User.Public(),
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}
}

func (h HandlerSet) SignUp(c *gin.Context) {
	var req registerRequest
	if !bind(c, &req) {
		return
	}

	user, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Role:     models.UserRole(req.Role),
		County:   req.County,
		Location: req.Location.geoPoint(),
	})
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusCreated,
		"User registered successfully. Please check your email to verify your account.",
		userData{User: user.Public()})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Login successful", newAuthData(result))
}

// refreshRequest has no binding tags: a missing token is a 401, not a 400.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h HandlerSet) Refresh(c *gin.Context) {
	var req refreshRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "", newAuthData(result))
}

func (h HandlerSet) Logout(c *gin.Context) {
	var req refreshRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.auth.Logout(c.Request.Context(), currentUser(c), req.RefreshToken); err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Logged out successfully", nil)
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h HandlerSet) VerifyEmail(c *gin.Context) {
	var req tokenRequest
	if !bind(c, &req) {
		return
	}

	user, err := h.auth.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Email verified successfully", userData{User: user.Public()})
}

func (h HandlerSet) ResendVerification(c *gin.Context) {
	if err := h.auth.ResendVerification(c.Request.Context(), currentUser(c)); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "Verification email sent", nil)
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

const forgotPasswordMessage = "If an account with that email exists, a password reset link has been sent."

func (h HandlerSet) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bind(c, &req) {
		return
	}

	if err := h.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, forgotPasswordMessage, nil)
}

type resetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

func (h HandlerSet) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bind(c, &req) {
		return
	}

	if err := h.auth.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Password reset successfully. Please log in with your new password.", nil)
}

func (h HandlerSet) Me(c *gin.Context) {
	respond(c, http.StatusOK, "", userData{User: currentUser(c).Public()})
}
