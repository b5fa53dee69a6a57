package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"farmmarket/internal/config"
	"farmmarket/internal/middleware"
	"farmmarket/internal/models"
	"farmmarket/internal/service"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Log     zerolog.Logger
	Config  *config.AppConfig
	Auth    *service.AuthService
	Users   *service.UserService
	Limiter func(scope string) gin.HandlerFunc
	Health  []HealthCheck
}

type HandlerSet struct {
	log     zerolog.Logger
	cfg     *config.AppConfig
	auth    *service.AuthService
	users   *service.UserService
	limiter func(scope string) gin.HandlerFunc
	health  []HealthCheck
}

func NewHandlerSet(deps Deps) HandlerSet {
	registerValidators()

	limiter := deps.Limiter
	if limiter == nil {
		limiter = func(string) gin.HandlerFunc { return func(c *gin.Context) { c.Next() } }
	}

	return HandlerSet{
		log:     deps.Log,
		cfg:     deps.Config,
		auth:    deps.Auth,
		users:   deps.Users,
		limiter: limiter,
		health:  deps.Health,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	requireAuth := middleware.Auth(h.auth)

	auth := router.Group("/auth")
	{
		auth.POST("/register", h.limiter("register"), h.SignUp)
		auth.POST("/login", h.limiter("login"), h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", requireAuth, h.Logout)
		auth.POST("/verify-email", h.VerifyEmail)
		auth.POST("/resend-verification", requireAuth, h.ResendVerification)
		auth.POST("/forgot-password", h.limiter("forgot-password"), h.ForgotPassword)
		auth.POST("/reset-password", h.limiter("reset-password"), h.ResetPassword)
		auth.GET("/me", requireAuth, h.Me)
	}

	users := router.Group("/users")
	{
		users.GET("/me", requireAuth, h.Me)
		users.PATCH("/me", requireAuth, h.UpdateMe)
		users.POST("/me/avatar", requireAuth, h.UploadAvatar)
		users.GET("/me/farmer-profile",
			requireAuth,
			middleware.RequireRoles(models.UserRoleFarmer),
			middleware.RequireVerified(),
			h.MyFarmerProfile,
		)
		users.GET("/:id", middleware.OptionalAuth(h.auth), h.GetUser)
	}

	admin := router.Group("/admin")
	admin.Use(requireAuth, middleware.RequireRoles(models.UserRoleAdmin))
	admin.PATCH("/users/:id/status", h.AdminSetStatus)
}
