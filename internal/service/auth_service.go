package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"farmmarket/internal/apperror"
	"farmmarket/internal/config"
	"farmmarket/internal/ids"
	"farmmarket/internal/mail"
	"farmmarket/internal/models"
	"farmmarket/internal/repository"
	"farmmarket/internal/security"
)

var (
	errInvalidCredentials = apperror.Unauthorized("invalid_credentials", "Invalid credentials")
	errAccountSuspended   = apperror.Unauthorized("account_suspended", "Account is suspended")
	errInvalidRefresh     = apperror.Unauthorized("invalid_refresh_token", "Invalid refresh token")
)

// Mailers separates the two delivery paths: Queued is fire-and-forget,
// Direct reports delivery failures to the caller.
type Mailers struct {
	Renderer *mail.Renderer
	Queued   mail.Sender
	Direct   mail.Sender
}

type AuthService struct {
	users        UserStore
	farmers      FarmerStore
	issuer       *security.TokenIssuer
	mailers      Mailers
	cfg          config.SecurityConfig
	log          zerolog.Logger
	now          func() time.Time
	hashPassword func(string) ([]byte, error)
}

func NewAuthService(
	users UserStore,
	farmers FarmerStore,
	issuer *security.TokenIssuer,
	mailers Mailers,
	cfg config.SecurityConfig,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:        users,
		farmers:      farmers,
		issuer:       issuer,
		mailers:      mailers,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
		hashPassword: security.HashPassword,
	}
}

// WithPasswordHasher replaces the hasher used for new passwords.
func (s *AuthService) WithPasswordHasher(hash func(string) ([]byte, error)) *AuthService {
	s.hashPassword = hash
	return s
}

type RegisterInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
	Role     models.UserRole
	County   string
	Location *models.GeoPoint
}

type AuthResult struct {
	User         models.User
	AccessToken  string
	RefreshToken string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (models.User, error) {
	email := normalizeEmail(input.Email)
	role := input.Role
	if role == "" {
		role = models.UserRoleBuyer
	}
	if role != models.UserRoleBuyer && role != models.UserRoleFarmer {
		return models.User{}, apperror.Validation("invalid role", map[string]string{"role": "must be one of buyer farmer"})
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return models.User{}, storeError(repository.ErrDuplicateUser)
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, apperror.Internal(err)
	}

	passwordHash, err := s.hashPassword(input.Password)
	if err != nil {
		return models.User{}, apperror.Internal(err)
	}

	now := s.now().UTC()
	user := models.User{
		ID:           ids.New(),
		Name:         strings.TrimSpace(input.Name),
		Email:        email,
		Phone:        strings.TrimSpace(input.Phone),
		PasswordHash: passwordHash,
		Role:         role,
		County:       strings.TrimSpace(input.County),
		Location:     input.Location,
		IsActive:     true,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	token, err := user.IssueVerificationToken(now, s.cfg.VerificationTTL)
	if err != nil {
		return models.User{}, apperror.Internal(err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		return models.User{}, storeError(err)
	}

	if role == models.UserRoleFarmer {
		// The account is already committed; the profile is recreated on first read.
		if err := s.farmers.CreateProfile(ctx, models.NewFarmerProfile(ids.New(), user)); err != nil {
			s.log.Error().Err(err).Str("user_id", user.ID).Msg("farmer profile not created")
		}
	}

	s.queueVerification(ctx, user, token)

	s.log.Info().Str("user_id", user.ID).Str("role", string(role)).Msg("user registered")
	return user, nil
}

func (s *AuthService) queueVerification(ctx context.Context, user models.User, token string) {
	msg, err := s.mailers.Renderer.Verification(user.Email, user.Name, token)
	if err == nil {
		err = s.mailers.Queued.Send(ctx, msg)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Str("email", user.Email).Msg("verification email not queued")
	}
}

type LoginInput struct {
	Email    string
	Password string
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, errInvalidCredentials
		}
		return AuthResult{}, apperror.Internal(err)
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("stored password hash unreadable")
	}
	if err != nil || !ok {
		return AuthResult{}, errInvalidCredentials
	}

	if !user.CanAuthenticate() {
		return AuthResult{}, errAccountSuspended
	}

	pair, err := s.issuer.IssuePair(user.ID)
	if err != nil {
		return AuthResult{}, apperror.Internal(err)
	}

	now := s.now().UTC()
	user, err = updateWithRetry(ctx, s.users, user, func(u *models.User) (bool, error) {
		if !u.CanAuthenticate() {
			return false, errAccountSuspended
		}
		u.Sessions.Add(pair.RefreshToken, now)
		u.LastLoginAt = &now
		return true, nil
	})
	if err != nil {
		return AuthResult{}, storeError(err)
	}

	return AuthResult{User: user, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// Refresh rotates refreshToken. The presented token must still be in the
// user's registry; after a successful call it never verifies again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	if refreshToken == "" {
		return AuthResult{}, apperror.Unauthorized("refresh_token_required", "Refresh token required")
	}

	claims, err := s.issuer.ParseRefreshToken(refreshToken)
	if err != nil {
		s.log.Debug().Err(err).Str("cause", tokenFailureCause(err)).Msg("refresh token rejected")
		return AuthResult{}, errInvalidRefresh
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, errInvalidRefresh
		}
		return AuthResult{}, apperror.Internal(err)
	}
	if !user.CanAuthenticate() {
		return AuthResult{}, errInvalidRefresh
	}

	if !user.Sessions.Contains(refreshToken) {
		s.log.Warn().Str("user_id", user.ID).Msg("refresh token not in registry")
		return AuthResult{}, errInvalidRefresh
	}

	pair, err := s.issuer.IssuePair(user.ID)
	if err != nil {
		return AuthResult{}, apperror.Internal(err)
	}

	// Writes from other sessions are retried; a token already rotated away
	// by a concurrent call is gone from the reloaded registry.
	now := s.now().UTC()
	user, err = updateWithRetry(ctx, s.users, user, func(u *models.User) (bool, error) {
		if !u.CanAuthenticate() || !u.Sessions.Remove(refreshToken) {
			s.log.Warn().Str("user_id", u.ID).Msg("refresh token used concurrently or revoked")
			return false, errInvalidRefresh
		}
		u.Sessions.Add(pair.RefreshToken, now)
		u.Sessions.CleanExpired(now)
		return true, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, errInvalidRefresh
		}
		return AuthResult{}, storeError(err)
	}

	return AuthResult{User: user, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// Logout forgets refreshToken for user. Unknown or empty tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, user models.User, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	current, err := s.users.GetByID(ctx, user.ID)
	if err == nil {
		_, err = updateWithRetry(ctx, s.users, current, func(u *models.User) (bool, error) {
			return u.Sessions.Remove(refreshToken), nil
		})
	}
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil
	}
	return storeError(err)
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) (models.User, error) {
	invalid := apperror.Validation("Invalid or expired verification token", map[string]string{"token": "invalid or expired"})
	if token == "" {
		return models.User{}, invalid
	}

	hash := security.HashToken(token)
	now := s.now().UTC()
	user, err := s.users.FindByVerificationToken(ctx, hash, now)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, invalid
		}
		return models.User{}, apperror.Internal(err)
	}

	user, err = updateWithRetry(ctx, s.users, user, func(u *models.User) (bool, error) {
		if u.EmailVerificationTokenHash == nil || *u.EmailVerificationTokenHash != hash ||
			u.EmailVerificationExpires == nil || !u.EmailVerificationExpires.After(now) {
			return false, invalid
		}
		u.MarkEmailVerified()
		return true, nil
	})
	if err != nil {
		return models.User{}, storeError(err)
	}
	return user, nil
}

// ResendVerification issues a fresh verification token, replacing the old one.
func (s *AuthService) ResendVerification(ctx context.Context, user models.User) error {
	if user.EmailVerified {
		return apperror.Validation("Email already verified", nil)
	}

	var token string
	now := s.now().UTC()
	user, err := updateWithRetry(ctx, s.users, user, func(u *models.User) (bool, error) {
		if u.EmailVerified {
			return false, apperror.Validation("Email already verified", nil)
		}
		t, err := u.IssueVerificationToken(now, s.cfg.VerificationTTL)
		token = t
		return true, err
	})
	if err != nil {
		return storeError(err)
	}

	s.queueVerification(ctx, user, token)
	return nil
}

// ForgotPassword never reveals whether email belongs to an account. Only
// when it does is a reset token stored and mailed, and a failed send is
// reported because the email is the only way to reach the link.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.log.Debug().Msg("password reset requested for unknown email")
			return nil
		}
		return apperror.Internal(err)
	}

	var token string
	now := s.now().UTC()
	user, err = updateWithRetry(ctx, s.users, user, func(u *models.User) (bool, error) {
		t, err := u.IssuePasswordResetToken(now, s.cfg.ResetTTL)
		token = t
		return true, err
	})
	if err != nil {
		return storeError(err)
	}

	msg, err := s.mailers.Renderer.PasswordReset(user.Email, user.Name, token)
	if err != nil {
		return apperror.Internal(err)
	}
	if err := s.mailers.Direct.Send(ctx, msg); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Str("email", user.Email).Msg("password reset email failed")
		return &apperror.Error{
			Kind:    apperror.KindInternal,
			Code:    "email_failed",
			Message: "Failed to send password reset email",
			Err:     err,
		}
	}
	return nil
}

// ResetPassword sets a new password and ends every session of the account.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	invalid := apperror.Validation("Invalid or expired reset token", map[string]string{"token": "invalid or expired"})
	if token == "" {
		return invalid
	}

	hash := security.HashToken(token)
	now := s.now().UTC()
	user, err := s.users.FindByResetToken(ctx, hash, now)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return invalid
		}
		return apperror.Internal(err)
	}

	passwordHash, err := s.hashPassword(password)
	if err != nil {
		return apperror.Internal(err)
	}

	user, err = updateWithRetry(ctx, s.users, user, func(u *models.User) (bool, error) {
		if u.PasswordResetTokenHash == nil || *u.PasswordResetTokenHash != hash ||
			u.PasswordResetExpires == nil || !u.PasswordResetExpires.After(now) {
			return false, invalid
		}
		u.ResetPassword(passwordHash)
		return true, nil
	})
	if err != nil {
		return storeError(err)
	}

	s.log.Info().Str("user_id", user.ID).Msg("password reset, all sessions revoked")
	return nil
}

// Authenticate resolves the caller behind an access token. The user is read
// on every call so deactivation and bans apply before the token expires.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (models.User, error) {
	claims, err := s.issuer.ParseAccessToken(accessToken)
	if err != nil {
		cause := tokenFailureCause(err)
		s.log.Debug().Err(err).Str("cause", cause).Msg("access token rejected")
		if cause == "expired" {
			return models.User{}, apperror.Unauthorized("token_expired", "Token expired").Wrap(err)
		}
		return models.User{}, apperror.Unauthorized("invalid_token", "Invalid token").Wrap(err)
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, apperror.Unauthorized("invalid_token", "Invalid or expired token")
		}
		return models.User{}, apperror.Internal(err)
	}
	if !user.CanAuthenticate() {
		return models.User{}, apperror.Unauthorized("invalid_token", "Invalid or expired token")
	}
	return user, nil
}

func tokenFailureCause(err error) string {
	if errors.Is(err, security.ErrTokenExpired) {
		return "expired"
	}
	return "invalid"
}
