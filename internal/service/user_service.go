package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"farmmarket/internal/apperror"
	"farmmarket/internal/ids"
	"farmmarket/internal/media/sniffer"
	"farmmarket/internal/models"
	"farmmarket/internal/repository"
)

// AvatarStore persists avatar bytes and returns the URL they are served from.
type AvatarStore interface {
	PutAvatar(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

type UserService struct {
	users         UserStore
	farmers       FarmerStore
	avatars       AvatarStore
	maxAvatarSize int64
	log           zerolog.Logger
	now           func() time.Time
}

func NewUserService(users UserStore, farmers FarmerStore, avatars AvatarStore, maxAvatarSize int64, log zerolog.Logger) *UserService {
	return &UserService{
		users:         users,
		farmers:       farmers,
		avatars:       avatars,
		maxAvatarSize: maxAvatarSize,
		log:           log,
		now:           time.Now,
	}
}

func (s *UserService) Get(ctx context.Context, id string) (models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return models.User{}, storeError(err)
	}
	return user, nil
}

// ProfileInput holds the editable fields; nil means unchanged.
type ProfileInput struct {
	Name     *string
	Phone    *string
	County   *string
	Location *models.GeoPoint
}

func (s *UserService) UpdateProfile(ctx context.Context, user models.User, input ProfileInput) (models.User, error) {
	user, err := updateWithRetry(ctx, s.users, user, func(u *models.User) (bool, error) {
		changed := false
		if input.Name != nil {
			u.Name = strings.TrimSpace(*input.Name)
			changed = true
		}
		if input.Phone != nil {
			u.Phone = strings.TrimSpace(*input.Phone)
			changed = true
		}
		if input.County != nil {
			u.County = strings.TrimSpace(*input.County)
			changed = true
		}
		if input.Location != nil {
			loc := *input.Location
			u.Location = &loc
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return models.User{}, storeError(err)
	}
	return user, nil
}

// UploadAvatar checks the image by its leading bytes, stores it and points
// the user's avatar at it.
func (s *UserService) UploadAvatar(ctx context.Context, user models.User, body io.Reader, size int64) (models.User, error) {
	if s.avatars == nil {
		return models.User{}, apperror.Internal(errors.New("avatar storage not configured"))
	}
	if size <= 0 {
		return models.User{}, apperror.Validation("file is empty", map[string]string{"file": "required"})
	}
	if s.maxAvatarSize > 0 && size > s.maxAvatarSize {
		return models.User{}, apperror.Validation("file too large", map[string]string{
			"file": fmt.Sprintf("must be at most %d bytes", s.maxAvatarSize),
		})
	}

	kind, head, err := sniffer.Detect(body)
	if err != nil {
		if errors.Is(err, sniffer.ErrUnknownType) {
			return models.User{}, apperror.Validation("unsupported image type", map[string]string{
				"file": "must be a jpeg, png, gif or webp image",
			})
		}
		return models.User{}, apperror.Internal(err)
	}

	key := fmt.Sprintf("%s/%s.%s", user.ID, ids.New(), kind.Extension())
	url, err := s.avatars.PutAvatar(ctx, key, kind.MIME, io.MultiReader(bytes.NewReader(head), body), size)
	if err != nil {
		return models.User{}, apperror.Internal(err)
	}

	user, err = updateWithRetry(ctx, s.users, user, func(u *models.User) (bool, error) {
		u.Avatar = &url
		return true, nil
	})
	if err != nil {
		return models.User{}, storeError(err)
	}
	s.log.Info().Str("user_id", user.ID).Str("key", key).Msg("avatar updated")
	return user, nil
}

type StatusInput struct {
	IsActive *bool
	IsBanned *bool
}

// SetStatus changes account standing. An account that can no longer
// authenticate loses all of its sessions.
func (s *UserService) SetStatus(ctx context.Context, userID string, input StatusInput) (models.User, error) {
	if input.IsActive == nil && input.IsBanned == nil {
		return models.User{}, apperror.Validation("nothing to update", map[string]string{
			"isActive": "isActive or isBanned required",
		})
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.User{}, storeError(err)
	}

	user, err = updateWithRetry(ctx, s.users, user, func(u *models.User) (bool, error) {
		if input.IsActive != nil {
			u.IsActive = *input.IsActive
		}
		if input.IsBanned != nil {
			u.IsBanned = *input.IsBanned
		}
		if !u.CanAuthenticate() {
			u.Sessions.Clear()
		}
		return true, nil
	})
	if err != nil {
		return models.User{}, storeError(err)
	}

	s.log.Info().
		Str("user_id", user.ID).
		Bool("is_active", user.IsActive).
		Bool("is_banned", user.IsBanned).
		Msg("account status changed")
	return user, nil
}

// FarmerProfile returns user's farm profile. A farmer whose profile was never
// written gets the registration default.
func (s *UserService) FarmerProfile(ctx context.Context, user models.User) (models.FarmerProfile, error) {
	profile, err := s.farmers.GetProfileByUserID(ctx, user.ID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, repository.ErrProfileNotFound) || user.Role != models.UserRoleFarmer {
		return models.FarmerProfile{}, storeError(err)
	}

	if err := s.farmers.CreateProfile(ctx, models.NewFarmerProfile(ids.New(), user)); err != nil {
		return models.FarmerProfile{}, apperror.Internal(err)
	}
	s.log.Warn().Str("user_id", user.ID).Msg("missing farmer profile recreated")

	profile, err = s.farmers.GetProfileByUserID(ctx, user.ID)
	if err != nil {
		return models.FarmerProfile{}, storeError(err)
	}
	return profile, nil
}

// PurgeExpired removes storage-level leftovers: old refresh tokens and
// lapsed one-time tokens.
func (s *UserService) PurgeExpired(ctx context.Context) (repository.PurgeResult, error) {
	return s.users.PurgeExpired(ctx, s.now().UTC())
}
