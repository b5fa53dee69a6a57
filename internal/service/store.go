package service

import (
	"context"
	"errors"
	"time"

	"farmmarket/internal/apperror"
	"farmmarket/internal/models"
	"farmmarket/internal/repository"
)

// UserStore is the credential store. Update must fail with
// repository.ErrVersionConflict when user.Version is stale.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	GetByID(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByVerificationToken(ctx context.Context, hash string, now time.Time) (models.User, error)
	FindByResetToken(ctx context.Context, hash string, now time.Time) (models.User, error)
	Update(ctx context.Context, user *models.User) error
	PurgeExpired(ctx context.Context, now time.Time) (repository.PurgeResult, error)
}

type FarmerStore interface {
	CreateProfile(ctx context.Context, profile models.FarmerProfile) error
	GetProfileByUserID(ctx context.Context, userID string) (models.FarmerProfile, error)
}

const maxUpdateAttempts = 3

// applyFunc mutates the user in place and reports whether anything needs saving.
type applyFunc func(user *models.User) (bool, error)

// updateWithRetry runs apply and persists the result. On a version conflict it
// reloads the user and runs apply again, up to maxUpdateAttempts times.
func updateWithRetry(ctx context.Context, store UserStore, user models.User, apply applyFunc) (models.User, error) {
	for attempt := 1; ; attempt++ {
		changed, err := apply(&user)
		if err != nil || !changed {
			return user, err
		}

		err = store.Update(ctx, &user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt == maxUpdateAttempts {
			return user, err
		}

		user, err = store.GetByID(ctx, user.ID)
		if err != nil {
			return user, err
		}
	}
}

// storeError maps repository sentinels onto the error taxonomy.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrUserNotFound):
		return apperror.NotFound("user not found").Wrap(err)
	case errors.Is(err, repository.ErrProfileNotFound):
		return apperror.NotFound("farmer profile not found").Wrap(err)
	case errors.Is(err, repository.ErrDuplicateUser):
		return apperror.Validation("user with this email or phone already exists", map[string]string{
			"email": "may already be registered",
			"phone": "may already be registered",
		}).Wrap(err)
	default:
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			return err
		}
		return apperror.Internal(err)
	}
}
