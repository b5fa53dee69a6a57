package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"farmmarket/internal/models"
)

// MemoryStore keeps users and farmer profiles in process. It honours the same
// version check as UserRepository.Update and backs tests and the memory driver.
type MemoryStore struct {
	mu          sync.Mutex
	maxSessions int
	users       map[string]models.User
	profiles    map[string]models.FarmerProfile
	now         func() time.Time
}

func NewMemoryStore(maxSessions int) *MemoryStore {
	return &MemoryStore{
		maxSessions: maxSessions,
		users:       make(map[string]models.User),
		profiles:    make(map[string]models.FarmerProfile),
		now:         time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return ErrDuplicateUser
	}
	if s.conflictsLocked(user) {
		return ErrDuplicateUser
	}

	user.Version = 1
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	user.UpdatedAt = user.CreatedAt
	s.users[user.ID] = s.copyUser(user)
	return nil
}

func (s *MemoryStore) conflictsLocked(user models.User) bool {
	for id, existing := range s.users {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(existing.Email, user.Email) || existing.Phone == user.Phone {
			return true
		}
	}
	return false
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return s.copyUser(user), nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	return s.findFirst(func(u models.User) bool {
		return u.Email == email
	})
}

func (s *MemoryStore) FindByVerificationToken(_ context.Context, hash string, now time.Time) (models.User, error) {
	return s.findFirst(func(u models.User) bool {
		return u.EmailVerificationTokenHash != nil && *u.EmailVerificationTokenHash == hash &&
			u.EmailVerificationExpires != nil && u.EmailVerificationExpires.After(now)
	})
}

func (s *MemoryStore) FindByResetToken(_ context.Context, hash string, now time.Time) (models.User, error) {
	return s.findFirst(func(u models.User) bool {
		return u.PasswordResetTokenHash != nil && *u.PasswordResetTokenHash == hash &&
			u.PasswordResetExpires != nil && u.PasswordResetExpires.After(now)
	})
}

func (s *MemoryStore) findFirst(match func(models.User) bool) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if match(user) {
			return s.copyUser(user), nil
		}
	}
	return models.User{}, ErrUserNotFound
}

func (s *MemoryStore) Update(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	if current.Version != user.Version {
		return ErrVersionConflict
	}
	if s.conflictsLocked(*user) {
		return ErrDuplicateUser
	}

	user.Version++
	user.UpdatedAt = s.now().UTC()
	s.users[user.ID] = s.copyUser(*user)
	return nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (PurgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result PurgeResult
	for id, user := range s.users {
		result.RefreshTokens += int64(user.Sessions.CleanExpired(now))
		if user.EmailVerificationExpires != nil && !user.EmailVerificationExpires.After(now) {
			user.EmailVerificationTokenHash = nil
			user.EmailVerificationExpires = nil
			result.VerificationTokens++
		}
		if user.PasswordResetExpires != nil && !user.PasswordResetExpires.After(now) {
			user.PasswordResetTokenHash = nil
			user.PasswordResetExpires = nil
			result.ResetTokens++
		}
		s.users[id] = user
	}
	return result, nil
}

func (s *MemoryStore) CreateProfile(_ context.Context, profile models.FarmerProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[profile.UserID]; ok {
		return nil
	}
	now := s.now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	s.profiles[profile.UserID] = profile
	return nil
}

func (s *MemoryStore) GetProfileByUserID(_ context.Context, userID string) (models.FarmerProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return models.FarmerProfile{}, ErrProfileNotFound
	}
	return profile, nil
}

// copyUser detaches the pointer fields and the session list from the stored value.
func (s *MemoryStore) copyUser(u models.User) models.User {
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	u.Location = clonePtr(u.Location)
	u.Avatar = clonePtr(u.Avatar)
	u.LastLoginAt = clonePtr(u.LastLoginAt)
	u.EmailVerificationTokenHash = clonePtr(u.EmailVerificationTokenHash)
	u.EmailVerificationExpires = clonePtr(u.EmailVerificationExpires)
	u.PasswordResetTokenHash = clonePtr(u.PasswordResetTokenHash)
	u.PasswordResetExpires = clonePtr(u.PasswordResetExpires)
	u.Sessions = models.NewSessionRegistry(s.maxSessions, u.Sessions.Entries()...)
	return u
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
