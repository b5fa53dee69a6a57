package repository

import "errors"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrDuplicateUser   = errors.New("user with this email or phone already exists")
	ErrVersionConflict = errors.New("user was modified concurrently")
	ErrProfileNotFound = errors.New("farmer profile not found")
)

// PurgeResult counts what a storage-level expiry pass removed.
type PurgeResult struct {
	RefreshTokens      int64
	VerificationTokens int64
	ResetTokens        int64
}
