package models

import (
	"encoding/json"
	"time"

	"farmmarket/internal/security"
)

type UserRole string

const (
	UserRoleBuyer  UserRole = "buyer"
	UserRoleFarmer UserRole = "farmer"
	UserRoleAdmin  UserRole = "admin"
)

func (r UserRole) Valid() bool {
	switch r {
	case UserRoleBuyer, UserRoleFarmer, UserRoleAdmin:
		return true
	}
	return false
}

// GeoPoint is a GeoJSON point; Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

type User struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	PasswordHash []byte
	Role         UserRole
	County       string
	Location     *GeoPoint
	Avatar       *string

	EmailVerified bool
	IsActive      bool
	IsBanned      bool
	LastLoginAt   *time.Time

	Sessions SessionRegistry

	EmailVerificationTokenHash *string
	EmailVerificationExpires   *time.Time
	PasswordResetTokenHash     *string
	PasswordResetExpires       *time.Time

	// Version increments on every persisted mutation; stores reject updates
	// made against a stale value.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanAuthenticate reports whether the account may hold or use credentials.
func (u User) CanAuthenticate() bool {
	return u.IsActive && !u.IsBanned
}

// IssueVerificationToken replaces any pending verification token and returns the new plaintext.
func (u *User) IssueVerificationToken(now time.Time, ttl time.Duration) (string, error) {
	token, hash, err := security.GenerateOneTimeToken()
	if err != nil {
		return "", err
	}
	expires := now.Add(ttl).UTC()
	u.EmailVerificationTokenHash = &hash
	u.EmailVerificationExpires = &expires
	return token, nil
}

func (u *User) MarkEmailVerified() {
	u.EmailVerified = true
	u.EmailVerificationTokenHash = nil
	u.EmailVerificationExpires = nil
}

// IssuePasswordResetToken replaces any pending reset token and returns the new plaintext.
func (u *User) IssuePasswordResetToken(now time.Time, ttl time.Duration) (string, error) {
	token, hash, err := security.GenerateOneTimeToken()
	if err != nil {
		return "", err
	}
	expires := now.Add(ttl).UTC()
	u.PasswordResetTokenHash = &hash
	u.PasswordResetExpires = &expires
	return token, nil
}

// ResetPassword stores the new hash, burns the reset token and ends every session.
func (u *User) ResetPassword(passwordHash []byte) {
	u.PasswordHash = passwordHash
	u.PasswordResetTokenHash = nil
	u.PasswordResetExpires = nil
	u.Sessions.Clear()
}

// PublicUser is the only shape of a user that leaves the process.
type PublicUser struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Role          UserRole   `json:"role"`
	County        string     `json:"county"`
	Location      *GeoPoint  `json:"location,omitempty"`
	Avatar        *string    `json:"avatar,omitempty"`
	EmailVerified bool       `json:"emailVerified"`
	IsActive      bool       `json:"isActive"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Phone:         u.Phone,
		Role:          u.Role,
		County:        u.County,
		Location:      u.Location,
		Avatar:        u.Avatar,
		EmailVerified: u.EmailVerified,
		IsActive:      u.IsActive,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// Profile is the view shown to other users: contact details are dropped.
func (u User) Profile() PublicUser {
	p := u.Public()
	p.Email = ""
	p.Phone = ""
	p.LastLoginAt = nil
	return p
}

// MarshalJSON never emits credentials, sessions or one-time token fields.
func (u User) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Public())
}
