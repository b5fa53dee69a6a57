package models

import (
	"time"

	"farmmarket/internal/config"
	"farmmarket/internal/security"
)

const (
	DefaultMaxSessions   = 5
	RefreshTokenLifetime = config.RefreshTokenLifetime
)

// RefreshToken is one live session. Only the digest of the token is kept.
type RefreshToken struct {
	Hash      string
	CreatedAt time.Time
}

// SessionRegistry is the bounded, oldest-first list of a user's valid refresh
// tokens. It never touches storage; callers persist the owning User after
// mutating it.
type SessionRegistry struct {
	limit   int
	entries []RefreshToken
}

// NewSessionRegistry restores a registry from stored entries, which must be
// ordered oldest first. A non-positive limit falls back to DefaultMaxSessions.
func NewSessionRegistry(limit int, entries ...RefreshToken) SessionRegistry {
	r := SessionRegistry{limit: limit}
	r.entries = append(r.entries, entries...)
	r.evict()
	return r
}

func (r *SessionRegistry) max() int {
	if r.limit <= 0 {
		return DefaultMaxSessions
	}
	return r.limit
}

// Add records token as issued at now and evicts the oldest entries past the limit.
func (r *SessionRegistry) Add(token string, now time.Time) {
	r.entries = append(r.entries, RefreshToken{
		Hash:      security.HashToken(token),
		CreatedAt: now.UTC(),
	})
	r.evict()
}

func (r *SessionRegistry) evict() {
	if over := len(r.entries) - r.max(); over > 0 {
		r.entries = append([]RefreshToken(nil), r.entries[over:]...)
	}
}

// Remove drops token if present and reports whether it was.
func (r *SessionRegistry) Remove(token string) bool {
	hash := security.HashToken(token)
	for i, entry := range r.entries {
		if entry.Hash == hash {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *SessionRegistry) Contains(token string) bool {
	hash := security.HashToken(token)
	for _, entry := range r.entries {
		if entry.Hash == hash {
			return true
		}
	}
	return false
}

// CleanExpired drops entries at least RefreshTokenLifetime old and returns how many went.
func (r *SessionRegistry) CleanExpired(now time.Time) int {
	kept := r.entries[:0:0]
	for _, entry := range r.entries {
		if now.Sub(entry.CreatedAt) < RefreshTokenLifetime {
			kept = append(kept, entry)
		}
	}
	removed := len(r.entries) - len(kept)
	r.entries = kept
	return removed
}

func (r *SessionRegistry) Clear() {
	r.entries = nil
}

func (r *SessionRegistry) Len() int {
	return len(r.entries)
}

// Entries returns a copy, oldest first.
func (r *SessionRegistry) Entries() []RefreshToken {
	out := make([]RefreshToken, len(r.entries))
	copy(out, r.entries)
	return out
}

// Clone returns an independent copy so stores can hand out values safely.
func (r SessionRegistry) Clone() SessionRegistry {
	return NewSessionRegistry(r.limit, r.entries...)
}
