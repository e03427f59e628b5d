package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is a login of one user on one device.
type Session struct {
	ID               uuid.UUID  `json:"id"                 db:"id"`
	UserID           uuid.UUID  `json:"user_id"            db:"user_id"`
	SessionToken     string     `json:"-"                  db:"session_token"`
	RefreshToken     string     `json:"-"                  db:"refresh_token"`
	DeviceInfo       Values     `json:"device_info"        db:"device_info"`
	IsActive         bool       `json:"is_active"          db:"is_active"`
	ExpiresAt        time.Time  `json:"expires_at"         db:"expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at" db:"refresh_expires_at"`
	LastSeenAt       *time.Time `json:"last_seen_at"       db:"last_seen_at"`
	CreatedAt        time.Time  `json:"created_at"         db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"         db:"updated_at"`
}

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	SessionStateCreated SessionState = "created"
	SessionStateActive  SessionState = "active"
	SessionStateExpired SessionState = "expired"
	SessionStateRevoked SessionState = "revoked"
)

// State derives the session state at now. Revocation wins over expiry.
func (s *Session) State(now time.Time) SessionState {
	switch {
	case s.CreatedAt.IsZero():
		return SessionStateCreated
	case !s.IsActive:
		return SessionStateRevoked
	case !now.Before(s.ExpiresAt):
		return SessionStateExpired
	default:
		return SessionStateActive
	}
}
