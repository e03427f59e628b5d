package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the root of all ownership.
type User struct {
	ID           uuid.UUID  `json:"id"            db:"id"`
	Username     string     `json:"username"      db:"username"`
	Email        string     `json:"email"         db:"email"`
	PasswordHash string     `json:"-"             db:"password_hash"`
	Salt         string     `json:"-"             db:"salt"`
	IsActive     bool       `json:"is_active"     db:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"    db:"updated_at"`
	Tombstone
}
