package domain

import (
	"time"

	"github.com/google/uuid"
)

// Default preference values applied on first access.
const (
	DefaultCurrency = "USD"
	DefaultTheme    = "light"
	DefaultLanguage = "en"
)

// UserPreference holds the per-user settings. Exactly one per user.
type UserPreference struct {
	UserID        uuid.UUID `json:"user_id"        db:"user_id"`
	Currency      string    `json:"currency"       db:"currency"`
	Theme         string    `json:"theme"          db:"theme"`
	Language      string    `json:"language"       db:"language"`
	Notifications Values    `json:"notifications"  db:"notification_settings"`
	Display       Values    `json:"display"        db:"display_settings"`
	Privacy       Values    `json:"privacy"        db:"privacy_settings"`
	CreatedAt     time.Time `json:"created_at"     db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"     db:"updated_at"`
}

// DefaultPreference returns the settings a user starts with.
func DefaultPreference(userID uuid.UUID, now time.Time) *UserPreference {
	return &UserPreference{
		UserID:        userID,
		Currency:      DefaultCurrency,
		Theme:         DefaultTheme,
		Language:      DefaultLanguage,
		Notifications: Values{},
		Display:       Values{},
		Privacy:       Values{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
