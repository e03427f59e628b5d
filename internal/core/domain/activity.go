package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityStatus is the outcome recorded for an audited action.
type ActivityStatus string

const (
	ActivitySuccess ActivityStatus = "success"
	ActivityFailed  ActivityStatus = "failed"
	ActivityPending ActivityStatus = "pending"
)

// Audited actions.
const (
	ActionUserCreated      = "user.created"
	ActionUserLogin        = "user.login"
	ActionUserLoginFailed  = "user.login_failed"
	ActionUserDeleted      = "user.deleted"
	ActionUserActivated    = "user.activated"
	ActionUserDeactivated  = "user.deactivated"
	ActionSessionIssued    = "session.issued"
	ActionSessionRefreshed = "session.refreshed"
	ActionSessionRevoked   = "session.revoked"
	ActionWatchAdded       = "watch.added"
	ActionWatchUpdated     = "watch.updated"
	ActionWatchRemoved     = "watch.removed"
	ActionWalletAdded      = "wallet.added"
	ActionWalletRemoved    = "wallet.removed"
	ActionWalletPrimary    = "wallet.primary_set"
	ActionBalanceChanged   = "balance.changed"
	ActionPreferenceUpdate = "preference.updated"
)

// Audited resource types.
const (
	ResourceUser       = "user"
	ResourceSession    = "session"
	ResourceWatch      = "watch_address"
	ResourceWallet     = "user_wallet"
	ResourcePreference = "user_preference"
)

// ActivityLog is one append-only audit row. UserID is nil for anonymous or
// system actions.
type ActivityLog struct {
	ID           uuid.UUID      `json:"id"            db:"id"`
	UserID       *uuid.UUID     `json:"user_id"       db:"user_id"`
	Action       string         `json:"action"        db:"action"`
	ResourceType *string        `json:"resource_type" db:"resource_type"`
	ResourceID   *string        `json:"resource_id"   db:"resource_id"`
	Details      Values         `json:"details"       db:"details"`
	IPAddress    *string        `json:"ip_address"    db:"ip_address"`
	UserAgent    *string        `json:"user_agent"    db:"user_agent"`
	Status       ActivityStatus `json:"status"        db:"status"`
	CreatedAt    time.Time      `json:"created_at"    db:"created_at"`
}
