package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AddressType tags what kind of account a watch address is.
type AddressType string

const (
	AddressTypeEOA      AddressType = "eoa"
	AddressTypeContract AddressType = "contract"
	AddressTypeMultisig AddressType = "multisig"
)

// Valid reports whether t is a known address type.
func (t AddressType) Valid() bool {
	switch t {
	case AddressTypeEOA, AddressTypeContract, AddressTypeMultisig:
		return true
	}
	return false
}

// WatchAddress is an address a user monitors without necessarily holding its
// keys. CachedBalance mirrors the head of the native balance stream and is nil
// until the first observation.
type WatchAddress struct {
	ID                  uuid.UUID        `json:"id"                   db:"id"`
	UserID              uuid.UUID        `json:"user_id"              db:"user_id"`
	Address             string           `json:"address"              db:"address"`
	NetworkID           NetworkID        `json:"network_id"           db:"network_id"`
	AddressType         AddressType      `json:"address_type"         db:"address_type"`
	Label               string           `json:"label"                db:"label"`
	Tags                Tags             `json:"tags"                 db:"tags"`
	Notes               string           `json:"notes"                db:"notes"`
	IsFavorite          bool             `json:"is_favorite"          db:"is_favorite"`
	NotificationEnabled bool             `json:"notification_enabled" db:"notification_enabled"`
	CachedBalance       *decimal.Decimal `json:"cached_balance"       db:"cached_balance"`
	LastActivityAt      *time.Time       `json:"last_activity_at"     db:"last_activity_at"`
	CreatedAt           time.Time        `json:"created_at"           db:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"           db:"updated_at"`
	Tombstone
}

// WalletType tells how a wallet came to be known.
type WalletType string

const (
	WalletTypeImported WalletType = "imported"
	WalletTypeCreated  WalletType = "created"
	WalletTypeHardware WalletType = "hardware"
)

// Valid reports whether t is a known wallet type.
func (t WalletType) Valid() bool {
	switch t {
	case WalletTypeImported, WalletTypeCreated, WalletTypeHardware:
		return true
	}
	return false
}

// UserWallet is a wallet owned by a user. It never stores key material.
type UserWallet struct {
	ID             uuid.UUID  `json:"id"              db:"id"`
	UserID         uuid.UUID  `json:"user_id"         db:"user_id"`
	Address        string     `json:"address"         db:"address"`
	NetworkID      NetworkID  `json:"network_id"      db:"network_id"`
	WalletType     WalletType `json:"wallet_type"     db:"wallet_type"`
	DerivationPath *string    `json:"derivation_path" db:"derivation_path"`
	Label          string     `json:"label"           db:"label"`
	IsPrimary      bool       `json:"is_primary"      db:"is_primary"`
	LastUsedAt     *time.Time `json:"last_used_at"    db:"last_used_at"`
	CreatedAt      time.Time  `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"      db:"updated_at"`
	Tombstone
}
