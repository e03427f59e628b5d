package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/watchledger/internal/core/domain"
)

// Scope selects which lifecycle states a lookup may return.
type Scope int

const (
	// OnlyActive hides tombstoned rows. It is the default everywhere.
	OnlyActive Scope = iota
	// IncludeTombstoned returns soft-deleted rows as well.
	IncludeTombstoned
)

// Store is the shared durable store handed to every component.
type Store interface {
	Repositories

	// Atomic runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	Atomic(ctx context.Context, fn func(uow UnitOfWork) error) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// UnitOfWork is the transactional view of the store.
type UnitOfWork interface {
	Repositories

	// LockStream serializes writers of one balance stream until the unit of
	// work ends.
	LockStream(ctx context.Context, key domain.StreamKey) error
}

// Repositories groups the per-entity repositories.
type Repositories interface {
	Users() UserRepository
	Sessions() SessionRepository
	Watches() WatchRepository
	Wallets() WalletRepository
	History() HistoryRepository
	Preferences() PreferenceRepository
	Activity() ActivityRepository
}

// UserRepository handles user records.
type UserRepository interface {
	// Create inserts a user. Username and email collisions fail with a
	// conflict naming the field.
	Create(ctx context.Context, user *domain.User) error

	// Get retrieves a user by id.
	Get(ctx context.Context, id uuid.UUID, scope Scope) (*domain.User, error)

	// FindByIdentifier retrieves a non-deleted user by username or email.
	FindByIdentifier(ctx context.Context, identifier string) (*domain.User, error)

	// UpdateLastLogin stamps the last successful login.
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error

	// SetActive toggles the active flag of a non-deleted user.
	SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error

	// SoftDelete tombstones a non-deleted user.
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}

// SessionRepository handles session records.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error

	// GetByToken retrieves a session by its session token.
	GetByToken(ctx context.Context, token string) (*domain.Session, error)

	// GetByRefreshToken retrieves a session by its refresh token.
	GetByRefreshToken(ctx context.Context, token string) (*domain.Session, error)

	// Touch stamps last_seen_at.
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error

	// Revoke deactivates a session. Revoking twice is not an error.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error

	// RevokeAllForUser deactivates every active session of a user.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)

	// Rotate replaces the session token and expiry of a session.
	Rotate(ctx context.Context, id uuid.UUID, token string, expiresAt, at time.Time) error

	// ListActive returns unexpired active sessions of a user, newest first.
	ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]*domain.Session, error)

	// PurgeExpired physically deletes sessions that expired or were revoked
	// before the cutoff.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// WatchFilter narrows ListByUser.
type WatchFilter struct {
	NetworkID      *domain.NetworkID
	FavoritesFirst bool
	Scope          Scope
}

// WatchRepository handles watch addresses.
type WatchRepository interface {
	// Create inserts a watch address. A live (user, address, network) triple
	// fails with domain.ErrDuplicateWatch.
	Create(ctx context.Context, watch *domain.WatchAddress) error

	Get(ctx context.Context, id uuid.UUID, scope Scope) (*domain.WatchAddress, error)

	// Update persists the user-editable metadata of a watch address.
	Update(ctx context.Context, watch *domain.WatchAddress) error

	// UpdateCachedBalance sets the cached native balance and last activity.
	UpdateCachedBalance(ctx context.Context, id uuid.UUID, balance string, at time.Time) error

	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error

	ListByUser(ctx context.Context, userID uuid.UUID, filter WatchFilter) ([]*domain.WatchAddress, error)

	// ListForPolling pages through all non-deleted watches ordered by id,
	// starting strictly after afterID (uuid.Nil for the first page).
	ListForPolling(ctx context.Context, networkID *domain.NetworkID, afterID uuid.UUID, limit int) ([]*domain.WatchAddress, error)
}

// WalletRepository handles user wallets.
type WalletRepository interface {
	// Create inserts a wallet. A live (user, address, network) triple fails
	// with domain.ErrDuplicateWallet.
	Create(ctx context.Context, wallet *domain.UserWallet) error

	Get(ctx context.Context, id uuid.UUID, scope Scope) (*domain.UserWallet, error)

	// ListByUser returns non-deleted wallets, primary first then newest.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.UserWallet, error)

	// LockUser locks every wallet row of a user for the rest of the unit of
	// work.
	LockUser(ctx context.Context, userID uuid.UUID) error

	// CountActive counts non-deleted wallets of a user.
	CountActive(ctx context.Context, userID uuid.UUID) (int, error)

	// ClearPrimary clears the primary flag on every wallet of a user except
	// keepID.
	ClearPrimary(ctx context.Context, userID, keepID uuid.UUID, at time.Time) error

	// SetPrimary raises the primary flag on one wallet.
	SetPrimary(ctx context.Context, id uuid.UUID, at time.Time) error

	// Touch stamps last_used_at.
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error

	// SoftDelete tombstones a wallet and drops its primary flag.
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}

// HistoryPosition is a point in the history ordering, used as a page cursor.
type HistoryPosition struct {
	OrderingBlock uint64
	ID            int64
}

// HistoryQuery bounds a history read.
type HistoryQuery struct {
	Since  *time.Time
	Before *HistoryPosition
	Limit  int
}

// HistoryRepository handles the append-only balance log.
type HistoryRepository interface {
	// Append inserts a row and assigns its ID.
	Append(ctx context.Context, row *domain.BalanceHistory) error

	// Head returns the newest row of a stream, or nil for an empty stream.
	Head(ctx context.Context, key domain.StreamKey) (*domain.BalanceHistory, error)

	// FindByBlock returns the row of a stream recorded at block, or nil.
	FindByBlock(ctx context.Context, key domain.StreamKey, block uint64) (*domain.BalanceHistory, error)

	// List returns rows newest first.
	List(ctx context.Context, key domain.StreamKey, q HistoryQuery) ([]*domain.BalanceHistory, error)

	// Streams lists the token addresses observed for a watch; "" is native.
	Streams(ctx context.Context, watchID uuid.UUID) ([]string, error)
}

// PreferenceRepository handles user preferences.
type PreferenceRepository interface {
	// CreateIfAbsent inserts pref unless the user already has preferences.
	CreateIfAbsent(ctx context.Context, pref *domain.UserPreference) error

	Get(ctx context.Context, userID uuid.UUID) (*domain.UserPreference, error)

	// GetForUpdate is Get plus a row lock held until the unit of work ends.
	GetForUpdate(ctx context.Context, userID uuid.UUID) (*domain.UserPreference, error)

	Save(ctx context.Context, pref *domain.UserPreference) error
}

// ActivityRepository handles the audit trail.
type ActivityRepository interface {
	Append(ctx context.Context, entry *domain.ActivityLog) error

	// ListByUser returns the newest entries of a user.
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ActivityLog, error)
}
