package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

const watchColumns = `id, user_id, address, network_id, address_type, label, tags, notes, is_favorite,
	notification_enabled, cached_balance, last_activity_at, created_at, updated_at, deleted_at`

// WatchRepo implements storage.WatchRepository using PostgreSQL.
type WatchRepo struct {
	q querier
}

// NewWatchRepo creates a new PostgreSQL watch address repository.
func NewWatchRepo(db *DB) *WatchRepo {
	return &WatchRepo{q: db}
}

// Create inserts a watch address.
func (r *WatchRepo) Create(ctx context.Context, w *domain.WatchAddress) error {
	query := `
		INSERT INTO watch_addresses (id, user_id, address, network_id, address_type, label, tags, notes,
			is_favorite, notification_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.q.ExecContext(ctx, query,
		w.ID, w.UserID, w.Address, string(w.NetworkID), string(w.AddressType), w.Label, w.Tags, w.Notes,
		w.IsFavorite, w.NotificationEnabled, w.CreatedAt, w.UpdatedAt,
	)
	return classify("postgres.CreateWatch", err)
}

// Get retrieves a watch address by ID.
func (r *WatchRepo) Get(ctx context.Context, id uuid.UUID, scope storage.Scope) (*domain.WatchAddress, error) {
	query := `SELECT ` + watchColumns + ` FROM watch_addresses WHERE id = $1`
	if scope == storage.OnlyActive {
		query += ` AND deleted_at IS NULL`
	}
	var w domain.WatchAddress
	if err := r.q.GetContext(ctx, &w, query, id); err != nil {
		return nil, notFound("postgres.GetWatch", "watch_address", err)
	}
	return &w, nil
}

// Update persists user-editable metadata.
func (r *WatchRepo) Update(ctx context.Context, w *domain.WatchAddress) error {
	query := `
		UPDATE watch_addresses
		SET address_type = $2, label = $3, tags = $4, notes = $5, is_favorite = $6,
			notification_enabled = $7, updated_at = $8
		WHERE id = $1 AND deleted_at IS NULL
	`
	res, err := r.q.ExecContext(ctx, query,
		w.ID, string(w.AddressType), w.Label, w.Tags, w.Notes, w.IsFavorite, w.NotificationEnabled, w.UpdatedAt,
	)
	return affected("postgres.UpdateWatch", "watch_address", res, err)
}

// UpdateCachedBalance sets the cached native balance.
func (r *WatchRepo) UpdateCachedBalance(ctx context.Context, id uuid.UUID, balance string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE watch_addresses
		SET cached_balance = $2::numeric, last_activity_at = $3, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL`,
		id, balance, at,
	)
	return affected("postgres.UpdateCachedBalance", "watch_address", res, err)
}

// SoftDelete tombstones a watch address.
func (r *WatchRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE watch_addresses SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	return affected("postgres.SoftDeleteWatch", "watch_address", res, err)
}

// ListByUser lists the watch addresses of a user.
func (r *WatchRepo) ListByUser(ctx context.Context, userID uuid.UUID, f storage.WatchFilter) ([]*domain.WatchAddress, error) {
	query := `SELECT ` + watchColumns + ` FROM watch_addresses WHERE user_id = $1`
	args := []any{userID}
	if f.Scope == storage.OnlyActive {
		query += ` AND deleted_at IS NULL`
	}
	if f.NetworkID != nil {
		args = append(args, string(*f.NetworkID))
		query += ` AND network_id = $` + strconv.Itoa(len(args))
	}
	if f.FavoritesFirst {
		query += ` ORDER BY is_favorite DESC, created_at DESC, id`
	} else {
		query += ` ORDER BY created_at DESC, id`
	}

	var out []*domain.WatchAddress
	if err := r.q.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, classify("postgres.ListWatches", err)
	}
	return out, nil
}

// ListForPolling pages through all non-deleted watches ordered by ID.
func (r *WatchRepo) ListForPolling(ctx context.Context, networkID *domain.NetworkID, afterID uuid.UUID, limit int) ([]*domain.WatchAddress, error) {
	query := `SELECT ` + watchColumns + ` FROM watch_addresses WHERE deleted_at IS NULL AND id > $1`
	args := []any{afterID}
	if networkID != nil {
		args = append(args, string(*networkID))
		query += ` AND network_id = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY id LIMIT $` + strconv.Itoa(len(args))

	var out []*domain.WatchAddress
	if err := r.q.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, classify("postgres.ListWatchesForPolling", err)
	}
	return out, nil
}
