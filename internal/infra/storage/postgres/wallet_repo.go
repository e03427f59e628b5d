package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

const walletColumns = `id, user_id, address, network_id, wallet_type, derivation_path, label, is_primary,
	last_used_at, created_at, updated_at, deleted_at`

// WalletRepo implements storage.WalletRepository using PostgreSQL.
type WalletRepo struct {
	q querier
}

// NewWalletRepo creates a new PostgreSQL wallet repository.
func NewWalletRepo(db *DB) *WalletRepo {
	return &WalletRepo{q: db}
}

// Create inserts a wallet.
func (r *WalletRepo) Create(ctx context.Context, w *domain.UserWallet) error {
	query := `
		INSERT INTO user_wallets (id, user_id, address, network_id, wallet_type, derivation_path, label,
			is_primary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.q.ExecContext(ctx, query,
		w.ID, w.UserID, w.Address, string(w.NetworkID), string(w.WalletType), w.DerivationPath, w.Label,
		w.IsPrimary, w.CreatedAt, w.UpdatedAt,
	)
	return classify("postgres.CreateWallet", err)
}

// Get retrieves a wallet by ID.
func (r *WalletRepo) Get(ctx context.Context, id uuid.UUID, scope storage.Scope) (*domain.UserWallet, error) {
	query := `SELECT ` + walletColumns + ` FROM user_wallets WHERE id = $1`
	if scope == storage.OnlyActive {
		query += ` AND deleted_at IS NULL`
	}
	var w domain.UserWallet
	if err := r.q.GetContext(ctx, &w, query, id); err != nil {
		return nil, notFound("postgres.GetWallet", "user_wallet", err)
	}
	return &w, nil
}

// ListByUser lists non-deleted wallets, primary first.
func (r *WalletRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.UserWallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM user_wallets
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY is_primary DESC, created_at DESC
	`
	var out []*domain.UserWallet
	if err := r.q.SelectContext(ctx, &out, query, userID); err != nil {
		return nil, classify("postgres.ListWallets", err)
	}
	return out, nil
}

// LockUser locks the owning user row so primary changes serialize per user.
func (r *WalletRepo) LockUser(ctx context.Context, userID uuid.UUID) error {
	var id uuid.UUID
	err := r.q.GetContext(ctx, &id, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID)
	if err != nil {
		return notFound("postgres.LockUser", "user", err)
	}
	return nil
}

// CountActive counts non-deleted wallets of a user.
func (r *WalletRepo) CountActive(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.q.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM user_wallets WHERE user_id = $1 AND deleted_at IS NULL`, userID)
	if err != nil {
		return 0, classify("postgres.CountWallets", err)
	}
	return n, nil
}

// ClearPrimary clears the primary flag on every wallet of a user except keepID.
func (r *WalletRepo) ClearPrimary(ctx context.Context, userID, keepID uuid.UUID, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE user_wallets SET is_primary = FALSE, updated_at = $3
		WHERE user_id = $1 AND id <> $2 AND is_primary`,
		userID, keepID, at,
	)
	return classify("postgres.ClearPrimary", err)
}

// SetPrimary raises the primary flag on one wallet.
func (r *WalletRepo) SetPrimary(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE user_wallets SET is_primary = TRUE, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	return affected("postgres.SetPrimary", "user_wallet", res, err)
}

// Touch stamps last_used_at.
func (r *WalletRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE user_wallets SET last_used_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	return affected("postgres.TouchWallet", "user_wallet", res, err)
}

// SoftDelete tombstones a wallet and drops its primary flag.
func (r *WalletRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE user_wallets SET deleted_at = $2, is_primary = FALSE, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	return affected("postgres.SoftDeleteWallet", "user_wallet", res, err)
}
