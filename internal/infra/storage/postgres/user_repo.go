package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

const userColumns = `id, username, email, password_hash, salt, is_active, last_login_at, created_at, updated_at, deleted_at`

// UserRepo implements storage.UserRepository using PostgreSQL.
type UserRepo struct {
	q querier
}

// NewUserRepo creates a new PostgreSQL user repository.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{q: db}
}

// Create inserts a user.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, salt, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.ExecContext(ctx, query,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Salt, u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
	return classify("postgres.CreateUser", err)
}

// Get retrieves a user by ID.
func (r *UserRepo) Get(ctx context.Context, id uuid.UUID, scope storage.Scope) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if scope == storage.OnlyActive {
		query += ` AND deleted_at IS NULL`
	}
	var u domain.User
	if err := r.q.GetContext(ctx, &u, query, id); err != nil {
		return nil, notFound("postgres.GetUser", "user", err)
	}
	return &u, nil
}

// FindByIdentifier retrieves a non-deleted user by username or email.
func (r *UserRepo) FindByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE deleted_at IS NULL AND (LOWER(username) = LOWER($1) OR email = LOWER($1))
		LIMIT 1
	`
	var u domain.User
	if err := r.q.GetContext(ctx, &u, query, identifier); err != nil {
		return nil, notFound("postgres.FindUser", "user", err)
	}
	return &u, nil
}

// UpdateLastLogin stamps the last successful login.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	return affected("postgres.UpdateLastLogin", "user", res, err)
}

// SetActive toggles the active flag.
func (r *UserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
		id, active, at,
	)
	return affected("postgres.SetActive", "user", res, err)
}

// SoftDelete tombstones a user.
func (r *UserRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE users SET deleted_at = $2, is_active = FALSE, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	return affected("postgres.SoftDeleteUser", "user", res, err)
}
