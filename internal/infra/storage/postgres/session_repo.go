package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/core/domain"
)

const sessionColumns = `id, user_id, session_token, refresh_token, device_info, is_active,
	expires_at, refresh_expires_at, last_seen_at, created_at, updated_at`

// SessionRepo implements storage.SessionRepository using PostgreSQL.
type SessionRepo struct {
	q querier
}

// NewSessionRepo creates a new PostgreSQL session repository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{q: db}
}

// Create inserts a session.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO user_sessions (id, user_id, session_token, refresh_token, device_info, is_active,
			expires_at, refresh_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.q.ExecContext(ctx, query,
		s.ID, s.UserID, s.SessionToken, s.RefreshToken, s.DeviceInfo, s.IsActive,
		s.ExpiresAt, s.RefreshExpiresAt, s.CreatedAt, s.UpdatedAt,
	)
	return classify("postgres.CreateSession", err)
}

// GetByToken retrieves a session by session token.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	var s domain.Session
	err := r.q.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM user_sessions WHERE session_token = $1`, token)
	if err != nil {
		return nil, notFound("postgres.GetSession", "session", err)
	}
	return &s, nil
}

// GetByRefreshToken retrieves a session by refresh token.
func (r *SessionRepo) GetByRefreshToken(ctx context.Context, token string) (*domain.Session, error) {
	var s domain.Session
	err := r.q.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM user_sessions WHERE refresh_token = $1`, token)
	if err != nil {
		return nil, notFound("postgres.GetSessionByRefresh", "session", err)
	}
	return &s, nil
}

// Touch stamps last_seen_at.
func (r *SessionRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE user_sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
	return affected("postgres.TouchSession", "session", res, err)
}

// Revoke deactivates a session.
func (r *SessionRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE user_sessions SET is_active = FALSE, updated_at = $2 WHERE id = $1`,
		id, at,
	)
	return affected("postgres.RevokeSession", "session", res, err)
}

// RevokeAllForUser deactivates every active session of a user.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE user_sessions SET is_active = FALSE, updated_at = $2 WHERE user_id = $1 AND is_active`,
		userID, at,
	)
	if err != nil {
		return 0, classify("postgres.RevokeAllSessions", err)
	}
	return res.RowsAffected()
}

// Rotate replaces the session token and expiry.
func (r *SessionRepo) Rotate(ctx context.Context, id uuid.UUID, token string, expiresAt, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE user_sessions SET session_token = $2, expires_at = $3, updated_at = $4 WHERE id = $1`,
		id, token, expiresAt, at,
	)
	return affected("postgres.RotateSession", "session", res, err)
}

// ListActive returns unexpired active sessions of a user, newest first.
func (r *SessionRepo) ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM user_sessions
		WHERE user_id = $1 AND is_active AND expires_at > $2
		ORDER BY created_at DESC
	`
	var out []*domain.Session
	if err := r.q.SelectContext(ctx, &out, query, userID, now); err != nil {
		return nil, classify("postgres.ListActiveSessions", err)
	}
	return out, nil
}

// PurgeExpired deletes sessions that expired, or were revoked, before the cutoff.
func (r *SessionRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE expires_at < $1 OR (NOT is_active AND updated_at < $1)`,
		before,
	)
	if err != nil {
		return 0, classify("postgres.PurgeExpiredSessions", err)
	}
	return res.RowsAffected()
}
