package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/core/domain"
)

// ActivityRepo implements storage.ActivityRepository using PostgreSQL.
type ActivityRepo struct {
	q querier
}

// NewActivityRepo creates a new PostgreSQL activity log repository.
func NewActivityRepo(db *DB) *ActivityRepo {
	return &ActivityRepo{q: db}
}

// Append inserts one audit row.
func (r *ActivityRepo) Append(ctx context.Context, a *domain.ActivityLog) error {
	query := `
		INSERT INTO user_activity_logs (id, user_id, action, resource_type, resource_id, details,
			ip_address, user_agent, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.q.ExecContext(ctx, query,
		a.ID, a.UserID, a.Action, a.ResourceType, a.ResourceID, a.Details,
		a.IPAddress, a.UserAgent, string(a.Status), a.CreatedAt,
	)
	return classify("postgres.AppendActivity", err)
}

// ListByUser returns the newest entries of a user.
func (r *ActivityRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ActivityLog, error) {
	query := `
		SELECT id, user_id, action, resource_type, resource_id, details, ip_address, user_agent, status, created_at
		FROM user_activity_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var out []*domain.ActivityLog
	if err := r.q.SelectContext(ctx, &out, query, userID, limit); err != nil {
		return nil, classify("postgres.ListActivity", err)
	}
	return out, nil
}
