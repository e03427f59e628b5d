package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/core/domain"
)

const preferenceColumns = `user_id, currency, theme, language, notification_settings, display_settings,
	privacy_settings, created_at, updated_at`

// PreferenceRepo implements storage.PreferenceRepository using PostgreSQL.
type PreferenceRepo struct {
	q querier
}

// NewPreferenceRepo creates a new PostgreSQL preference repository.
func NewPreferenceRepo(db *DB) *PreferenceRepo {
	return &PreferenceRepo{q: db}
}

// CreateIfAbsent inserts pref unless the user already has preferences.
func (r *PreferenceRepo) CreateIfAbsent(ctx context.Context, p *domain.UserPreference) error {
	query := `
		INSERT INTO user_preferences (` + preferenceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.q.ExecContext(ctx, query,
		p.UserID, p.Currency, p.Theme, p.Language, p.Notifications, p.Display, p.Privacy, p.CreatedAt, p.UpdatedAt,
	)
	return classify("postgres.CreatePreference", err)
}

// Get retrieves the preferences of a user.
func (r *PreferenceRepo) Get(ctx context.Context, userID uuid.UUID) (*domain.UserPreference, error) {
	return r.get(ctx, "postgres.GetPreference", `SELECT `+preferenceColumns+` FROM user_preferences WHERE user_id = $1`, userID)
}

// GetForUpdate retrieves and row-locks the preferences of a user.
func (r *PreferenceRepo) GetForUpdate(ctx context.Context, userID uuid.UUID) (*domain.UserPreference, error) {
	return r.get(ctx, "postgres.LockPreference", `SELECT `+preferenceColumns+` FROM user_preferences WHERE user_id = $1 FOR UPDATE`, userID)
}

func (r *PreferenceRepo) get(ctx context.Context, op, query string, userID uuid.UUID) (*domain.UserPreference, error) {
	var p domain.UserPreference
	if err := r.q.GetContext(ctx, &p, query, userID); err != nil {
		return nil, notFound(op, "user_preference", err)
	}
	return &p, nil
}

// Save persists the preferences of a user.
func (r *PreferenceRepo) Save(ctx context.Context, p *domain.UserPreference) error {
	query := `
		UPDATE user_preferences
		SET currency = $2, theme = $3, language = $4, notification_settings = $5,
			display_settings = $6, privacy_settings = $7, updated_at = $8
		WHERE user_id = $1
	`
	res, err := r.q.ExecContext(ctx, query,
		p.UserID, p.Currency, p.Theme, p.Language, p.Notifications, p.Display, p.Privacy, p.UpdatedAt,
	)
	return affected("postgres.SavePreference", "user_preference", res, err)
}
