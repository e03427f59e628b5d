package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// repos hands out repositories bound to one querier.
type repos struct {
	q querier
}

func (r repos) Users() storage.UserRepository             { return &UserRepo{q: r.q} }
func (r repos) Sessions() storage.SessionRepository       { return &SessionRepo{q: r.q} }
func (r repos) Watches() storage.WatchRepository          { return &WatchRepo{q: r.q} }
func (r repos) Wallets() storage.WalletRepository         { return &WalletRepo{q: r.q} }
func (r repos) History() storage.HistoryRepository        { return &HistoryRepo{q: r.q} }
func (r repos) Preferences() storage.PreferenceRepository { return &PreferenceRepo{q: r.q} }
func (r repos) Activity() storage.ActivityRepository      { return &ActivityRepo{q: r.q} }

// Users returns the user repository outside any transaction.
func (db *DB) Users() storage.UserRepository { return repos{db}.Users() }

// Sessions returns the session repository outside any transaction.
func (db *DB) Sessions() storage.SessionRepository { return repos{db}.Sessions() }

// Watches returns the watch repository outside any transaction.
func (db *DB) Watches() storage.WatchRepository { return repos{db}.Watches() }

// Wallets returns the wallet repository outside any transaction.
func (db *DB) Wallets() storage.WalletRepository { return repos{db}.Wallets() }

// History returns the history repository outside any transaction.
func (db *DB) History() storage.HistoryRepository { return repos{db}.History() }

// Preferences returns the preference repository outside any transaction.
func (db *DB) Preferences() storage.PreferenceRepository { return repos{db}.Preferences() }

// Activity returns the activity repository outside any transaction.
func (db *DB) Activity() storage.ActivityRepository { return repos{db}.Activity() }

var _ storage.Store = (*DB)(nil)

// notFound maps sql.ErrNoRows to a domain not-found error and classifies
// everything else.
func notFound(op, entity string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(op, entity)
	}
	return classify(op, err)
}

// affected fails with not-found when an update matched no row.
func affected(op, entity string, res sql.Result, err error) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return domain.NotFound(op, entity)
	}
	return nil
}
