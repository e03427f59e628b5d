package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

const historyColumns = `id, watch_address_id, balance, token_address, token_symbol, block_number,
	ordering_block, late, recorded_at`

// streamPredicate matches one (watch, token) stream; NULL token is native.
const streamPredicate = `watch_address_id = $1 AND COALESCE(token_address, '') = $2`

// HistoryRepo implements storage.HistoryRepository using PostgreSQL.
type HistoryRepo struct {
	q querier
}

// NewHistoryRepo creates a new PostgreSQL balance history repository.
func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{q: db}
}

// Append inserts a row and assigns its ID.
func (r *HistoryRepo) Append(ctx context.Context, h *domain.BalanceHistory) error {
	query := `
		INSERT INTO address_balance_history (watch_address_id, balance, token_address, token_symbol,
			block_number, ordering_block, late, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	var block *int64
	if h.BlockNumber != nil {
		b := int64(*h.BlockNumber)
		block = &b
	}
	err := r.q.GetContext(ctx, &h.ID, query,
		h.WatchAddressID, h.Balance, h.TokenAddress, h.TokenSymbol, block, int64(h.OrderingBlock), h.Late, h.RecordedAt,
	)
	return classify("postgres.AppendHistory", err)
}

// Head returns the newest row of a stream, or nil when the stream is empty.
func (r *HistoryRepo) Head(ctx context.Context, key domain.StreamKey) (*domain.BalanceHistory, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM address_balance_history
		WHERE ` + streamPredicate + `
		ORDER BY ordering_block DESC, id DESC
		LIMIT 1
	`
	return r.getOptional(ctx, "postgres.HistoryHead", query, key.WatchAddressID, key.TokenAddress)
}

// FindByBlock returns the row of a stream recorded at block, or nil.
func (r *HistoryRepo) FindByBlock(ctx context.Context, key domain.StreamKey, block uint64) (*domain.BalanceHistory, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM address_balance_history
		WHERE ` + streamPredicate + ` AND block_number = $3
		ORDER BY id DESC
		LIMIT 1
	`
	return r.getOptional(ctx, "postgres.HistoryByBlock", query, key.WatchAddressID, key.TokenAddress, int64(block))
}

func (r *HistoryRepo) getOptional(ctx context.Context, op, query string, args ...any) (*domain.BalanceHistory, error) {
	var h domain.BalanceHistory
	err := r.q.GetContext(ctx, &h, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return &h, nil
}

// List returns rows newest first.
func (r *HistoryRepo) List(ctx context.Context, key domain.StreamKey, q storage.HistoryQuery) ([]*domain.BalanceHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM address_balance_history WHERE ` + streamPredicate
	args := []any{key.WatchAddressID, key.TokenAddress}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.Since != nil {
		query += ` AND recorded_at >= ` + next(*q.Since)
	}
	if q.Before != nil {
		ob := next(int64(q.Before.OrderingBlock))
		id := next(q.Before.ID)
		query += ` AND (ordering_block, id) < (` + ob + `, ` + id + `)`
	}
	query += ` ORDER BY ordering_block DESC, id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ` + next(q.Limit)
	}

	var out []*domain.BalanceHistory
	if err := r.q.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, classify("postgres.ListHistory", err)
	}
	return out, nil
}

// Streams lists the token addresses observed for a watch address.
func (r *HistoryRepo) Streams(ctx context.Context, watchID uuid.UUID) ([]string, error) {
	query := `
		SELECT DISTINCT COALESCE(token_address, '') AS token
		FROM address_balance_history
		WHERE watch_address_id = $1
		ORDER BY token
	`
	var out []string
	if err := r.q.SelectContext(ctx, &out, query, watchID); err != nil {
		return nil, classify("postgres.ListStreams", err)
	}
	return out, nil
}
