package postgres

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

// UnitOfWork bundles repository calls into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	repos
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify("postgres.Begin", err)
	}
	return &UnitOfWork{repos: repos{q: tx}, tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return classify("postgres.Commit", err)
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// LockStream takes a transaction-scoped advisory lock keyed by the stream.
func (u *UnitOfWork) LockStream(ctx context.Context, key domain.StreamKey) error {
	if _, err := u.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, streamLockID(key)); err != nil {
		return classify("postgres.LockStream", err)
	}
	return nil
}

func streamLockID(key domain.StreamKey) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.String()))
	return int64(h.Sum64())
}

// Atomic runs fn in a transaction, committing when fn returns nil.
func (db *DB) Atomic(ctx context.Context, fn func(uow storage.UnitOfWork) error) (err error) {
	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = uow.Rollback()
			panic(p)
		}
		if err != nil {
			_ = uow.Rollback()
		}
	}()

	if err = fn(uow); err != nil {
		return err
	}
	return uow.Commit()
}
