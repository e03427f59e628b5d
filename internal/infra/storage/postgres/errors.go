package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/metrics"
)

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// uniqueReasons maps unique index names to the reason they enforce.
var uniqueReasons = map[string]struct {
	field  string
	reason error
}{
	"uq_watch_addresses_active": {"address", domain.ErrDuplicateWatch},
	"uq_user_wallets_active":    {"address", domain.ErrDuplicateWallet},
	"uq_users_username":         {"username", domain.ErrDuplicateUsername},
	"uq_users_email":            {"email", domain.ErrDuplicateEmail},
}

// classify turns a driver error into a *domain.Error. Unknown errors are
// wrapped with op and left unclassified.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}

	out := classifyKind(op, err)
	metrics.StoreErrors.WithLabelValues(kindLabel(out)).Inc()
	return out
}

func classifyKind(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			if r, ok := uniqueReasons[pgErr.ConstraintName]; ok {
				return &domain.Error{Kind: domain.KindConflict, Op: op, Field: r.field, Err: r.reason}
			}
			return &domain.Error{Kind: domain.KindConflict, Op: op, Field: pgErr.ConstraintName, Err: err}
		case codeForeignKeyViolation:
			return &domain.Error{Kind: domain.KindNotFound, Op: op, Field: pgErr.ConstraintName, Err: err}
		case codeCheckViolation:
			return &domain.Error{Kind: domain.KindValidation, Op: op, Field: pgErr.ColumnName, Err: err}
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
			return domain.E(domain.KindTransient, op, err)
		}
		// Class 08: connection exception.
		if strings.HasPrefix(pgErr.Code, "08") {
			return domain.E(domain.KindTransient, op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.E(domain.KindTransient, op, err)
	case errors.Is(err, driver.ErrBadConn):
		return domain.E(domain.KindTransient, op, err)
	case pgconn.SafeToRetry(err), pgconn.Timeout(err):
		return domain.E(domain.KindTransient, op, err)
	case errors.As(err, &netErr):
		return domain.E(domain.KindTransient, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func kindLabel(err error) string {
	if k := domain.KindOf(err); k != "" {
		return string(k)
	}
	return "unknown"
}
