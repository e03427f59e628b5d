package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const sweepLockName = "session-sweep"

// SessionPurger deletes sessions that expired or were revoked before a cutoff.
type SessionPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
	Retention() time.Duration
}

// Locker is a lease shared by every instance.
type Locker interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error
}

// Pruner purges dead sessions once they are past retention. When a Locker
// is set only the instance holding the lease sweeps.
type Pruner struct {
	purger   SessionPurger
	locker   Locker
	owner    string
	leaseTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewPruner creates the session sweeper. locker may be nil.
func NewPruner(purger SessionPurger, locker Locker, leaseTTL time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	return &Pruner{
		purger:   purger,
		locker:   locker,
		owner:    uuid.NewString(),
		leaseTTL: leaseTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Name implements Job.
func (p *Pruner) Name() string { return "session-sweeper" }

// Run implements Job.
func (p *Pruner) Run(ctx context.Context) error {
	_, err := p.Sweep(ctx)
	return err
}

// Sweep purges once and returns how many sessions were removed. It returns 0
// without error when another instance holds the lease.
func (p *Pruner) Sweep(ctx context.Context) (int64, error) {
	if p.locker != nil {
		ok, err := p.locker.AcquireLock(ctx, sweepLockName, p.owner, p.leaseTTL)
		if err != nil {
			return 0, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			p.logger.Debug("Session sweep skipped, lease held elsewhere")
			return 0, nil
		}
		defer func() {
			if err := p.locker.ReleaseLock(context.WithoutCancel(ctx), sweepLockName, p.owner); err != nil {
				p.logger.Warn("Failed to release sweep lock", "error", err)
			}
		}()
	}

	cutoff := p.now().Add(-p.purger.Retention())
	n, err := p.purger.PurgeExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return n, nil
}
