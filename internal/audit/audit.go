// Package audit records the security-relevant activity trail.
//
// Recording is best effort: a failed write is logged and counted but never
// surfaces to the caller, so auditing cannot fail a business operation.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
	"github.com/vietddude/watchledger/internal/metrics"
)

const (
	defaultWriteTimeout = 2 * time.Second
	defaultListLimit    = 50
	maxListLimit        = 500
)

// Origin describes where a request came from.
type Origin struct {
	IP        string
	UserAgent string
}

// Entry is one activity to record.
type Entry struct {
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Details      domain.Values
	Status       domain.ActivityStatus
	Origin       Origin
}

type originKey struct{}

// WithOrigin attaches the request origin to ctx. Record uses it for entries
// that carry no origin of their own.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin attached to ctx, if any.
func OriginFrom(ctx context.Context) Origin {
	o, _ := ctx.Value(originKey{}).(Origin)
	return o
}

// Recorder is what other components need from the auditor.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Store is the persistence the auditor writes to.
type Store interface {
	Activity() storage.ActivityRepository
}

// Config holds auditor settings.
type Config struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Auditor appends activity entries.
type Auditor struct {
	store    Store
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	degraded atomic.Int64
}

// New creates an auditor.
func New(store Store, cfg Config, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Auditor{
		store:   store,
		timeout: cfg.WriteTimeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Record appends e. The write is detached from the caller's cancellation and
// bounded by the auditor's own timeout.
func (a *Auditor) Record(ctx context.Context, e Entry) {
	if e.Origin == (Origin{}) {
		e.Origin = OriginFrom(ctx)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	row := &domain.ActivityLog{
		ID:           uuid.New(),
		UserID:       e.UserID,
		Action:       e.Action,
		ResourceType: optional(e.ResourceType),
		ResourceID:   optional(e.ResourceID),
		Details:      e.Details.Clone(),
		IPAddress:    optional(e.Origin.IP),
		UserAgent:    optional(e.Origin.UserAgent),
		Status:       e.Status,
		CreatedAt:    a.now(),
	}
	if row.Status == "" {
		row.Status = domain.ActivitySuccess
	}

	if err := a.store.Activity().Append(ctx, row); err != nil {
		a.degraded.Add(1)
		metrics.AuditDegraded.Inc()
		a.logger.Warn("audit write dropped",
			"action", e.Action,
			"resource_type", e.ResourceType,
			"resource_id", e.ResourceID,
			"error", err,
		)
		return
	}
	metrics.AuditWrites.WithLabelValues(e.Action).Inc()
}

// Degraded returns how many entries have been dropped since start.
func (a *Auditor) Degraded() int64 {
	return a.degraded.Load()
}

// List returns the newest entries of a user. limit is clamped to [1, 500]
// and defaults to 50.
func (a *Auditor) List(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ActivityLog, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	ctx, cancel := storage.Bound(ctx, a.timeout)
	defer cancel()

	rows, err := a.store.Activity().ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, domain.WithOp("audit.List", err)
	}
	return rows, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Nop discards every entry.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Entry) {}
