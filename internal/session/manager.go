package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/audit"
	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
	"github.com/vietddude/watchledger/internal/metrics"
)

const tokenBytes = 32

// Config holds session lifetimes.
type Config struct {
	TTL        time.Duration `yaml:"ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	// Retention is how long expired or revoked sessions are kept before the
	// sweeper purges them.
	Retention time.Duration `yaml:"retention"`
}

// Defaults fills unset lifetimes.
func (c *Config) Defaults() {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 30 * 24 * time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
}

// dummy is compared against when a token matches no row.
var dummy = domain.Session{
	SessionToken: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
	CreatedAt:    time.Unix(0, 0),
}

// Manager issues, validates, refreshes and revokes sessions.
type Manager struct {
	store   storage.Store
	audit   audit.Recorder
	cfg     Config
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	random  io.Reader
}

// NewManager creates a session manager.
func NewManager(store storage.Store, recorder audit.Recorder, cfg Config, timeout time.Duration, logger *slog.Logger) *Manager {
	cfg.Defaults()
	if recorder == nil {
		recorder = audit.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		audit:   recorder,
		cfg:     cfg,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
		random:  rand.Reader,
	}
}

func (m *Manager) token() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(m.random, b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue opens a session for an active user. ttl <= 0 uses the configured
// lifetime.
func (m *Manager) Issue(ctx context.Context, userID uuid.UUID, deviceInfo domain.Values, ttl time.Duration) (*domain.Session, error) {
	const op = "session.Issue"
	if ttl <= 0 {
		ttl = m.cfg.TTL
	}

	ctx, cancel := storage.Bound(ctx, m.timeout)
	defer cancel()

	u, err := m.store.Users().Get(ctx, userID, storage.OnlyActive)
	if err != nil {
		return nil, domain.WithOp(op, err)
	}
	if !u.IsActive {
		return nil, &domain.Error{Kind: domain.KindInactive, Op: op, Field: "user", Err: errors.New("account is inactive")}
	}

	sessionToken, err := m.token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	refreshToken, err := m.token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := m.now()
	s := &domain.Session{
		ID:               uuid.New(),
		UserID:           userID,
		SessionToken:     sessionToken,
		RefreshToken:     refreshToken,
		DeviceInfo:       deviceInfo.Clone(),
		IsActive:         true,
		ExpiresAt:        now.Add(ttl),
		RefreshExpiresAt: now.Add(max(m.cfg.RefreshTTL, ttl)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !CanTransition(domain.SessionStateCreated, s.State(now)) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidTransition)
	}
	if err := m.store.Sessions().Create(ctx, s); err != nil {
		return nil, domain.WithOp(op, err)
	}

	metrics.SessionsIssued.Inc()
	m.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       domain.ActionSessionIssued,
		ResourceType: domain.ResourceSession,
		ResourceID:   s.ID.String(),
		Details:      domain.Values{"expires_at": s.ExpiresAt.UTC().Format(time.RFC3339)},
	})
	return s, nil
}

// Validate resolves a session token to its user.
//
// The work done does not depend on whether the token exists: the lookup
// always runs, a dummy record stands in for a miss, every check is evaluated
// and the decision is taken once at the end.
func (m *Manager) Validate(ctx context.Context, sessionToken string) (*domain.User, error) {
	const op = "session.Validate"

	ctx, cancel := storage.Bound(ctx, m.timeout)
	defer cancel()

	now := m.now()
	row, err := m.store.Sessions().GetByToken(ctx, sessionToken)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.WithOp(op, err)
	}
	found := err == nil
	rec := &dummy
	if found {
		rec = row
	}

	match := subtle.ConstantTimeCompare([]byte(rec.SessionToken), []byte(sessionToken)) == 1
	state := rec.State(now)
	user, userErr := m.store.Users().Get(ctx, rec.UserID, storage.OnlyActive)
	if userErr != nil && !errors.Is(userErr, domain.ErrNotFound) {
		return nil, domain.WithOp(op, userErr)
	}

	var (
		result string
		out    error
	)
	switch {
	case !found || !match:
		result, out = "not_found", domain.NotFound(op, "session")
	case state == domain.SessionStateRevoked:
		result, out = "revoked", &domain.Error{Kind: domain.KindRevoked, Op: op, Field: "session", Err: domain.ErrSessionRevoked}
	case state == domain.SessionStateExpired:
		result, out = "expired", &domain.Error{Kind: domain.KindExpired, Op: op, Field: "session", Err: domain.ErrSessionExpired}
	case userErr != nil:
		result, out = "not_found", domain.NotFound(op, "session")
	case !user.IsActive:
		result, out = "revoked", &domain.Error{Kind: domain.KindRevoked, Op: op, Field: "session", Err: domain.ErrSessionRevoked}
	default:
		result = "ok"
	}
	metrics.SessionValidations.WithLabelValues(result).Inc()
	if out != nil {
		return nil, out
	}

	if err := m.store.Sessions().Touch(ctx, rec.ID, now); err != nil {
		m.logger.Warn("failed to stamp session last_seen_at", "session_id", rec.ID, "error", err)
	}
	return user, nil
}

// Revoke deactivates the session owning sessionToken. Revoking an already
// revoked session succeeds.
func (m *Manager) Revoke(ctx context.Context, sessionToken string) error {
	const op = "session.Revoke"

	ctx, cancel := storage.Bound(ctx, m.timeout)
	defer cancel()

	s, err := m.store.Sessions().GetByToken(ctx, sessionToken)
	if err != nil {
		return domain.WithOp(op, err)
	}
	if !s.IsActive {
		return nil
	}
	if err := m.store.Sessions().Revoke(ctx, s.ID, m.now()); err != nil {
		return domain.WithOp(op, err)
	}

	m.audit.Record(ctx, audit.Entry{
		UserID:       &s.UserID,
		Action:       domain.ActionSessionRevoked,
		ResourceType: domain.ResourceSession,
		ResourceID:   s.ID.String(),
	})
	return nil
}

// RevokeAll revokes every active session of a user and returns how many were
// revoked.
func (m *Manager) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, cancel := storage.Bound(ctx, m.timeout)
	defer cancel()

	n, err := m.store.Sessions().RevokeAllForUser(ctx, userID, m.now())
	if err != nil {
		return 0, domain.WithOp("session.RevokeAll", err)
	}
	if n > 0 {
		m.audit.Record(ctx, audit.Entry{
			UserID:       &userID,
			Action:       domain.ActionSessionRevoked,
			ResourceType: domain.ResourceSession,
			Details:      domain.Values{"count": n, "scope": "all"},
		})
	}
	return n, nil
}

// Refresh rotates the session token of the session owning refreshToken and
// extends its expiry. The new expiry never passes the refresh expiry.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	const op = "session.Refresh"

	ctx, cancel := storage.Bound(ctx, m.timeout)
	defer cancel()

	newToken, err := m.token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := m.now()
	var out *domain.Session
	err = m.store.Atomic(ctx, func(uow storage.UnitOfWork) error {
		s, err := uow.Sessions().GetByRefreshToken(ctx, refreshToken)
		if err != nil {
			return err
		}
		if !CanTransition(s.State(now), domain.SessionStateActive) {
			return &domain.Error{Kind: domain.KindRevoked, Op: op, Field: "session", Err: domain.ErrSessionRevoked}
		}
		if !now.Before(s.RefreshExpiresAt) {
			return &domain.Error{Kind: domain.KindExpired, Op: op, Field: "refresh_token", Err: domain.ErrRefreshExpired}
		}
		u, err := uow.Users().Get(ctx, s.UserID, storage.OnlyActive)
		if err != nil {
			return err
		}
		if !u.IsActive {
			return &domain.Error{Kind: domain.KindRevoked, Op: op, Field: "session", Err: domain.ErrSessionRevoked}
		}

		expiresAt := now.Add(m.cfg.TTL)
		if expiresAt.After(s.RefreshExpiresAt) {
			expiresAt = s.RefreshExpiresAt
		}
		if err := uow.Sessions().Rotate(ctx, s.ID, newToken, expiresAt, now); err != nil {
			return err
		}
		s.SessionToken = newToken
		s.ExpiresAt = expiresAt
		s.UpdatedAt = now
		out = s
		return nil
	})
	if err != nil {
		return nil, domain.WithOp(op, err)
	}

	m.audit.Record(ctx, audit.Entry{
		UserID:       &out.UserID,
		Action:       domain.ActionSessionRefreshed,
		ResourceType: domain.ResourceSession,
		ResourceID:   out.ID.String(),
	})
	return out, nil
}

// ListActive returns the unexpired active sessions of a user, newest first.
func (m *Manager) ListActive(ctx context.Context, userID uuid.UUID) ([]*domain.Session, error) {
	ctx, cancel := storage.Bound(ctx, m.timeout)
	defer cancel()

	out, err := m.store.Sessions().ListActive(ctx, userID, m.now())
	if err != nil {
		return nil, domain.WithOp("session.ListActive", err)
	}
	return out, nil
}

// PurgeExpired deletes sessions that expired or were revoked before the
// cutoff. It is only called by the background sweeper.
func (m *Manager) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := storage.Bound(ctx, m.timeout)
	defer cancel()

	n, err := m.store.Sessions().PurgeExpired(ctx, before)
	if err != nil {
		return 0, domain.WithOp("session.PurgeExpired", err)
	}
	metrics.SessionsPurged.Add(float64(n))
	if n > 0 {
		m.logger.Info("purged expired sessions", "count", n, "before", before)
	}
	return n, nil
}

// Retention is how long ended sessions are kept before purging.
func (m *Manager) Retention() time.Duration {
	return m.cfg.Retention
}
