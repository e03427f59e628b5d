package session

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T) (*Manager, *memory.Store, *clock, *domain.User) {
	t.Helper()
	mem := memory.NewStore()
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}

	u := &domain.User{ID: uuid.New(), Username: "alice", Email: "a@x.io", IsActive: true, CreatedAt: clk.t, UpdatedAt: clk.t}
	require.NoError(t, mem.Users().Create(context.Background(), u))

	m := NewManager(mem, nil, Config{TTL: time.Hour, RefreshTTL: 24 * time.Hour}, time.Second, nil)
	m.now = clk.now
	return m, mem, clk, u
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(domain.SessionStateCreated, domain.SessionStateActive))
	assert.True(t, CanTransition(domain.SessionStateActive, domain.SessionStateRevoked))
	assert.True(t, CanTransition(domain.SessionStateExpired, domain.SessionStateActive))
	assert.False(t, CanTransition(domain.SessionStateRevoked, domain.SessionStateActive))
	assert.False(t, CanTransition(domain.SessionStateCreated, domain.SessionStateExpired))
	assert.NotEqual(t, "Unknown state", StateDescription(domain.SessionStateRevoked))
}

func TestIssueAndValidate(t *testing.T) {
	m, mem, clk, u := setup(t)
	ctx := context.Background()

	s, err := m.Issue(ctx, u.ID, domain.Values{"ua": "test"}, 0)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(s.SessionToken)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.NotEqual(t, s.SessionToken, s.RefreshToken)
	assert.Equal(t, clk.t.Add(time.Hour), s.ExpiresAt)
	assert.Equal(t, clk.t.Add(24*time.Hour), s.RefreshExpiresAt)

	got, err := m.Validate(ctx, s.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	stored, err := mem.Sessions().GetByToken(ctx, s.SessionToken)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSeenAt)
	assert.Equal(t, clk.t, *stored.LastSeenAt)
}

func TestIssueRejectsUnknownAndInactiveUsers(t *testing.T) {
	m, mem, clk, u := setup(t)
	ctx := context.Background()

	_, err := m.Issue(ctx, uuid.New(), nil, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mem.Users().SetActive(ctx, u.ID, false, clk.t))
	_, err = m.Issue(ctx, u.ID, nil, 0)
	assert.ErrorIs(t, err, domain.ErrInactive)
}

func TestValidateOutcomes(t *testing.T) {
	m, _, clk, u := setup(t)
	ctx := context.Background()

	_, err := m.Validate(ctx, "no-such-token")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	s, err := m.Issue(ctx, u.ID, nil, time.Minute)
	require.NoError(t, err)

	// expires_at is absolute: exactly at expiry the session is expired.
	clk.advance(time.Minute)
	_, err = m.Validate(ctx, s.SessionToken)
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	s2, err := m.Issue(ctx, u.ID, nil, 0)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, s2.SessionToken))
	_, err = m.Validate(ctx, s2.SessionToken)
	assert.ErrorIs(t, err, domain.ErrRevoked)

	// Revoked wins over expired.
	clk.advance(2 * time.Hour)
	_, err = m.Validate(ctx, s2.SessionToken)
	assert.ErrorIs(t, err, domain.ErrRevoked)
}

func TestRevokeIsIdempotent(t *testing.T) {
	m, _, _, u := setup(t)
	ctx := context.Background()

	s, err := m.Issue(ctx, u.ID, nil, 0)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, s.SessionToken))
	require.NoError(t, m.Revoke(ctx, s.SessionToken))

	assert.ErrorIs(t, m.Revoke(ctx, "unknown"), domain.ErrNotFound)
}

func TestRefresh(t *testing.T) {
	m, _, clk, u := setup(t)
	ctx := context.Background()

	s, err := m.Issue(ctx, u.ID, nil, 0)
	require.NoError(t, err)
	oldToken := s.SessionToken

	clk.advance(2 * time.Hour) // session token expired, refresh still valid
	_, err = m.Validate(ctx, oldToken)
	require.ErrorIs(t, err, domain.ErrExpired)

	r, err := m.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, s.ID, r.ID)
	assert.Equal(t, s.RefreshToken, r.RefreshToken)
	assert.NotEqual(t, oldToken, r.SessionToken)
	assert.Equal(t, clk.t.Add(time.Hour), r.ExpiresAt)

	_, err = m.Validate(ctx, r.SessionToken)
	require.NoError(t, err)
	_, err = m.Validate(ctx, oldToken)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Expiry is capped at the refresh expiry.
	clk.advance(21*time.Hour + 30*time.Minute)
	r, err = m.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, s.RefreshExpiresAt, r.ExpiresAt)

	clk.advance(time.Hour)
	_, err = m.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.ErrorIs(t, err, domain.ErrRefreshExpired)
}

func TestRefreshRevokedSession(t *testing.T) {
	m, _, _, u := setup(t)
	ctx := context.Background()

	s, err := m.Issue(ctx, u.ID, nil, 0)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, s.SessionToken))

	_, err = m.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrRevoked)

	_, err = m.Refresh(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRevokeAllAndListActive(t *testing.T) {
	m, _, clk, u := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Issue(ctx, u.ID, nil, 0)
		require.NoError(t, err)
		clk.advance(time.Second)
	}
	active, err := m.ListActive(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.True(t, active[0].CreatedAt.After(active[2].CreatedAt))

	n, err := m.RevokeAll(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	active, err = m.ListActive(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestPurgeExpired(t *testing.T) {
	m, mem, clk, u := setup(t)
	ctx := context.Background()

	old, err := m.Issue(ctx, u.ID, nil, time.Minute)
	require.NoError(t, err)
	live, err := m.Issue(ctx, u.ID, nil, 48*time.Hour)
	require.NoError(t, err)

	clk.advance(time.Hour)
	n, err := m.PurgeExpired(ctx, clk.t)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = mem.Sessions().GetByToken(ctx, old.SessionToken)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = mem.Sessions().GetByToken(ctx, live.SessionToken)
	assert.NoError(t, err)
}
