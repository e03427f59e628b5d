package preference

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/watchledger/internal/audit"
	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage/memory"
)

func setup(t *testing.T) (*Store, *memory.Store, uuid.UUID) {
	t.Helper()
	mem := memory.NewStore()
	now := time.Now()
	u := &domain.User{ID: uuid.New(), Username: "dave", Email: "dave@x.io", IsActive: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, mem.Users().Create(context.Background(), u))
	return NewStore(mem, nil, time.Second, nil), mem, u.ID
}

func ptr(s string) *string { return &s }

func TestGetCreatesDefaults(t *testing.T) {
	s, mem, userID := setup(t)
	ctx := context.Background()

	p, err := s.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, "light", p.Theme)
	assert.Equal(t, "en", p.Language)
	assert.Empty(t, p.Notifications)

	stored, err := mem.Preferences().Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, stored.CreatedAt)

	again, err := s.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, again.CreatedAt)

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentFirstAccess(t *testing.T) {
	s, _, userID := setup(t)

	var wg sync.WaitGroup
	created := make([]time.Time, 10)
	for i := range created {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := s.Get(context.Background(), userID)
			assert.NoError(t, err)
			if p != nil {
				created[i] = p.CreatedAt
			}
		}(i)
	}
	wg.Wait()
	for _, c := range created[1:] {
		assert.Equal(t, created[0], c)
	}
}

func TestUpdateMergesSettings(t *testing.T) {
	s, _, userID := setup(t)
	ctx := context.Background()

	p, err := s.Update(ctx, userID, Patch{
		Currency:      ptr("eur"),
		Notifications: domain.Values{"email": true, "push": false},
		Display:       domain.Values{"compact": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "EUR", p.Currency)
	assert.Equal(t, "light", p.Theme)

	p, err = s.Update(ctx, userID, Patch{
		Theme:         ptr("Dark"),
		Notifications: domain.Values{"push": true, "email": nil, "sms": "weekly"},
	})
	require.NoError(t, err)
	assert.Equal(t, "EUR", p.Currency)
	assert.Equal(t, "dark", p.Theme)
	assert.Equal(t, domain.Values{"push": true, "sms": "weekly"}, p.Notifications)
	assert.Equal(t, domain.Values{"compact": true}, p.Display)

	got, err := s.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, p.Notifications, got.Notifications)
}

func TestUpdateValidation(t *testing.T) {
	s, mem, userID := setup(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		patch Patch
		field string
	}{
		{"currency too long", Patch{Currency: ptr("EURO")}, "currency"},
		{"currency digits", Patch{Currency: ptr("U5D")}, "currency"},
		{"unknown theme", Patch{Theme: ptr("sepia")}, "theme"},
		{"bad language", Patch{Language: ptr("english!")}, "language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Update(ctx, userID, tt.patch)
			require.ErrorIs(t, err, domain.ErrValidation)
			var de *domain.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.field, de.Field)
		})
	}

	// Nothing was written, not even the defaults.
	_, err := mem.Preferences().Get(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p, err := s.Update(ctx, userID, Patch{Language: ptr("pt-BR")})
	require.NoError(t, err)
	assert.Equal(t, "pt-BR", p.Language)
}

func TestUpdateAudited(t *testing.T) {
	mem := memory.NewStore()
	now := time.Now()
	u := &domain.User{ID: uuid.New(), Username: "erin", Email: "erin@x.io", IsActive: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, mem.Users().Create(context.Background(), u))
	auditor := audit.New(mem, audit.Config{}, nil)
	s := NewStore(mem, auditor, time.Second, nil)

	_, err := s.Update(context.Background(), u.ID, Patch{Theme: ptr("system"), Display: domain.Values{"dense": true}})
	require.NoError(t, err)

	entries, err := auditor.List(context.Background(), u.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionPreferenceUpdate, entries[0].Action)
	assert.Equal(t, "theme,display", entries[0].Details["fields"])
}

func TestEmptyPatchReadsOnly(t *testing.T) {
	s, _, userID := setup(t)

	p, err := s.Update(context.Background(), userID, Patch{})
	require.NoError(t, err)
	assert.Equal(t, "USD", p.Currency)
}
