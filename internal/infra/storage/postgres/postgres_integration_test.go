//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
	"github.com/vietddude/watchledger/internal/infra/storage/postgres"
)

// setupTestContainer starts a PostgreSQL container, applies the embedded
// migrations and returns a connected *postgres.DB. Everything is cleaned up
// when the test ends.
func setupTestContainer(t *testing.T) *postgres.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("watchledger_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.NewDB(ctx, postgres.Config{URL: connStr, MaxConns: 10, MinConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}

func seedUser(t *testing.T, db *postgres.DB, name string) *domain.User {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &domain.User{
		ID:           uuid.New(),
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		Salt:         "salt",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, db.Users().Create(context.Background(), u))
	return u
}

func seedWatch(t *testing.T, db *postgres.DB, userID uuid.UUID, address string) *domain.WatchAddress {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	w := &domain.WatchAddress{
		ID:                  uuid.New(),
		UserID:              userID,
		Address:             address,
		NetworkID:           domain.NetworkEthereum,
		AddressType:         domain.AddressTypeEOA,
		Tags:                domain.NewTags("cold"),
		NotificationEnabled: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, db.Watches().Create(context.Background(), w))
	return w
}

func TestUserConflictsMapToFields(t *testing.T) {
	db := setupTestContainer(t)
	ctx := context.Background()
	u := seedUser(t, db, "alice")

	dup := *u
	dup.ID = uuid.New()
	dup.Email = "other@example.com"
	err := db.Users().Create(ctx, &dup)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.ErrorIs(t, err, domain.ErrDuplicateUsername)

	dup.ID = uuid.New()
	dup.Username = "bob"
	dup.Email = u.Email
	err = db.Users().Create(ctx, &dup)
	assert.ErrorIs(t, err, domain.ErrDuplicateEmail)

	found, err := db.Users().FindByIdentifier(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
}

func TestWatchSoftDeleteAllowsReAdd(t *testing.T) {
	db := setupTestContainer(t)
	ctx := context.Background()
	u := seedUser(t, db, "carol")
	addr := "0x1111111111111111111111111111111111111111"
	w := seedWatch(t, db, u.ID, addr)

	dup := *w
	dup.ID = uuid.New()
	err := db.Watches().Create(ctx, &dup)
	require.ErrorIs(t, err, domain.ErrDuplicateWatch)

	require.NoError(t, db.Watches().SoftDelete(ctx, w.ID, time.Now()))
	require.NoError(t, db.Watches().Create(ctx, &dup))

	_, err = db.Watches().Get(ctx, w.ID, storage.OnlyActive)
	require.ErrorIs(t, err, domain.ErrNotFound)
	old, err := db.Watches().Get(ctx, w.ID, storage.IncludeTombstoned)
	require.NoError(t, err)
	assert.Equal(t, domain.LifecycleTombstoned, old.Status())
	assert.True(t, old.Tags.Has("cold"))
}

func TestHistoryOrderingAndCache(t *testing.T) {
	db := setupTestContainer(t)
	ctx := context.Background()
	u := seedUser(t, db, "dave")
	w := seedWatch(t, db, u.ID, "0x2222222222222222222222222222222222222222")
	key := domain.StreamKey{WatchAddressID: w.ID}

	blocks := []uint64{100, 101, 102}
	for i, b := range blocks {
		block := b
		err := db.Atomic(ctx, func(uow storage.UnitOfWork) error {
			if err := uow.LockStream(ctx, key); err != nil {
				return err
			}
			row := &domain.BalanceHistory{
				WatchAddressID: w.ID,
				Balance:        decimal.NewFromInt(int64(i + 1)),
				BlockNumber:    &block,
				OrderingBlock:  block,
				RecordedAt:     time.Now(),
			}
			if err := uow.History().Append(ctx, row); err != nil {
				return err
			}
			return uow.Watches().UpdateCachedBalance(ctx, w.ID, row.Balance.String(), row.RecordedAt)
		})
		require.NoError(t, err)
	}

	head, err := db.History().Head(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, uint64(102), *head.BlockNumber)

	got, err := db.Watches().Get(ctx, w.ID, storage.OnlyActive)
	require.NoError(t, err)
	require.NotNil(t, got.CachedBalance)
	assert.True(t, got.CachedBalance.Equal(head.Balance))

	page, err := db.History().List(ctx, key, storage.HistoryQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(102), page[0].OrderingBlock)

	rest, err := db.History().List(ctx, key, storage.HistoryQuery{
		Limit:  10,
		Before: &storage.HistoryPosition{OrderingBlock: page[1].OrderingBlock, ID: page[1].ID},
	})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, uint64(100), rest[0].OrderingBlock)

	streams, err := db.History().Streams(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, streams)
}

func TestAtomicRollsBackOnError(t *testing.T) {
	db := setupTestContainer(t)
	ctx := context.Background()
	u := seedUser(t, db, "erin")
	w := seedWatch(t, db, u.ID, "0x3333333333333333333333333333333333333333")

	boom := errors.New("boom")
	err := db.Atomic(ctx, func(uow storage.UnitOfWork) error {
		row := &domain.BalanceHistory{WatchAddressID: w.ID, Balance: decimal.NewFromInt(5), RecordedAt: time.Now()}
		if err := uow.History().Append(ctx, row); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	head, err := db.History().Head(ctx, domain.StreamKey{WatchAddressID: w.ID})
	require.NoError(t, err)
	assert.Nil(t, head)
}

func TestLockStreamSerializesWriters(t *testing.T) {
	db := setupTestContainer(t)
	ctx := context.Background()
	u := seedUser(t, db, "frank")
	w := seedWatch(t, db, u.ID, "0x4444444444444444444444444444444444444444")
	key := domain.StreamKey{WatchAddressID: w.ID}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := db.Atomic(ctx, func(uow storage.UnitOfWork) error {
				if err := uow.LockStream(ctx, key); err != nil {
					return err
				}
				head, err := uow.History().Head(ctx, key)
				if err != nil {
					return err
				}
				var ordering uint64
				if head != nil {
					ordering = head.OrderingBlock + 1
				}
				return uow.History().Append(ctx, &domain.BalanceHistory{
					WatchAddressID: w.ID,
					Balance:        decimal.NewFromInt(int64(n)),
					OrderingBlock:  ordering,
					RecordedAt:     time.Now(),
				})
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rows, err := db.History().List(ctx, key, storage.HistoryQuery{Limit: 100})
	require.NoError(t, err)
	require.Len(t, rows, 8)
	for i, row := range rows {
		assert.Equal(t, uint64(7-i), row.OrderingBlock)
	}
}

func TestWalletPrimaryIndex(t *testing.T) {
	db := setupTestContainer(t)
	ctx := context.Background()
	u := seedUser(t, db, "grace")
	now := time.Now()

	mk := func(addr string, primary bool) *domain.UserWallet {
		w := &domain.UserWallet{
			ID: uuid.New(), UserID: u.ID, Address: addr, NetworkID: domain.NetworkEthereum,
			WalletType: domain.WalletTypeImported, IsPrimary: primary, CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, db.Wallets().Create(ctx, w))
		return w
	}
	a := mk("0x5555555555555555555555555555555555555555", true)
	b := mk("0x6666666666666666666666666666666666666666", false)

	// Raising a second primary without clearing violates the partial index.
	err := db.Wallets().SetPrimary(ctx, b.ID, now)
	require.ErrorIs(t, err, domain.ErrConflict)

	err = db.Atomic(ctx, func(uow storage.UnitOfWork) error {
		if err := uow.Wallets().LockUser(ctx, u.ID); err != nil {
			return err
		}
		if err := uow.Wallets().ClearPrimary(ctx, u.ID, b.ID, now); err != nil {
			return err
		}
		return uow.Wallets().SetPrimary(ctx, b.ID, now)
	})
	require.NoError(t, err)

	list, err := db.Wallets().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.True(t, list[0].IsPrimary)
	assert.False(t, list[1].IsPrimary)
	assert.Equal(t, a.ID, list[1].ID)
}

func TestSessionsAndPreferences(t *testing.T) {
	db := setupTestContainer(t)
	ctx := context.Background()
	u := seedUser(t, db, "heidi")
	now := time.Now().UTC()

	s := &domain.Session{
		ID: uuid.New(), UserID: u.ID, SessionToken: "tok", RefreshToken: "ref",
		DeviceInfo: domain.Values{"os": "linux"}, IsActive: true,
		ExpiresAt: now.Add(-time.Minute), RefreshExpiresAt: now.Add(time.Hour),
		CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
	}
	require.NoError(t, db.Sessions().Create(ctx, s))
	got, err := db.Sessions().GetByRefreshToken(ctx, "ref")
	require.NoError(t, err)
	assert.Equal(t, "linux", got.DeviceInfo["os"])

	n, err := db.Sessions().PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pref := domain.DefaultPreference(u.ID, now)
	require.NoError(t, db.Preferences().CreateIfAbsent(ctx, pref))
	require.NoError(t, db.Preferences().CreateIfAbsent(ctx, pref))
	pref.Display = domain.Values{"compact": true}
	require.NoError(t, db.Preferences().Save(ctx, pref))

	loaded, err := db.Preferences().Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultCurrency, loaded.Currency)
	assert.Equal(t, true, loaded.Display["compact"])
}
