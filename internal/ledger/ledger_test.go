package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/watchledger/internal/audit"
	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
	"github.com/vietddude/watchledger/internal/infra/storage/memory"
)

const usdc = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type notifier struct {
	mu     sync.Mutex
	events []domain.BalanceChanged
	err    error
}

func (n *notifier) BalanceChanged(_ context.Context, ev domain.BalanceChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *notifier) all() []domain.BalanceChanged {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.BalanceChanged(nil), n.events...)
}

type fixture struct {
	ledger   *Ledger
	mem      *memory.Store
	rec      *recorder
	notifier *notifier
	watch    *domain.WatchAddress
}

func setup(t *testing.T, policy StalePolicy) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := memory.NewStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	u := &domain.User{ID: uuid.New(), Username: "alice", Email: "alice@x.io", IsActive: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, mem.Users().Create(ctx, u))
	w := &domain.WatchAddress{
		ID:          uuid.New(),
		UserID:      u.ID,
		Address:     "0xabc0000000000000000000000000000000000001",
		NetworkID:   domain.NetworkEthereum,
		AddressType: domain.AddressTypeEOA,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, mem.Watches().Create(ctx, w))

	rec := &recorder{}
	n := &notifier{}
	l := New(mem, rec, n, Config{StalePolicy: policy}, time.Second, nil)
	var mu sync.Mutex
	tick := now
	l.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	return &fixture{ledger: l, mem: mem, rec: rec, notifier: n, watch: w}
}

func block(n uint64) *uint64 { return &n }

func str(s string) *string { return &s }

func (f *fixture) observe(t *testing.T, balance string, blk *uint64) *Result {
	t.Helper()
	res, err := f.ledger.RecordObservation(context.Background(), domain.Observation{
		WatchAddressID: f.watch.ID,
		Balance:        balance,
		BlockNumber:    blk,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) cached(t *testing.T) decimal.Decimal {
	t.Helper()
	w, err := f.mem.Watches().Get(context.Background(), f.watch.ID, storage.IncludeTombstoned)
	require.NoError(t, err)
	require.NotNil(t, w.CachedBalance)
	return *w.CachedBalance
}

func (f *fixture) history(t *testing.T, token *string) []*domain.BalanceHistory {
	t.Helper()
	page, err := f.ledger.History(context.Background(), HistoryRequest{WatchAddressID: f.watch.ID, TokenAddress: token, Limit: maxPageSize})
	require.NoError(t, err)
	return page.Rows
}

func TestRecordObservationRejectsBadBalanceFirst(t *testing.T) {
	f := setup(t, StaleReject)

	for _, bad := range []string{"", "  ", "abc", "-1", "-0.000001", "1.2.3", "NaN", "Infinity", "0x10"} {
		t.Run(bad, func(t *testing.T) {
			// The watch does not exist: a NotFound would mean the store was
			// consulted before the balance was checked.
			_, err := f.ledger.RecordObservation(context.Background(), domain.Observation{
				WatchAddressID: uuid.New(),
				Balance:        bad,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.ErrorIs(t, err, domain.ErrInvalidBalance)
		})
	}
	assert.Empty(t, f.history(t, nil))
	assert.Zero(t, f.rec.len())
}

func TestRecordObservationNative(t *testing.T) {
	f := setup(t, StaleReject)

	res := f.observe(t, "1.50", block(10))
	assert.Equal(t, OutcomeRecorded, res.Outcome)
	assert.True(t, res.Changed)
	assert.NotZero(t, res.Row.ID)
	assert.Nil(t, res.Row.TokenAddress)
	assert.True(t, f.cached(t).Equal(decimal.RequireFromString("1.5")))

	w, err := f.mem.Watches().Get(context.Background(), f.watch.ID, storage.OnlyActive)
	require.NoError(t, err)
	require.NotNil(t, w.LastActivityAt)
	assert.Equal(t, res.Row.RecordedAt, *w.LastActivityAt)

	events := f.notifier.all()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Previous)
	assert.Equal(t, f.watch.UserID, events[0].UserID)
	assert.Equal(t, res.Row.ID, events[0].HistoryID)
	assert.Equal(t, 1, f.rec.len())

	got, err := f.ledger.LatestBalance(context.Background(), f.watch.ID, nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("1.5")))
}

func TestRecordObservationUnchangedValueIsNotPublished(t *testing.T) {
	f := setup(t, StaleReject)

	f.observe(t, "2", block(1))
	res := f.observe(t, "2.000", block(2))
	assert.Equal(t, OutcomeRecorded, res.Outcome)
	assert.False(t, res.Changed)

	assert.Len(t, f.notifier.all(), 1)
	assert.Len(t, f.history(t, nil), 2)
	assert.Equal(t, 2, f.rec.len())
}

func TestStaleObservationRejected(t *testing.T) {
	f := setup(t, StaleReject)

	head := f.observe(t, "1.0", block(100))
	res := f.observe(t, "5.0", block(99))
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.True(t, res.IsStale())
	assert.Equal(t, head.Row.ID, res.Row.ID)

	// Redelivery of the head block is a no-op too.
	res = f.observe(t, "7.0", block(100))
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.Equal(t, head.Row.ID, res.Row.ID)

	assert.True(t, f.cached(t).Equal(decimal.RequireFromString("1.0")))
	rows := f.history(t, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(100), *rows[0].BlockNumber)
	assert.Len(t, f.notifier.all(), 1)
	assert.Equal(t, 1, f.rec.len())
}

func TestStaleObservationArchived(t *testing.T) {
	f := setup(t, StaleArchive)

	f.observe(t, "1.0", block(100))
	late := f.observe(t, "5.0", block(99))
	assert.Equal(t, OutcomeLate, late.Outcome)
	assert.False(t, late.Changed)
	assert.True(t, late.Row.Late)

	assert.True(t, f.cached(t).Equal(decimal.RequireFromString("1.0")))
	rows := f.history(t, nil)
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(100), *rows[0].BlockNumber)
	assert.Equal(t, uint64(99), *rows[1].BlockNumber)

	again := f.observe(t, "5.0", block(99))
	assert.Equal(t, OutcomeStale, again.Outcome)
	assert.Equal(t, late.Row.ID, again.Row.ID)

	again = f.observe(t, "9.0", block(100))
	assert.Equal(t, OutcomeStale, again.Outcome)
	assert.Equal(t, rows[0].ID, again.Row.ID)

	assert.Len(t, f.history(t, nil), 2)
	assert.Len(t, f.notifier.all(), 1, "late rows do not move the head")
}

// Alice watches an address at block 100, then a delayed reading for block 99
// arrives. Keeping both rows requires the archive policy; the default policy
// drops the late reading.
func TestDelayedObservationPerPolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  StalePolicy
		outcome Outcome
		rows    int
	}{
		{"default", "", OutcomeStale, 1},
		{"reject", StaleReject, OutcomeStale, 1},
		{"archive", StaleArchive, OutcomeLate, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, tt.policy)

			f.observe(t, "1.0", block(100))
			res := f.observe(t, "5.0", block(99))
			assert.Equal(t, tt.outcome, res.Outcome)

			assert.True(t, f.cached(t).Equal(decimal.RequireFromString("1.0")))
			rows := f.history(t, nil)
			require.Len(t, rows, tt.rows)
			assert.Equal(t, uint64(100), *rows[0].BlockNumber)
		})
	}
}

func TestRecordObservationRejectsOversizedBlock(t *testing.T) {
	f := setup(t, StaleReject)

	_, err := f.ledger.RecordObservation(context.Background(), domain.Observation{
		WatchAddressID: f.watch.ID,
		Balance:        "1",
		BlockNumber:    block(math.MaxInt64 + 1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "block_number", de.Field)
	assert.Empty(t, f.history(t, nil))

	res := f.observe(t, "1", block(math.MaxInt64))
	assert.Equal(t, OutcomeRecorded, res.Outcome)
}

func TestObservationsWithoutBlock(t *testing.T) {
	f := setup(t, StaleReject)

	first := f.observe(t, "1", nil)
	assert.Equal(t, uint64(0), first.Row.OrderingBlock)
	f.observe(t, "2", block(50))
	last := f.observe(t, "3", nil)
	assert.Equal(t, OutcomeRecorded, last.Outcome)
	assert.Equal(t, uint64(50), last.Row.OrderingBlock)

	rows := f.history(t, nil)
	require.Len(t, rows, 3)
	assert.Equal(t, last.Row.ID, rows[0].ID)
	assert.Equal(t, first.Row.ID, rows[2].ID)
	assert.True(t, f.cached(t).Equal(decimal.NewFromInt(3)))

	// Block 50 is already the head position.
	res := f.observe(t, "4", block(50))
	assert.Equal(t, OutcomeStale, res.Outcome)
	assert.Equal(t, last.Row.ID, res.Row.ID)
}

func TestTokenStreams(t *testing.T) {
	f := setup(t, StaleReject)
	ctx := context.Background()

	_, err := f.ledger.LatestBalance(ctx, f.watch.ID, str(usdc))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.ledger.LatestBalance(ctx, f.watch.ID, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res, err := f.ledger.RecordObservation(ctx, domain.Observation{
		WatchAddressID: f.watch.ID,
		Balance:        "250.5",
		TokenAddress:   str(usdc),
		TokenSymbol:    str(" USDC "),
		BlockNumber:    block(7),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Row.TokenAddress)
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", *res.Row.TokenAddress)
	assert.Equal(t, "USDC", *res.Row.TokenSymbol)

	// Token streams never touch the cache.
	w, err := f.mem.Watches().Get(ctx, f.watch.ID, storage.OnlyActive)
	require.NoError(t, err)
	assert.Nil(t, w.CachedBalance)

	// A native observation at a lower block is its own stream.
	native := f.observe(t, "1", block(3))
	assert.Equal(t, OutcomeRecorded, native.Outcome)

	bal, err := f.ledger.LatestBalance(ctx, f.watch.ID, str("0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48"))
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("250.5")))

	streams, err := f.ledger.Streams(ctx, f.watch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"}, streams)

	_, err = f.ledger.RecordObservation(ctx, domain.Observation{WatchAddressID: f.watch.ID, Balance: "1", TokenAddress: str("usdc")})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, domain.ErrInvalidAddressFormat)
}

func TestHistoryPaging(t *testing.T) {
	f := setup(t, StaleReject)
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		f.observe(t, fmt.Sprint(i), block(uint64(i*10)))
	}

	var blocks []uint64
	cursor := ""
	pages := 0
	for {
		page, err := f.ledger.History(ctx, HistoryRequest{WatchAddressID: f.watch.ID, Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		pages++
		for _, r := range page.Rows {
			blocks = append(blocks, *r.BlockNumber)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, []uint64{70, 60, 50, 40, 30, 20, 10}, blocks)

	_, err := f.ledger.History(ctx, HistoryRequest{WatchAddressID: f.watch.ID, Cursor: "not a cursor!"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	page, err := f.ledger.History(ctx, HistoryRequest{WatchAddressID: f.watch.ID, Limit: 10_000})
	require.NoError(t, err)
	assert.Len(t, page.Rows, 7)
	assert.Empty(t, page.NextCursor)

	_, err = f.ledger.History(ctx, HistoryRequest{WatchAddressID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHistorySince(t *testing.T) {
	f := setup(t, StaleReject)

	f.observe(t, "1", block(1))
	second := f.observe(t, "2", block(2))
	f.observe(t, "3", block(3))

	since := second.Row.RecordedAt
	page, err := f.ledger.History(context.Background(), HistoryRequest{WatchAddressID: f.watch.ID, Since: &since})
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, uint64(3), *page.Rows[0].BlockNumber)
}

func TestRemovedWatchKeepsHistory(t *testing.T) {
	f := setup(t, StaleReject)
	ctx := context.Background()

	f.observe(t, "1", block(1))
	f.observe(t, "2", block(2))
	require.NoError(t, f.mem.Watches().SoftDelete(ctx, f.watch.ID, time.Now()))

	_, err := f.ledger.RecordObservation(ctx, domain.Observation{WatchAddressID: f.watch.ID, Balance: "3", BlockNumber: block(3)})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Len(t, f.history(t, nil), 2)
	bal, err := f.ledger.LatestBalance(ctx, f.watch.ID, nil)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(2)))
}

func TestNotifierFailureDoesNotFailWrite(t *testing.T) {
	f := setup(t, StaleReject)
	f.notifier.err = errors.New("redis down")

	res := f.observe(t, "1", block(1))
	assert.Equal(t, OutcomeRecorded, res.Outcome)
	assert.True(t, f.cached(t).Equal(decimal.NewFromInt(1)))
}

func TestConcurrentOutOfOrderWriters(t *testing.T) {
	f := setup(t, StaleReject)
	ctx := context.Background()

	const n = 60
	order := rand.Perm(n)

	var wg sync.WaitGroup
	for _, i := range order {
		wg.Add(1)
		go func(b uint64) {
			defer wg.Done()
			_, err := f.ledger.RecordObservation(ctx, domain.Observation{
				WatchAddressID: f.watch.ID,
				Balance:        fmt.Sprint(b),
				BlockNumber:    &b,
			})
			assert.NoError(t, err)
		}(uint64(i + 1))
	}
	wg.Wait()

	assert.True(t, f.cached(t).Equal(decimal.NewFromInt(n)))

	rows := f.history(t, nil)
	require.NotEmpty(t, rows)
	assert.Equal(t, uint64(n), *rows[0].BlockNumber)
	for i := 1; i < len(rows); i++ {
		// Accepted rows strictly increase with insertion order.
		assert.Greater(t, *rows[i-1].BlockNumber, *rows[i].BlockNumber)
		assert.Greater(t, rows[i-1].ID, rows[i].ID)
	}
	assert.Zero(t, f.ledger.locks.size())
}

func TestConcurrentStreamsAreIndependent(t *testing.T) {
	f := setup(t, StaleReject)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(2)
		go func(b uint64) {
			defer wg.Done()
			_, err := f.ledger.RecordObservation(ctx, domain.Observation{WatchAddressID: f.watch.ID, Balance: "1", BlockNumber: &b})
			assert.NoError(t, err)
		}(uint64(i))
		go func(b uint64) {
			defer wg.Done()
			_, err := f.ledger.RecordObservation(ctx, domain.Observation{WatchAddressID: f.watch.ID, Balance: "2", TokenAddress: str(usdc), BlockNumber: &b})
			assert.NoError(t, err)
		}(uint64(i))
	}
	wg.Wait()

	native, err := f.ledger.History(ctx, HistoryRequest{WatchAddressID: f.watch.ID})
	require.NoError(t, err)
	token, err := f.ledger.History(ctx, HistoryRequest{WatchAddressID: f.watch.ID, TokenAddress: str(usdc)})
	require.NoError(t, err)
	assert.Equal(t, uint64(20), *native.Rows[0].BlockNumber)
	assert.Equal(t, uint64(20), *token.Rows[0].BlockNumber)
	assert.True(t, f.cached(t).Equal(decimal.NewFromInt(1)))
}

func TestStreamLocks(t *testing.T) {
	l := newStreamLocks()

	release, err := l.acquire(context.Background(), "a")
	require.NoError(t, err)

	// A second stream is not blocked.
	other, err := l.acquire(context.Background(), "b")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.acquire(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	again, err := l.acquire(context.Background(), "a")
	require.NoError(t, err)
	again()
	assert.Zero(t, l.size())
}

func TestCursorRoundTrip(t *testing.T) {
	pos := storage.HistoryPosition{OrderingBlock: 123, ID: 456}
	got, err := decodeCursor("test", encodeCursor(pos))
	require.NoError(t, err)
	assert.Equal(t, pos, *got)

	for _, bad := range []string{"%%%", "MTIz", "YTpi", "MTowCg"} {
		_, err := decodeCursor("test", bad)
		assert.ErrorIs(t, err, domain.ErrValidation, bad)
	}
}
