// Package ledger keeps the append-only balance history of watch addresses and
// the cached native balance on each watch address row.
//
// A balance stream is one (watch address, token) pair; the empty token is the
// native asset. Writers of one stream are serialized twice: by an in-process
// lock and, inside the store transaction, by a transaction-scoped lock on the
// stream. Writers of different streams never wait on each other.
//
// Block numbers, when present, are authoritative. An observation whose block
// is not newer than the stream head is stale; what happens to it depends on
// the configured StalePolicy.
package ledger

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vietddude/watchledger/internal/audit"
	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
	"github.com/vietddude/watchledger/internal/metrics"
)

const (
	defaultPageSize      = 50
	maxPageSize          = 500
	defaultNotifyTimeout = 2 * time.Second
)

// StalePolicy decides what happens to an observation older than the stream
// head.
type StalePolicy string

const (
	// StaleReject drops every observation whose block is not newer than the
	// head and returns the head row.
	StaleReject StalePolicy = "reject"
	// StaleArchive appends a strictly older block to history as a late row
	// without touching the cache. A block already recorded is still dropped.
	StaleArchive StalePolicy = "archive"
)

// Valid reports whether p is a known policy.
func (p StalePolicy) Valid() bool {
	return p == StaleReject || p == StaleArchive
}

// Config holds ledger settings.
type Config struct {
	StalePolicy   StalePolicy   `yaml:"stale_policy"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.StalePolicy == "" {
		c.StalePolicy = StaleReject
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = defaultNotifyTimeout
	}
}

// Outcome tells what RecordObservation did.
type Outcome string

const (
	// OutcomeRecorded means a new head row was appended.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeLate means an older block was archived behind the head.
	OutcomeLate Outcome = "late"
	// OutcomeStale means nothing was written.
	OutcomeStale Outcome = "stale"
)

// Result is the row an observation resolved to.
type Result struct {
	Row     *domain.BalanceHistory
	Outcome Outcome
	// Changed is true when the head of the stream moved to a new value.
	Changed bool
}

// ChainReader supplies raw balances. It is implemented outside this core.
type ChainReader interface {
	Balance(ctx context.Context, network domain.NetworkID, address string) (balance string, block *uint64, err error)
}

// Notifier consumes balance-change events.
type Notifier interface {
	BalanceChanged(ctx context.Context, ev domain.BalanceChanged) error
}

// Ledger is the balance ledger.
type Ledger struct {
	store    storage.Store
	audit    audit.Recorder
	notifier Notifier
	cfg      Config
	timeout  time.Duration
	logger   *slog.Logger
	locks    *streamLocks
	now      func() time.Time
}

// New creates a ledger. notifier may be nil.
func New(store storage.Store, recorder audit.Recorder, notifier Notifier, cfg Config, timeout time.Duration, logger *slog.Logger) *Ledger {
	cfg.Defaults()
	if recorder == nil {
		recorder = audit.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:    store,
		audit:    recorder,
		notifier: notifier,
		cfg:      cfg,
		timeout:  timeout,
		logger:   logger,
		locks:    newStreamLocks(),
		now:      time.Now,
	}
}

func parseBalance(op, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, domain.Validationf(op, "balance", domain.ErrInvalidBalance, "empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, domain.Validationf(op, "balance", domain.ErrInvalidBalance, "%q is not a decimal", s)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, domain.Validationf(op, "balance", domain.ErrInvalidBalance, "%q is negative", s)
	}
	return d, nil
}

func (l *Ledger) streamKey(op string, w *domain.WatchAddress, token *string) (domain.StreamKey, error) {
	canonical, err := domain.NormalizeToken(w.NetworkID, token)
	if err != nil {
		return domain.StreamKey{}, domain.Validationf(op, "token_address", domain.ErrInvalidAddressFormat, "%q", *token)
	}
	return domain.StreamKey{WatchAddressID: w.ID, TokenAddress: canonical}, nil
}

// hasBlock reports whether any row up to head carried a block number.
func hasBlock(head *domain.BalanceHistory) bool {
	return head.BlockNumber != nil || head.OrderingBlock > 0
}

// resolveStale returns the row a stale observation at block collapses to, or
// nil when the observation should be archived as a late row.
func (l *Ledger) resolveStale(ctx context.Context, uow storage.UnitOfWork, key domain.StreamKey, head *domain.BalanceHistory, block uint64) (*domain.BalanceHistory, error) {
	if l.cfg.StalePolicy != StaleArchive {
		return head, nil
	}
	existing, err := uow.History().FindByBlock(ctx, key, block)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if block == head.OrderingBlock {
		return head, nil
	}
	return nil, nil
}

// RecordObservation appends a balance observation to its stream.
//
// The balance is validated before anything is read or written. A native
// observation that becomes the new head also updates the cached balance of
// the watch address in the same transaction.
func (l *Ledger) RecordObservation(ctx context.Context, obs domain.Observation) (*Result, error) {
	const op = "ledger.RecordObservation"
	start := time.Now()
	defer func() { metrics.ObservationLatency.Observe(time.Since(start).Seconds()) }()

	balance, err := parseBalance(op, obs.Balance)
	if err != nil {
		return nil, err
	}
	if obs.BlockNumber != nil && *obs.BlockNumber > math.MaxInt64 {
		return nil, domain.Validationf(op, "block_number", domain.ErrValidation, "%d exceeds %d", *obs.BlockNumber, int64(math.MaxInt64))
	}

	ctx, cancel := storage.Bound(ctx, l.timeout)
	defer cancel()

	watch, err := l.store.Watches().Get(ctx, obs.WatchAddressID, storage.OnlyActive)
	if err != nil {
		return nil, domain.WithOp(op, err)
	}
	key, err := l.streamKey(op, watch, obs.TokenAddress)
	if err != nil {
		return nil, err
	}

	release, err := l.locks.acquire(ctx, key.String())
	if err != nil {
		return nil, domain.E(domain.KindTransient, op, err)
	}
	defer release()

	now := l.now()
	var (
		res  *Result
		prev *domain.BalanceHistory
	)
	err = l.store.Atomic(ctx, func(uow storage.UnitOfWork) error {
		if err := uow.LockStream(ctx, key); err != nil {
			return err
		}
		// The watch may have been removed while we waited for the lock.
		w, err := uow.Watches().Get(ctx, key.WatchAddressID, storage.OnlyActive)
		if err != nil {
			return err
		}
		watch = w

		head, err := uow.History().Head(ctx, key)
		if err != nil {
			return err
		}
		prev = head

		row := &domain.BalanceHistory{
			WatchAddressID: w.ID,
			Balance:        balance,
			TokenSymbol:    trimmed(obs.TokenSymbol),
			BlockNumber:    obs.BlockNumber,
			RecordedAt:     now,
		}
		if !key.Native() {
			token := key.TokenAddress
			row.TokenAddress = &token
		}

		outcome := OutcomeRecorded
		switch {
		case obs.BlockNumber == nil:
			if head != nil {
				row.OrderingBlock = head.OrderingBlock
			}
		case head != nil && hasBlock(head) && *obs.BlockNumber <= head.OrderingBlock:
			kept, err := l.resolveStale(ctx, uow, key, head, *obs.BlockNumber)
			if err != nil {
				return err
			}
			if kept != nil {
				res = &Result{Row: kept, Outcome: OutcomeStale}
				return nil
			}
			row.OrderingBlock = *obs.BlockNumber
			row.Late = true
			outcome = OutcomeLate
		default:
			row.OrderingBlock = *obs.BlockNumber
		}

		if err := uow.History().Append(ctx, row); err != nil {
			return err
		}
		if outcome == OutcomeRecorded && key.Native() {
			if err := uow.Watches().UpdateCachedBalance(ctx, w.ID, balance.String(), now); err != nil {
				return err
			}
		}
		res = &Result{
			Row:     row,
			Outcome: outcome,
			Changed: outcome == OutcomeRecorded && (head == nil || !head.Balance.Equal(balance)),
		}
		return nil
	})
	if err != nil {
		return nil, domain.WithOp(op, err)
	}

	metrics.ObservationsTotal.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome == OutcomeStale {
		l.logger.Debug("stale observation dropped",
			"watch_address_id", key.WatchAddressID,
			"token", key.TokenAddress,
			"block", *obs.BlockNumber,
			"head_block", res.Row.OrderingBlock,
		)
		return res, nil
	}

	l.record(ctx, watch, key, prev, res)
	if res.Changed {
		l.notify(ctx, watch, key, prev, res.Row)
	}
	return res, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

func (l *Ledger) record(ctx context.Context, w *domain.WatchAddress, key domain.StreamKey, prev *domain.BalanceHistory, res *Result) {
	details := domain.Values{
		"network_id": string(w.NetworkID),
		"address":    w.Address,
		"balance":    res.Row.Balance.String(),
		"history_id": res.Row.ID,
		"late":       res.Row.Late,
		"changed":    res.Changed,
	}
	if !key.Native() {
		details["token_address"] = key.TokenAddress
	}
	if prev != nil {
		details["previous"] = prev.Balance.String()
	}
	if res.Row.BlockNumber != nil {
		details["block_number"] = *res.Row.BlockNumber
	}
	l.audit.Record(ctx, audit.Entry{
		UserID:       &w.UserID,
		Action:       domain.ActionBalanceChanged,
		ResourceType: domain.ResourceWatch,
		ResourceID:   w.ID.String(),
		Details:      details,
	})
}

func (l *Ledger) notify(ctx context.Context, w *domain.WatchAddress, key domain.StreamKey, prev, row *domain.BalanceHistory) {
	if l.notifier == nil {
		return
	}
	ev := domain.BalanceChanged{
		UserID:         w.UserID,
		WatchAddressID: w.ID,
		Address:        w.Address,
		NetworkID:      w.NetworkID,
		TokenAddress:   key.TokenAddress,
		Current:        row.Balance,
		BlockNumber:    row.BlockNumber,
		HistoryID:      row.ID,
		RecordedAt:     row.RecordedAt,
	}
	if prev != nil {
		p := prev.Balance.String()
		ev.Previous = &p
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.NotifyTimeout)
	defer cancel()
	if err := l.notifier.BalanceChanged(ctx, ev); err != nil {
		metrics.NotifierErrors.Inc()
		l.logger.Warn("failed to publish balance change",
			"watch_address_id", w.ID,
			"history_id", row.ID,
			"error", err,
		)
	}
}

// LatestBalance returns the current balance of a stream: the cached value for
// the native asset, the head row for a token. Removed watches stay readable.
func (l *Ledger) LatestBalance(ctx context.Context, watchID uuid.UUID, token *string) (decimal.Decimal, error) {
	const op = "ledger.LatestBalance"

	ctx, cancel := storage.Bound(ctx, l.timeout)
	defer cancel()

	w, err := l.store.Watches().Get(ctx, watchID, storage.IncludeTombstoned)
	if err != nil {
		return decimal.Decimal{}, domain.WithOp(op, err)
	}
	key, err := l.streamKey(op, w, token)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if key.Native() {
		if w.CachedBalance == nil {
			return decimal.Decimal{}, domain.NotFound(op, "balance")
		}
		return *w.CachedBalance, nil
	}
	head, err := l.store.History().Head(ctx, key)
	if err != nil {
		return decimal.Decimal{}, domain.WithOp(op, err)
	}
	if head == nil {
		return decimal.Decimal{}, domain.NotFound(op, "balance")
	}
	return head.Balance, nil
}

// HistoryRequest selects a page of one stream.
type HistoryRequest struct {
	WatchAddressID uuid.UUID
	TokenAddress   *string
	Since          *time.Time
	// Limit is clamped to [1, 500]; zero means 50.
	Limit int
	// Cursor is the NextCursor of the previous page, empty for the first.
	Cursor string
}

// Page is one page of history, newest first. NextCursor is empty on the last
// page.
type Page struct {
	Rows       []*domain.BalanceHistory
	NextCursor string
}

// History reads a stream newest first. Removed watches stay readable.
func (l *Ledger) History(ctx context.Context, req HistoryRequest) (*Page, error) {
	const op = "ledger.History"

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	var before *storage.HistoryPosition
	if req.Cursor != "" {
		pos, err := decodeCursor(op, req.Cursor)
		if err != nil {
			return nil, err
		}
		before = pos
	}

	ctx, cancel := storage.Bound(ctx, l.timeout)
	defer cancel()

	w, err := l.store.Watches().Get(ctx, req.WatchAddressID, storage.IncludeTombstoned)
	if err != nil {
		return nil, domain.WithOp(op, err)
	}
	key, err := l.streamKey(op, w, req.TokenAddress)
	if err != nil {
		return nil, err
	}

	rows, err := l.store.History().List(ctx, key, storage.HistoryQuery{
		Since:  req.Since,
		Before: before,
		Limit:  limit + 1,
	})
	if err != nil {
		return nil, domain.WithOp(op, err)
	}

	page := &Page{Rows: rows}
	if len(rows) > limit {
		page.Rows = rows[:limit]
		last := page.Rows[limit-1]
		page.NextCursor = encodeCursor(storage.HistoryPosition{OrderingBlock: last.OrderingBlock, ID: last.ID})
	}
	return page, nil
}

// Streams lists the token addresses observed for a watch, the native asset
// ("") first.
func (l *Ledger) Streams(ctx context.Context, watchID uuid.UUID) ([]string, error) {
	const op = "ledger.Streams"

	ctx, cancel := storage.Bound(ctx, l.timeout)
	defer cancel()

	if _, err := l.store.Watches().Get(ctx, watchID, storage.IncludeTombstoned); err != nil {
		return nil, domain.WithOp(op, err)
	}
	out, err := l.store.History().Streams(ctx, watchID)
	if err != nil {
		return nil, domain.WithOp(op, err)
	}
	return out, nil
}

// IsStale reports whether the observation wrote nothing.
func (r *Result) IsStale() bool { return r != nil && r.Outcome == OutcomeStale }
