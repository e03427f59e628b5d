package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

// Store is an in-process storage.Store. A unit of work runs on a private copy
// of the state that replaces the live state only when the work succeeds, so a
// failed unit of work leaves no trace.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	users    map[uuid.UUID]domain.User
	sessions map[uuid.UUID]domain.Session
	watches  map[uuid.UUID]domain.WatchAddress
	wallets  map[uuid.UUID]domain.UserWallet
	prefs    map[uuid.UUID]domain.UserPreference
	history  []domain.BalanceHistory
	activity []domain.ActivityLog
	seq      int64
}

func (s *state) clone() *state {
	return &state{
		users:    maps.Clone(s.users),
		sessions: maps.Clone(s.sessions),
		watches:  maps.Clone(s.watches),
		wallets:  maps.Clone(s.wallets),
		prefs:    maps.Clone(s.prefs),
		history:  slices.Clone(s.history),
		activity: slices.Clone(s.activity),
		seq:      s.seq,
	}
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{st: &state{
		users:    make(map[uuid.UUID]domain.User),
		sessions: make(map[uuid.UUID]domain.Session),
		watches:  make(map[uuid.UUID]domain.WatchAddress),
		wallets:  make(map[uuid.UUID]domain.UserWallet),
		prefs:    make(map[uuid.UUID]domain.UserPreference),
	}}
}

// view gives repositories access to either the live state (guarded by the
// store lock) or the private state of a unit of work.
type view struct {
	s  *Store
	st *state
}

func (v view) read(fn func(*state) error) error {
	if v.st != nil {
		return fn(v.st)
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return fn(v.s.st)
}

func (v view) write(fn func(*state) error) error {
	if v.st != nil {
		return fn(v.st)
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn(v.s.st)
}

type repos struct{ v view }

func (r repos) Users() storage.UserRepository             { return &UserRepo{r.v} }
func (r repos) Sessions() storage.SessionRepository       { return &SessionRepo{r.v} }
func (r repos) Watches() storage.WatchRepository          { return &WatchRepo{r.v} }
func (r repos) Wallets() storage.WalletRepository         { return &WalletRepo{r.v} }
func (r repos) History() storage.HistoryRepository        { return &HistoryRepo{r.v} }
func (r repos) Preferences() storage.PreferenceRepository { return &PreferenceRepo{r.v} }
func (r repos) Activity() storage.ActivityRepository      { return &ActivityRepo{r.v} }

func (s *Store) Users() storage.UserRepository             { return s.repos().Users() }
func (s *Store) Sessions() storage.SessionRepository       { return s.repos().Sessions() }
func (s *Store) Watches() storage.WatchRepository          { return s.repos().Watches() }
func (s *Store) Wallets() storage.WalletRepository         { return s.repos().Wallets() }
func (s *Store) History() storage.HistoryRepository        { return s.repos().History() }
func (s *Store) Preferences() storage.PreferenceRepository { return s.repos().Preferences() }
func (s *Store) Activity() storage.ActivityRepository      { return s.repos().Activity() }

func (s *Store) repos() repos { return repos{view{s: s}} }

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Atomic runs fn against a private copy of the state and publishes it when fn
// succeeds. Units of work are serialized. fn must not call back into the
// store outside the unit of work it was handed.
func (s *Store) Atomic(ctx context.Context, fn func(uow storage.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return domain.E(domain.KindTransient, "memory.Atomic", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&unitOfWork{repos{view{st: work}}}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type unitOfWork struct{ repos }

// LockStream is a no-op: units of work are already serialized.
func (u *unitOfWork) LockStream(ctx context.Context, key domain.StreamKey) error { return nil }

// -----------------------------------------------------------------------------
// User Repository
// -----------------------------------------------------------------------------

type UserRepo struct{ v view }

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	return r.v.write(func(st *state) error {
		for _, other := range st.users {
			if strings.EqualFold(other.Username, u.Username) {
				return &domain.Error{Kind: domain.KindConflict, Op: "memory.CreateUser", Field: "username", Err: domain.ErrDuplicateUsername}
			}
			if strings.EqualFold(other.Email, u.Email) {
				return &domain.Error{Kind: domain.KindConflict, Op: "memory.CreateUser", Field: "email", Err: domain.ErrDuplicateEmail}
			}
		}
		st.users[u.ID] = *u
		return nil
	})
}

func (r *UserRepo) Get(ctx context.Context, id uuid.UUID, scope storage.Scope) (*domain.User, error) {
	var out *domain.User
	err := r.v.read(func(st *state) error {
		u, ok := st.users[id]
		if !ok || (u.Tombstoned() && scope == storage.OnlyActive) {
			return domain.NotFound("memory.GetUser", "user")
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *UserRepo) FindByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	var out *domain.User
	err := r.v.read(func(st *state) error {
		for _, u := range st.users {
			if u.Tombstoned() {
				continue
			}
			if strings.EqualFold(u.Username, identifier) || strings.EqualFold(u.Email, identifier) {
				out = &u
				return nil
			}
		}
		return domain.NotFound("memory.FindUser", "user")
	})
	return out, err
}

func (r *UserRepo) mutate(op string, id uuid.UUID, fn func(*domain.User)) error {
	return r.v.write(func(st *state) error {
		u, ok := st.users[id]
		if !ok || u.Tombstoned() {
			return domain.NotFound(op, "user")
		}
		fn(&u)
		st.users[id] = u
		return nil
	})
}

func (r *UserRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mutate("memory.UpdateLastLogin", id, func(u *domain.User) {
		u.LastLoginAt = &at
		u.UpdatedAt = at
	})
}

func (r *UserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error {
	return r.mutate("memory.SetActive", id, func(u *domain.User) {
		u.IsActive = active
		u.UpdatedAt = at
	})
}

func (r *UserRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mutate("memory.SoftDeleteUser", id, func(u *domain.User) {
		u.DeletedAt = &at
		u.IsActive = false
		u.UpdatedAt = at
	})
}

// -----------------------------------------------------------------------------
// Session Repository
// -----------------------------------------------------------------------------

type SessionRepo struct{ v view }

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	return r.v.write(func(st *state) error {
		for _, other := range st.sessions {
			if other.SessionToken == s.SessionToken || other.RefreshToken == s.RefreshToken {
				return &domain.Error{Kind: domain.KindConflict, Op: "memory.CreateSession", Field: "token", Err: domain.ErrConflict}
			}
		}
		st.sessions[s.ID] = *s
		return nil
	})
}

func (r *SessionRepo) find(op string, match func(domain.Session) bool) (*domain.Session, error) {
	var out *domain.Session
	err := r.v.read(func(st *state) error {
		for _, s := range st.sessions {
			if match(s) {
				out = &s
				return nil
			}
		}
		return domain.NotFound(op, "session")
	})
	return out, err
}

func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	return r.find("memory.GetSession", func(s domain.Session) bool { return s.SessionToken == token })
}

func (r *SessionRepo) GetByRefreshToken(ctx context.Context, token string) (*domain.Session, error) {
	return r.find("memory.GetSessionByRefresh", func(s domain.Session) bool { return s.RefreshToken == token })
}

func (r *SessionRepo) mutate(op string, id uuid.UUID, fn func(*domain.Session)) error {
	return r.v.write(func(st *state) error {
		s, ok := st.sessions[id]
		if !ok {
			return domain.NotFound(op, "session")
		}
		fn(&s)
		st.sessions[id] = s
		return nil
	})
}

func (r *SessionRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mutate("memory.TouchSession", id, func(s *domain.Session) { s.LastSeenAt = &at })
}

func (r *SessionRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mutate("memory.RevokeSession", id, func(s *domain.Session) {
		s.IsActive = false
		s.UpdatedAt = at
	})
}

func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	var n int64
	err := r.v.write(func(st *state) error {
		for id, s := range st.sessions {
			if s.UserID == userID && s.IsActive {
				s.IsActive = false
				s.UpdatedAt = at
				st.sessions[id] = s
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *SessionRepo) Rotate(ctx context.Context, id uuid.UUID, token string, expiresAt, at time.Time) error {
	return r.v.write(func(st *state) error {
		for _, other := range st.sessions {
			if other.SessionToken == token {
				return &domain.Error{Kind: domain.KindConflict, Op: "memory.RotateSession", Field: "token", Err: domain.ErrConflict}
			}
		}
		s, ok := st.sessions[id]
		if !ok {
			return domain.NotFound("memory.RotateSession", "session")
		}
		s.SessionToken = token
		s.ExpiresAt = expiresAt
		s.UpdatedAt = at
		st.sessions[id] = s
		return nil
	})
}

func (r *SessionRepo) ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]*domain.Session, error) {
	var out []*domain.Session
	err := r.v.read(func(st *state) error {
		for _, s := range st.sessions {
			if s.UserID == userID && s.IsActive && now.Before(s.ExpiresAt) {
				out = append(out, &s)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *domain.Session) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, err
}

func (r *SessionRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.v.write(func(st *state) error {
		for id, s := range st.sessions {
			if s.ExpiresAt.Before(before) || (!s.IsActive && s.UpdatedAt.Before(before)) {
				delete(st.sessions, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// -----------------------------------------------------------------------------
// Watch Repository
// -----------------------------------------------------------------------------

type WatchRepo struct{ v view }

func (r *WatchRepo) Create(ctx context.Context, w *domain.WatchAddress) error {
	return r.v.write(func(st *state) error {
		for _, other := range st.watches {
			if !other.Tombstoned() && other.UserID == w.UserID &&
				other.Address == w.Address && other.NetworkID == w.NetworkID {
				return &domain.Error{Kind: domain.KindConflict, Op: "memory.CreateWatch", Field: "address", Err: domain.ErrDuplicateWatch}
			}
		}
		st.watches[w.ID] = *w
		return nil
	})
}

func (r *WatchRepo) Get(ctx context.Context, id uuid.UUID, scope storage.Scope) (*domain.WatchAddress, error) {
	var out *domain.WatchAddress
	err := r.v.read(func(st *state) error {
		w, ok := st.watches[id]
		if !ok || (w.Tombstoned() && scope == storage.OnlyActive) {
			return domain.NotFound("memory.GetWatch", "watch_address")
		}
		out = &w
		return nil
	})
	return out, err
}

func (r *WatchRepo) mutate(op string, id uuid.UUID, fn func(*domain.WatchAddress)) error {
	return r.v.write(func(st *state) error {
		w, ok := st.watches[id]
		if !ok || w.Tombstoned() {
			return domain.NotFound(op, "watch_address")
		}
		fn(&w)
		st.watches[id] = w
		return nil
	})
}

func (r *WatchRepo) Update(ctx context.Context, w *domain.WatchAddress) error {
	return r.mutate("memory.UpdateWatch", w.ID, func(cur *domain.WatchAddress) {
		cur.AddressType = w.AddressType
		cur.Label = w.Label
		cur.Tags = w.Tags
		cur.Notes = w.Notes
		cur.IsFavorite = w.IsFavorite
		cur.NotificationEnabled = w.NotificationEnabled
		cur.UpdatedAt = w.UpdatedAt
	})
}

func (r *WatchRepo) UpdateCachedBalance(ctx context.Context, id uuid.UUID, balance string, at time.Time) error {
	d, err := decimal.NewFromString(balance)
	if err != nil {
		return domain.Validation("memory.UpdateCachedBalance", "balance", domain.ErrInvalidBalance)
	}
	return r.mutate("memory.UpdateCachedBalance", id, func(w *domain.WatchAddress) {
		w.CachedBalance = &d
		w.LastActivityAt = &at
		w.UpdatedAt = at
	})
}

func (r *WatchRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mutate("memory.SoftDeleteWatch", id, func(w *domain.WatchAddress) {
		w.DeletedAt = &at
		w.UpdatedAt = at
	})
}

func (r *WatchRepo) ListByUser(ctx context.Context, userID uuid.UUID, f storage.WatchFilter) ([]*domain.WatchAddress, error) {
	var out []*domain.WatchAddress
	err := r.v.read(func(st *state) error {
		for _, w := range st.watches {
			if w.UserID != userID || (w.Tombstoned() && f.Scope == storage.OnlyActive) {
				continue
			}
			if f.NetworkID != nil && w.NetworkID != *f.NetworkID {
				continue
			}
			out = append(out, &w)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *domain.WatchAddress) int {
		if f.FavoritesFirst && a.IsFavorite != b.IsFavorite {
			if a.IsFavorite {
				return -1
			}
			return 1
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, err
}

func (r *WatchRepo) ListForPolling(ctx context.Context, networkID *domain.NetworkID, afterID uuid.UUID, limit int) ([]*domain.WatchAddress, error) {
	var out []*domain.WatchAddress
	after := afterID.String()
	err := r.v.read(func(st *state) error {
		for _, w := range st.watches {
			if w.Tombstoned() || w.ID.String() <= after {
				continue
			}
			if networkID != nil && w.NetworkID != *networkID {
				continue
			}
			out = append(out, &w)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *domain.WatchAddress) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// -----------------------------------------------------------------------------
// Wallet Repository
// -----------------------------------------------------------------------------

type WalletRepo struct{ v view }

func (r *WalletRepo) Create(ctx context.Context, w *domain.UserWallet) error {
	return r.v.write(func(st *state) error {
		for _, other := range st.wallets {
			if !other.Tombstoned() && other.UserID == w.UserID &&
				other.Address == w.Address && other.NetworkID == w.NetworkID {
				return &domain.Error{Kind: domain.KindConflict, Op: "memory.CreateWallet", Field: "address", Err: domain.ErrDuplicateWallet}
			}
		}
		st.wallets[w.ID] = *w
		return nil
	})
}

func (r *WalletRepo) Get(ctx context.Context, id uuid.UUID, scope storage.Scope) (*domain.UserWallet, error) {
	var out *domain.UserWallet
	err := r.v.read(func(st *state) error {
		w, ok := st.wallets[id]
		if !ok || (w.Tombstoned() && scope == storage.OnlyActive) {
			return domain.NotFound("memory.GetWallet", "user_wallet")
		}
		out = &w
		return nil
	})
	return out, err
}

func (r *WalletRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.UserWallet, error) {
	var out []*domain.UserWallet
	err := r.v.read(func(st *state) error {
		for _, w := range st.wallets {
			if w.UserID == userID && !w.Tombstoned() {
				out = append(out, &w)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *domain.UserWallet) int {
		if a.IsPrimary != b.IsPrimary {
			if a.IsPrimary {
				return -1
			}
			return 1
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, err
}

// LockUser is a no-op: units of work are already serialized.
func (r *WalletRepo) LockUser(ctx context.Context, userID uuid.UUID) error { return nil }

func (r *WalletRepo) CountActive(ctx context.Context, userID uuid.UUID) (int, error) {
	n := 0
	err := r.v.read(func(st *state) error {
		for _, w := range st.wallets {
			if w.UserID == userID && !w.Tombstoned() {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *WalletRepo) ClearPrimary(ctx context.Context, userID, keepID uuid.UUID, at time.Time) error {
	return r.v.write(func(st *state) error {
		for id, w := range st.wallets {
			if w.UserID == userID && id != keepID && w.IsPrimary {
				w.IsPrimary = false
				w.UpdatedAt = at
				st.wallets[id] = w
			}
		}
		return nil
	})
}

func (r *WalletRepo) mutate(op string, id uuid.UUID, fn func(*domain.UserWallet)) error {
	return r.v.write(func(st *state) error {
		w, ok := st.wallets[id]
		if !ok || w.Tombstoned() {
			return domain.NotFound(op, "user_wallet")
		}
		fn(&w)
		st.wallets[id] = w
		return nil
	})
}

func (r *WalletRepo) SetPrimary(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mutate("memory.SetPrimary", id, func(w *domain.UserWallet) {
		w.IsPrimary = true
		w.UpdatedAt = at
	})
}

func (r *WalletRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mutate("memory.TouchWallet", id, func(w *domain.UserWallet) { w.LastUsedAt = &at })
}

func (r *WalletRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mutate("memory.SoftDeleteWallet", id, func(w *domain.UserWallet) {
		w.DeletedAt = &at
		w.IsPrimary = false
		w.UpdatedAt = at
	})
}

// -----------------------------------------------------------------------------
// History Repository
// -----------------------------------------------------------------------------

type HistoryRepo struct{ v view }

func (r *HistoryRepo) Append(ctx context.Context, row *domain.BalanceHistory) error {
	return r.v.write(func(st *state) error {
		st.seq++
		row.ID = st.seq
		st.history = append(st.history, *row)
		return nil
	})
}

func inStream(h *domain.BalanceHistory, key domain.StreamKey) bool {
	return h.Stream() == key
}

// newestFirst orders rows by (OrderingBlock, ID) descending.
func newestFirst(a, b *domain.BalanceHistory) int {
	if c := cmp.Compare(b.OrderingBlock, a.OrderingBlock); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func (r *HistoryRepo) stream(key domain.StreamKey) ([]*domain.BalanceHistory, error) {
	var out []*domain.BalanceHistory
	err := r.v.read(func(st *state) error {
		for i := range st.history {
			h := st.history[i]
			if inStream(&h, key) {
				out = append(out, &h)
			}
		}
		return nil
	})
	slices.SortFunc(out, newestFirst)
	return out, err
}

func (r *HistoryRepo) Head(ctx context.Context, key domain.StreamKey) (*domain.BalanceHistory, error) {
	rows, err := r.stream(key)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (r *HistoryRepo) FindByBlock(ctx context.Context, key domain.StreamKey, block uint64) (*domain.BalanceHistory, error) {
	rows, err := r.stream(key)
	if err != nil {
		return nil, err
	}
	for _, h := range rows {
		if h.BlockNumber != nil && *h.BlockNumber == block {
			return h, nil
		}
	}
	return nil, nil
}

func (r *HistoryRepo) List(ctx context.Context, key domain.StreamKey, q storage.HistoryQuery) ([]*domain.BalanceHistory, error) {
	rows, err := r.stream(key)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.BalanceHistory, 0, min(len(rows), max(q.Limit, 0)))
	for _, h := range rows {
		if q.Since != nil && h.RecordedAt.Before(*q.Since) {
			continue
		}
		if q.Before != nil {
			pos := *q.Before
			if h.OrderingBlock > pos.OrderingBlock || (h.OrderingBlock == pos.OrderingBlock && h.ID >= pos.ID) {
				continue
			}
		}
		out = append(out, h)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (r *HistoryRepo) Streams(ctx context.Context, watchID uuid.UUID) ([]string, error) {
	seen := map[string]struct{}{}
	err := r.v.read(func(st *state) error {
		for i := range st.history {
			h := &st.history[i]
			if h.WatchAddressID == watchID {
				seen[h.Stream().TokenAddress] = struct{}{}
			}
		}
		return nil
	})
	out := slices.Sorted(maps.Keys(seen))
	return out, err
}

// -----------------------------------------------------------------------------
// Preference Repository
// -----------------------------------------------------------------------------

type PreferenceRepo struct{ v view }

func (r *PreferenceRepo) CreateIfAbsent(ctx context.Context, p *domain.UserPreference) error {
	return r.v.write(func(st *state) error {
		if _, ok := st.prefs[p.UserID]; !ok {
			st.prefs[p.UserID] = *p
		}
		return nil
	})
}

func (r *PreferenceRepo) Get(ctx context.Context, userID uuid.UUID) (*domain.UserPreference, error) {
	var out *domain.UserPreference
	err := r.v.read(func(st *state) error {
		p, ok := st.prefs[userID]
		if !ok {
			return domain.NotFound("memory.GetPreference", "user_preference")
		}
		p.Notifications = p.Notifications.Clone()
		p.Display = p.Display.Clone()
		p.Privacy = p.Privacy.Clone()
		out = &p
		return nil
	})
	return out, err
}

func (r *PreferenceRepo) GetForUpdate(ctx context.Context, userID uuid.UUID) (*domain.UserPreference, error) {
	return r.Get(ctx, userID)
}

func (r *PreferenceRepo) Save(ctx context.Context, p *domain.UserPreference) error {
	return r.v.write(func(st *state) error {
		if _, ok := st.prefs[p.UserID]; !ok {
			return domain.NotFound("memory.SavePreference", "user_preference")
		}
		st.prefs[p.UserID] = *p
		return nil
	})
}

// -----------------------------------------------------------------------------
// Activity Repository
// -----------------------------------------------------------------------------

type ActivityRepo struct{ v view }

func (r *ActivityRepo) Append(ctx context.Context, a *domain.ActivityLog) error {
	return r.v.write(func(st *state) error {
		st.activity = append(st.activity, *a)
		return nil
	})
}

func (r *ActivityRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ActivityLog, error) {
	var out []*domain.ActivityLog
	err := r.v.read(func(st *state) error {
		for i := len(st.activity) - 1; i >= 0; i-- {
			a := st.activity[i]
			if a.UserID != nil && *a.UserID == userID {
				out = append(out, &a)
				if limit > 0 && len(out) == limit {
					break
				}
			}
		}
		return nil
	})
	return out, err
}
