// Package preference stores per-user settings. A user's preferences are
// created with defaults on first access; updates merge into the settings
// documents key by key.
package preference

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/audit"
	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

var (
	themes       = []string{"light", "dark", "system"}
	currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)
	languageTag  = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)
)

// Patch is a partial update. Nil scalars are left alone; settings documents
// are merged, and a nil value inside one deletes that key.
type Patch struct {
	Currency      *string
	Theme         *string
	Language      *string
	Notifications domain.Values
	Display       domain.Values
	Privacy       domain.Values
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Currency == nil && p.Theme == nil && p.Language == nil &&
		len(p.Notifications) == 0 && len(p.Display) == 0 && len(p.Privacy) == 0
}

func (p *Patch) normalize(op string) error {
	if p.Currency != nil {
		c := strings.ToUpper(strings.TrimSpace(*p.Currency))
		if !currencyCode.MatchString(c) {
			return domain.Validation(op, "currency", errors.New("currency must be a 3-letter code"))
		}
		p.Currency = &c
	}
	if p.Theme != nil {
		t := strings.ToLower(strings.TrimSpace(*p.Theme))
		if !slices.Contains(themes, t) {
			return domain.Validation(op, "theme", errors.New("theme must be light, dark or system"))
		}
		p.Theme = &t
	}
	if p.Language != nil {
		l := strings.TrimSpace(*p.Language)
		if !languageTag.MatchString(l) {
			return domain.Validation(op, "language", errors.New("language must be a language tag such as en or pt-BR"))
		}
		p.Language = &l
	}
	return nil
}

// Store is the preference store.
type Store struct {
	store   storage.Store
	audit   audit.Recorder
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a preference store.
func NewStore(store storage.Store, recorder audit.Recorder, timeout time.Duration, logger *slog.Logger) *Store {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		store:   store,
		audit:   recorder,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the preferences of a user, creating the defaults on first
// access.
func (s *Store) Get(ctx context.Context, userID uuid.UUID) (*domain.UserPreference, error) {
	const op = "preference.Get"

	ctx, cancel := storage.Bound(ctx, s.timeout)
	defer cancel()

	if _, err := s.store.Users().Get(ctx, userID, storage.OnlyActive); err != nil {
		return nil, domain.WithOp(op, err)
	}
	p, err := s.store.Preferences().Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.WithOp(op, err)
	}

	// Concurrent first reads race here; CreateIfAbsent keeps the first row.
	if err := s.store.Preferences().CreateIfAbsent(ctx, domain.DefaultPreference(userID, s.now())); err != nil {
		return nil, domain.WithOp(op, err)
	}
	p, err = s.store.Preferences().Get(ctx, userID)
	if err != nil {
		return nil, domain.WithOp(op, err)
	}
	return p, nil
}

// Update applies patch to the preferences of a user and returns the result.
func (s *Store) Update(ctx context.Context, userID uuid.UUID, patch Patch) (*domain.UserPreference, error) {
	const op = "preference.Update"

	if err := patch.normalize(op); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return s.Get(ctx, userID)
	}

	ctx, cancel := storage.Bound(ctx, s.timeout)
	defer cancel()

	now := s.now()
	var out *domain.UserPreference
	err := s.store.Atomic(ctx, func(uow storage.UnitOfWork) error {
		if _, err := uow.Users().Get(ctx, userID, storage.OnlyActive); err != nil {
			return err
		}
		if err := uow.Preferences().CreateIfAbsent(ctx, domain.DefaultPreference(userID, now)); err != nil {
			return err
		}
		p, err := uow.Preferences().GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		apply(p, patch)
		p.UpdatedAt = now
		if err := uow.Preferences().Save(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, domain.WithOp(op, err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       domain.ActionPreferenceUpdate,
		ResourceType: domain.ResourcePreference,
		ResourceID:   userID.String(),
		Details:      domain.Values{"fields": strings.Join(patch.fields(), ",")},
	})
	return out, nil
}

func apply(p *domain.UserPreference, patch Patch) {
	if patch.Currency != nil {
		p.Currency = *patch.Currency
	}
	if patch.Theme != nil {
		p.Theme = *patch.Theme
	}
	if patch.Language != nil {
		p.Language = *patch.Language
	}
	if patch.Notifications != nil {
		p.Notifications = p.Notifications.Merge(patch.Notifications)
	}
	if patch.Display != nil {
		p.Display = p.Display.Merge(patch.Display)
	}
	if patch.Privacy != nil {
		p.Privacy = p.Privacy.Merge(patch.Privacy)
	}
}

// fields names the parts of the preferences the patch touches.
func (p Patch) fields() []string {
	var out []string
	if p.Currency != nil {
		out = append(out, "currency")
	}
	if p.Theme != nil {
		out = append(out, "theme")
	}
	if p.Language != nil {
		out = append(out, "language")
	}
	if p.Notifications != nil {
		out = append(out, "notifications")
	}
	if p.Display != nil {
		out = append(out, "display")
	}
	if p.Privacy != nil {
		out = append(out, "privacy")
	}
	return out
}
