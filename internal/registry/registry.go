// Package registry manages the addresses a user watches and the wallets a
// user owns.
//
// Both collections validate addresses against the format of their network and
// keep at most one live row per (user, address, network). Removal is a soft
// delete, so an address can be added again later as a fresh row.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/audit"
	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

const (
	maxLabelLen     = 100
	maxNotesLen     = 1000
	maxPollingBatch = 1000
)

// Registry is the address registry.
type Registry struct {
	store   storage.Store
	audit   audit.Recorder
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a registry.
func New(store storage.Store, recorder audit.Recorder, timeout time.Duration, logger *slog.Logger) *Registry {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		audit:   recorder,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// WatchOptions are the optional attributes of a new watch address.
type WatchOptions struct {
	Label    string
	Tags     []string
	Notes    string
	Type     domain.AddressType
	Favorite bool
	// Notify defaults to true when nil.
	Notify *bool
}

// WatchPatch changes the metadata of a watch address. Nil fields are left
// untouched; Tags replaces the whole set.
type WatchPatch struct {
	Label    *string
	Tags     *[]string
	Notes    *string
	Type     *domain.AddressType
	Favorite *bool
	Notify   *bool
}

func validateText(op, label, notes string) error {
	if utf8.RuneCountInString(label) > maxLabelLen {
		return domain.Validation(op, "label", errors.New("label is too long"))
	}
	if utf8.RuneCountInString(notes) > maxNotesLen {
		return domain.Validation(op, "notes", errors.New("notes are too long"))
	}
	return nil
}

func (r *Registry) requireUser(ctx context.Context, repos storage.Repositories, userID uuid.UUID) error {
	u, err := repos.Users().Get(ctx, userID, storage.OnlyActive)
	if err != nil {
		return err
	}
	if !u.IsActive {
		return &domain.Error{Kind: domain.KindInactive, Field: "user", Err: errors.New("account is inactive")}
	}
	return nil
}

// AddWatch registers an address for userID to watch.
func (r *Registry) AddWatch(ctx context.Context, userID uuid.UUID, address string, networkID domain.NetworkID, opts WatchOptions) (*domain.WatchAddress, error) {
	const op = "registry.AddWatch"

	canonical, err := domain.NormalizeAddress(networkID, address)
	if err != nil {
		return nil, domain.WithOp(op, err)
	}
	if opts.Type == "" {
		opts.Type = domain.AddressTypeEOA
	}
	if !opts.Type.Valid() {
		return nil, domain.Validationf(op, "address_type", domain.ErrValidation, "unknown address type %q", opts.Type)
	}
	if err := validateText(op, opts.Label, opts.Notes); err != nil {
		return nil, err
	}
	notify := true
	if opts.Notify != nil {
		notify = *opts.Notify
	}

	ctx, cancel := storage.Bound(ctx, r.timeout)
	defer cancel()

	now := r.now()
	w := &domain.WatchAddress{
		ID:                  uuid.New(),
		UserID:              userID,
		Address:             canonical,
		NetworkID:           networkID,
		AddressType:         opts.Type,
		Label:               opts.Label,
		Tags:                domain.NewTags(opts.Tags...),
		Notes:               opts.Notes,
		IsFavorite:          opts.Favorite,
		NotificationEnabled: notify,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err = r.store.Atomic(ctx, func(uow storage.UnitOfWork) error {
		if err := r.requireUser(ctx, uow, userID); err != nil {
			return err
		}
		return uow.Watches().Create(ctx, w)
	})
	if err != nil {
		return nil, domain.WithOp(op, err)
	}

	r.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       domain.ActionWatchAdded,
		ResourceType: domain.ResourceWatch,
		ResourceID:   w.ID.String(),
		Details:      domain.Values{"address": w.Address, "network_id": string(w.NetworkID)},
	})
	return w, nil
}

// GetWatch loads a watch address.
func (r *Registry) GetWatch(ctx context.Context, id uuid.UUID, scope storage.Scope) (*domain.WatchAddress, error) {
	ctx, cancel := storage.Bound(ctx, r.timeout)
	defer cancel()

	w, err := r.store.Watches().Get(ctx, id, scope)
	if err != nil {
		return nil, domain.WithOp("registry.GetWatch", err)
	}
	return w, nil
}

// UpdateWatch applies patch to a live watch address.
func (r *Registry) UpdateWatch(ctx context.Context, id uuid.UUID, patch WatchPatch) (*domain.WatchAddress, error) {
	const op = "registry.UpdateWatch"

	ctx, cancel := storage.Bound(ctx, r.timeout)
	defer cancel()

	var out *domain.WatchAddress
	err := r.store.Atomic(ctx, func(uow storage.UnitOfWork) error {
		w, err := uow.Watches().Get(ctx, id, storage.OnlyActive)
		if err != nil {
			return err
		}
		if patch.Label != nil {
			w.Label = *patch.Label
		}
		if patch.Notes != nil {
			w.Notes = *patch.Notes
		}
		if patch.Tags != nil {
			w.Tags = domain.NewTags(*patch.Tags...)
		}
		if patch.Type != nil {
			if !patch.Type.Valid() {
				return domain.Validationf(op, "address_type", domain.ErrValidation, "unknown address type %q", *patch.Type)
			}
			w.AddressType = *patch.Type
		}
		if patch.Favorite != nil {
			w.IsFavorite = *patch.Favorite
		}
		if patch.Notify != nil {
			w.NotificationEnabled = *patch.Notify
		}
		if err := validateText(op, w.Label, w.Notes); err != nil {
			return err
		}
		w.UpdatedAt = r.now()
		if err := uow.Watches().Update(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, domain.WithOp(op, err)
	}

	r.audit.Record(ctx, audit.Entry{
		UserID:       &out.UserID,
		Action:       domain.ActionWatchUpdated,
		ResourceType: domain.ResourceWatch,
		ResourceID:   out.ID.String(),
	})
	return out, nil
}

// RemoveWatch soft-deletes a watch address. Its balance history is kept.
func (r *Registry) RemoveWatch(ctx context.Context, id uuid.UUID) error {
	const op = "registry.RemoveWatch"

	ctx, cancel := storage.Bound(ctx, r.timeout)
	defer cancel()

	var userID uuid.UUID
	err := r.store.Atomic(ctx, func(uow storage.UnitOfWork) error {
		w, err := uow.Watches().Get(ctx, id, storage.OnlyActive)
		if err != nil {
			return err
		}
		userID = w.UserID
		return uow.Watches().SoftDelete(ctx, id, r.now())
	})
	if err != nil {
		return domain.WithOp(op, err)
	}

	r.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       domain.ActionWatchRemoved,
		ResourceType: domain.ResourceWatch,
		ResourceID:   id.String(),
	})
	return nil
}

// ListWatches lists the live watch addresses of a user, optionally on one
// network. With favoritesFirst, favorites sort before the rest; within each
// group rows are newest first.
func (r *Registry) ListWatches(ctx context.Context, userID uuid.UUID, networkID *domain.NetworkID, favoritesFirst bool) ([]*domain.WatchAddress, error) {
	ctx, cancel := storage.Bound(ctx, r.timeout)
	defer cancel()

	out, err := r.store.Watches().ListByUser(ctx, userID, storage.WatchFilter{
		NetworkID:      networkID,
		FavoritesFirst: favoritesFirst,
	})
	if err != nil {
		return nil, domain.WithOp("registry.ListWatches", err)
	}
	return out, nil
}

// ListWatchesForPolling pages through the live watch addresses of every user
// in id order, starting after afterID (uuid.Nil for the first page).
func (r *Registry) ListWatchesForPolling(ctx context.Context, networkID *domain.NetworkID, limit int, afterID uuid.UUID) ([]*domain.WatchAddress, error) {
	if limit <= 0 || limit > maxPollingBatch {
		limit = maxPollingBatch
	}
	ctx, cancel := storage.Bound(ctx, r.timeout)
	defer cancel()

	out, err := r.store.Watches().ListForPolling(ctx, networkID, afterID, limit)
	if err != nil {
		return nil, domain.WithOp("registry.ListWatchesForPolling", err)
	}
	return out, nil
}
