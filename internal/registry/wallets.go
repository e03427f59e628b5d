package registry

import (
	"context"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/audit"
	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

// WalletOptions are the optional attributes of a new wallet.
type WalletOptions struct {
	Type           domain.WalletType
	DerivationPath *string
	Label          string
	// Primary makes the new wallet the primary one. The first wallet of a
	// user is always primary.
	Primary bool
}

// AddWallet registers a wallet owned by userID.
func (r *Registry) AddWallet(ctx context.Context, userID uuid.UUID, address string, networkID domain.NetworkID, opts WalletOptions) (*domain.UserWallet, error) {
	const op = "registry.AddWallet"

	canonical, err := domain.NormalizeAddress(networkID, address)
	if err != nil {
		return nil, domain.WithOp(op, err)
	}
	if opts.Type == "" {
		opts.Type = domain.WalletTypeImported
	}
	if !opts.Type.Valid() {
		return nil, domain.Validationf(op, "wallet_type", domain.ErrValidation, "unknown wallet type %q", opts.Type)
	}
	if err := validateText(op, opts.Label, ""); err != nil {
		return nil, err
	}

	ctx, cancel := storage.Bound(ctx, r.timeout)
	defer cancel()

	now := r.now()
	w := &domain.UserWallet{
		ID:             uuid.New(),
		UserID:         userID,
		Address:        canonical,
		NetworkID:      networkID,
		WalletType:     opts.Type,
		DerivationPath: opts.DerivationPath,
		Label:          opts.Label,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = r.store.Atomic(ctx, func(uow storage.UnitOfWork) error {
		if err := r.requireUser(ctx, uow, userID); err != nil {
			return err
		}
		if err := uow.Wallets().LockUser(ctx, userID); err != nil {
			return err
		}
		n, err := uow.Wallets().CountActive(ctx, userID)
		if err != nil {
			return err
		}
		w.IsPrimary = opts.Primary || n == 0
		if w.IsPrimary {
			if err := uow.Wallets().ClearPrimary(ctx, userID, w.ID, now); err != nil {
				return err
			}
		}
		return uow.Wallets().Create(ctx, w)
	})
	if err != nil {
		return nil, domain.WithOp(op, err)
	}

	r.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       domain.ActionWalletAdded,
		ResourceType: domain.ResourceWallet,
		ResourceID:   w.ID.String(),
		Details: domain.Values{
			"address":    w.Address,
			"network_id": string(w.NetworkID),
			"primary":    w.IsPrimary,
		},
	})
	return w, nil
}

// RemoveWallet soft-deletes a wallet. Removing the primary wallet leaves the
// user without one until SetPrimary is called.
func (r *Registry) RemoveWallet(ctx context.Context, id uuid.UUID) error {
	const op = "registry.RemoveWallet"

	ctx, cancel := storage.Bound(ctx, r.timeout)
	defer cancel()

	var userID uuid.UUID
	err := r.store.Atomic(ctx, func(uow storage.UnitOfWork) error {
		w, err := uow.Wallets().Get(ctx, id, storage.OnlyActive)
		if err != nil {
			return err
		}
		userID = w.UserID
		return uow.Wallets().SoftDelete(ctx, id, r.now())
	})
	if err != nil {
		return domain.WithOp(op, err)
	}

	r.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       domain.ActionWalletRemoved,
		ResourceType: domain.ResourceWallet,
		ResourceID:   id.String(),
	})
	return nil
}

// ListWallets lists the live wallets of a user, primary first.
func (r *Registry) ListWallets(ctx context.Context, userID uuid.UUID) ([]*domain.UserWallet, error) {
	ctx, cancel := storage.Bound(ctx, r.timeout)
	defer cancel()

	out, err := r.store.Wallets().ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.WithOp("registry.ListWallets", err)
	}
	return out, nil
}

// SetPrimary makes walletID the primary wallet of its owner. The previous
// primary is cleared in the same transaction, so afterwards exactly one live
// wallet of the user is primary.
func (r *Registry) SetPrimary(ctx context.Context, walletID uuid.UUID) error {
	const op = "registry.SetPrimary"

	ctx, cancel := storage.Bound(ctx, r.timeout)
	defer cancel()

	now := r.now()
	var owner uuid.UUID
	err := r.store.Atomic(ctx, func(uow storage.UnitOfWork) error {
		w, err := uow.Wallets().Get(ctx, walletID, storage.OnlyActive)
		if err != nil {
			return err
		}
		owner = w.UserID
		if err := uow.Wallets().LockUser(ctx, w.UserID); err != nil {
			return err
		}
		if err := uow.Wallets().ClearPrimary(ctx, w.UserID, w.ID, now); err != nil {
			return err
		}
		return uow.Wallets().SetPrimary(ctx, w.ID, now)
	})
	if err != nil {
		return domain.WithOp(op, err)
	}

	r.audit.Record(ctx, audit.Entry{
		UserID:       &owner,
		Action:       domain.ActionWalletPrimary,
		ResourceType: domain.ResourceWallet,
		ResourceID:   walletID.String(),
	})
	return nil
}

// TouchWallet stamps the wallet's last use.
func (r *Registry) TouchWallet(ctx context.Context, walletID uuid.UUID) error {
	ctx, cancel := storage.Bound(ctx, r.timeout)
	defer cancel()

	if err := r.store.Wallets().Touch(ctx, walletID, r.now()); err != nil {
		return domain.WithOp("registry.TouchWallet", err)
	}
	return nil
}
