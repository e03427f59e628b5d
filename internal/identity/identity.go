package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/watchledger/internal/audit"
	"github.com/vietddude/watchledger/internal/core/domain"
	"github.com/vietddude/watchledger/internal/infra/storage"
)

var errMalformedEmail = errors.New("malformed email")

// dummyHash is compared against when no user matches, so a miss costs the
// same as a wrong hash.
const dummyHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Store owns user records and credential checks.
type Store struct {
	store   storage.Store
	audit   audit.Recorder
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates an identity store.
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

// CreateUser registers a user. Username is trimmed and email is trimmed and
// lower-cased; collisions fail with a conflict naming the field.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash, salt string) (*domain.User, error) {
	const op = "identity.CreateUser"

	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	switch {
	case username == "":
		return nil, domain.Validation(op, "username", errors.New("username is required"))
	case email == "":
		return nil, domain.Validation(op, "email", errors.New("email is required"))
	case !strings.Contains(email, "@"):
		return nil, domain.Validation(op, "email", errMalformedEmail)
	case passwordHash == "":
		return nil, domain.Validation(op, "password_hash", errors.New("password hash is required"))
	}

	now := s.now()
	u := &domain.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Salt:         salt,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctx, cancel := storage.Bound(ctx, s.timeout)
	defer cancel()
	if err := s.store.Users().Create(ctx, u); err != nil {
		return nil, domain.WithOp(op, err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:       &u.ID,
		Action:       domain.ActionUserCreated,
		ResourceType: domain.ResourceUser,
		ResourceID:   u.ID.String(),
	})
	s.logger.Info("user created", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// Authenticate resolves identifier (username or email) and checks the hash.
// A wrong hash and an unknown identifier fail identically with NotFound. An
// inactive account fails with Inactive only after the hash matched.
func (s *Store) Authenticate(ctx context.Context, identifier, passwordHash string) (*domain.User, error) {
	const op = "identity.Authenticate"

	ctx, cancel := storage.Bound(ctx, s.timeout)
	defer cancel()

	identifier = strings.TrimSpace(identifier)
	u, err := s.store.Users().FindByIdentifier(ctx, identifier)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.WithOp(op, err)
	}

	stored := dummyHash
	if u != nil {
		stored = u.PasswordHash
	}
	match := subtle.ConstantTimeCompare([]byte(stored), []byte(passwordHash)) == 1

	if u == nil || !match {
		entry := audit.Entry{
			Action:       domain.ActionUserLoginFailed,
			ResourceType: domain.ResourceUser,
			Status:       domain.ActivityFailed,
		}
		if u != nil {
			entry.UserID = &u.ID
			entry.ResourceID = u.ID.String()
		}
		s.audit.Record(ctx, entry)
		return nil, domain.NotFound(op, "user")
	}

	if !u.IsActive {
		s.audit.Record(ctx, audit.Entry{
			UserID:       &u.ID,
			Action:       domain.ActionUserLoginFailed,
			ResourceType: domain.ResourceUser,
			ResourceID:   u.ID.String(),
			Details:      domain.Values{"reason": "inactive"},
			Status:       domain.ActivityFailed,
		})
		return nil, &domain.Error{Kind: domain.KindInactive, Op: op, Field: "user", Err: errors.New("account is inactive")}
	}

	now := s.now()
	if err := s.store.Users().UpdateLastLogin(ctx, u.ID, now); err != nil {
		return nil, domain.WithOp(op, err)
	}
	u.LastLoginAt = &now
	u.UpdatedAt = now

	s.audit.Record(ctx, audit.Entry{
		UserID:       &u.ID,
		Action:       domain.ActionUserLogin,
		ResourceType: domain.ResourceUser,
		ResourceID:   u.ID.String(),
	})
	return u, nil
}

// Get loads a user. Tombstoned users are returned only with IncludeTombstoned.
func (s *Store) Get(ctx context.Context, id uuid.UUID, scope storage.Scope) (*domain.User, error) {
	ctx, cancel := storage.Bound(ctx, s.timeout)
	defer cancel()

	u, err := s.store.Users().Get(ctx, id, scope)
	if err != nil {
		return nil, domain.WithOp("identity.Get", err)
	}
	return u, nil
}

// SetActive locks or unlocks an account. Deactivation revokes every session
// of the user in the same transaction.
func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	const op = "identity.SetActive"

	ctx, cancel := storage.Bound(ctx, s.timeout)
	defer cancel()

	now := s.now()
	err := s.store.Atomic(ctx, func(uow storage.UnitOfWork) error {
		if err := uow.Users().SetActive(ctx, id, active, now); err != nil {
			return err
		}
		if !active {
			_, err := uow.Sessions().RevokeAllForUser(ctx, id, now)
			return err
		}
		return nil
	})
	if err != nil {
		return domain.WithOp(op, err)
	}

	action := domain.ActionUserActivated
	if !active {
		action = domain.ActionUserDeactivated
	}
	s.audit.Record(ctx, audit.Entry{
		UserID:       &id,
		Action:       action,
		ResourceType: domain.ResourceUser,
		ResourceID:   id.String(),
	})
	return nil
}

// SoftDelete tombstones a user and revokes their sessions. History and
// activity rows are kept. An unknown or already deleted user fails NotFound.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	const op = "identity.SoftDelete"

	ctx, cancel := storage.Bound(ctx, s.timeout)
	defer cancel()

	now := s.now()
	var revoked int64
	err := s.store.Atomic(ctx, func(uow storage.UnitOfWork) error {
		if err := uow.Users().SoftDelete(ctx, id, now); err != nil {
			return err
		}
		n, err := uow.Sessions().RevokeAllForUser(ctx, id, now)
		revoked = n
		return err
	})
	if err != nil {
		return domain.WithOp(op, err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:       &id,
		Action:       domain.ActionUserDeleted,
		ResourceType: domain.ResourceUser,
		ResourceID:   id.String(),
		Details:      domain.Values{"sessions_revoked": revoked},
	})
	s.logger.Info("user deleted", "user_id", id, "sessions_revoked", revoked)
	return nil
}
