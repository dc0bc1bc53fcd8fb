package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/roomhub/apiserver/internal/events"
	"github.com/roomhub/apiserver/internal/store"
	"github.com/roomhub/apiserver/types"
)

const (
	DetailEmailExists      = "USER.EMAIL_EXISTS"
	DetailUserIsRoomAdmin  = "USER.IS_ROOM_ADMIN"
	dummyPasswordPlaintext = "roomhub-timing-equaliser"
)

// AccountStore defines persistence operations for accounts.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (types.User, error)
	FindByEmail(ctx context.Context, email string) (types.User, error)
	Insert(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id string) error
	LockByID(ctx context.Context, id string) (types.User, error)
	CountAdminEnrollments(ctx context.Context, userID string) (int, error)
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PasswordHasher hashes and verifies credentials.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hashed string) bool
}

// AccountService encapsulates account use-cases.
type AccountService struct {
	base
	store  AccountStore
	hasher PasswordHasher

	dummyOnce sync.Once
	dummyHash string
}

func NewAccountService(store AccountStore, hasher PasswordHasher, opts Options) *AccountService {
	return &AccountService{
		base:   newBase(opts, "account"),
		store:  store,
		hasher: hasher,
	}
}

// NormalizeEmail is applied to every address before lookup or storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account. The hash and insert commit together.
func (s *AccountService) Register(ctx context.Context, in types.RegisterInput) types.Result[types.AccountDTO] {
	return observe(s.base, "account.register", s.register(ctx, in))
}

func (s *AccountService) register(ctx context.Context, in types.RegisterInput) types.Result[types.AccountDTO] {
	email := NormalizeEmail(in.Email)

	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return types.Invalid[types.AccountDTO](emailExists())
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Fault[types.AccountDTO](fmt.Errorf("check email: %w", err))
	}

	var created types.User
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		hashed, err := s.hasher.Hash(in.Password)
		if err != nil {
			return err
		}
		now := s.clock()
		created, err = s.store.Insert(ctx, types.User{
			Email:        email,
			PasswordHash: hashed,
			FirstName:    in.FirstName,
			LastName:     in.LastName,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		return err
	})
	if err != nil {
		if isConflictOn(err, "email") {
			return types.Invalid[types.AccountDTO](emailExists())
		}
		return types.Fault[types.AccountDTO](fmt.Errorf("insert account: %w", err))
	}

	user, err := s.store.FindByID(ctx, created.ID)
	if err != nil {
		return types.Fault[types.AccountDTO](fmt.Errorf("reload account %s: %w", created.ID, err))
	}

	s.log.WithField("user_id", user.ID).Info("account registered")
	s.publish(ctx, events.AccountRegistered, user.ID)
	return types.OK(user.Account())
}

func (s *AccountService) FindByID(ctx context.Context, id string) types.Result[types.AccountDTO] {
	return observe(s.base, "account.find", s.findByID(ctx, id))
}

func (s *AccountService) findByID(ctx context.Context, id string) types.Result[types.AccountDTO] {
	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.NotFound[types.AccountDTO]()
		}
		return types.Fault[types.AccountDTO](fmt.Errorf("find account %s: %w", id, err))
	}
	return types.OK(user.Account())
}

// Authenticate returns the account matching the credentials. An unknown
// email and a wrong password are both reported as not found.
func (s *AccountService) Authenticate(ctx context.Context, in types.LoginInput) types.Result[types.AccountDTO] {
	return observe(s.base, "account.authenticate", s.authenticate(ctx, in))
}

func (s *AccountService) authenticate(ctx context.Context, in types.LoginInput) types.Result[types.AccountDTO] {
	user, err := s.store.FindByEmail(ctx, NormalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Spend the same hashing time as a real comparison.
			s.hasher.Verify(in.Password, s.timingHash())
			return types.NotFound[types.AccountDTO]()
		}
		return types.Fault[types.AccountDTO](fmt.Errorf("find account by email: %w", err))
	}
	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return types.NotFound[types.AccountDTO]()
	}
	return types.OK(user.Account())
}

func (s *AccountService) timingHash() string {
	s.dummyOnce.Do(func() {
		hashed, err := s.hasher.Hash(dummyPasswordPlaintext)
		if err != nil {
			s.log.WithError(err).Warn("failed to prepare timing hash")
			return
		}
		s.dummyHash = hashed
	})
	return s.dummyHash
}

// Update persists the provided fields. A new password is hashed before it is
// stored.
func (s *AccountService) Update(ctx context.Context, id string, in types.UpdateAccountInput) types.Result[bool] {
	return observe(s.base, "account.update", s.update(ctx, id, in))
}

func (s *AccountService) update(ctx context.Context, id string, in types.UpdateAccountInput) types.Result[bool] {
	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.NotFound[bool]()
		}
		return types.Fault[bool](fmt.Errorf("find account %s: %w", id, err))
	}

	if in.Email != nil {
		email := NormalizeEmail(*in.Email)
		if email != user.Email {
			existing, err := s.store.FindByEmail(ctx, email)
			switch {
			case err == nil && existing.ID != user.ID:
				return types.Invalid[bool](emailExists())
			case err != nil && !errors.Is(err, store.ErrNotFound):
				return types.Fault[bool](fmt.Errorf("check email: %w", err))
			}
		}
		user.Email = email
	}
	if in.FirstName != nil {
		user.FirstName = in.FirstName
	}
	if in.LastName != nil {
		user.LastName = in.LastName
	}
	if in.Password != nil {
		hashed, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return types.Fault[bool](err)
		}
		user.PasswordHash = hashed
	}
	user.UpdatedAt = s.clock()

	if _, err := s.store.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return types.NotFound[bool]()
		case isConflictOn(err, "email"):
			return types.Invalid[bool](emailExists())
		}
		return types.Fault[bool](fmt.Errorf("update account %s: %w", id, err))
	}

	s.publish(ctx, events.AccountUpdated, user.ID)
	return types.OK(true)
}

// Delete removes the account. Room admins must delete their rooms first.
func (s *AccountService) Delete(ctx context.Context, id string) types.Result[bool] {
	return observe(s.base, "account.delete", s.delete(ctx, id))
}

func (s *AccountService) delete(ctx context.Context, id string) types.Result[bool] {
	var admin bool
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		// The row lock makes rooms created concurrently by this account
		// either visible to the count or fail on their owner reference.
		if _, err := s.store.LockByID(ctx, id); err != nil {
			return err
		}
		count, err := s.store.CountAdminEnrollments(ctx, id)
		if err != nil {
			return fmt.Errorf("count admin enrollments: %w", err)
		}
		if count > 0 {
			admin = true
			return nil
		}
		return s.store.Delete(ctx, id)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return types.NotFound[bool]()
	case err != nil:
		return types.Fault[bool](fmt.Errorf("delete account %s: %w", id, err))
	case admin:
		return types.Invalid[bool](types.NewValidationError(types.CodeCantBeDeleted, "id", DetailUserIsRoomAdmin))
	}

	s.log.WithFields(logrus.Fields{"user_id": id}).Info("account deleted")
	s.publish(ctx, events.AccountDeleted, id)
	return types.OK(true)
}

func emailExists() types.ValidationError {
	return types.NewValidationError(types.CodeValueExists, "email", DetailEmailExists)
}

func isConflictOn(err error, field string) bool {
	var conflict *store.ConflictError
	return errors.As(err, &conflict) && conflict.Field == field
}
