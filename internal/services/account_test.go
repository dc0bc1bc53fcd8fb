package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomhub/apiserver/internal/events"
	"github.com/roomhub/apiserver/internal/store"
	"github.com/roomhub/apiserver/types"
)

// failingInsertStore lets the insert reach the database and then fails, as a
// crash between insert and commit would.
type failingInsertStore struct {
	*store.UserRepository
}

func (s failingInsertStore) Insert(ctx context.Context, user types.User) (types.User, error) {
	if _, err := s.UserRepository.Insert(ctx, user); err != nil {
		return types.User{}, err
	}
	return types.User{}, errors.New("injected failure")
}

// blindStore never sees existing emails, so only the unique constraint can
// catch a duplicate.
type blindStore struct {
	*store.UserRepository
	inserts int
}

func (s *blindStore) FindByEmail(context.Context, string) (types.User, error) {
	return types.User{}, store.ErrNotFound
}

func (s *blindStore) Insert(ctx context.Context, user types.User) (types.User, error) {
	s.inserts++
	return s.UserRepository.Insert(ctx, user)
}

func register(t *testing.T, svc *AccountService, email, password string) types.AccountDTO {
	t.Helper()
	result := svc.Register(context.Background(), types.RegisterInput{Email: email, Password: password})
	require.True(t, result.Succeeded(), "%+v", result)
	return result.Data
}

func TestRegisterReturnsSanitizedAccount(t *testing.T) {
	env := newTestEnv(t)
	svc := env.accounts()

	result := svc.Register(context.Background(), types.RegisterInput{Email: "a@x.com", Password: "password1"})
	require.NoError(t, result.Err)
	require.Empty(t, result.ValidationErrors)
	assert.False(t, result.IsNotFound)

	dto := result.Data
	assert.NotEmpty(t, dto.ID)
	assert.Equal(t, "a@x.com", dto.Email)
	assert.Nil(t, dto.FirstName)
	assert.Nil(t, dto.LastName)

	body, err := json.Marshal(dto)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+dto.ID+`","email":"a@x.com","firstName":null,"lastName":null}`, string(body))

	stored, err := env.users.FindByID(context.Background(), dto.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "password1", stored.PasswordHash)
	assert.True(t, env.hasher.Verify("password1", stored.PasswordHash))
	assert.True(t, stored.CreatedAt.Equal(fixedNow))

	assert.Equal(t, []events.Type{events.AccountRegistered}, env.publisher.types())
	assert.Equal(t, []string{types.OutcomeOK}, env.metrics.outcomes["account.register"])
}

func TestRegisterNormalizesEmail(t *testing.T) {
	env := newTestEnv(t)
	dto := register(t, env.accounts(), "  Ada@Example.COM ", "password1")
	assert.Equal(t, "ada@example.com", dto.Email)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	svc := env.accounts()
	register(t, svc, "a@x.com", "password1")

	result := svc.Register(context.Background(), types.RegisterInput{Email: "A@X.com", Password: "password2"})
	require.NoError(t, result.Err)
	require.Len(t, result.ValidationErrors, 1)
	assert.Equal(t, types.CodeValueExists, result.ValidationErrors[0].Code)
	assert.Equal(t, "email", result.ValidationErrors[0].Source)
	assert.Equal(t, DetailEmailExists, result.ValidationErrors[0].Detail)
	assert.Equal(t, 1, env.count(t, "users"))
}

func TestRegisterTranslatesRacingDuplicate(t *testing.T) {
	env := newTestEnv(t)
	register(t, env.accounts(), "a@x.com", "password1")

	blind := &blindStore{UserRepository: env.users}
	svc := NewAccountService(blind, env.hasher, env.opts)

	result := svc.Register(context.Background(), types.RegisterInput{Email: "a@x.com", Password: "password2"})
	require.NoError(t, result.Err)
	require.Len(t, result.ValidationErrors, 1)
	assert.Equal(t, types.CodeValueExists, result.ValidationErrors[0].Code)
	assert.Equal(t, "email", result.ValidationErrors[0].Source)
	assert.Equal(t, 1, blind.inserts)
	assert.Equal(t, 1, env.count(t, "users"))
}

func TestRegisterRollsBackOnFailureAfterInsert(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAccountService(failingInsertStore{env.users}, env.hasher, env.opts)

	result := svc.Register(context.Background(), types.RegisterInput{Email: "a@x.com", Password: "password1"})
	require.Error(t, result.Err)
	assert.Equal(t, types.OutcomeError, result.Outcome())

	_, err := env.users.FindByEmail(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, env.count(t, "users"))
	assert.Empty(t, env.publisher.types())

	entry := env.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "account.register", entry.Data["operation"])
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	svc := env.accounts()
	registered := register(t, svc, "a@x.com", "password1")
	ctx := context.Background()

	ok := svc.Authenticate(ctx, types.LoginInput{Email: "A@x.com", Password: "password1"})
	require.True(t, ok.Succeeded())
	assert.Equal(t, registered, ok.Data)

	wrongPassword := svc.Authenticate(ctx, types.LoginInput{Email: "a@x.com", Password: "password2"})
	unknownEmail := svc.Authenticate(ctx, types.LoginInput{Email: "b@x.com", Password: "password1"})
	assert.Equal(t, types.NotFound[types.AccountDTO](), wrongPassword)
	assert.Equal(t, wrongPassword, unknownEmail)
}

func TestFindAccountByID(t *testing.T) {
	env := newTestEnv(t)
	svc := env.accounts()
	registered := register(t, svc, "a@x.com", "password1")

	found := svc.FindByID(context.Background(), registered.ID)
	require.True(t, found.Succeeded())
	assert.Equal(t, registered, found.Data)

	assert.True(t, svc.FindByID(context.Background(), "00000000-0000-0000-0000-000000000000").IsNotFound)
	assert.True(t, svc.FindByID(context.Background(), "nope").IsNotFound)
}

func TestUpdateAccount(t *testing.T) {
	env := newTestEnv(t)
	svc := env.accounts()
	ctx := context.Background()
	ada := register(t, svc, "ada@x.com", "password1")
	register(t, svc, "bob@x.com", "password1")

	result := svc.Update(ctx, ada.ID, types.UpdateAccountInput{
		Email:     strPtr("ADA@x.com"),
		FirstName: strPtr("Ada"),
		Password:  strPtr("new-password"),
	})
	require.True(t, result.Succeeded(), "%+v", result)
	assert.True(t, result.Data)

	stored, err := env.users.FindByID(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@x.com", stored.Email)
	require.NotNil(t, stored.FirstName)
	assert.Equal(t, "Ada", *stored.FirstName)
	assert.Nil(t, stored.LastName)
	assert.NotEqual(t, "new-password", stored.PasswordHash)
	assert.True(t, env.hasher.Verify("new-password", stored.PasswordHash))

	login := svc.Authenticate(ctx, types.LoginInput{Email: "ada@x.com", Password: "new-password"})
	assert.True(t, login.Succeeded())
}

func TestUpdateAccountEmailTaken(t *testing.T) {
	env := newTestEnv(t)
	svc := env.accounts()
	ada := register(t, svc, "ada@x.com", "password1")
	register(t, svc, "bob@x.com", "password1")

	result := svc.Update(context.Background(), ada.ID, types.UpdateAccountInput{Email: strPtr("Bob@x.com")})
	require.Len(t, result.ValidationErrors, 1)
	assert.Equal(t, types.CodeValueExists, result.ValidationErrors[0].Code)
	assert.Equal(t, "email", result.ValidationErrors[0].Source)
}

func TestUpdateAccountNotFound(t *testing.T) {
	env := newTestEnv(t)
	result := env.accounts().Update(context.Background(), "00000000-0000-0000-0000-000000000000", types.UpdateAccountInput{})
	assert.True(t, result.IsNotFound)
}

func TestDeleteAccount(t *testing.T) {
	env := newTestEnv(t)
	svc := env.accounts()
	ctx := context.Background()
	ada := register(t, svc, "ada@x.com", "password1")

	result := svc.Delete(ctx, ada.ID)
	require.True(t, result.Succeeded())
	assert.True(t, svc.FindByID(ctx, ada.ID).IsNotFound)
	assert.True(t, svc.Delete(ctx, ada.ID).IsNotFound)
	assert.Contains(t, env.publisher.types(), events.AccountDeleted)
}

func TestDeleteAccountThatAdministersRoom(t *testing.T) {
	env := newTestEnv(t)
	svc := env.accounts()
	ctx := context.Background()
	ada := register(t, svc, "ada@x.com", "password1")

	created := env.roomService().Create(ctx, types.CreateRoomInput{Title: "Go", OwnerID: ada.ID})
	require.True(t, created.Succeeded())

	result := svc.Delete(ctx, ada.ID)
	require.Len(t, result.ValidationErrors, 1)
	assert.Equal(t, types.CodeCantBeDeleted, result.ValidationErrors[0].Code)
	assert.Equal(t, "id", result.ValidationErrors[0].Source)
	assert.True(t, svc.FindByID(ctx, ada.ID).Succeeded())
}

// failingDeleteStore deletes the row and then fails, so the delete only
// sticks if it is not rolled back.
type failingDeleteStore struct {
	*store.UserRepository
	calls []string
}

func (s *failingDeleteStore) LockByID(ctx context.Context, id string) (types.User, error) {
	s.calls = append(s.calls, "lock")
	return s.UserRepository.LockByID(ctx, id)
}

func (s *failingDeleteStore) CountAdminEnrollments(ctx context.Context, userID string) (int, error) {
	s.calls = append(s.calls, "count")
	return s.UserRepository.CountAdminEnrollments(ctx, userID)
}

func (s *failingDeleteStore) Delete(ctx context.Context, id string) error {
	s.calls = append(s.calls, "delete")
	if err := s.UserRepository.Delete(ctx, id); err != nil {
		return err
	}
	return errors.New("injected failure")
}

func TestDeleteAccountRunsInOneTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := register(t, env.accounts(), "ada@x.com", "password1")

	failing := &failingDeleteStore{UserRepository: env.users}
	result := NewAccountService(failing, env.hasher, env.opts).Delete(ctx, ada.ID)
	require.Error(t, result.Err)
	assert.Equal(t, []string{"lock", "count", "delete"}, failing.calls)

	assert.Equal(t, 1, env.count(t, "users"))
	assert.True(t, env.accounts().FindByID(ctx, ada.ID).Succeeded())
}

// enrollingStore creates a room owned by the account right after its row is
// locked, as a concurrent create that won the lock would have.
type enrollingStore struct {
	*store.UserRepository
	rooms *store.RoomRepository
}

func (s enrollingStore) LockByID(ctx context.Context, id string) (types.User, error) {
	user, err := s.UserRepository.LockByID(ctx, id)
	if err != nil {
		return user, err
	}
	room, err := s.rooms.Insert(ctx, types.Room{Title: "Raced", Code: "raced", Capacity: 1})
	if err != nil {
		return user, err
	}
	_, err = s.rooms.InsertEnrollment(ctx, types.Enrollment{UserID: id, RoomID: room.ID, Role: types.RoleAdmin})
	return user, err
}

func TestDeleteAccountSeesRoomCreatedBeforeCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := register(t, env.accounts(), "ada@x.com", "password1")

	svc := NewAccountService(enrollingStore{UserRepository: env.users, rooms: env.rooms}, env.hasher, env.opts)
	result := svc.Delete(ctx, ada.ID)
	require.Len(t, result.ValidationErrors, 1, "%+v", result)
	assert.Equal(t, types.CodeCantBeDeleted, result.ValidationErrors[0].Code)

	assert.Equal(t, 1, env.count(t, "users"))
	assert.Equal(t, 1, env.count(t, "enrollments"))
}

func TestPublishFailureDoesNotChangeResult(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("broker down")

	result := env.accounts().Register(context.Background(), types.RegisterInput{Email: "a@x.com", Password: "password1"})
	require.True(t, result.Succeeded())

	var warned bool
	for _, entry := range env.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "failed to publish event" {
			warned = true
		}
	}
	assert.True(t, warned)
}
