package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomhub/apiserver/internal/db"
	"github.com/roomhub/apiserver/types"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	require.NoError(t, db.ApplySQLite(ctx, conn))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func strPtr(s string) *string { return &s }

func insertUser(t *testing.T, repo *UserRepository, email string) types.User {
	t.Helper()
	user, err := repo.Insert(context.Background(), types.User{Email: email, PasswordHash: "hash"})
	require.NoError(t, err)
	return user
}

func TestUserRepositoryInsertAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), db.SQLite)

	created, err := repo.Insert(ctx, types.User{
		Email:        "a@x.com",
		PasswordHash: "hash",
		FirstName:    strPtr("Ada"),
	})
	require.NoError(t, err)
	require.NoError(t, uuid.Validate(created.ID))

	byID, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", byID.Email)
	assert.Equal(t, "hash", byID.PasswordHash)
	require.NotNil(t, byID.FirstName)
	assert.Equal(t, "Ada", *byID.FirstName)
	assert.Nil(t, byID.LastName)
	assert.WithinDuration(t, created.CreatedAt, byID.CreatedAt, time.Millisecond)

	byEmail, err := repo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
}

func TestUserRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), db.SQLite)

	_, err := repo.FindByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindByEmail(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Update(ctx, types.User{ID: uuid.NewString(), Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, uuid.NewString()), ErrNotFound)
}

func TestUserRepositoryDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), db.SQLite)
	insertUser(t, repo, "a@x.com")
	other := insertUser(t, repo, "b@x.com")

	_, err := repo.Insert(ctx, types.User{Email: "a@x.com", PasswordHash: "hash"})
	require.ErrorIs(t, err, ErrConflict)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "email", conflict.Field)

	other.Email = "a@x.com"
	_, err = repo.Update(ctx, other)
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "email", conflict.Field)
}

func TestUserRepositoryUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), db.SQLite)
	user := insertUser(t, repo, "a@x.com")

	user.LastName = strPtr("Lovelace")
	user.PasswordHash = "rehashed"
	user.UpdatedAt = time.Time{}
	_, err := repo.Update(ctx, user)
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastName)
	assert.Equal(t, "Lovelace", *got.LastName)
	assert.Equal(t, "rehashed", got.PasswordHash)
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t), db.SQLite)
	boom := errors.New("boom")

	err := repo.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := repo.Insert(ctx, types.User{Email: "a@x.com", PasswordHash: "hash"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.FindByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithinTxCommitsAcrossRepositories(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)
	users := NewUserRepository(conn, db.SQLite)
	rooms := NewRoomRepository(conn, db.SQLite)
	owner := insertUser(t, users, "owner@x.com")

	var room types.Room
	err := rooms.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		room, err = rooms.Insert(ctx, types.Room{Title: "Go", Code: "abc", Capacity: 10})
		if err != nil {
			return err
		}
		_, err = rooms.InsertEnrollment(ctx, types.Enrollment{UserID: owner.ID, RoomID: room.ID, Role: types.RoleAdmin})
		return err
	})
	require.NoError(t, err)

	members, err := rooms.ListMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, owner.ID, members[0].User.ID)
	assert.Equal(t, types.RoleAdmin, members[0].Role)

	count, err := users.CountAdminEnrollments(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRoomRepositoryConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewRoomRepository(newTestDB(t), db.SQLite)

	_, err := repo.Insert(ctx, types.Room{Title: "Go", Code: "abc", Capacity: 10})
	require.NoError(t, err)

	var conflict *ConflictError
	_, err = repo.Insert(ctx, types.Room{Title: "Go", Code: "xyz", Capacity: 10})
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "title", conflict.Field)

	_, err = repo.Insert(ctx, types.Room{Title: "Rust", Code: "abc", Capacity: 10})
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "code", conflict.Field)
}

func TestRoomRepositoryFindAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewRoomRepository(newTestDB(t), db.SQLite)

	room, err := repo.Insert(ctx, types.Room{Title: "Go", Code: "abc", Capacity: 10, Description: strPtr("gophers")})
	require.NoError(t, err)

	byCode, err := repo.FindByCode(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, room.ID, byCode.ID)

	byTitle, err := repo.FindByTitle(ctx, "Go")
	require.NoError(t, err)
	require.NotNil(t, byTitle.Description)
	assert.Equal(t, "gophers", *byTitle.Description)

	room.Title = "Golang"
	room.Capacity = 3
	room.Description = nil
	_, err = repo.Update(ctx, room)
	require.NoError(t, err)

	got, err := repo.FindByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Golang", got.Title)
	assert.Equal(t, 3, got.Capacity)
	assert.Nil(t, got.Description)
	assert.Equal(t, "abc", got.Code)
}

func TestRoomRepositoryLockByID(t *testing.T) {
	ctx := context.Background()
	repo := NewRoomRepository(newTestDB(t), db.SQLite)

	room, err := repo.Insert(ctx, types.Room{Title: "Go", Code: "abc", Capacity: 4})
	require.NoError(t, err)

	err = repo.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := repo.LockByID(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, locked.Capacity)

		_, err = repo.LockByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.LockByID(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestRoomRepositoryEnrollments(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)
	users := NewUserRepository(conn, db.SQLite)
	rooms := NewRoomRepository(conn, db.SQLite)

	owner := insertUser(t, users, "owner@x.com")
	member := insertUser(t, users, "member@x.com")
	room, err := rooms.Insert(ctx, types.Room{Title: "Go", Code: "abc", Capacity: 10})
	require.NoError(t, err)

	at := time.Now().UTC()
	_, err = rooms.InsertEnrollment(ctx, types.Enrollment{UserID: member.ID, RoomID: room.ID, Role: types.RoleMember, CreatedAt: at})
	require.NoError(t, err)
	_, err = rooms.InsertEnrollment(ctx, types.Enrollment{UserID: owner.ID, RoomID: room.ID, Role: types.RoleAdmin, CreatedAt: at})
	require.NoError(t, err)

	enrollments, err := rooms.ListEnrollments(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, enrollments, 2)
	assert.Equal(t, owner.ID, enrollments[0].UserID)
	assert.Equal(t, types.RoleAdmin, enrollments[0].Role)

	count, err := rooms.CountMembers(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	isMember, err := rooms.IsMember(ctx, room.ID, member.ID)
	require.NoError(t, err)
	assert.True(t, isMember)

	isAdmin, err := rooms.HasRole(ctx, room.ID, member.ID, types.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	var conflict *ConflictError
	_, err = rooms.InsertEnrollment(ctx, types.Enrollment{UserID: member.ID, RoomID: room.ID, Role: types.RoleMember})
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "userId", conflict.Field)

	err = rooms.DeleteEnrollment(ctx, types.Enrollment{UserID: member.ID, RoomID: room.ID, Role: types.RoleAdmin})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, rooms.DeleteEnrollment(ctx, types.Enrollment{UserID: member.ID, RoomID: room.ID, Role: types.RoleMember}))

	require.NoError(t, rooms.Delete(ctx, room.ID))
	enrollments, err = rooms.ListEnrollments(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, enrollments)
}

func TestEnrollmentForMissingUserIsMissingReference(t *testing.T) {
	ctx := context.Background()
	rooms := NewRoomRepository(newTestDB(t), db.SQLite)

	room, err := rooms.Insert(ctx, types.Room{Title: "Go", Code: "abc", Capacity: 10})
	require.NoError(t, err)

	_, err = rooms.InsertEnrollment(ctx, types.Enrollment{UserID: uuid.NewString(), RoomID: room.ID, Role: types.RoleAdmin})
	assert.ErrorIs(t, err, ErrMissingReference)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestUserRepositoryLockByID(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepository(newTestDB(t), db.SQLite)
	ada := insertUser(t, users, "ada@x.com")

	err := users.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := users.LockByID(ctx, ada.ID)
		require.NoError(t, err)
		assert.Equal(t, "ada@x.com", locked.Email)

		_, err = users.LockByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestDeletingUserCascadesEnrollments(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)
	users := NewUserRepository(conn, db.SQLite)
	rooms := NewRoomRepository(conn, db.SQLite)

	member := insertUser(t, users, "member@x.com")
	room, err := rooms.Insert(ctx, types.Room{Title: "Go", Code: "abc", Capacity: 10})
	require.NoError(t, err)
	_, err = rooms.InsertEnrollment(ctx, types.Enrollment{UserID: member.ID, RoomID: room.ID, Role: types.RoleMember})
	require.NoError(t, err)

	require.NoError(t, users.Delete(ctx, member.ID))

	members, err := rooms.ListMembers(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestSQLiteField(t *testing.T) {
	assert.Equal(t, "email", sqliteField("constraint failed: UNIQUE constraint failed: users.email (2067)"))
	assert.Equal(t, "userId", sqliteField("UNIQUE constraint failed: enrollments.user_id, enrollments.room_id, enrollments.role"))
	assert.Equal(t, "", sqliteField("no such table: users"))
}
