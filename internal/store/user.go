package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/roomhub/apiserver/internal/db"
	"github.com/roomhub/apiserver/types"
)

// UserRepository handles persistence for users.
type UserRepository struct {
	base
}

func NewUserRepository(conn *sql.DB, dialect db.Dialect) *UserRepository {
	return &UserRepository{base: base{db: conn, dialect: dialect}}
}

const userColumns = `id, email, password_hash, first_name, last_name, created_at, updated_at`

func (r *UserRepository) FindByID(ctx context.Context, id string) (types.User, error) {
	if !validID(id) {
		return types.User{}, ErrNotFound
	}
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.queryRow(ctx, query, id))
}

// FindByEmail expects an already normalized address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.queryRow(ctx, query, email))
}

// Insert stores a new user. An empty ID is replaced by a fresh UUID and zero
// timestamps by the current time.
func (r *UserRepository) Insert(ctx context.Context, user types.User) (types.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	const query = `
		INSERT INTO users (id, email, password_hash, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.exec(
		ctx,
		query,
		user.ID,
		user.Email,
		user.PasswordHash,
		nullable(user.FirstName),
		nullable(user.LastName),
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		return types.User{}, translate(err)
	}
	return user, nil
}

// Update overwrites every mutable column of the user.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	if !validID(user.ID) {
		return types.User{}, ErrNotFound
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}

	const query = `
		UPDATE users
		SET email = $1,
			password_hash = $2,
			first_name = $3,
			last_name = $4,
			updated_at = $5
		WHERE id = $6`
	result, err := r.exec(
		ctx,
		query,
		user.Email,
		user.PasswordHash,
		nullable(user.FirstName),
		nullable(user.LastName),
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return types.User{}, translate(err)
	}
	if err := affectedOrNotFound(result); err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	const query = `DELETE FROM users WHERE id = $1`
	result, err := r.exec(ctx, query, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(result)
}

// LockByID reads the account inside the caller's transaction. On postgres the
// row stays locked until that transaction ends, which holds back enrollments
// that reference it.
func (r *UserRepository) LockByID(ctx context.Context, id string) (types.User, error) {
	if !validID(id) {
		return types.User{}, ErrNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if r.dialect == db.Postgres {
		query += ` FOR UPDATE`
	}
	return scanUser(r.queryRow(ctx, query, id))
}

// CountAdminEnrollments returns how many rooms the user administers.
func (r *UserRepository) CountAdminEnrollments(ctx context.Context, userID string) (int, error) {
	if !validID(userID) {
		return 0, nil
	}
	const query = `SELECT COUNT(*) FROM enrollments WHERE user_id = $1 AND role = $2`
	var count int
	if err := r.queryRow(ctx, query, userID, string(types.RoleAdmin)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanUser(row *sql.Row) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}
