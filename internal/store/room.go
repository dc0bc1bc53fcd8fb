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

// RoomRepository handles persistence for rooms and their enrollments.
type RoomRepository struct {
	base
}

func NewRoomRepository(conn *sql.DB, dialect db.Dialect) *RoomRepository {
	return &RoomRepository{base: base{db: conn, dialect: dialect}}
}

const roomColumns = `id, title, code, capacity, description, created_at, updated_at`

func (r *RoomRepository) FindByID(ctx context.Context, id string) (types.Room, error) {
	if !validID(id) {
		return types.Room{}, ErrNotFound
	}
	const query = `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`
	return scanRoom(r.queryRow(ctx, query, id))
}

// LockByID reads the room inside the caller's transaction. On postgres the
// row stays locked until that transaction ends; sqlite already serialises
// writers on its single connection.
func (r *RoomRepository) LockByID(ctx context.Context, id string) (types.Room, error) {
	if !validID(id) {
		return types.Room{}, ErrNotFound
	}
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`
	if r.dialect == db.Postgres {
		query += ` FOR UPDATE`
	}
	return scanRoom(r.queryRow(ctx, query, id))
}

func (r *RoomRepository) FindByTitle(ctx context.Context, title string) (types.Room, error) {
	const query = `SELECT ` + roomColumns + ` FROM rooms WHERE title = $1`
	return scanRoom(r.queryRow(ctx, query, title))
}

func (r *RoomRepository) FindByCode(ctx context.Context, code string) (types.Room, error) {
	const query = `SELECT ` + roomColumns + ` FROM rooms WHERE code = $1`
	return scanRoom(r.queryRow(ctx, query, code))
}

func (r *RoomRepository) Insert(ctx context.Context, room types.Room) (types.Room, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	if room.UpdatedAt.IsZero() {
		room.UpdatedAt = room.CreatedAt
	}

	const query = `
		INSERT INTO rooms (id, title, code, capacity, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.exec(
		ctx,
		query,
		room.ID,
		room.Title,
		room.Code,
		room.Capacity,
		nullable(room.Description),
		room.CreatedAt,
		room.UpdatedAt,
	); err != nil {
		return types.Room{}, translate(err)
	}
	return room, nil
}

func (r *RoomRepository) Update(ctx context.Context, room types.Room) (types.Room, error) {
	if !validID(room.ID) {
		return types.Room{}, ErrNotFound
	}
	if room.UpdatedAt.IsZero() {
		room.UpdatedAt = time.Now().UTC()
	}

	const query = `
		UPDATE rooms
		SET title = $1,
			capacity = $2,
			description = $3,
			updated_at = $4
		WHERE id = $5`
	result, err := r.exec(
		ctx,
		query,
		room.Title,
		room.Capacity,
		nullable(room.Description),
		room.UpdatedAt,
		room.ID,
	)
	if err != nil {
		return types.Room{}, translate(err)
	}
	if err := affectedOrNotFound(result); err != nil {
		return types.Room{}, err
	}
	return room, nil
}

// Delete removes the room. Its remaining enrollments cascade.
func (r *RoomRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	const query = `DELETE FROM rooms WHERE id = $1`
	result, err := r.exec(ctx, query, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(result)
}

// ListEnrollments returns the room's enrollments oldest first. On equal
// timestamps ADMIN sorts before MEMBER.
func (r *RoomRepository) ListEnrollments(ctx context.Context, roomID string) ([]types.Enrollment, error) {
	if !validID(roomID) {
		return nil, nil
	}
	const query = `
		SELECT user_id, room_id, role, created_at
		FROM enrollments
		WHERE room_id = $1
		ORDER BY created_at, role, user_id`
	rows, err := r.query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []types.Enrollment
	for rows.Next() {
		var (
			e    types.Enrollment
			role string
		)
		if err := rows.Scan(&e.UserID, &e.RoomID, &role, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Role = types.Role(role)
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

// ListMembers returns the public profile and role of every member, in
// enrollment order.
func (r *RoomRepository) ListMembers(ctx context.Context, roomID string) ([]types.Member, error) {
	if !validID(roomID) {
		return nil, nil
	}
	const query = `
		SELECT u.id, u.email, u.first_name, u.last_name, e.role
		FROM enrollments e
		JOIN users u ON u.id = e.user_id
		WHERE e.room_id = $1
		ORDER BY e.created_at, e.role, e.user_id`
	rows, err := r.query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []types.Member{}
	for rows.Next() {
		var (
			m    types.Member
			role string
		)
		if err := rows.Scan(&m.User.ID, &m.User.Email, &m.User.FirstName, &m.User.LastName, &role); err != nil {
			return nil, err
		}
		m.Role = types.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *RoomRepository) CountMembers(ctx context.Context, roomID string) (int, error) {
	if !validID(roomID) {
		return 0, nil
	}
	const query = `SELECT COUNT(DISTINCT user_id) FROM enrollments WHERE room_id = $1`
	var count int
	if err := r.queryRow(ctx, query, roomID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// IsMember reports whether the user holds any enrollment in the room.
func (r *RoomRepository) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	if !validID(roomID) || !validID(userID) {
		return false, nil
	}
	const query = `SELECT COUNT(*) FROM enrollments WHERE room_id = $1 AND user_id = $2`
	var count int
	if err := r.queryRow(ctx, query, roomID, userID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasRole reports whether the user holds the given role in the room.
func (r *RoomRepository) HasRole(ctx context.Context, roomID, userID string, role types.Role) (bool, error) {
	if !validID(roomID) || !validID(userID) {
		return false, nil
	}
	const query = `SELECT COUNT(*) FROM enrollments WHERE room_id = $1 AND user_id = $2 AND role = $3`
	var count int
	if err := r.queryRow(ctx, query, roomID, userID, string(role)).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *RoomRepository) InsertEnrollment(ctx context.Context, e types.Enrollment) (types.Enrollment, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO enrollments (user_id, room_id, role, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := r.exec(ctx, query, e.UserID, e.RoomID, string(e.Role), e.CreatedAt); err != nil {
		return types.Enrollment{}, translate(err)
	}
	return e, nil
}

// DeleteEnrollment removes the enrollment identified by (UserID, RoomID, Role).
func (r *RoomRepository) DeleteEnrollment(ctx context.Context, e types.Enrollment) error {
	const query = `DELETE FROM enrollments WHERE user_id = $1 AND room_id = $2 AND role = $3`
	result, err := r.exec(ctx, query, e.UserID, e.RoomID, string(e.Role))
	if err != nil {
		return err
	}
	return affectedOrNotFound(result)
}

func scanRoom(row *sql.Row) (types.Room, error) {
	var room types.Room
	err := row.Scan(
		&room.ID,
		&room.Title,
		&room.Code,
		&room.Capacity,
		&room.Description,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Room{}, ErrNotFound
		}
		return types.Room{}, err
	}
	return room, nil
}
