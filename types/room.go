package types

import "time"

// DefaultRoomCapacity is used when a room is created without a capacity.
const DefaultRoomCapacity = 10

// Role is the membership role of an enrollment.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Room represents a named collaboration space.
type Room struct {
	// ID is the unique identifier of the room.
	ID string `json:"id" db:"id"`

	// Title is the globally unique display name.
	Title string `json:"title" db:"title"`

	// Code is the system-generated, globally unique join token.
	Code string `json:"code" db:"code"`

	// Capacity is the maximum number of members.
	Capacity int `json:"capacity" db:"capacity"`

	// Description is optional free text.
	Description *string `json:"description,omitempty" db:"description"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Enrollment links a user to a room with a role.
// (UserID, RoomID, Role) is its identity.
type Enrollment struct {
	UserID    string    `json:"userId" db:"user_id"`
	RoomID    string    `json:"roomId" db:"room_id"`
	Role      Role      `json:"role" db:"role"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Member is a room member's public profile plus their role.
type Member struct {
	User AccountDTO `json:"user"`
	Role Role       `json:"role"`
}

// RoomDTO is the outward view of a room with its members.
type RoomDTO struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Code        string    `json:"code"`
	Capacity    int       `json:"capacity,omitempty"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Members     []Member  `json:"members"`
}

// NewRoomDTO composes a room and its members.
func NewRoomDTO(room Room, members []Member) RoomDTO {
	if members == nil {
		members = []Member{}
	}
	return RoomDTO{
		ID:          room.ID,
		Title:       room.Title,
		Code:        room.Code,
		Capacity:    room.Capacity,
		Description: room.Description,
		CreatedAt:   room.CreatedAt,
		Members:     members,
	}
}

// CreateRoomInput is the already-shaped input of a room creation.
type CreateRoomInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Capacity    *int    `json:"capacity,omitempty"`
	OwnerID     string  `json:"ownerId"`
}

// UpdateRoomInput replaces the mutable room fields.
type UpdateRoomInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Capacity    int     `json:"capacity"`
}

// JoinRoomInput identifies the room to join by its code.
type JoinRoomInput struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}
