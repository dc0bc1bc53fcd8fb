package types

import "time"

// User represents an account in the system.
// It contains identity, credentials, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID string `json:"id" db:"id"`

	// Email is the user's case-normalized email address. It is unique across users.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// FirstName is the optional given name of the user.
	FirstName *string `json:"firstName" db:"first_name"`

	// LastName is the optional family name of the user.
	LastName *string `json:"lastName" db:"last_name"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Account returns the public projection of the user.
func (u User) Account() AccountDTO {
	return AccountDTO{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// AccountDTO is the outward view of a user. It never carries the password hash.
type AccountDTO struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

// RegisterInput is the already-shaped input of a registration.
type RegisterInput struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

// LoginInput carries the credentials of a login attempt.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateAccountInput lists the account fields to change. Nil fields are left untouched.
type UpdateAccountInput struct {
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Password  *string `json:"password,omitempty"`
}

// TokenDTO is an issued bearer token and its validity window.
type TokenDTO struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
