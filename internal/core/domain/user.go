package domain

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrCodeNotFound = errors.New("action code not found")
)

// Profile holds the sign-up details collected alongside the credentials.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Interest  string `json:"interest,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Education string `json:"education,omitempty"`
}

// User is an account known to the local identity provider.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Profile      Profile   `json:"profile"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity returns the public identity of the user.
func (u *User) Identity() *Identity {
	return &Identity{UID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}
