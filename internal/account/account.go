// Package account implements the identity flows behind the gate: sign-up,
// password login with lockout, logout, password change and reset, user
// keys and email change.
//
// The gate decides who a request belongs to; this package only acts on
// identities the gate already resolved.
package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Domain errors. The HTTP layer maps each to one status.
var (
	ErrNotFound       = errors.New("user not found")
	ErrEmailTaken     = errors.New("email already in use")
	ErrInvalidEmail   = errors.New("invalid email address")
	ErrWeakPassword   = errors.New("password does not meet policy")
	ErrInvalidLogin   = errors.New("invalid email or password")
	ErrLocked         = errors.New("account temporarily locked")
	ErrNoPendingEmail = errors.New("no pending email change")
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	PendingEmail string    `json:"pending_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserRepository is the durable user store.
type UserRepository interface {
	// CreateUser inserts u. A duplicate email returns ErrEmailTaken.
	CreateUser(ctx context.Context, u *User) error

	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	UpdatePassword(ctx context.Context, id, hash string, now time.Time) error

	// SetPendingEmail records email as the user's pending address. It
	// returns ErrEmailTaken if another user already holds email.
	SetPendingEmail(ctx context.Context, id, email string, now time.Time) error

	// ConfirmEmail moves the pending address to email if it still equals
	// email. It returns ErrNoPendingEmail when it does not and
	// ErrEmailTaken when another user took the address meanwhile.
	ConfirmEmail(ctx context.Context, id, email string, now time.Time) error

	Ping(ctx context.Context) error
}

// NormalizeEmail trims and lower-cases an address and checks its syntax.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
