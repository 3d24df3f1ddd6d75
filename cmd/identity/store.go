package identity

import (
	"context"
	"strings"
	"time"
)

// User is gatehouse's security principal.
// Username is unique and case-sensitive.
type User struct {
	ID           string
	Username     string
	PasswordHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput describes a provisioning request.
// PasswordHash must already be produced by the password hasher.
type CreateUserInput struct {
	Username     string
	PasswordHash string
	Now          time.Time
}

// Store is the credential persistence boundary.
type Store interface {
	// GetUserByUsername returns ErrNotFound when no user has exactly this username.
	GetUserByUsername(ctx context.Context, username string) (User, error)
	// GetUserByID returns ErrNotFound when the id is unknown.
	GetUserByID(ctx context.Context, id string) (User, error)
	// CreateUser returns an *Error with Kind ErrConflict and Field "username" on duplicates.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
}

// MaxUsernameLen bounds lookups so pathological inputs never reach storage.
const MaxUsernameLen = 128

func validateCreate(op string, in CreateUserInput) (CreateUserInput, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return in, invalid(op, "username is required")
	}
	if len(in.Username) > MaxUsernameLen {
		return in, invalid(op, "username too long")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return in, invalid(op, "password hash is required")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}
