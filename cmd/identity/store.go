package identity

import (
	"context"
	"strings"
	"time"
)

// User is Courier's user profile record.
// Email is the identity key used throughout the delivery pipeline.
type User struct {
	ID         int64   `json:"id"`
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	ProfileURL *string `json:"profile_url"`

	CreatedAt time.Time `json:"-"`
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CreateUserInput describes a registration request.
type CreateUserInput struct {
	Email      string
	Name       string
	ProfileURL *string
	Now        time.Time
}

// Store is the user persistence boundary.
//
// Contract:
//   - CreateUser fails with ConflictError{Field:"email"} on duplicate email and
//     must leave the existing row untouched.
//   - GetByEmail fails with NotFoundError when no row matches.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)

	// SetProfileURL overwrites the stored profile picture URL for email.
	SetProfileURL(ctx context.Context, email, url string) error

	Close() error
}
