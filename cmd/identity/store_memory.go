package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a dev/test fallback when DB is not configured.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byMail map[string]User // normalized email -> user
}

// NewMemoryStore constructs an in-memory Store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byMail: make(map[string]User),
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// CreateUser registers a user; duplicate emails conflict and leave the
// existing row untouched.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	email := NormalizeEmail(in.Email)
	name := in.Name
	if email == "" {
		return User{}, invalid(op, "email is required")
	}
	if name == "" {
		return User{}, invalid(op, "name is required")
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byMail[email]; ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	s.nextID++
	u := User{
		ID:         s.nextID,
		Email:      email,
		Name:       name,
		ProfileURL: in.ProfileURL,
		CreatedAt:  now,
	}
	s.byMail[email] = u
	return u, nil
}

// GetByEmail looks up a user by normalized email.
func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetByEmail"

	email = NormalizeEmail(email)
	if email == "" {
		return User{}, invalid(op, "email is required")
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byMail[email]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, nil
}

// SetProfileURL overwrites the stored profile picture URL.
func (s *MemoryStore) SetProfileURL(ctx context.Context, email, url string) error {
	const op = "identity.SetProfileURL"

	email = NormalizeEmail(email)
	if email == "" {
		return invalid(op, "email is required")
	}
	if url == "" {
		return invalid(op, "url is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byMail[email]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	u.ProfileURL = &url
	s.byMail[email] = u
	return nil
}
