package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects an insert.
	ErrConflict = errors.New("already exists")
)

// User represents a registered account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Message represents a persisted chat message.
// RoomID is either the global room token or a resolved pair of user ids.
type Message struct {
	ID        string
	RoomID    string
	Sender    string
	Text      string
	FileURL   *string
	FileName  *string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByLogin retrieves a user whose username or email equals login.
	GetUserByLogin(ctx context.Context, login string) (*User, error)

	// SearchUsers returns up to limit users whose username contains query.
	SearchUsers(ctx context.Context, query string, limit int) ([]*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage appends a message. ID and CreatedAt must already be set.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListRecentMessages returns at most limit messages of a room,
	// newest first.
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)

	// Close releases the backend.
	Close() error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
}
