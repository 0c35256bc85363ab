package storage

import (
	"context"
	"time"

	"github.com/nutripublic/portal/internal/profile"
)

// User is a row of the users table: the profile kept for a signed-in account.
type User struct {
	Email     string
	UID       string
	Username  string
	Role      string   // empty = no role assigned
	Rating    *float64 // nil = not rated
	CreatedAt time.Time
}

// Event is a community event listed on the portal.
type Event struct {
	ID        string
	Title     string
	Content   string // stored gzip-compressed
	Location  string
	Time      *time.Time // nil when the event has no scheduled time
	CreatedAt time.Time
}

// UndefinedRole is the key under which users without a role are counted.
const UndefinedRole = "undefined"

// Store is the storage interface for the portal.
type Store interface {
	profile.Lookup

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Users
	UpsertUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, email string) (*User, error)
	CountUsersByRole(ctx context.Context) (map[string]int, error)

	// Events
	CreateEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context) ([]Event, error)

	// Config key/value
	GetConfig(ctx context.Context, key string) (value string, ok bool, err error)
	SetConfig(ctx context.Context, key, value string) error
}
