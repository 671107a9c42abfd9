// Package store defines the local identity store contract consumed by the
// reconciliation engine. The engine only ever talks to the Adapter
// interface; how entities are persisted is the adapter's business.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups when no entity matches.
var ErrNotFound = errors.New("not found")

// ConflictError reports a uniqueness violation on a profile's external id.
// It is the one expected, recoverable per-record failure mode: the engine
// records it and moves on to the next user.
type ConflictError struct {
	ExternalID string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("duplicate external id %q: %v", e.ExternalID, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// StoreError wraps an unexpected adapter failure with the operation that
// produced it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// User is a local user keyed by its unique username.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Email     string
}

// Profile carries a user's external identifier, unique across profiles.
// One profile per user.
type Profile struct {
	ID         int64
	UserID     int64
	ExternalID string
}

// Group is a local group keyed by its unique name.
type Group struct {
	ID   int64
	Name string
}

// Adapter is the contract between the engine and the local store. Every
// operation is independently failable; lookups signal absence with
// ErrNotFound, SaveProfile signals an external-id collision with
// *ConflictError, and unexpected backend failures surface as *StoreError.
type Adapter interface {
	// FindUserByUsername returns the user with the given username, or
	// ErrNotFound.
	FindUserByUsername(ctx context.Context, username string) (*User, error)

	// CreateUser persists a new user and fills in its ID.
	CreateUser(ctx context.Context, user *User) error

	// SaveUser persists changes to an existing user.
	SaveUser(ctx context.Context, user *User) error

	// GetOrInitProfile returns the user's profile. When none exists yet, a
	// fresh unsaved profile bound to the user is returned with found ==
	// false, so the caller can choose create-vs-update semantics.
	GetOrInitProfile(ctx context.Context, user *User) (profile *Profile, found bool, err error)

	// SaveProfile persists a profile, returning *ConflictError when its
	// external id collides with another profile.
	SaveProfile(ctx context.Context, profile *Profile) error

	// FindGroupByName returns the group with the given name, or ErrNotFound.
	FindGroupByName(ctx context.Context, name string) (*Group, error)

	// CreateGroup persists a new group and fills in its ID.
	CreateGroup(ctx context.Context, group *Group) error
}
